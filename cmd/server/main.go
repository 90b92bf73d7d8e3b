// The server command is the main entrypoint for running parlor. It loads the
// configuration, opens the lobby, and runs games between whoever connects until
// it's interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/dcrodman/parlor/internal"
	"github.com/dcrodman/parlor/internal/core"
)

func main() {
	flags := pflag.NewFlagSet("parlor", pflag.ExitOnError)
	configFlag := flags.StringP("config", "c", "./", "Path to the directory containing the server config file")
	flags.String("hostname", "0.0.0.0", "Hostname or IP address to listen on")
	flags.Int("lobby.port", 12345, "Port on which the lobby accepts players")
	flags.Int("lobby.player_count", 0, "Players per game (0 uses the game's own count)")
	flags.String("game.name", "rps", "Game to play, one of: "+strings.Join(internal.GameNames(), ", "))
	flags.String("log_level", "info", "Minimum log level: debug, info, warn, error")
	_ = flags.Parse(os.Args[1:])

	// Only flags given on the command line override the config file.
	changed := pflag.NewFlagSet("parlor", pflag.ContinueOnError)
	flags.Visit(func(f *pflag.Flag) {
		if f.Name != "config" {
			changed.AddFlag(f)
		}
	})

	// PARLOR_* overrides can also live in a .env file next to the config.
	if err := godotenv.Load(filepath.Join(*configFlag, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Println("error loading .env file:", err)
		os.Exit(1)
	}

	config, err := core.LoadConfig(*configFlag, changed)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	// Bind the Controller to one top-level server context so that we can shut down cleanly.
	ctx, cancel := context.WithCancel(context.Background())

	// Register a SIGTERM handler so that Ctrl-C will shut the server down gracefully.
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go exitHandler(cancel, c, done)

	controller := &internal.Controller{Config: config}
	if err := controller.Run(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	close(done)
}

// exitHandler cancels the server context on the first signal. A second signal
// exits immediately instead of waiting for the shutdown to finish.
func exitHandler(cancelFn func(), c chan os.Signal, done <-chan struct{}) {
	<-c
	fmt.Println("waiting to shut down gracefully...")
	cancelFn()

	select {
	case <-c:
		fmt.Println("hard exiting (killed)")
		os.Exit(1)
	case <-done:
	}
}
