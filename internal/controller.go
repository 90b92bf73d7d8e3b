package internal

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dcrodman/parlor/internal/core"
	"github.com/dcrodman/parlor/internal/core/debug"
	"github.com/dcrodman/parlor/internal/game"
	"github.com/dcrodman/parlor/internal/lobby"
	"github.com/dcrodman/parlor/internal/results"
	"github.com/dcrodman/parlor/internal/rps"
)

// Games that can be selected with the game.name config option.
var games = map[string]game.Factory{
	"rps": rps.Factory{},
}

// GameNames returns the names of every game the server knows how to run.
func GameNames() []string {
	var names []string
	for name := range games {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Controller is the main entrypoint for parlor. It's responsible for initializing
// any shared resources (such as logging and the results board), setting up the
// lobby, and running every session the lobby creates.
type Controller struct {
	Config *core.Config
	// Logger is used instead of one built from Config if set.
	Logger *logrus.Logger

	logger *logrus.Logger
	lobby  *lobby.Lobby
	board  *results.Board

	ctx      context.Context
	mu       sync.Mutex
	sessions map[uuid.UUID]*game.Session
	wg       sync.WaitGroup
}

// Run starts the Controller and blocks until ctx is cancelled, then shuts
// everything down.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	c.Shutdown()
	return nil
}

// Start sets up the shared resources and opens the lobby. Sessions created by
// the lobby are run until they finish or ctx is cancelled.
func (c *Controller) Start(ctx context.Context) error {
	factory, ok := games[c.Config.Game.Name]
	if !ok {
		return fmt.Errorf("unknown game %q (available: %v)", c.Config.Game.Name, GameNames())
	}

	// Set up the logger, which will be used by all of the components.
	c.logger = c.Logger
	if c.logger == nil {
		var err error
		if c.logger, err = core.NewLogger(c.Config); err != nil {
			return fmt.Errorf("error initializing logger: %w", err)
		}
	}

	// Start any debug utilities if we're configured to do so.
	if c.Config.Debugging.PprofEnabled {
		debug.StartPprofServer(c.logger, c.Config.Debugging.PprofPort)
	}

	c.board = results.NewBoard(c.Config.Results.TTL, c.Config.Results.CleanupInterval)
	c.ctx = ctx
	c.sessions = make(map[uuid.UUID]*game.Session)

	c.lobby = lobby.New(lobby.Options{
		Address:          c.Config.ListenAddress(),
		PollInterval:     c.Config.Lobby.PollInterval,
		PlayerCount:      c.Config.Lobby.PlayerCount,
		Factory:          factory,
		MaxWaiting:       c.Config.Lobby.MaxWaiting,
		HandshakeTimeout: c.Config.Lobby.HandshakeTimeout,
		AcceptRate:       c.Config.Lobby.AcceptRate,
		AcceptBurst:      c.Config.Lobby.AcceptBurst,
		Logger:           c.logger,
	})
	c.lobby.OnSessionCreated(c.startSession)

	if err := c.lobby.Start(ctx); err != nil {
		return fmt.Errorf("error starting lobby: %w", err)
	}
	c.logger.Infof("playing %s on %v", c.Config.Game.Name, c.lobby.Addr())
	return nil
}

// Addr returns the address the lobby is listening on.
func (c *Controller) Addr() string {
	return c.lobby.Addr().String()
}

// Board returns the outcomes of recently finished sessions.
func (c *Controller) Board() *results.Board {
	return c.board
}

// ActiveSessions returns the number of sessions that are still being played.
func (c *Controller) ActiveSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

func (c *Controller) startSession(s *game.Session) {
	s.OnEnd(c.recordResults)

	c.mu.Lock()
	c.sessions[s.ID] = s
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		<-s.Done()

		c.mu.Lock()
		delete(c.sessions, s.ID)
		c.mu.Unlock()
	}()

	if err := s.Start(c.ctx); err != nil {
		c.logger.Errorf("error starting session %s: %v", s.ID, err)
		s.Stop()
	}
}

func (c *Controller) recordResults(s *game.Session, r *game.Results) {
	outcome := c.board.Record(s.ID, s.Players(), r)
	c.logger.WithField("session", s.ID.String()).Debugf("recorded outcome (%d on the board)", c.board.Len())
	if !outcome.IsTie() {
		c.logger.Infof("%s has won %d recent games", outcome.Winner, c.board.Wins(outcome.Winner))
	}
}

// Shutdown stops accepting players, then stops every session still in progress
// and waits for them to exit.
func (c *Controller) Shutdown() {
	if c.lobby == nil {
		return
	}
	c.lobby.Stop()

	c.mu.Lock()
	running := make([]*game.Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		running = append(running, s)
	}
	c.mu.Unlock()

	for _, s := range running {
		s.Stop()
	}
	c.wg.Wait()
	c.logger.Infof("shut down")
}
