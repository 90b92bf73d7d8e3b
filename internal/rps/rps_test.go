package rps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcrodman/parlor/internal/game"
)

func startGame(t *testing.T) game.Logic {
	t.Helper()
	g := Factory{}.CreateGame()
	commands := g.Initialize([]string{"Alice", "Bob"})
	require.Equal(t, []string{"START"}, game.Filter(commands, "Alice"))
	require.Equal(t, []string{"START"}, game.Filter(commands, "Bob"))
	require.False(t, g.IsDone())
	return g
}

func play(g game.Logic, alice, bob string) []game.Command {
	return g.Update([]game.Response{
		{Player: "Alice", Text: alice},
		{Player: "Bob", Text: bob},
	})
}

func TestFactory_PlayerCount(t *testing.T) {
	assert.Equal(t, 2, Factory{}.PlayerCount())
}

func TestGame_Turn(t *testing.T) {
	tests := []struct {
		name       string
		alice, bob string
		wantLine   string
		wantWinner string
	}{
		{name: "rock beats scissors", alice: "ROCK", bob: "SCISSORS", wantLine: "END", wantWinner: "Alice"},
		{name: "paper beats rock", alice: "ROCK", bob: "PAPER", wantLine: "END", wantWinner: "Bob"},
		{name: "scissors beats paper", alice: "SCISSORS", bob: "PAPER", wantLine: "END", wantWinner: "Alice"},
		{name: "moves are case insensitive", alice: "rock", bob: "Paper", wantLine: "END", wantWinner: "Bob"},
		{name: "valid beats invalid", alice: "LIZARD", bob: "scissors", wantLine: "END", wantWinner: "Bob"},
		{name: "valid beats empty", alice: "paper", bob: "", wantLine: "END", wantWinner: "Alice"},
		{name: "same move", alice: "ROCK", bob: "rock", wantLine: "AGAIN"},
		{name: "both invalid", alice: "LIZARD", bob: "SPOCK", wantLine: "AGAIN"},
		{name: "both empty", alice: "", bob: "", wantLine: "AGAIN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := startGame(t)

			commands := play(g, tt.alice, tt.bob)
			for _, player := range []string{"Alice", "Bob"} {
				assert.Equal(t, []string{tt.wantLine}, game.Filter(commands, player))
			}
			assert.Equal(t, tt.wantLine == "END", g.IsDone())
			if tt.wantWinner != "" {
				assert.Equal(t, tt.wantWinner, g.Results().Winner)
				assert.Equal(t, []game.Command{game.ToAll("WINNER: " + tt.wantWinner)}, g.Complete())
			}
		})
	}
}

func TestGame_PlaysUntilDecided(t *testing.T) {
	g := startGame(t)

	assert.Equal(t, []game.Command{game.ToAll("AGAIN")}, play(g, "ROCK", "ROCK"))
	assert.Equal(t, []game.Command{game.ToAll("AGAIN")}, play(g, "PAPER", "PAPER"))
	assert.False(t, g.IsDone())

	assert.Equal(t, []game.Command{game.ToAll("END")}, play(g, "PAPER", "SCISSORS"))
	assert.True(t, g.IsDone())
	assert.Equal(t, []game.Command{game.ToAll("WINNER: Bob")}, g.Complete())
	assert.False(t, g.Results().IsTie())
}

func TestGame_PlayerDisconnected(t *testing.T) {
	g := startGame(t)

	g.PlayerDisconnected("Alice")

	assert.True(t, g.IsDone())
	assert.Equal(t, "Bob", g.Results().Winner)
	assert.Equal(t, []game.Command{game.ToAll("WINNER: Bob")}, g.Complete())
}

func TestGame_UpdateAfterDisconnect(t *testing.T) {
	g := startGame(t)
	g.PlayerDisconnected("Bob")

	commands := g.Update([]game.Response{{Player: "Alice", Text: "ROCK"}})

	assert.Equal(t, []game.Command{game.ToAll("END")}, commands)
	assert.True(t, g.IsDone())
	assert.Equal(t, "Alice", g.Results().Winner)
}

func TestGame_EveryoneDisconnected(t *testing.T) {
	g := startGame(t)

	g.PlayerDisconnected("Alice")
	g.PlayerDisconnected("Bob")

	assert.True(t, g.IsDone())
	assert.True(t, g.Results().IsTie())
	assert.Equal(t, []game.Command{game.ToAll("TIE")}, g.Complete())
}

func TestGame_MissingResponse(t *testing.T) {
	g := startGame(t)

	commands := g.Update([]game.Response{{Player: "Alice", Text: "ROCK"}})

	assert.Equal(t, []game.Command{game.ToAll("AGAIN")}, commands)
	assert.False(t, g.IsDone())
}
