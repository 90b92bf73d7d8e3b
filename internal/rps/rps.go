// Package rps implements rock-paper-scissors for two players.
//
// Both players are sent START and answer with a move each turn. A valid move
// always beats an invalid one; when neither move wins the players are sent
// AGAIN, otherwise END followed by the winner's name.
package rps

import (
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/dcrodman/parlor/internal/game"
)

const (
	Rock     = "ROCK"
	Paper    = "PAPER"
	Scissors = "SCISSORS"

	startLine = "START"
	againLine = "AGAIN"
	endLine   = "END"
	tieLine   = "TIE"

	numPlayers = 2
)

// Each move beats the one it maps to.
var beats = map[string]string{
	Rock:     Scissors,
	Paper:    Rock,
	Scissors: Paper,
}

// Factory creates rock-paper-scissors games.
type Factory struct{}

func (Factory) CreateGame() game.Logic { return newGame() }

func (Factory) PlayerCount() int { return numPlayers }

type rpsGame struct {
	upper cases.Caser

	players   []string
	connected map[string]bool
	winner    string
	done      bool
}

func newGame() *rpsGame {
	return &rpsGame{
		upper:     cases.Upper(language.Und),
		connected: make(map[string]bool),
	}
}

func (g *rpsGame) Initialize(players []string) []game.Command {
	g.players = append([]string(nil), players...)
	for _, p := range players {
		g.connected[p] = true
	}
	return []game.Command{game.ToAll(startLine)}
}

func (g *rpsGame) Update(responses []game.Response) []game.Command {
	if g.settleByForfeit() {
		return []game.Command{game.ToAll(endLine)}
	}
	if len(responses) < numPlayers {
		return []game.Command{game.ToAll(againLine)}
	}

	left, right := responses[0], responses[1]
	leftMove, rightMove := g.upper.String(left.Text), g.upper.String(right.Text)

	switch {
	case wins(leftMove, rightMove):
		g.winner = left.Player
	case wins(rightMove, leftMove):
		g.winner = right.Player
	default:
		return []game.Command{game.ToAll(againLine)}
	}

	g.done = true
	return []game.Command{game.ToAll(endLine)}
}

func (g *rpsGame) Complete() []game.Command {
	if g.winner == "" {
		return []game.Command{game.ToAll(tieLine)}
	}
	return []game.Command{game.ToAll(fmt.Sprintf("WINNER: %s", g.winner))}
}

func (g *rpsGame) IsDone() bool { return g.done }

func (g *rpsGame) PlayerDisconnected(player string) {
	g.connected[player] = false
	g.settleByForfeit()
}

func (g *rpsGame) Results() *game.Results {
	return &game.Results{Winner: g.winner}
}

// settleByForfeit ends the game once there's no longer anyone to play against.
// The last player standing wins; if nobody is left it's a tie.
func (g *rpsGame) settleByForfeit() bool {
	var remaining []string
	for _, p := range g.players {
		if g.connected[p] {
			remaining = append(remaining, p)
		}
	}
	if len(remaining) > 1 {
		return false
	}

	g.done = true
	g.winner = ""
	if len(remaining) == 1 {
		g.winner = remaining[0]
	}
	return true
}

func isValid(move string) bool {
	_, ok := beats[move]
	return ok
}

func wins(move, other string) bool {
	if !isValid(move) {
		return false
	}
	return !isValid(other) || beats[move] == other
}
