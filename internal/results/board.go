// Package results keeps track of how recently finished sessions turned out.
package results

import (
	"sort"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/dcrodman/parlor/internal/game"
)

// Outcome is the record of a single finished session.
type Outcome struct {
	SessionID uuid.UUID
	// Players in seating order.
	Players []string
	// Empty if the session ended in a tie.
	Winner   string
	Finished time.Time
}

// IsTie reports whether nobody won the session.
func (o Outcome) IsTie() bool { return o.Winner == "" }

// Board is an in-memory record of finished sessions. Entries expire after the
// Board's TTL; a TTL <= 0 keeps them forever.
type Board struct {
	cacheInstance *gocache.Cache
}

func NewBoard(ttl, cleanupInterval time.Duration) *Board {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	if cleanupInterval <= 0 {
		cleanupInterval = gocache.NoExpiration
	}
	return &Board{cacheInstance: gocache.New(ttl, cleanupInterval)}
}

// Record stores the outcome of a finished session. Recording the same session
// twice replaces the earlier outcome.
func (b *Board) Record(sessionID uuid.UUID, players []string, r *game.Results) Outcome {
	outcome := Outcome{
		SessionID: sessionID,
		Players:   append([]string(nil), players...),
		Finished:  time.Now(),
	}
	if r != nil {
		outcome.Winner = r.Winner
	}
	b.cacheInstance.Set(sessionID.String(), outcome, gocache.DefaultExpiration)
	return outcome
}

// Lookup fetches the outcome of a session, with semantics similar to a map.
func (b *Board) Lookup(sessionID uuid.UUID) (Outcome, bool) {
	v, ok := b.cacheInstance.Get(sessionID.String())
	if !ok {
		return Outcome{}, false
	}
	return v.(Outcome), true
}

// All returns every outcome still on the board, oldest first.
func (b *Board) All() []Outcome {
	items := b.cacheInstance.Items()
	outcomes := make([]Outcome, 0, len(items))
	for _, item := range items {
		outcomes = append(outcomes, item.Object.(Outcome))
	}
	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].Finished.Before(outcomes[j].Finished)
	})
	return outcomes
}

// Wins returns the number of sessions on the board won by player.
func (b *Board) Wins(player string) int {
	var wins int
	for _, item := range b.cacheInstance.Items() {
		if item.Object.(Outcome).Winner == player && player != "" {
			wins++
		}
	}
	return wins
}

func (b *Board) Len() int {
	return b.cacheInstance.ItemCount()
}
