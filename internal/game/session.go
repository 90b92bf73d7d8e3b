package game

import (
	"context"
	"errors"
	"io"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dcrodman/parlor/internal/core/client"
)

var ErrAlreadyStarted = errors.New("session has already been started")

// State describes where a Session is in its lifecycle.
type State int

const (
	Created State = iota
	Running
	Ended
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Session runs a single game between a fixed group of players.
//
// The set of players never changes once the Session is created. Players who
// disconnect stay in their seat: anything sent to them is dropped and they are
// skipped when collecting responses, so turn order is never reshuffled.
type Session struct {
	ID uuid.UUID

	players []*client.Client
	names   []string
	logic   Logic
	logger  logrus.FieldLogger

	// Seat indexes of players that have disconnected, waiting to be passed
	// along to the Logic from the session's goroutine.
	disconnects chan int
	unsubscribe []func()

	mu          sync.Mutex
	state       State
	results     *Results
	cancel      context.CancelFunc
	done        chan struct{}
	endHandlers []func(*Session, *Results)
}

// NewSession creates a Session for players that will be played according to logic.
// The Session takes ownership of the players and closes them when it ends.
func NewSession(players []*client.Client, logic Logic, logger logrus.FieldLogger) *Session {
	id := uuid.New()
	if logger == nil {
		discard := logrus.New()
		discard.Out = io.Discard
		logger = discard
	}

	s := &Session{
		ID:          id,
		players:     players,
		names:       make([]string, len(players)),
		logic:       logic,
		logger:      logger.WithField("session", id.String()),
		disconnects: make(chan int, len(players)),
		done:        make(chan struct{}),
	}

	for i, p := range players {
		s.names[i] = p.Name()

		seat := i
		cancel, ok := p.OnDisconnect(func(*client.Client) { s.disconnects <- seat })
		if !ok {
			// Gone before the game even got going.
			s.disconnects <- seat
		}
		s.unsubscribe = append(s.unsubscribe, cancel)
	}

	return s
}

// Players returns the names of the players in seating order.
func (s *Session) Players() []string {
	names := make([]string, len(s.names))
	copy(names, s.names)
	return names
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Results returns the outcome of the game, or nil if it did not finish.
func (s *Session) Results() *Results {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results
}

// Done is closed once the Session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// OnEnd registers fn to be called with the results when the game finishes.
// It is not called if the Session is stopped before the game is done.
func (s *Session) OnEnd(fn func(*Session, *Results)) {
	s.mu.Lock()
	s.endHandlers = append(s.endHandlers, fn)
	s.mu.Unlock()
}

// Start runs the game in its own goroutine until it's done or ctx is cancelled.
func (s *Session) Start(ctx context.Context) error {
	runCtx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	go s.run(runCtx)
	return nil
}

// Run plays the game to completion on the calling goroutine and returns its
// results, which are nil if ctx was cancelled or Stop was called first.
func (s *Session) Run(ctx context.Context) (*Results, error) {
	runCtx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	s.run(runCtx)
	return s.Results(), nil
}

func (s *Session) begin(parent context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Created {
		return nil, ErrAlreadyStarted
	}
	s.state = Running

	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	return ctx, nil
}

// Stop ends the game early and blocks until the Session has shut down. It may
// be called from any goroutine, and is safe to call more than once.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == Created {
		// Never started, so there's no goroutine to wait on.
		s.state = Ended
		s.mu.Unlock()
		s.closePlayers()
		close(s.done)
		return
	}
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	<-s.done
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.closeAndRecover()

	s.logger.Infof("[SESSION] starting game for %v", s.names)

	s.send(ctx, s.logic.Initialize(s.Players()))
	s.forwardDisconnects()

	for !s.logic.IsDone() {
		if ctx.Err() != nil {
			break
		}

		responses, ok := s.collectResponses(ctx)
		if !ok {
			break
		}
		s.forwardDisconnects()
		if s.logic.IsDone() {
			// Someone left and that settled the game.
			break
		}

		s.send(ctx, s.logic.Update(responses))
		s.forwardDisconnects()
	}

	if !s.logic.IsDone() {
		s.logger.Infof("[SESSION] stopped before the game finished")
		return
	}

	s.send(ctx, s.logic.Complete())
	results := s.logic.Results()

	s.mu.Lock()
	s.results = results
	s.state = Ended
	handlers := make([]func(*Session, *Results), len(s.endHandlers))
	copy(handlers, s.endHandlers)
	s.mu.Unlock()

	if results.IsTie() {
		s.logger.Infof("[SESSION] game ended in a tie")
	} else {
		s.logger.Infof("[SESSION] game won by %s", results.Winner)
	}

	for _, fn := range handlers {
		fn(s, results)
	}
}

type received struct {
	text string
	ok   bool
}

// collectResponses reads one line from every connected player concurrently.
// Players who disconnect are passed along to the Logic as soon as they're
// noticed, and if that finishes the game the outstanding reads are abandoned.
// With nobody left to read from, it waits until a disconnect settles the game
// or ctx is cancelled rather than returning an empty turn.
// The second return value is false if ctx was cancelled.
func (s *Session) collectResponses(ctx context.Context) ([]Response, bool) {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make([]received, len(s.players))
	var wg sync.WaitGroup
	var reading int
	for i, p := range s.players {
		if !p.Alive() {
			continue
		}

		reading++
		wg.Add(1)
		go func(i int, p *client.Client) {
			defer wg.Done()
			text, ok := p.Receive(turnCtx)
			lines[i] = received{text: text, ok: ok}
		}(i, p)
	}

	allIn := make(chan struct{})
	go func() {
		wg.Wait()
		close(allIn)
	}()

	ready := (<-chan struct{})(allIn)
	if reading == 0 {
		ready = nil
	}

	for {
		select {
		case <-ready:
			responses := make([]Response, 0, len(lines))
			for i, line := range lines {
				if line.ok {
					responses = append(responses, Response{Player: s.names[i], Text: line.text})
				}
			}
			return responses, true
		case seat := <-s.disconnects:
			s.playerDisconnected(seat)
			if s.logic.IsDone() {
				cancel()
				<-allIn
				return nil, true
			}
		case <-ctx.Done():
			cancel()
			<-allIn
			return nil, false
		}
	}
}

// send delivers to each player the commands addressed to them, writing to all
// of the players concurrently.
func (s *Session) send(ctx context.Context, commands []Command) {
	var wg sync.WaitGroup
	for i, p := range s.players {
		lines := Filter(commands, s.names[i])
		if len(lines) == 0 {
			continue
		}

		wg.Add(1)
		go func(p *client.Client) {
			defer wg.Done()
			p.Send(ctx, lines...)
		}(p)
	}
	wg.Wait()
}

// forwardDisconnects passes along any disconnects that have been noticed
// without waiting for more.
func (s *Session) forwardDisconnects() {
	for {
		select {
		case seat := <-s.disconnects:
			s.playerDisconnected(seat)
		default:
			return
		}
	}
}

func (s *Session) playerDisconnected(seat int) {
	s.logger.Infof("[SESSION] %s disconnected", s.names[seat])
	s.logic.PlayerDisconnected(s.names[seat])
}

// closeAndRecover is the failsafe that catches any panics from the Logic and
// makes sure every player's connection is closed when the session exits.
func (s *Session) closeAndRecover() {
	if err := recover(); err != nil {
		s.logger.Errorf("[SESSION] error while running game: error=%s, trace: %s", err, debug.Stack())
	}

	s.mu.Lock()
	s.state = Ended
	s.mu.Unlock()

	s.closePlayers()
}

func (s *Session) closePlayers() {
	for _, unsubscribe := range s.unsubscribe {
		unsubscribe()
	}
	for _, p := range s.players {
		if err := p.Close(); err != nil {
			s.logger.Debugf("[SESSION] failed to close connection to %s: %s", p.IPAddr(), err)
		}
	}
}
