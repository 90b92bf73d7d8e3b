package lobby

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/dcrodman/parlor/internal/core/client"
	"github.com/dcrodman/parlor/internal/game"
)

const (
	// Sent to every new connection; the player answers with their name.
	handshakeLine = "LOBBY"
	// Sent to connections turned away because the lobby is at capacity.
	fullLine = "FULL"

	defaultPollInterval = 500 * time.Millisecond

	// Bounds on how long to wait before accepting again after a failed accept.
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

var ErrAlreadyStarted = errors.New("lobby has already been started")

// Options configures a Lobby.
type Options struct {
	// Address to listen on in host:port form. Port 0 picks a free port, which
	// can be retrieved with Lobby.Addr once the Lobby is started.
	Address string
	// How often waiting players are checked to make sure they're still connected.
	PollInterval time.Duration
	// Number of players per session. If 0 the Factory's player count is used.
	PlayerCount int
	// Creates the game for each new session.
	Factory game.Factory
	// Maximum number of players waiting at once. 0 means no limit.
	MaxWaiting int
	// How long a new connection has to send its name. 0 means no limit.
	HandshakeTimeout time.Duration
	// Connections accepted per second, with bursts up to AcceptBurst. 0 means no limit.
	AcceptRate  float64
	AcceptBurst int

	Logger logrus.FieldLogger
}

// Lobby accepts players and holds on to them until there are enough to start a
// game, at which point they're handed off to a new game.Session.
//
// Accepting connections and checking on waiting players happen concurrently;
// the waiting list is the only state the two share.
type Lobby struct {
	opts        Options
	playerCount int
	logger      logrus.FieldLogger
	limiter     *rate.Limiter

	waiting *waitingList
	// Connections still in the middle of the handshake.
	handshaking atomic.Int32

	// Cancels each waiting client's lobby disconnect handler.
	detachMu sync.Mutex
	detach   map[*client.Client]func()

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	listener *net.TCPListener
	handlers []func(*game.Session)

	wg sync.WaitGroup
}

func New(opts Options) *Lobby {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}

	logger := opts.Logger
	if logger == nil {
		discard := logrus.New()
		discard.Out = io.Discard
		logger = discard
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.AcceptRate > 0 {
		burst := opts.AcceptBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.AcceptRate), burst)
	}

	playerCount := opts.PlayerCount
	if playerCount == 0 && opts.Factory != nil {
		playerCount = opts.Factory.PlayerCount()
	}

	return &Lobby{
		opts:        opts,
		playerCount: playerCount,
		logger:      logger,
		limiter:     limiter,
		waiting:     newWaitingList(),
		detach:      make(map[*client.Client]func()),
	}
}

// OnSessionCreated registers fn to be called with every new session. The Lobby
// never starts sessions itself; that's up to the handlers.
func (l *Lobby) OnSessionCreated(fn func(*game.Session)) {
	l.mu.Lock()
	l.handlers = append(l.handlers, fn)
	l.mu.Unlock()
}

// Start opens the listening socket and begins accepting and polling players in
// the background. Failing to bind the socket is the only error; it's returned
// here and the Lobby is left unstarted.
func (l *Lobby) Start(ctx context.Context) error {
	if l.opts.Factory == nil {
		return errors.New("no game factory configured")
	}
	if l.playerCount < 1 {
		return fmt.Errorf("invalid player count %d", l.playerCount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return ErrAlreadyStarted
	}

	hostAddr, err := net.ResolveTCPAddr("tcp", l.opts.Address)
	if err != nil {
		return fmt.Errorf("error resolving address %s: %w", l.opts.Address, err)
	}
	listener, err := net.ListenTCP("tcp", hostAddr)
	if err != nil {
		return fmt.Errorf("error listening on socket: %w", err)
	}

	l.listener = listener
	l.ctx, l.cancel = context.WithCancel(ctx)

	l.logger.Infof("[LOBBY] waiting for %d-player games on %v", l.playerCount, listener.Addr())

	l.wg.Add(2)
	go l.acceptConnections(l.ctx)
	go l.pollClients(l.ctx)

	return nil
}

// Stop shuts down the Lobby, waits for its background work to finish and
// disconnects anyone still waiting. Sessions that were already created are
// unaffected.
func (l *Lobby) Stop() {
	l.mu.Lock()
	cancel, listener := l.cancel, l.listener
	l.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	_ = listener.Close()
	l.wg.Wait()

	for _, c := range l.waiting.snapshot() {
		if l.waiting.remove(c) {
			l.detachClient(c)
			_ = c.Close()
		}
	}
	l.logger.Infof("[LOBBY] exited")
}

// Addr returns the address the Lobby is listening on, or nil if it hasn't
// been started.
func (l *Lobby) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Port returns the port the Lobby is listening on, or 0 if it hasn't been started.
func (l *Lobby) Port() int {
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0
	}
	return addr.Port
}

// Waiting returns the number of players currently waiting for a game.
func (l *Lobby) Waiting() int {
	return l.waiting.len()
}

// acceptConnections is the loop responsible for accepting new connections and
// spinning off goroutines to greet them. It exits once the listener is closed.
func (l *Lobby) acceptConnections(ctx context.Context) {
	defer l.wg.Done()

	var acceptDelay time.Duration
	for {
		if err := l.limiter.Wait(ctx); err != nil {
			return
		}

		connection, err := l.listener.AcceptTCP()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			acceptDelay = nextAcceptDelay(acceptDelay)
			l.logger.Warnf("[LOBBY] failed to accept connection: %s; retrying in %v", err, acceptDelay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(acceptDelay):
			}
			continue
		}
		acceptDelay = 0

		if l.opts.MaxWaiting > 0 && l.occupancy() >= l.opts.MaxWaiting {
			l.logger.Infof("[LOBBY] rejected connection from %s (lobby full)", connection.RemoteAddr())
			c := client.NewClient(connection)
			c.Send(ctx, fullLine)
			_ = c.Close()
			continue
		}

		l.handshaking.Add(1)
		l.wg.Add(1)
		go l.acceptClient(ctx, connection)
	}
}

// nextAcceptDelay doubles the previous backoff, starting from minAcceptDelay
// and capped at maxAcceptDelay.
func nextAcceptDelay(previous time.Duration) time.Duration {
	if previous <= 0 {
		return minAcceptDelay
	}
	if next := 2 * previous; next < maxAcceptDelay {
		return next
	}
	return maxAcceptDelay
}

// occupancy counts the players waiting along with those still handshaking,
// since every one of them may end up in the waiting list.
func (l *Lobby) occupancy() int {
	return l.waiting.len() + int(l.handshaking.Load())
}

// acceptClient performs the lobby handshake with a new connection and adds it
// to the waiting list.
func (l *Lobby) acceptClient(ctx context.Context, connection net.Conn) {
	defer l.wg.Done()
	handshakeDone := sync.OnceFunc(func() { l.handshaking.Add(-1) })
	defer handshakeDone()

	c := client.NewClient(connection)
	l.logger.Infof("[LOBBY] accepted connection from %s", c.IPAddr())

	handshakeCtx := ctx
	if l.opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		handshakeCtx, cancel = context.WithTimeout(ctx, l.opts.HandshakeTimeout)
		defer cancel()
	}

	c.Send(handshakeCtx, handshakeLine)
	name, ok := c.Receive(handshakeCtx)
	if !ok {
		l.logger.Infof("[LOBBY] %s left before sending a name", c.IPAddr())
		_ = c.Close()
		return
	}
	c.SetName(name)

	cancel, ok := c.OnDisconnect(l.clientDisconnected)
	if !ok {
		_ = c.Close()
		return
	}
	l.detachMu.Lock()
	l.detach[c] = cancel
	l.detachMu.Unlock()

	l.waiting.add(c)
	handshakeDone()
	l.logger.Infof("[LOBBY] %s joined from %s (%d waiting)", name, c.IPAddr(), l.waiting.len())

	// The client may have dropped between registering the handler and being
	// added, in which case the handler had nothing to remove.
	if !c.Alive() {
		l.clientDisconnected(c)
		return
	}

	l.promote()
}

// clientDisconnected removes a waiting client that has gone away.
func (l *Lobby) clientDisconnected(c *client.Client) {
	// Clients that have already been handed to a session belong to it now.
	if !l.waiting.remove(c) {
		return
	}
	l.detachClient(c)
	_ = c.Close()

	l.logger.Infof("[LOBBY] %s disconnected while waiting", c.Name())
	l.promote()
}

func (l *Lobby) detachClient(c *client.Client) {
	l.detachMu.Lock()
	cancel, ok := l.detach[c]
	delete(l.detach, c)
	l.detachMu.Unlock()

	if ok {
		cancel()
	}
}

// promote starts as many sessions as the waiting players allow, taking the
// players who have been waiting the longest first.
func (l *Lobby) promote() {
	for {
		if l.ctx.Err() != nil {
			return
		}

		players := l.waiting.tryExtract(l.playerCount)
		if players == nil {
			return
		}
		for _, c := range players {
			l.detachClient(c)
		}

		s := game.NewSession(players, l.opts.Factory.CreateGame(), l.logger)
		l.logger.Infof("[LOBBY] created session %s for %v", s.ID, s.Players())

		l.mu.Lock()
		handlers := make([]func(*game.Session), len(l.handlers))
		copy(handlers, l.handlers)
		l.mu.Unlock()

		if len(handlers) == 0 {
			l.logger.Warnf("[LOBBY] nobody is listening for new sessions; dropping %s", s.ID)
			s.Stop()
			continue
		}
		for _, fn := range handlers {
			fn(s)
		}
	}
}

// pollClients periodically checks that every waiting client is still connected.
// Clients that have gone away are removed by their disconnect handler.
func (l *Lobby) pollClients(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, c := range l.waiting.snapshot() {
				c.Poll()
			}
		}
	}
}
