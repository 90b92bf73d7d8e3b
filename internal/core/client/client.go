package client

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// How long Poll waits for the socket to report readiness. Short enough that
// probing every waiting client never holds up the poll loop.
const pollTimeout = time.Millisecond

// Client represents a player connected over a line-delimited stream.
//
// Every transport failure is absorbed here: callers never see I/O errors,
// only a disconnect notification and an empty read. Once a Client is dead
// all of its operations become no-ops.
type Client struct {
	connection net.Conn
	ipAddr     string
	port       string

	reader *bufio.Reader
	writer *bufio.Writer
	// Serializes reads between Receive and Poll.
	readMu sync.Mutex
	// Serializes writes so that concurrent Sends never interleave lines.
	writeMu sync.Mutex

	mu        sync.Mutex
	name      string
	alive     bool
	nextSubID int
	handlers  map[int]func(*Client)
}

func NewClient(connection net.Conn) *Client {
	host, port, err := net.SplitHostPort(connection.RemoteAddr().String())
	if err != nil {
		host = connection.RemoteAddr().String()
	}

	return &Client{
		connection: connection,
		ipAddr:     host,
		port:       port,
		reader:     bufio.NewReader(connection),
		writer:     bufio.NewWriter(connection),
		alive:      true,
		handlers:   make(map[int]func(*Client)),
	}
}

func (c *Client) IPAddr() string { return c.ipAddr }
func (c *Client) Port() string   { return c.port }

// Name returns the display name the player sent during the lobby handshake.
func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

func (c *Client) SetName(name string) {
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
}

// Alive reports whether the connection is still usable.
func (c *Client) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

// OnDisconnect registers fn to be called when the client is found to have
// disconnected. The returned function removes the registration. If the client
// is already dead fn is never called and ok is false.
func (c *Client) OnDisconnect(fn func(*Client)) (cancel func(), ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.alive {
		return func() {}, false
	}

	id := c.nextSubID
	c.nextSubID++
	c.handlers[id] = fn

	return func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}, true
}

// disconnected marks the client as dead and notifies every subscriber. Only
// the first call has any effect.
func (c *Client) disconnected() {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}
	c.alive = false
	handlers := make([]func(*Client), 0, len(c.handlers))
	for _, fn := range c.handlers {
		handlers = append(handlers, fn)
	}
	c.handlers = nil
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(c)
	}
}

// Send writes each line to the client in order, terminating each one with a
// newline. A failed write marks the client as disconnected. Cancelling ctx
// abandons a write that's blocked on a peer that isn't reading; that isn't a
// disconnect, but the connection shouldn't be written to again.
func (c *Client) Send(ctx context.Context, lines ...string) {
	if !c.Alive() {
		return
	}

	c.writeMu.Lock()
	// Unblock the pending write by expiring its deadline once ctx is done.
	expired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = c.connection.SetWriteDeadline(time.Now())
		close(expired)
	})
	err := c.transmit(lines)
	if !stop() {
		<-expired
		_ = c.connection.SetWriteDeadline(time.Time{})
	}
	c.writeMu.Unlock()

	if err != nil && ctx.Err() == nil {
		c.disconnected()
	}
}

func (c *Client) transmit(lines []string) error {
	for _, line := range lines {
		if _, err := c.writer.WriteString(line + "\n"); err != nil {
			return err
		}
		if err := c.writer.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Receive blocks until the client sends a full line and returns it without the
// line terminator. The second return value is false if nothing was read, either
// because the client disconnected or because ctx was cancelled first. Only the
// former marks the client as dead.
func (c *Client) Receive(ctx context.Context) (string, bool) {
	if !c.Alive() {
		return "", false
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	// Unblock the pending read by expiring its deadline once ctx is done.
	expired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = c.connection.SetReadDeadline(time.Now())
		close(expired)
	})
	line, err := c.reader.ReadString('\n')
	if !stop() {
		<-expired
		_ = c.connection.SetReadDeadline(time.Time{})
	}

	if err != nil {
		if ctx.Err() != nil {
			return "", false
		}
		// A peer that closes mid-line still gets its last words delivered; the
		// next read will report the disconnect.
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSuffix(line, "\r"), true
		}
		c.disconnected()
		return "", false
	}

	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"), true
}

// Poll is a non-blocking liveness check for clients that aren't otherwise being
// read from. It peeks at the stream without consuming anything: a socket that
// reports itself readable but yields EOF has been closed by the peer. If
// another goroutine is in the middle of a read the check is skipped, since
// that read will detect the disconnect on its own.
func (c *Client) Poll() {
	if !c.Alive() {
		return
	}
	if !c.readMu.TryLock() {
		return
	}

	if c.reader.Buffered() > 0 {
		c.readMu.Unlock()
		return
	}

	_ = c.connection.SetReadDeadline(time.Now().Add(pollTimeout))
	_, err := c.reader.Peek(1)
	_ = c.connection.SetReadDeadline(time.Time{})
	c.readMu.Unlock()

	if err == nil {
		return
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		// Nothing to read yet, but the connection is still open.
		return
	}
	c.disconnected()
}

// Close the TCP connection. Closing is not a disconnect: subscribers are
// dropped without being notified.
func (c *Client) Close() error {
	c.mu.Lock()
	c.alive = false
	c.handlers = nil
	c.mu.Unlock()

	return c.connection.Close()
}
