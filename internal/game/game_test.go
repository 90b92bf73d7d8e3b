package game

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dcrodman/parlor/internal/core/client"
)

// testGame is a scripted Logic that records every call made into it.
type testGame struct {
	mu sync.Mutex

	initialCommands  []Command
	updateCommands   []Command
	completeCommands []Command
	// Number of updates after which the game reports itself as done. 0 never finishes.
	doneAfter int
	// Finish as soon as any player disconnects.
	doneOnDisconnect bool
	results          *Results

	done         bool
	players      []string
	responses    [][]Response
	disconnected []string
	events       []string
}

func (g *testGame) record(event string) {
	g.events = append(g.events, event)
}

func (g *testGame) Initialize(players []string) []Command {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("initialize")
	g.players = players
	return g.initialCommands
}

func (g *testGame) Update(responses []Response) []Command {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("update")
	g.responses = append(g.responses, responses)
	if g.doneAfter > 0 && len(g.responses) >= g.doneAfter {
		g.done = true
	}
	return g.updateCommands
}

func (g *testGame) Complete() []Command {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("complete")
	return g.completeCommands
}

func (g *testGame) IsDone() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done
}

func (g *testGame) PlayerDisconnected(player string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("disconnect:" + player)
	g.disconnected = append(g.disconnected, player)
	if g.doneOnDisconnect {
		g.done = true
	}
}

func (g *testGame) Results() *Results {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("results")
	return g.results
}

func (g *testGame) Events() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.events...)
}

// testPlayer is the remote end of a session participant's connection.
type testPlayer struct {
	name   string
	conn   net.Conn
	reader *bufio.Reader
}

func (p *testPlayer) send(t *testing.T, line string) {
	if _, err := p.conn.Write([]byte(line + "\n")); err != nil {
		t.Errorf("%s: error writing to connection: %v", p.name, err)
	}
}

func (p *testPlayer) receive(t *testing.T) string {
	_ = p.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := p.reader.ReadString('\n')
	if err != nil {
		t.Errorf("%s: error reading from connection: %v", p.name, err)
		return ""
	}
	return strings.TrimSuffix(line, "\n")
}

// receiveAll reads until the server closes the connection.
func (p *testPlayer) receiveAll(t *testing.T) []string {
	_ = p.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var lines []string
	for {
		line, err := p.reader.ReadString('\n')
		if err != nil {
			return lines
		}
		lines = append(lines, strings.TrimSuffix(line, "\n"))
	}
}

// newTestPlayers connects one loopback TCP connection per name and returns the
// server side Clients (already named) along with the player ends.
func newTestPlayers(t *testing.T, names ...string) ([]*client.Client, []*testPlayer) {
	t.Helper()
	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("error initializing test listener: %v", err)
	}
	defer listener.Close()

	var clients []*client.Client
	var players []*testPlayer
	for _, name := range names {
		conn, err := net.Dial("tcp", listener.Addr().String())
		if err != nil {
			t.Fatalf("error initializing test connection: %v", err)
		}
		t.Cleanup(func() { conn.Close() })

		serverConn, err := listener.Accept()
		if err != nil {
			t.Fatalf("error accepting test connection: %v", err)
		}

		c := client.NewClient(serverConn)
		c.SetName(name)
		t.Cleanup(func() { c.Close() })

		clients = append(clients, c)
		players = append(players, &testPlayer{name: name, conn: conn, reader: bufio.NewReader(conn)})
	}
	return clients, players
}

// waitForDisconnect polls c until it notices that its peer has gone away.
func waitForDisconnect(t *testing.T, c *client.Client) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.Alive() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s's disconnect to be noticed", c.Name())
		}
		c.Poll()
		time.Sleep(5 * time.Millisecond)
	}
}

func waitForSession(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the session to end")
	}
}
