package lobby

import (
	"net"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dcrodman/parlor/internal/core/client"
)

// newTestClients returns n named Clients backed by in-memory pipes. Nothing is
// ever read from or written to them; they only serve as list entries.
func newTestClients(t *testing.T, n int) []*client.Client {
	t.Helper()
	clients := make([]*client.Client, n)
	for i := range clients {
		server, remote := net.Pipe()
		t.Cleanup(func() {
			server.Close()
			remote.Close()
		})
		clients[i] = client.NewClient(server)
		clients[i].SetName(string(rune('A' + i)))
	}
	return clients
}

func names(clients []*client.Client) []string {
	var n []string
	for _, c := range clients {
		n = append(n, c.Name())
	}
	return n
}

func TestWaitingList_AddRemove(t *testing.T) {
	clients := newTestClients(t, 3)
	wl := newWaitingList()
	for _, c := range clients {
		wl.add(c)
	}

	if !wl.remove(clients[1]) {
		t.Error("remove() should report removing a waiting client")
	}
	if wl.remove(clients[1]) {
		t.Error("removing a client twice should be a no-op")
	}

	if diff := cmp.Diff([]string{"A", "C"}, names(wl.snapshot())); diff != "" {
		t.Errorf("snapshot() did not match expected; diff:\n%s", diff)
	}
	if wl.len() != 2 {
		t.Errorf("len() want = 2, got = %d", wl.len())
	}
}

func TestWaitingList_Snapshot(t *testing.T) {
	clients := newTestClients(t, 2)
	wl := newWaitingList()
	wl.add(clients[0])

	snapshot := wl.snapshot()
	wl.add(clients[1])

	if len(snapshot) != 1 {
		t.Errorf("snapshot should not change after the list does, got %v", names(snapshot))
	}
}

func TestWaitingList_TryExtract(t *testing.T) {
	tests := []struct {
		name      string
		waiting   int
		count     int
		want      []string
		wantAfter []string
	}{
		{name: "not enough waiting", waiting: 1, count: 2, want: nil, wantAfter: []string{"A"}},
		{name: "exactly enough", waiting: 2, count: 2, want: []string{"A", "B"}, wantAfter: nil},
		{name: "oldest first", waiting: 5, count: 3, want: []string{"A", "B", "C"}, wantAfter: []string{"D", "E"}},
		{name: "single player games", waiting: 2, count: 1, want: []string{"A"}, wantAfter: []string{"B"}},
		{name: "zero count", waiting: 2, count: 0, want: nil, wantAfter: []string{"A", "B"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wl := newWaitingList()
			for _, c := range newTestClients(t, tt.waiting) {
				wl.add(c)
			}

			got := wl.tryExtract(tt.count)
			if diff := cmp.Diff(tt.want, names(got)); diff != "" {
				t.Errorf("tryExtract() did not match expected; diff:\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantAfter, names(wl.snapshot())); diff != "" {
				t.Errorf("list after tryExtract() did not match expected; diff:\n%s", diff)
			}
		})
	}
}

func TestWaitingList_ConcurrentExtract(t *testing.T) {
	const numClients = 200
	clients := newTestClients(t, numClients)
	wl := newWaitingList()

	var mu sync.Mutex
	seen := make(map[*client.Client]int)

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(2)
		go func(c *client.Client) {
			defer wg.Done()
			wl.add(c)
		}(c)
		go func() {
			defer wg.Done()
			for _, extracted := range wl.tryExtract(2) {
				mu.Lock()
				seen[extracted]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for _, extracted := range wl.tryExtract(wl.len()) {
		seen[extracted]++
	}

	if len(seen) != numClients {
		t.Errorf("want %d distinct clients extracted, got %d", numClients, len(seen))
	}
	for c, n := range seen {
		if n != 1 {
			t.Errorf("client %s extracted %d times", c.Name(), n)
		}
	}
}
