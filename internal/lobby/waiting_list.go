package lobby

import (
	"container/list"
	"sync"

	"github.com/dcrodman/parlor/internal/core/client"
)

// A concurrency-safe wrapper around container/list for maintaining the clients
// waiting for a game, in the order they arrived.
type waitingList struct {
	clients *list.List
	sync.RWMutex
}

func newWaitingList() *waitingList {
	return &waitingList{clients: list.New()}
}

func (wl *waitingList) add(c *client.Client) {
	wl.Lock()
	wl.clients.PushBack(c)
	wl.Unlock()
}

// remove takes c out of the list. Removing a client that isn't there is a no-op.
func (wl *waitingList) remove(c *client.Client) bool {
	wl.Lock()
	defer wl.Unlock()

	for clientElem := wl.clients.Front(); clientElem != nil; clientElem = clientElem.Next() {
		if clientElem.Value.(*client.Client) == c {
			wl.clients.Remove(clientElem)
			return true
		}
	}
	return false
}

// snapshot returns a copy of the list's current contents so that it can be
// iterated over without holding up additions.
func (wl *waitingList) snapshot() []*client.Client {
	wl.RLock()
	defer wl.RUnlock()

	clients := make([]*client.Client, 0, wl.clients.Len())
	for clientElem := wl.clients.Front(); clientElem != nil; clientElem = clientElem.Next() {
		clients = append(clients, clientElem.Value.(*client.Client))
	}
	return clients
}

// tryExtract removes and returns the count clients that have been waiting the
// longest, or nil if fewer than count are waiting.
func (wl *waitingList) tryExtract(count int) []*client.Client {
	wl.Lock()
	defer wl.Unlock()

	if count <= 0 || wl.clients.Len() < count {
		return nil
	}

	clients := make([]*client.Client, 0, count)
	for i := 0; i < count; i++ {
		clients = append(clients, wl.clients.Remove(wl.clients.Front()).(*client.Client))
	}
	return clients
}

func (wl *waitingList) len() int {
	wl.RLock()
	defer wl.RUnlock()
	return wl.clients.Len()
}
