package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/testview/backend/internal/collection"
	"github.com/testview/backend/internal/diff"
	"github.com/testview/backend/internal/registry"
)

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Broadcaster fans flushed diff batches out to connected consumers. New
// clients get a snapshot built by replaying each tree's store from empty;
// afterwards they only receive deltas. A periodic snapshot rebroadcast lets
// consumers that missed a delta resynchronize.
type Broadcaster struct {
	mu             sync.RWMutex
	clients        map[*client]bool
	reg            *registry.Registry
	snapshotTicker *time.Ticker
	stop           chan struct{}
	stopOnce       sync.Once
}

func NewBroadcaster(reg *registry.Registry, snapshotInterval time.Duration) *Broadcaster {
	b := &Broadcaster{
		clients: make(map[*client]bool),
		reg:     reg,
		stop:    make(chan struct{}),
	}

	if snapshotInterval > 0 {
		b.snapshotTicker = time.NewTicker(snapshotInterval)
		go b.snapshotLoop()
	}

	return b
}

// Publish broadcasts one flushed batch as a delta message tagged with its
// tree id. Each batch is delivered to connected clients at most once.
func (b *Broadcaster) Publish(treeID int, batch diff.Batch) {
	b.broadcast(WSMessage{
		Type:    MsgDelta,
		Payload: DeltaPayload{TreeID: treeID, Ops: batch},
	})
}

// PublishFunc returns the publish callback for one tree.
func (b *Broadcaster) PublishFunc(treeID int) collection.PublishFunc {
	return func(batch diff.Batch) {
		b.Publish(treeID, batch)
	}
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	c := newClient(conn)

	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	data, err := json.Marshal(b.snapshotMessage())
	if err != nil {
		log.Printf("snapshot marshal error: %v", err)
		return c
	}

	select {
	case c.send <- data:
	default:
		// Client too slow, drop the snapshot
	}

	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

func (b *Broadcaster) snapshotMessage() WSMessage {
	sessions := b.reg.Trees()
	trees := make([]TreeSnapshot, 0, len(sessions))
	for _, s := range sessions {
		trees = append(trees, TreeSnapshot{
			TreeID: s.TreeID(),
			Ops:    s.SnapshotOps(),
		})
	}
	return WSMessage{
		Type:    MsgSnapshot,
		Payload: SnapshotPayload{Trees: trees},
	}
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.stop:
			return
		case <-b.snapshotTicker.C:
			b.broadcast(b.snapshotMessage())
		}
	}
}

// Stop halts the periodic snapshot loop and disconnects all clients.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
		if b.snapshotTicker != nil {
			b.snapshotTicker.Stop()
		}
	})

	b.mu.Lock()
	for c := range b.clients {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			// Client can't keep up, disconnect it
			log.Printf("ws client %s too slow, disconnecting", c.id)
			b.RemoveClient(c)
		}
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
