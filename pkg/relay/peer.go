package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aretw0/gluedoc/pkg/crdt"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8 << 20

	// Outgoing messages buffered per peer before it is considered too slow.
	sendQueueSize = 64
)

// peer is one websocket connection in a room.
type peer struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu      sync.Mutex
	clients map[crdt.ClientID]bool

	closeOnce sync.Once
}

func newPeer(conn *websocket.Conn) *peer {
	return &peer{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
		clients: make(map[crdt.ClientID]bool),
	}
}

// queue enqueues msg without blocking. A peer whose queue is full is closed.
func (p *peer) queue(msg []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- msg:
		return true
	default:
		p.close()
		return false
	}
}

// close asks the write pump to say goodbye and drop the connection.
func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

// remember records awareness clients announced through this connection.
func (p *peer) remember(u crdt.AwarenessUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range u.Entries {
		p.clients[e.Client] = true
	}
}

func (p *peer) announced() []crdt.ClientID {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]crdt.ClientID, 0, len(p.clients))
	for id := range p.clients {
		out = append(out, id)
	}
	return out
}

// writePump sends queued messages and keepalive pings until the peer closes.
func (p *peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.close()
		p.conn.Close()
	}()

	for {
		select {
		case msg := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-p.done:
			p.flush()
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is still queued before the connection is closed.
func (p *peer) flush() {
	for {
		select {
		case msg := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
