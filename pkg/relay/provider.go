package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/gorilla/websocket"

	"github.com/aretw0/gluedoc/pkg/crdt"
	"github.com/aretw0/gluedoc/pkg/session"
)

// Provider binds a local document to a relay room. Local updates and local
// awareness changes are sent to the room; everything received is applied to
// the document with the provider as origin.
type Provider struct {
	doc    *session.Document
	conn   *websocket.Conn
	logger *slog.Logger

	send   chan []byte
	synced chan struct{}
	done   chan struct{}

	syncOnce  sync.Once
	closeOnce sync.Once

	mu   sync.Mutex
	err  error
	offs []func()
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithProviderLogger sets the provider logger.
func WithProviderLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Connect dials the room at url and starts replicating doc.
func Connect(ctx context.Context, url string, doc *session.Document, opts ...ProviderOption) (*Provider, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	p := &Provider{
		doc:    doc,
		conn:   conn,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		send:   make(chan []byte, sendQueueSize),
		synced: make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.offs = append(p.offs,
		doc.OnUpdate(p.onUpdate),
		doc.Awareness().OnChange(p.onAwareness),
	)

	lifecycle.Go(context.Background(), func(context.Context) error {
		p.writeLoop()
		return nil
	})
	lifecycle.Go(context.Background(), func(context.Context) error {
		p.readLoop()
		return nil
	})

	p.enqueue(TypeSync, doc.EncodeState())
	if doc.Awareness().LocalState() != nil {
		p.enqueue(TypeAwareness, doc.Awareness().EncodeUpdate(doc.ClientID()))
	}
	return p, nil
}

// Synced is closed once the first full state from the room has been applied.
func (p *Provider) Synced() <-chan struct{} {
	return p.synced
}

// Done is closed when the connection ends.
func (p *Provider) Done() <-chan struct{} {
	return p.done
}

// Err returns the error that ended the connection, if any.
func (p *Provider) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Close detaches the document and closes the connection.
func (p *Provider) Close() error {
	p.shutdown(nil)
	return nil
}

func (p *Provider) shutdown(err error) {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.err = err
		offs := p.offs
		p.offs = nil
		p.mu.Unlock()
		for _, off := range offs {
			off()
		}
		close(p.done)
	})
}

func (p *Provider) onUpdate(u crdt.Update, origin any) {
	if origin == p {
		return
	}
	p.enqueue(TypeUpdate, u)
}

func (p *Provider) onAwareness(c crdt.AwarenessChange) {
	if !c.Local {
		return
	}
	p.enqueue(TypeAwareness, p.doc.Awareness().EncodeUpdate(p.doc.ClientID()))
}

func (p *Provider) enqueue(t MessageType, payload any) {
	msg, err := encode(t, p.doc.ID(), p.doc.ClientID(), payload)
	if err != nil {
		p.logger.Error("failed to encode message", "type", t, "error", err)
		return
	}
	select {
	case <-p.done:
	case p.send <- msg:
	default:
		p.shutdown(errors.New("relay: send queue full"))
	}
}

func (p *Provider) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case msg := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				p.shutdown(err)
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.shutdown(err)
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

func (p *Provider) readLoop() {
	p.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.shutdown(err)
			} else {
				p.shutdown(nil)
			}
			return
		}
		env, err := decode(data)
		if err != nil {
			p.logger.Warn("dropping message", "error", err)
			continue
		}
		if err := p.apply(env); err != nil {
			p.logger.Warn("failed to apply message", "type", env.Type, "error", err)
		}
	}
}

func (p *Provider) apply(env Envelope) error {
	switch env.Type {
	case TypeSync, TypeUpdate:
		u, err := env.Update()
		if err != nil {
			return err
		}
		if err := p.doc.ApplyUpdate(u, p); err != nil {
			return err
		}
		if env.Type == TypeSync {
			p.syncOnce.Do(func() { close(p.synced) })
		}
	case TypeAwareness:
		u, err := env.Awareness()
		if err != nil {
			return err
		}
		p.doc.Awareness().ApplyUpdate(u, p)
	}
	return nil
}

// flush writes whatever is still queued before the connection is closed.
func (p *Provider) flush() {
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
