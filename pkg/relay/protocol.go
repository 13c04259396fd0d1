// Package relay synchronizes session documents between processes over
// websockets. A Server keeps one room per session backed by a workspace
// document; a Provider binds a local document to a room.
package relay

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/aretw0/gluedoc/pkg/crdt"
)

// MessageType identifies the payload of an envelope.
type MessageType string

const (
	// TypeSync carries a full document state.
	TypeSync MessageType = "sync"
	// TypeUpdate carries the update of one transaction.
	TypeUpdate MessageType = "update"
	// TypeAwareness carries awareness states.
	TypeAwareness MessageType = "awareness"
)

// Envelope is the unit exchanged over the wire.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Session string          `json:"session"`
	Client  crdt.ClientID   `json:"client,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

func encode(t MessageType, sessionID string, client crdt.ClientID, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return json.Marshal(Envelope{Type: t, Session: sessionID, Client: client, Payload: raw})
}

func decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("invalid envelope: %w", err)
	}
	switch env.Type {
	case TypeSync, TypeUpdate, TypeAwareness:
	default:
		return Envelope{}, fmt.Errorf("invalid envelope: unknown type %q", env.Type)
	}
	return env, nil
}

// Update decodes the payload of a sync or update envelope.
func (e Envelope) Update() (crdt.Update, error) {
	return crdt.DecodeUpdate(e.Payload)
}

// Awareness decodes the payload of an awareness envelope.
func (e Envelope) Awareness() (crdt.AwarenessUpdate, error) {
	var u crdt.AwarenessUpdate
	if err := json.Unmarshal(e.Payload, &u); err != nil {
		return crdt.AwarenessUpdate{}, fmt.Errorf("invalid awareness update: %w", err)
	}
	return u, nil
}

// SessionURL builds the websocket URL of a session room from the server's
// base URL. http and https schemes are mapped to ws and wss.
func SessionURL(base, sessionID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, Path) {
		u.Path = strings.TrimSuffix(u.Path, "/") + Path
	}
	q := u.Query()
	q.Set("session", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
