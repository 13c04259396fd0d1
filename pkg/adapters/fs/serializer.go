package fs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/gluedoc/pkg/core"
)

// DefaultExtension is used when a session ID carries no extension.
const DefaultExtension = ".glu"

// Serializer defines how to read and write a specific file format.
type Serializer interface {
	// Parse reads from r and returns a Session.
	Parse(r io.Reader) (core.Session, error)
	// Serialize converts the Session to bytes.
	Serialize(s core.Session) ([]byte, error)
}

var (
	serializersMu sync.RWMutex
	serializers   = DefaultSerializers()
)

// DefaultSerializers returns the standard set of serializers keyed by extension.
func DefaultSerializers() map[string]Serializer {
	return map[string]Serializer{
		".glu":  JSONSerializer{},
		".json": JSONSerializer{},
		".yaml": YAMLSerializer{},
		".yml":  YAMLSerializer{},
	}
}

// RegisterSerializer adds or replaces the serializer used for ext.
func RegisterSerializer(ext string, s Serializer) {
	serializersMu.Lock()
	defer serializersMu.Unlock()
	serializers[strings.ToLower(ext)] = s
}

// serializerFor looks up a serializer. Extensions are matched case-insensitively,
// so session.GLU is read like session.glu.
func serializerFor(ext string) (Serializer, bool) {
	serializersMu.RLock()
	defer serializersMu.RUnlock()
	s, ok := serializers[strings.ToLower(ext)]
	return s, ok
}

func supportedExtensions() []string {
	serializersMu.RLock()
	defer serializersMu.RUnlock()
	exts := make([]string, 0, len(serializers))
	for ext := range serializers {
		exts = append(exts, ext)
	}
	return exts
}

// fill replaces nil collections so that a parsed session is always usable.
func fill(s core.Session) core.Session {
	empty := core.NewSession(s.ID)
	if s.Contents == nil {
		s.Contents = empty.Contents
	}
	if s.Attributes == nil {
		s.Attributes = empty.Attributes
	}
	if s.Dataset == nil {
		s.Dataset = empty.Dataset
	}
	if s.Links == nil {
		s.Links = empty.Links
	}
	if s.Tabs == nil {
		s.Tabs = empty.Tabs
	}
	return s
}

// --- JSON Serializer ---

// JSONSerializer reads and writes the .glu session format.
type JSONSerializer struct{}

func (JSONSerializer) Parse(r io.Reader) (core.Session, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return core.Session{}, err
	}
	var s core.Session
	if err := json.Unmarshal(bytes.TrimSpace(data), &s); err != nil {
		return core.Session{}, fmt.Errorf("invalid json: %w", err)
	}
	return fill(s), nil
}

func (JSONSerializer) Serialize(s core.Session) ([]byte, error) {
	data, err := json.MarshalIndent(fill(s), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// --- YAML Serializer ---

// YAMLSerializer reads and writes sessions as YAML.
type YAMLSerializer struct{}

func (YAMLSerializer) Parse(r io.Reader) (core.Session, error) {
	var s core.Session
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&s); err != nil && err != io.EOF {
		return core.Session{}, fmt.Errorf("invalid yaml: %w", err)
	}
	// yaml.v3 decodes nested objects as map[string]interface{}, but numbers as
	// int. A JSON round trip brings them to the same shape as the JSON format.
	data, err := json.Marshal(s)
	if err != nil {
		return core.Session{}, fmt.Errorf("invalid yaml: %w", err)
	}
	var norm core.Session
	if err := json.Unmarshal(data, &norm); err != nil {
		return core.Session{}, fmt.Errorf("invalid yaml: %w", err)
	}
	return fill(norm), nil
}

func (YAMLSerializer) Serialize(s core.Session) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(fill(s)); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
