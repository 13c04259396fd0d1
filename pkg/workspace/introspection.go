package workspace

import (
	"github.com/aretw0/introspection"
)

// ServiceState exposes internal state for observability.
type ServiceState struct {
	EventBufferSize int            `json:"event_buffer_size"`
	RepositoryType  string         `json:"repository_type"`
	UpdateStore     bool           `json:"update_store"`
	OpenSessions    []string       `json:"open_sessions"`
	References      map[string]int `json:"references"`
	Repository      any            `json:"repository,omitempty"`
}

// State implements introspection.Introspectable.
func (s *Service) State() any {
	repoType := "unknown"
	var repoState any
	if s.repo != nil {
		repoType = "repository"
		if comp, ok := s.repo.(introspection.Component); ok {
			repoType = comp.ComponentType()
		}
		if in, ok := s.repo.(introspection.Introspectable); ok {
			repoState = in.State()
		}
	}

	refs := s.openIDs()
	return ServiceState{
		EventBufferSize: s.eventBufferSize,
		RepositoryType:  repoType,
		UpdateStore:     s.updates != nil,
		OpenSessions:    sortedKeys(refs),
		References:      refs,
		Repository:      repoState,
	}
}

// ComponentType implements introspection.Component.
func (s *Service) ComponentType() string {
	return "workspace"
}

var _ introspection.Introspectable = (*Service)(nil)
var _ introspection.Component = (*Service)(nil)
