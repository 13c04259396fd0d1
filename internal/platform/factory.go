package platform

import (
	"context"

	"github.com/aretw0/gluedoc/pkg/workspace"
)

// New opens a workspace service.
//
//	svc, err := gluedoc.New("./sessions", gluedoc.WithAutoInit(true))
//
// The URI argument is adapter-specific (e.g., directory for 'fs').
func New(uri string, opts ...Option) (*workspace.Service, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	repo, err := initRepository(uri, o)
	if err != nil {
		return nil, err
	}

	root := uri
	if fsRoot, ok := repoPath(repo); ok {
		root = fsRoot
	}
	store, err := initUpdateStore(context.Background(), root, o)
	if err != nil {
		return nil, err
	}

	wsOpts := []workspace.Option{
		workspace.WithLogger(o.logger),
		workspace.WithMetrics(o.metrics),
	}
	if store != nil {
		wsOpts = append(wsOpts, workspace.WithUpdateStore(store))
	}
	if size, ok := o.config["event_buffer"].(int); ok {
		wsOpts = append(wsOpts, workspace.WithEventBuffer(size))
	}

	return workspace.New(repo, wsOpts...), nil
}
