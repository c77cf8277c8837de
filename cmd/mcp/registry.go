package main

import (
	"context"
	"fmt"
	"sort"
	"sync"

	chfslib "github.com/AnishMulay/chfs/clients/library"
	"github.com/AnishMulay/chfs/internal/log_service"
)

// Registry maps server ids to endpoints and keeps one session per
// server, dialed on first use.
type Registry struct {
	mu            sync.Mutex
	endpoints     map[string]string
	defaultServer string
	sessions      map[string]*chfslib.Session
	opts          []chfslib.Option
	ls            log_service.LogService
}

func NewRegistry(cfg *MCPConfig, ls log_service.LogService, opts ...chfslib.Option) *Registry {
	r := &Registry{
		endpoints:     make(map[string]string, len(cfg.Servers)),
		defaultServer: cfg.DefaultServer,
		sessions:      make(map[string]*chfslib.Session),
		opts:          append(opts, chfslib.WithLogService(ls)),
		ls:            ls,
	}
	for _, s := range cfg.Servers {
		r.endpoints[s.ID] = s.Endpoint
	}
	return r
}

// Session returns the session for id, or for the default server when id
// is empty.
func (r *Registry) Session(ctx context.Context, id string) (*chfslib.Session, error) {
	if id == "" {
		id = r.defaultServer
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		return s, nil
	}
	endpoint, ok := r.endpoints[id]
	if !ok {
		return nil, fmt.Errorf("server %s not found", id)
	}
	s, err := chfslib.Dial(ctx, endpoint, r.opts...)
	if err != nil {
		return nil, err
	}
	r.sessions[id] = s
	r.ls.Info(log_service.LogEvent{
		Message:  "Connected to CHFS server",
		Metadata: map[string]any{"server": id, "endpoint": endpoint},
	})
	return s, nil
}

// List returns "id: endpoint" lines sorted by id.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.endpoints))
	for id, endpoint := range r.endpoints {
		out = append(out, fmt.Sprintf("%s: %s", id, endpoint))
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.sessions {
		if err := s.Term(ctx); err != nil {
			r.ls.Warn(log_service.LogEvent{
				Message:  "Failed to close session",
				Metadata: map[string]any{"server": id, "error": err.Error()},
			})
		}
		delete(r.sessions, id)
	}
}
