package connector

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/ashita-ai/nagare/internal/model"
)

// NotFoundError is returned when no connector is registered under a name.
type NotFoundError struct {
	Name      string
	Available []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("connector %q not found", e.Name)
}

func (e *NotFoundError) Unwrap() error { return model.ErrNotFound }

// Store persists connector registrations for discovery.
type Store interface {
	UpsertConnector(ctx context.Context, info model.ConnectorInfo) error
}

// Registration binds a connector instance to its registry name.
type Registration struct {
	Name      string
	Connector Connector
}

// Registry holds the process-wide set of connectors. The set is fixed at
// construction; Registry is safe for concurrent use.
type Registry struct {
	logger     *slog.Logger
	store      Store
	connectors map[string]Connector
	names      []string

	syncMu sync.Mutex
	synced bool
}

// NewRegistry builds a registry from a static list of connectors. store may
// be nil, in which case registrations are never persisted.
func NewRegistry(logger *slog.Logger, store Store, regs ...Registration) (*Registry, error) {
	r := &Registry{
		logger:     logger,
		store:      store,
		connectors: make(map[string]Connector, len(regs)),
	}
	for _, reg := range regs {
		if reg.Name == "" || reg.Connector == nil {
			return nil, fmt.Errorf("connector: registration needs a name and a connector")
		}
		if _, dup := r.connectors[reg.Name]; dup {
			return nil, fmt.Errorf("connector: %q registered twice", reg.Name)
		}
		r.connectors[reg.Name] = reg.Connector
		r.names = append(r.names, reg.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Sync upserts a registration row for every connector. It is idempotent and
// runs at most once successfully; later calls return nil immediately.
func (r *Registry) Sync(ctx context.Context) error {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()
	if r.synced || r.store == nil {
		r.synced = true
		return nil
	}
	for _, info := range r.List() {
		if err := r.store.UpsertConnector(ctx, info); err != nil {
			return fmt.Errorf("connector: sync registrations: %w", err)
		}
	}
	r.synced = true
	r.logger.Info("connector registrations synced", "count", len(r.names))
	return nil
}

// ensureSynced makes the first use of the registry record registrations.
// A failed sync does not block dispatch.
func (r *Registry) ensureSynced(ctx context.Context) {
	if err := r.Sync(ctx); err != nil {
		r.logger.Warn("connector registrations not synced", "error", err)
	}
}

// Names returns the registered connector names in sorted order.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}

// Get returns the live connector registered under name.
func (r *Registry) Get(name string) (Connector, error) {
	c, ok := r.connectors[name]
	if !ok {
		return nil, &NotFoundError{Name: name, Available: r.Names()}
	}
	return c, nil
}

// Capabilities returns the action names a connector declares.
func (r *Registry) Capabilities(ctx context.Context, name string) ([]string, error) {
	r.ensureSynced(ctx)
	c, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return slices.Clone(c.Capabilities()), nil
}

// Run dispatches action to the named connector after checking that the
// connector declares it. The connector's result is returned unmodified.
func (r *Registry) Run(ctx context.Context, name, action string, params Params) (Result, error) {
	r.ensureSynced(ctx)
	c, err := r.Get(name)
	if err != nil {
		return Result{}, err
	}
	caps := c.Capabilities()
	if !slices.Contains(caps, action) {
		return Result{}, &model.UnsupportedActionError{
			Connector: name,
			Action:    action,
			Supported: slices.Clone(caps),
		}
	}
	if params == nil {
		params = Params{}
	}
	return runRecovered(ctx, c, name, action, params)
}

// runRecovered calls c.Run and turns a panic into an error so a misbehaving
// connector fails its step instead of the process.
func runRecovered(ctx context.Context, c Connector, name, action string, params Params) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = Result{}, fmt.Errorf("connector %s: %s panicked: %v", name, action, r)
		}
	}()
	return c.Run(ctx, action, params)
}

// List returns registration metadata for every connector, sorted by name.
func (r *Registry) List() []model.ConnectorInfo {
	out := make([]model.ConnectorInfo, 0, len(r.names))
	for _, name := range r.names {
		c := r.connectors[name]
		out = append(out, model.ConnectorInfo{
			Name:         name,
			Type:         c.Type(),
			Capabilities: slices.Clone(c.Capabilities()),
		})
	}
	return out
}

// Test reports whether a connector is registered and what it can do.
func (r *Registry) Test(ctx context.Context, name string) (Result, error) {
	r.ensureSynced(ctx)
	c, err := r.Get(name)
	if err != nil {
		return Result{}, err
	}
	res := Success(map[string]any{
		"connector":    name,
		"type":         c.Type(),
		"capabilities": slices.Clone(c.Capabilities()),
	})
	res.Message = fmt.Sprintf("Connector %s is registered", name)
	return res, nil
}

// Close releases resources held by connectors that implement io.Closer.
func (r *Registry) Close() error {
	var firstErr error
	for _, name := range r.names {
		if closer, ok := r.connectors[name].(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("connector: close %s: %w", name, err)
			}
		}
	}
	return firstErr
}
