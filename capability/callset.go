package capability

import (
	"context"
	"encoding/json"
	"time"

	"github.com/taskmesh/taskmesh/types"
)

// CallSet is the capability surface handed to a worker turn: the resolver
// narrowed to the names the worker is allowed to invoke. An empty allow-list
// grants nothing.
type CallSet struct {
	resolver Resolver
	exec     *Executor
	allowed  map[string]struct{}
}

// NewCallSet builds the worker-facing capability surface.
func NewCallSet(resolver Resolver, exec *Executor, allowedNames []string) *CallSet {
	allowed := make(map[string]struct{}, len(allowedNames))
	for _, n := range allowedNames {
		if n != "" {
			allowed[n] = struct{}{}
		}
	}
	return &CallSet{resolver: resolver, exec: exec, allowed: allowed}
}

// List returns the schemas of the capabilities this worker may call.
func (c *CallSet) List() []Schema {
	all := c.resolver.List()
	out := make([]Schema, 0, len(all))
	for _, s := range all {
		if _, ok := c.allowed[s.Name]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Has reports whether the worker may call the named capability.
func (c *CallSet) Has(name string) bool {
	if _, ok := c.allowed[name]; !ok {
		return false
	}
	return c.resolver.Has(name)
}

// Call invokes a capability on behalf of the worker.
func (c *CallSet) Call(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	if _, ok := c.allowed[name]; !ok {
		return nil, types.NewErrorf(types.ErrCapabilityDenied, "capability %q is not granted to this worker", name).
			WithCapability(name)
	}
	return c.exec.Invoke(ctx, c.resolver, name, args)
}

// Grant extends the allow-list, used when a worker self-extends so the newly
// registered capability is immediately callable within the same turn.
func (c *CallSet) Grant(name string) {
	if name != "" {
		c.allowed[name] = struct{}{}
	}
}

// Bind attaches a capability directly to this call set, layered over the
// resolver and granted immediately. The self-extension entry point is bound
// this way because its implementation must close over the call set itself.
func (c *CallSet) Bind(name string, fn Func, meta Metadata) {
	if name == "" || fn == nil {
		return
	}
	if meta.Schema.Name == "" {
		meta.Schema.Name = name
	}
	if meta.Timeout == 0 {
		meta.Timeout = 30 * time.Second
	}
	c.resolver = &overlayResolver{name: name, fn: fn, meta: meta, base: c.resolver}
	c.allowed[name] = struct{}{}
}

// overlayResolver resolves one bound capability ahead of a base resolver.
type overlayResolver struct {
	name string
	fn   Func
	meta Metadata
	base Resolver
}

func (o *overlayResolver) Get(name string) (Func, Metadata, error) {
	if name == o.name {
		return o.fn, o.meta, nil
	}
	return o.base.Get(name)
}

func (o *overlayResolver) List() []Schema {
	return append(o.base.List(), o.meta.Schema)
}

func (o *overlayResolver) Has(name string) bool {
	return name == o.name || o.base.Has(name)
}

func (o *overlayResolver) Allow(name string) error {
	if name == o.name {
		return nil
	}
	return o.base.Allow(name)
}

func (o *overlayResolver) Discard(name string) {
	if name == o.name {
		return
	}
	o.base.Discard(name)
}
