package shell

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"

	"github.com/dmora/rootshell/session"
	"golang.org/x/sync/singleflight"
)

// Registry shares one shell per Identity. The first Open of an identity
// spawns the shell and returns its owner handle; later Opens return
// clones of it until the owner closes.
type Registry struct {
	spawner session.Spawner
	opts    []Option

	mu    sync.Mutex
	cores map[Identity]*core

	// connecting holds one in-flight spawn per identity, so a slow su
	// only blocks callers of that identity.
	connecting singleflight.Group
}

// NewRegistry returns a registry that spawns through spawner with opts
// applied to every shell it creates.
func NewRegistry(spawner session.Spawner, opts ...Option) *Registry {
	return &Registry{
		spawner: spawner,
		opts:    opts,
		cores:   make(map[Identity]*core),
	}
}

// Open returns a handle for (name, root): the owner if this call created
// the shell, otherwise a clone. opts only apply when the shell is created.
func (r *Registry) Open(ctx context.Context, name string, root bool, opts ...Option) (*Shell, error) {
	c, created, err := r.get(ctx, Identity{Name: name, Root: root}, opts)
	if err != nil {
		return nil, err
	}
	return &Shell{c: c, owner: created}, nil
}

// Owner returns an owner handle for (name, root), creating the shell if
// needed. Any owner handle may tear the shell down.
func (r *Registry) Owner(ctx context.Context, name string, root bool, opts ...Option) (*Shell, error) {
	c, _, err := r.get(ctx, Identity{Name: name, Root: root}, opts)
	if err != nil {
		return nil, err
	}
	return &Shell{c: c, owner: true}, nil
}

func (r *Registry) get(ctx context.Context, id Identity, opts []Option) (*core, bool, error) {
	if c := r.lookup(id); c != nil {
		return c, false, nil
	}

	created := false
	ch := r.connecting.DoChan(id.String(), func() (any, error) {
		if c := r.lookup(id); c != nil {
			return c, nil
		}
		all := append(slices.Clone(r.opts), opts...)
		c, err := newCore(ctx, id, r.spawner, resolveOptions(all...))
		if err != nil {
			return nil, err
		}
		c.unregister = func() { r.remove(id, c) }
		r.mu.Lock()
		r.cores[id] = c
		r.mu.Unlock()
		created = true
		return c, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		// Only the caller whose function ran can have set created.
		return res.Val.(*core), created, nil
	case <-ctx.Done():
		go func() {
			// A shell created for a caller that gave up has no owner.
			if res := <-ch; res.Err == nil && created {
				_ = res.Val.(*core).close(context.Background(), true)
			}
		}()
		return nil, false, ctx.Err()
	}
}

func (r *Registry) lookup(id Identity) *core {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.cores[id]; ok && !c.sv.Closed() {
		return c
	}
	return nil
}

func (r *Registry) remove(id Identity, c *core) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cores[id] == c {
		delete(r.cores, id)
	}
}

// Identities lists the registered shells, sorted by name then mode.
func (r *Registry) Identities() []Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]Identity, 0, len(r.cores))
	for id := range r.cores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Name != ids[j].Name {
			return ids[i].Name < ids[j].Name
		}
		return !ids[i].Root && ids[j].Root
	})
	return ids
}

// Close force-closes every registered shell.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	cores := make([]*core, 0, len(r.cores))
	for _, c := range r.cores {
		cores = append(cores, c)
	}
	r.mu.Unlock()

	var errs []error
	for _, c := range cores {
		errs = append(errs, c.close(ctx, true))
	}
	return errors.Join(errs...)
}
