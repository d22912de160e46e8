package graph

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Container owns the shared module graph. Readers get the last committed
// snapshot lock-free; writers serialize through update permits and publish
// atomically on commit, so no reader ever observes a partially built graph.
type Container struct {
	current atomic.Pointer[ModuleGraph]

	// updateSlot is a one-slot semaphore admitting a single outstanding
	// permit.
	updateSlot chan struct{}

	checkedMu sync.RWMutex
	// checked records (roots, lib) sets that already passed type checking.
	// Entries are only ever added.
	checked map[string]struct{}
}

// NewContainer returns a container holding an empty committed graph.
func NewContainer() *Container {
	c := &Container{
		updateSlot: make(chan struct{}, 1),
		checked:    map[string]struct{}{},
	}
	c.current.Store(New())
	return c
}

// Graph returns the current committed snapshot. Safe under concurrent
// reads and a concurrent in-flight writer.
func (c *Container) Graph() *ModuleGraph {
	return c.current.Load()
}

// UpdatePermit is an exclusive write handle over a working copy of the
// graph. It must end in Commit or Release.
type UpdatePermit struct {
	container *Container
	working   *ModuleGraph
	done      bool
}

// AcquireUpdatePermit blocks until no other permit is outstanding, then
// returns a handle over a private copy of the committed graph.
func (c *Container) AcquireUpdatePermit(ctx context.Context) (*UpdatePermit, error) {
	select {
	case c.updateSlot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &UpdatePermit{
		container: c,
		working:   c.current.Load().Clone(),
	}, nil
}

// Graph returns the permit's mutable working copy.
func (p *UpdatePermit) Graph() *ModuleGraph {
	return p.working
}

// Commit atomically publishes the working copy as the new shared snapshot
// and invalidates the permit. It returns the committed graph.
func (p *UpdatePermit) Commit() *ModuleGraph {
	if p.done {
		return p.container.Graph()
	}
	committed := p.working
	p.container.current.Store(committed)
	p.done = true
	p.working = nil
	<-p.container.updateSlot
	return committed
}

// Release abandons the permit without publishing. The previously committed
// graph stays untouched. Safe to call after Commit.
func (p *UpdatePermit) Release() {
	if p.done {
		return
	}
	p.done = true
	p.working = nil
	<-p.container.updateSlot
}

// typeCheckedKey canonicalizes a root set and library variant.
func typeCheckedKey(roots []string, lib string) string {
	sorted := append([]string(nil), roots...)
	sort.Strings(sorted)
	return lib + "\x00" + strings.Join(sorted, "\x00")
}

// IsTypeChecked reports whether the root set already passed checking under
// the given library variant.
func (c *Container) IsTypeChecked(roots []string, lib string) bool {
	c.checkedMu.RLock()
	defer c.checkedMu.RUnlock()
	_, ok := c.checked[typeCheckedKey(roots, lib)]
	return ok
}

// SetTypeChecked marks the root set as checked. Idempotent; there is no
// removal.
func (c *Container) SetTypeChecked(roots []string, lib string) {
	c.checkedMu.Lock()
	defer c.checkedMu.Unlock()
	c.checked[typeCheckedKey(roots, lib)] = struct{}{}
}
