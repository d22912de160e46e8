// Package permissions models the immutable permission snapshots that scope
// module fetching and interop translation. A snapshot is cloned per
// resolution or load call and never shared as mutable state.
package permissions

import (
	"fmt"
	"strings"
)

// Container is an immutable snapshot of execution permissions. The zero
// value denies everything.
type Container struct {
	name     string
	allowAll bool
	// readAllow holds absolute path prefixes readable by this snapshot.
	readAllow []string
}

// AllowAll returns a snapshot that permits every read.
func AllowAll() *Container {
	return &Container{name: "allow-all", allowAll: true}
}

// Allow returns a snapshot permitting reads under the given path prefixes.
func Allow(name string, readPrefixes ...string) *Container {
	prefixes := make([]string, len(readPrefixes))
	copy(prefixes, readPrefixes)
	return &Container{name: name, readAllow: prefixes}
}

// Clone returns an independent copy of the snapshot.
func (c *Container) Clone() *Container {
	if c == nil {
		return nil
	}
	prefixes := make([]string, len(c.readAllow))
	copy(prefixes, c.readAllow)
	return &Container{name: c.name, allowAll: c.allowAll, readAllow: prefixes}
}

// Name identifies the scope this snapshot was created for (root vs dynamic).
func (c *Container) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// CheckRead reports whether the snapshot permits reading the given path.
func (c *Container) CheckRead(path string) error {
	if c == nil {
		return fmt.Errorf("read access to %q denied: no permissions granted", path)
	}
	if c.allowAll {
		return nil
	}
	for _, prefix := range c.readAllow {
		if strings.HasPrefix(path, prefix) {
			return nil
		}
	}
	return fmt.Errorf("read access to %q denied by %s permissions", path, c.name)
}
