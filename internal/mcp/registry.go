package mcp

import (
	"time"
)

// Registry is an immutable snapshot of one server's tool catalog, tied to a
// connection generation. A refresh produces a whole new Registry; callers
// holding an old snapshot never observe a mix of old and new entries.
type Registry struct {
	server      string
	generation  uint64
	refreshedAt time.Time
	tools       []Tool
	byName      map[string]Tool
}

// newRegistry builds a snapshot. Tool entries are stamped with the owning
// server name.
func newRegistry(server string, generation uint64, tools []Tool) *Registry {
	r := &Registry{
		server:      server,
		generation:  generation,
		refreshedAt: time.Now(),
		tools:       make([]Tool, 0, len(tools)),
		byName:      make(map[string]Tool, len(tools)),
	}
	pos := make(map[string]int, len(tools))
	for _, t := range tools {
		t.Server = server
		// Last write wins on duplicate names within one catalog; the
		// slice entry is replaced so Tools and Get always agree.
		if i, dup := pos[t.Name]; dup {
			r.tools[i] = t
		} else {
			pos[t.Name] = len(r.tools)
			r.tools = append(r.tools, t)
		}
		r.byName[t.Name] = t
	}
	return r
}

// emptyRegistry is a zero-tool snapshot used before first discovery.
func emptyRegistry(server string, generation uint64) *Registry {
	return newRegistry(server, generation, nil)
}

// Server returns the owning server name.
func (r *Registry) Server() string { return r.server }

// Generation returns the connection generation this snapshot belongs to.
func (r *Registry) Generation() uint64 { return r.generation }

// RefreshedAt returns when this snapshot was taken.
func (r *Registry) RefreshedAt() time.Time { return r.refreshedAt }

// Len returns the number of tools in the snapshot.
func (r *Registry) Len() int { return len(r.tools) }

// Get looks up a tool by its unqualified name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Tools returns a copy of the catalog.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, len(r.tools))
	copy(out, r.tools)
	return out
}
