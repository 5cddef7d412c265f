package cmd

import (
	"sort"
	"strings"
	"sync"
)

// Registry stores commands by lower-cased name. It does not dispatch; each
// adapter looks commands up and invokes them with its own context.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Register adds a command, replacing any command with the same name.
func (r *Registry) Register(c Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[strings.ToLower(c.Name())] = c
}

// Get returns the command with the given name, or nil.
func (r *Registry) Get(name string) Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.commands[strings.ToLower(name)]
}

// GetAll returns all registered commands, sorted by name.
func (r *Registry) GetAll() []Command {
	r.mu.RLock()
	list := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		list = append(list, c)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].Name() < list[j].Name()
	})
	return list
}

// Usage renders one "name - description" line per command.
func (r *Registry) Usage(prefix string) string {
	var b strings.Builder
	for _, c := range r.GetAll() {
		b.WriteString(prefix)
		b.WriteString(c.Name())
		b.WriteString(" - ")
		b.WriteString(c.Description())
		b.WriteString("\n")
	}
	return b.String()
}
