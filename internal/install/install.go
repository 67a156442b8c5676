// Package install resolves named tool installations for the node a step
// executes on.
package install

import (
	"strings"
	"sync/atomic"
)

// Installation names the location of the test tool's executable.
type Installation struct {
	Name string `yaml:"name" json:"name"`
	Home string `yaml:"home" json:"home"`
}

// Resolve returns a copy of the installation with its home translated for node.
func (i Installation) Resolve(node Node) Installation {
	if node == nil {
		return i
	}
	out := i
	out.Home = node.TranslateHome(i.Name, i.Home)
	return out
}

// Node is the execution host a step runs on.
type Node interface {
	Name() string
	TranslateHome(installation, home string) string
}

// LocalNode is the controller itself; homes are used verbatim.
type LocalNode struct{}

// Name implements Node.
func (LocalNode) Name() string { return "" }

// TranslateHome implements Node.
func (LocalNode) TranslateHome(_ string, home string) string { return home }

// AgentNode is a remote executor. Homes listed in Overrides win; otherwise a
// configured home starting with FromPrefix is rewritten to ToPrefix.
type AgentNode struct {
	NodeName   string            `yaml:"name"`
	Overrides  map[string]string `yaml:"homes"`
	FromPrefix string            `yaml:"from_prefix"`
	ToPrefix   string            `yaml:"to_prefix"`
}

// Name implements Node.
func (a AgentNode) Name() string { return a.NodeName }

// TranslateHome implements Node.
func (a AgentNode) TranslateHome(installation, home string) string {
	if override, ok := a.Overrides[installation]; ok && override != "" {
		return override
	}
	if a.FromPrefix != "" && strings.HasPrefix(home, a.FromPrefix) {
		return a.ToPrefix + strings.TrimPrefix(home, a.FromPrefix)
	}
	return home
}

// Registry holds the configured installations. Readers always observe a
// whole snapshot; Replace swaps it without blocking them.
type Registry struct {
	snapshot atomic.Pointer[[]Installation]
}

// NewRegistry returns a registry seeded with installs.
func NewRegistry(installs ...Installation) *Registry {
	r := &Registry{}
	r.Replace(installs)
	return r
}

// Snapshot returns the current installation set. Callers must not modify it.
func (r *Registry) Snapshot() []Installation {
	p := r.snapshot.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Replace atomically swaps the installation set for a copy of installs.
func (r *Registry) Replace(installs []Installation) {
	cp := append([]Installation(nil), installs...)
	r.snapshot.Store(&cp)
}

// Lookup finds the installation called name and resolves it for node.
func (r *Registry) Lookup(name string, node Node) (Installation, bool) {
	if name == "" {
		return Installation{}, false
	}
	for _, inst := range r.Snapshot() {
		if inst.Name == name {
			return inst.Resolve(node), true
		}
	}
	return Installation{}, false
}
