// Package registry loads and serves the declarative catalog of allowed
// sandbox profiles (spec §4.1, component C1).
package registry

import (
	"os"
	"sort"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/agent-infra/sandboxd/internal/logging"
)

// Registry is a read-mostly, hot-reloadable catalog of sandbox profiles.
// Reads never block on a load in progress: each Load swaps in a new
// immutable snapshot, so List/Get/Allowed always observe a coherent view.
type Registry struct {
	path     string
	logger   logging.Logger
	snapshot atomic.Pointer[map[string]Profile]
}

// New creates a Registry that loads from path. The initial catalog is
// empty until Load is called.
func New(path string, logger logging.Logger) *Registry {
	r := &Registry{path: path, logger: logging.OrNop(logger)}
	empty := map[string]Profile{}
	r.snapshot.Store(&empty)
	return r
}

// Load (re)reads the registry document from disk. A parse error or an
// unreadable file degrades to an empty catalog rather than failing the
// caller — per spec §4.1 every start request must then be rejected via
// Allowed returning false, not via a panic or a stale catalog.
func (r *Registry) Load() error {
	catalog, err := r.parse()
	if err != nil {
		r.logger.Error("registry load failed, serving empty catalog: %v", err)
		empty := map[string]Profile{}
		r.snapshot.Store(&empty)
		return err
	}
	r.snapshot.Store(&catalog)
	r.logger.Info("registry loaded %d sandbox profile(s) from %s", len(catalog), r.path)
	return nil
}

func (r *Registry) parse() (map[string]Profile, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, err
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	catalog := make(map[string]Profile, len(doc.Containers))
	for name, profile := range doc.Containers {
		profile.Name = name
		if profile.Image == "" {
			// image may be synthesized from the profile name (spec §3).
			profile.Image = name + ":latest"
		}
		if profile.Security.NetworkMode == "" {
			profile.Security.NetworkMode = "default"
		}
		catalog[name] = profile
	}
	return catalog, nil
}

// List returns every known profile, sorted by name for a stable response.
func (r *Registry) List() []Profile {
	catalog := *r.snapshot.Load()
	out := make([]Profile, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the named profile and whether it exists.
func (r *Registry) Get(name string) (Profile, bool) {
	catalog := *r.snapshot.Load()
	p, ok := catalog[name]
	return p, ok
}

// Allowed reports whether name is a known profile.
func (r *Registry) Allowed(name string) bool {
	_, ok := r.Get(name)
	return ok
}
