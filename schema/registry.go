package schema

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	ph "github.com/gofhir/phigate"
)

// Registry holds schemas keyed by name and version.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string][]*Schema // name -> versions, ascending
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string][]*Schema),
	}
}

// Register adds a schema. Registering the same name and version twice is a
// configuration error.
func (r *Registry) Register(s *Schema) error {
	if s == nil {
		return ph.NewConfigurationError("schema", "nil schema")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	versions := r.schemas[s.name]
	for _, existing := range versions {
		if existing.version == s.version {
			return ph.NewConfigurationError("schema", "schema "+s.Key()+" is already registered")
		}
	}
	versions = append(versions, s)
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].version.Compare(versions[j].version) < 0
	})
	r.schemas[s.name] = versions
	return nil
}

// Lookup returns the schema with the given name and version.
func (r *Registry) Lookup(name string, version ph.SchemaVersion) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.schemas[name] {
		if s.version == version {
			return s, true
		}
	}
	return nil, false
}

// Latest returns the highest version of the named schema. Versions are
// ordered semantically when they parse as semantic versions.
func (r *Registry) Latest(name string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.schemas[name]
	if len(versions) == 0 {
		return nil, false
	}
	return versions[len(versions)-1], true
}

// Versions returns the registered versions of the named schema, ascending.
func (r *Registry) Versions(name string) []ph.SchemaVersion {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.schemas[name]
	out := make([]ph.SchemaVersion, len(versions))
	for i, s := range versions {
		out[i] = s.version
	}
	return out
}

// Names returns the registered schema names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered schema versions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, versions := range r.schemas {
		n += len(versions)
	}
	return n
}

// LoadDir loads every .yaml, .yml and .json file in dir and registers it.
// It returns the number of schemas loaded.
func (r *Registry) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, ph.WrapConfigurationError(err, "schema directory "+dir)
	}

	loaded := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		s, err := Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return loaded, err
		}
		if err := r.Register(s); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}
