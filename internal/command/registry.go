package command

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Registry maps command names to entries. It is immutable once built.
type Registry struct {
	entries map[string]*Entry
	names   []string
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

type buildConfig struct {
	middleware []Middleware
}

// WithMiddleware wraps every command's handler. The first middleware is outermost.
func WithMiddleware(mws ...Middleware) BuildOption {
	return func(c *buildConfig) {
		c.middleware = append(c.middleware, mws...)
	}
}

// Build validates the catalog and constructs the registry. Duplicate names
// (compared case-insensitively) and malformed option declarations are errors.
func Build(descriptors []Descriptor, opts ...BuildOption) (*Registry, error) {
	var cfg buildConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	r := &Registry{entries: make(map[string]*Entry, len(descriptors))}
	for i, d := range descriptors {
		e, err := newEntry(d, cfg.middleware)
		if err != nil {
			return nil, fmt.Errorf("descriptor[%d]: %w", i, err)
		}
		key := strings.ToLower(e.name)
		if existing, ok := r.entries[key]; ok {
			return nil, fmt.Errorf("descriptor[%d]: command %q already registered as %q", i, e.name, existing.name)
		}
		r.entries[key] = e
		r.names = append(r.names, e.name)
	}
	sort.Strings(r.names)
	return r, nil
}

func newEntry(d Descriptor, global []Middleware) (*Entry, error) {
	if d.New == nil {
		return nil, fmt.Errorf("command %q has no factory", d.Name)
	}
	sample := d.New()
	if sample == nil {
		return nil, fmt.Errorf("command %q factory returned nil", d.Name)
	}

	name := strings.TrimSpace(d.Name)
	if name == "" {
		name = DeriveName(sample)
	}
	if name == "" || strings.HasPrefix(name, "-") || strings.ContainsAny(name, " \t\r\n") {
		return nil, fmt.Errorf("invalid command name %q", name)
	}

	e := &Entry{name: name, description: d.Description, factory: d.New}

	if len(d.Options) > 0 {
		t := reflect.TypeOf(sample)
		if t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
			return nil, fmt.Errorf("command %q declares options but %s is not a pointer to a struct", name, t)
		}
		seen := make(map[string]string)
		for _, spec := range d.Options {
			b, err := spec.bind(t.Elem())
			if err != nil {
				return nil, fmt.Errorf("command %q: %w", name, err)
			}
			for _, n := range []string{spec.Short, spec.Long} {
				if n == "" {
					continue
				}
				k := strings.ToLower(n)
				if other, ok := seen[k]; ok {
					return nil, fmt.Errorf("command %q: option name %q used by both %s and %s", name, n, other, spec.Field)
				}
				seen[k] = spec.Field
			}
			e.bindings = append(e.bindings, b)
		}
	}

	mws := make([]Middleware, 0, len(global)+len(d.Middleware))
	mws = append(mws, global...)
	mws = append(mws, d.Middleware...)
	e.handler = chain(execute, mws)
	return e, nil
}

// Lookup returns the entry for name, matched case-insensitively.
func (r *Registry) Lookup(name string) (*Entry, bool) {
	if r == nil {
		return nil, false
	}
	e, ok := r.entries[strings.ToLower(name)]
	return e, ok
}

// Entries returns all entries sorted by name.
func (r *Registry) Entries() []*Entry {
	out := make([]*Entry, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.entries[strings.ToLower(n)])
	}
	return out
}

// Len returns the number of registered commands.
func (r *Registry) Len() int { return len(r.entries) }

// Names returns the canonical command names, sorted.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}
