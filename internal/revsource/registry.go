package revsource

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Factory creates a source from options.
type Factory func(opts Options) (Source, error)

// Registry maps URL schemes to source factories. Schemes are registered when
// the registry is built, there is no package-level registration.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry wired for Subversion (svn, svn+ssh, http,
// https, file) and git (git, git+file, git+http, git+https, git+ssh) URLs.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(func(opts Options) (Source, error) {
		return NewSVNSource(opts)
	}, "svn", "svn+ssh", "http", "https", "file")
	r.Register(func(opts Options) (Source, error) {
		return NewGitSource(opts)
	}, "git", "git+file", "git+http", "git+https", "git+ssh")
	return r
}

// Register binds a factory to one or more URL schemes, replacing previous bindings.
func (r *Registry) Register(factory Factory, schemes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, scheme := range schemes {
		r.factories[strings.ToLower(scheme)] = factory
	}
}

// Schemes returns the registered schemes.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemes := make([]string, 0, len(r.factories))
	for scheme := range r.factories {
		schemes = append(schemes, scheme)
	}
	return schemes
}

// Open creates a source for opts.URL using the factory of its scheme.
func (r *Registry) Open(opts Options) (Source, error) {
	scheme, err := Scheme(opts.URL)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	factory, ok := r.factories[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
	return factory(opts)
}

// Scheme returns the lower-cased scheme of a repository URL.
func Scheme(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("invalid repository URL %q: %w", rawURL, err)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("%w: repository URL %q has no scheme", ErrUnsupportedScheme, rawURL)
	}
	return strings.ToLower(u.Scheme), nil
}
