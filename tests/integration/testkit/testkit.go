// Package testkit starts repositories and river servers for integration tests.
package testkit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/sha1n/svn-river/internal/app"
	"github.com/spf13/pflag"
)

// Property names published by the services.
const (
	PropRepoURL = "repo_url"
	PropBaseURL = "base_url"
	PropBaseDir = "base_dir"
)

// Properties are the values services publish when they start.
type Properties map[string]any

// String returns a string property or "".
func (p Properties) String(name string) string {
	s, _ := p[name].(string)
	return s
}

// Service is a test dependency. Start receives the properties published by
// the services started before it.
type Service interface {
	Name() string
	Start(ctx context.Context, props Properties) (Properties, error)
	Stop() error
}

// Env starts services in order and stops them in reverse order.
type Env struct {
	services []Service
	started  []Service
	props    Properties
}

// NewEnv creates an environment of the given services.
func NewEnv(services ...Service) *Env {
	return &Env{services: services, props: make(Properties)}
}

// Start starts every service and returns the merged properties. Services
// started before a failure are stopped.
func (e *Env) Start(ctx context.Context) (Properties, error) {
	for _, s := range e.services {
		props, err := s.Start(ctx, e.props)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("%s: %w", s.Name(), err), e.Stop())
		}
		e.started = append(e.started, s)
		for k, v := range props {
			e.props[k] = v
		}
	}
	return e.props, nil
}

// Stop stops the started services in reverse order.
func (e *Env) Stop() error {
	var errs []error
	for i := len(e.started) - 1; i >= 0; i-- {
		if err := e.started[i].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.started[i].Name(), err))
		}
	}
	e.started = nil
	return errors.Join(errs...)
}

// Properties returns the properties published so far.
func (e *Env) Properties() Properties {
	return e.props
}

// MustStart starts the environment and stops it when the test ends.
func MustStart(t testing.TB, ctx context.Context, services ...Service) Properties {
	t.Helper()
	env := NewEnv(services...)
	props, err := env.Start(ctx)
	if err != nil {
		t.Fatalf("Failed to start test environment: %v", err)
	}
	t.Cleanup(func() {
		if err := env.Stop(); err != nil {
			t.Errorf("Failed to stop test environment: %v", err)
		}
	})
	return props
}

// GetFreePort returns a free port from the kernel
func GetFreePort() (int, error) {
	return getFreePortWithAddr("localhost:0")
}

// MustGetFreePort returns a free port or fails the test
func MustGetFreePort(t testing.TB) int {
	t.Helper()
	port, err := GetFreePort()
	if err != nil {
		t.Fatalf("Failed to get free port: %v", err)
	}
	return port
}

func getFreePortWithAddr(addrStr string) (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", addrStr)
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// FlagOptions configures NewTestFlags
type FlagOptions struct {
	Port       int           // Uses free port if 0
	Transport  string        // Defaults to "sse"
	AuthType   string        // Defaults to "none"
	Host       string        // Defaults to "localhost"
	BaseDir    string        // Defaults to a test temp dir
	RepoURL    string        // Optional
	RepoPath   string        // Optional
	UpdateRate time.Duration // Defaults to 100ms
	Once       bool
}

// NewTestFlags creates a configured pflag.FlagSet for testing
func NewTestFlags(t testing.TB, opts *FlagOptions) *pflag.FlagSet {
	t.Helper()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	app.RegisterFlags(flags)

	o := FlagOptions{}
	if opts != nil {
		o = *opts
	}
	if o.Transport == "" {
		o.Transport = "sse"
	}
	if o.AuthType == "" {
		o.AuthType = "none"
	}
	if o.Host == "" {
		o.Host = "localhost"
	}
	if o.Port == 0 {
		o.Port = MustGetFreePort(t)
	}
	if o.BaseDir == "" {
		o.BaseDir = t.TempDir()
	}
	if o.UpdateRate == 0 {
		o.UpdateRate = 100 * time.Millisecond
	}

	values := map[string]string{
		"port":        fmt.Sprintf("%d", o.Port),
		"transport":   o.Transport,
		"auth-type":   o.AuthType,
		"host":        o.Host,
		"base-dir":    o.BaseDir,
		"update-rate": o.UpdateRate.String(),
	}
	if o.RepoURL != "" {
		values["repo-url"] = o.RepoURL
	}
	if o.RepoPath != "" {
		values["repo-path"] = o.RepoPath
	}
	if o.Once {
		values["once"] = "true"
	}
	for name, value := range values {
		if err := flags.Set(name, value); err != nil {
			t.Fatalf("Failed to set flag %s: %v", name, err)
		}
	}

	return flags
}
