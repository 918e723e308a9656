package testkit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/sha1n/svn-river/internal/app"
)

// StartupTimeout bounds the wait for the river server to answer /health.
const StartupTimeout = 10 * time.Second

// RiverServer runs the application with the SSE transport. The repository
// URL is taken from the PropRepoURL property unless set in the options.
type RiverServer struct {
	t    testing.TB
	opts FlagOptions

	cancel context.CancelFunc
	done   chan error
}

// NewRiverServer creates a river server service.
func NewRiverServer(t testing.TB, opts FlagOptions) *RiverServer {
	return &RiverServer{t: t, opts: opts}
}

// Name implements Service.
func (s *RiverServer) Name() string { return "river-server" }

// Start implements Service. It publishes the base URL and base directory.
func (s *RiverServer) Start(ctx context.Context, props Properties) (Properties, error) {
	opts := s.opts
	if opts.RepoURL == "" {
		opts.RepoURL = props.String(PropRepoURL)
	}
	if opts.BaseDir == "" {
		opts.BaseDir = s.t.TempDir()
	}
	opts.Transport = "sse"
	flags := NewTestFlags(s.t, &opts)
	port, _ := flags.GetInt("port")
	host, _ := flags.GetString("host")
	baseURL := fmt.Sprintf("http://%s:%d", host, port)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() {
		s.done <- app.RunWithDeps(runCtx, app.DefaultRunParams(), flags, "test")
	}()

	if err := s.waitHealthy(baseURL); err != nil {
		_ = s.Stop()
		return nil, err
	}
	return Properties{PropBaseURL: baseURL, PropBaseDir: opts.BaseDir}, nil
}

func (s *RiverServer) waitHealthy(baseURL string) error {
	deadline := time.Now().Add(StartupTimeout)
	for time.Now().Before(deadline) {
		select {
		case err := <-s.done:
			s.done <- err
			return fmt.Errorf("server exited during startup: %v", err)
		default:
		}

		resp, err := http.Get(baseURL + "/health")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	return errors.New("server did not become healthy")
}

// Stop implements Service. It cancels the server and waits for it to exit.
func (s *RiverServer) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	s.cancel = nil
	select {
	case err := <-s.done:
		return err
	case <-time.After(StartupTimeout):
		return errors.New("server did not stop")
	}
}
