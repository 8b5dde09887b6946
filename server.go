// Package testrail runs a relay that exposes the TestRail client over a
// small HTTP API, so test runners that cannot link the Go client can still
// forward their results.
package testrail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/raphi011/testrail/client"
	"github.com/raphi011/testrail/internal/storage"
	"github.com/robfig/cron/v3"
)

type Relay struct {
	port int

	client  *client.Client
	journal *storage.Journal

	retention RetentionSchedule
	cron      *cron.Cron

	server *http.Server
	// closed once the listener accepts connections or startup failed
	ready     chan struct{}
	readyOnce sync.Once
	startErr  error
	// the port the server actually listens on, differs from port if port is 0
	listenPort int

	log *slog.Logger
}

type Option func(r *Relay)

func New(c *client.Client, opts ...Option) *Relay {
	r := &Relay{
		port:   1337,
		client: c,
		ready:  make(chan struct{}),
		log:    slog.Default(),
	}

	for _, o := range opts {
		o(r)
	}

	return r
}

// Run starts the journal retention schedule and serves the relay API until
// Shutdown is called.
func (r *Relay) Run() error {
	if err := r.startSchedules(); err != nil {
		r.stopSchedules()
		r.markStarted(err)
		return err
	}

	if err := r.runHTTP(); err != nil {
		r.stopSchedules()
		r.markStarted(err)
		return err
	}

	return nil
}

func (r *Relay) markStarted(err error) {
	r.readyOnce.Do(func() {
		r.startErr = err
		close(r.ready)
	})
}

func (r *Relay) stopSchedules() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

func (r *Relay) runHTTP() error {
	l, err := net.Listen("tcp", "localhost:"+strconv.Itoa(r.port))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", r.port, err)
	}

	r.listenPort = l.Addr().(*net.TCPAddr).Port
	r.server = &http.Server{Handler: r.router()}

	r.log.Info(fmt.Sprintf("Relay listening on port %d", r.listenPort))

	r.markStarted(nil)

	if err = r.server.Serve(l); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// WaitForStartup blocks until the relay accepts requests. It returns the
// error Run failed with if the relay could not be started.
func (r *Relay) WaitForStartup() error {
	<-r.ready
	return r.startErr
}

// ServerPort returns the port the relay listens on. Only valid after
// WaitForStartup returned.
func (r *Relay) ServerPort() int {
	return r.listenPort
}

func (r *Relay) Shutdown(ctx context.Context) error {
	r.stopSchedules()

	if r.server == nil {
		return nil
	}

	return r.server.Shutdown(ctx)
}
