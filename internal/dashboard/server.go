// Package dashboard serves the nudge JSON API: batch overview, per-student
// results, run history, the schedule and a live event stream for the
// running batch.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/nudge/internal/agent"
	"github.com/zulandar/nudge/internal/batch"
	"github.com/zulandar/nudge/internal/config"
	"github.com/zulandar/nudge/internal/ledger"
	"github.com/zulandar/nudge/internal/models"
	"github.com/zulandar/nudge/internal/runlog"
	"github.com/zulandar/nudge/internal/student"
	"go.uber.org/zap"
)

// Runner starts batch runs and reports on them. *batch.Runner satisfies it.
type Runner interface {
	Start(ctx context.Context, mode batch.Mode, done func(*agent.Summary, error)) (string, error)
	Status() (runID string, running bool)
	Last() *agent.Summary
	EventsSince(n int) ([]agent.Event, int)
}

// RunLog reads persisted runs. *runlog.GormRecorder satisfies it.
type RunLog interface {
	Runs(ctx context.Context, limit int) ([]models.Run, error)
	Run(ctx context.Context, id string) (*runlog.Detail, error)
	ToolCallsFor(ctx context.Context, recipientID string) ([]models.ToolCall, error)
}

// Opts holds the components the dashboard reads from.
type Opts struct {
	Config   *config.Config
	Runner   Runner
	RunLog   RunLog
	Comm     *ledger.Communication
	Schedule *ledger.Schedule
	Store    ledger.Store
	Source   student.Source
	Now      func() time.Time
	Logger   *zap.Logger

	// PollInterval is how often the event stream checks for new events.
	PollInterval time.Duration
}

// Server is the dashboard HTTP API.
type Server struct {
	opts   Opts
	router *gin.Engine
	logger *zap.Logger

	// base is the context background runs inherit; Start replaces it with
	// the server's lifetime context.
	base context.Context
}

// NewSystemServer builds a Server over a batch system and its runner.
func NewSystemServer(sys *batch.System, runner *batch.Runner) (*Server, error) {
	if sys == nil || runner == nil {
		return nil, fmt.Errorf("dashboard: system and runner are required")
	}
	return NewServer(Opts{
		Config:   sys.Config,
		Runner:   runner,
		RunLog:   sys.Recorder,
		Comm:     sys.Comm,
		Schedule: sys.Schedule,
		Store:    sys.Store,
		Source:   sys.Source,
		Now:      sys.Now,
		Logger:   sys.Logger,
	})
}

// NewServer validates opts and registers the routes.
func NewServer(opts Opts) (*Server, error) {
	switch {
	case opts.Config == nil:
		return nil, fmt.Errorf("dashboard: config is required")
	case opts.Runner == nil:
		return nil, fmt.Errorf("dashboard: runner is required")
	case opts.RunLog == nil:
		return nil, fmt.Errorf("dashboard: run log is required")
	case opts.Comm == nil || opts.Schedule == nil || opts.Store == nil:
		return nil, fmt.Errorf("dashboard: ledgers are required")
	case opts.Source == nil:
		return nil, fmt.Errorf("dashboard: record source is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		opts:   opts,
		router: router,
		logger: opts.Logger.Named("dashboard"),
		base:   context.Background(),
	}
	s.registerRoutes()
	return s, nil
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.router }

// StartOpts holds listener settings.
type StartOpts struct {
	Port int
	Out  io.Writer
}

// Start serves the dashboard until ctx is cancelled, then shuts down
// gracefully. Runs started from the API are cancelled with ctx.
func (s *Server) Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	s.base = ctx

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://localhost:%d\n", opts.Port)
	}
	s.logger.Info("dashboard listening", zap.Int("port", opts.Port))

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
