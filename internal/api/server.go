package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shortstudio/studio-agent/internal/export"
	"github.com/shortstudio/studio-agent/internal/jobs"
	"github.com/shortstudio/studio-agent/internal/monitor"
	"github.com/shortstudio/studio-agent/internal/playback"
	"github.com/shortstudio/studio-agent/internal/remote"
	"github.com/shortstudio/studio-agent/internal/studio"
)

// Studio is the session surface the API drives. *studio.Session implements it.
type Studio interface {
	State() studio.State
	Analyze(ctx context.Context, script string) error
	SelectMany(picks map[string]string) error
	Export(ctx context.Context) error
	Batch(ctx context.Context, filename string, r io.Reader) (*remote.BatchResponse, error)
	Progress() monitor.Snapshot
	Cancel()
	Preview(t, duration float64, audioPaused bool) playback.Frame
	Jobs(ctx context.Context, limit int) ([]*jobs.Job, error)
	Job(ctx context.Context, id string) (*jobs.Job, error)
	Settings() studio.Settings
	UpdateSettings(ctx context.Context, next studio.Settings) (studio.Settings, error)
	Timeline(req export.TimelineRequest) (export.TimelineResult, error)
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port      int
	Studio    Studio
	Tokens    TokenStore
	Outputs   *playback.OutputServer
	Logger    *slog.Logger
	StartTime time.Time
	Version   string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      0,
			IdleTimeout:       60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
