package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/unranked/internal/adapter/metrics"
	"github.com/pscheid92/unranked/internal/domain"
	"github.com/pscheid92/unranked/internal/platform/config"
	"github.com/pscheid92/unranked/internal/schedule"
	"github.com/pscheid92/unranked/internal/unranked"
)

type ideaEngine interface {
	AddIdea(ctx context.Context, creator domain.UserRef, description string) (unranked.IdeaID, error)
	EditIdea(ctx context.Context, id unranked.IdeaID, requester domain.UserRef, description string) error
	RemoveIdea(ctx context.Context, id unranked.IdeaID, requester domain.UserRef, allowOverride bool) (unranked.Idea, error)
	ChangeVote(ctx context.Context, id unranked.IdeaID, user domain.UserRef, add bool) (bool, error)
	ChangeVoteAll(ctx context.Context, user domain.UserRef, add bool) (int, error)
	LeadingIdea(ctx context.Context) (*unranked.Leader, error)
	ResetIdeas(ctx context.Context) error
	SetThreshold(ctx context.Context, value int) error
	DisplayIdeas(ctx context.Context) (string, error)
	SetScore(ctx context.Context, user domain.UserRef, score int8) error
	RemoveScore(ctx context.Context, user domain.UserRef) (bool, error)
	SetScoreMessage(ctx context.Context, author domain.UserRef, message string) error
	DisplayScores(ctx context.Context) (string, error)
}

type taskScheduler interface {
	CreateTask(ctx context.Context, objective domain.Objective, target domain.UnixTimestamp) (schedule.CreateOutcome, error)
	CancelTaskByID(ctx context.Context, position int) (schedule.ScheduledTask, error)
	CancelTaskByObjective(ctx context.Context, objective domain.Objective) (schedule.ScheduledTask, error)
	Tasks(ctx context.Context) ([]schedule.ScheduledTask, error)
}

type eventService interface {
	StartEvent(ctx context.Context) (string, error)
	DisplayIdeasVerbose(ctx context.Context) (string, error)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	engine    ideaEngine
	scheduler taskScheduler
	events    eventService

	registry     *prometheus.Registry
	httpMetrics  *metrics.HTTPMetrics
	healthChecks []HealthCheck
	startTime    time.Time
}

// NewServer wires the API routes. registry and httpMetrics may be nil, in
// which case /metrics is not served and requests are not measured.
func NewServer(cfg *config.Config, engine ideaEngine, scheduler taskScheduler, events eventService, healthChecks []HealthCheck, registry *prometheus.Registry, httpMetrics *metrics.HTTPMetrics) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		engine:       engine,
		scheduler:    scheduler,
		events:       events,
		registry:     registry,
		httpMetrics:  httpMetrics,
		healthChecks: healthChecks,
		startTime:    time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
