package httpserver

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/unranked/internal/domain"
	apperrors "github.com/pscheid92/unranked/internal/platform/errors"
	"github.com/pscheid92/unranked/internal/schedule"
)

type createTaskRequest struct {
	Objective string `json:"objective"`
	Timestamp int64  `json:"timestamp"`
}

type scheduleResponse struct {
	Display string                   `json:"display"`
	Tasks   []schedule.ScheduledTask `json:"tasks"`
}

type createTaskResponse struct {
	Outcome  string `json:"outcome"`
	Replaced bool   `json:"replaced"`
}

func (s *Server) registerScheduleRoutes(api *echo.Group) {
	api.GET("/schedule", s.handleListTasks)
	api.POST("/schedule", s.handleCreateTask, requireAdmin)
	api.DELETE("/schedule/:id", s.handleCancelTaskByID, requireAdmin)
	api.DELETE("/schedule/objective/:objective", s.handleCancelTaskByObjective, requireAdmin)
}

func (s *Server) handleListTasks(c echo.Context) error {
	tasks, err := s.scheduler.Tasks(c.Request().Context())
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if tasks == nil {
		tasks = []schedule.ScheduledTask{}
	}

	return sendJSON(c, http.StatusOK, scheduleResponse{Display: schedule.Render(tasks), Tasks: tasks})
}

// handleCreateTask answers 201 for a new task and 200 when an existing task
// for the objective was replaced.
func (s *Server) handleCreateTask(c echo.Context) error {
	var req createTaskRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	objective, err := domain.ParseObjective(req.Objective)
	if err != nil {
		return err
	}
	if req.Timestamp <= 0 || req.Timestamp > math.MaxInt32 {
		return fmt.Errorf("timestamp %d: %w", req.Timestamp, domain.ErrInvalidTimestamp)
	}

	outcome, err := s.scheduler.CreateTask(c.Request().Context(), objective, domain.UnixTimestamp(req.Timestamp))
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	status := http.StatusCreated
	if outcome.Replaced {
		status = http.StatusOK
	}
	return sendJSON(c, status, createTaskResponse{Outcome: outcome.String(), Replaced: outcome.Replaced})
}

func (s *Server) handleCancelTaskByID(c echo.Context) error {
	position, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return apperrors.ValidationError("task id must be a number")
	}

	task, err := s.scheduler.CancelTaskByID(c.Request().Context(), position)
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}

	return sendJSON(c, http.StatusOK, map[string]schedule.ScheduledTask{"cancelled": task})
}

func (s *Server) handleCancelTaskByObjective(c echo.Context) error {
	objective, err := domain.ParseObjective(c.Param("objective"))
	if err != nil {
		return err
	}

	task, err := s.scheduler.CancelTaskByObjective(c.Request().Context(), objective)
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}

	return sendJSON(c, http.StatusOK, map[string]schedule.ScheduledTask{"cancelled": task})
}
