package httpserver

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/unranked/internal/platform/errors"
	"github.com/pscheid92/unranked/internal/unranked"
)

type ideaRequest struct {
	Description string `json:"description"`
}

type thresholdRequest struct {
	Threshold *int `json:"threshold"`
}

type displayResponse struct {
	Display string `json:"display"`
}

type leaderResponse struct {
	ID   unranked.IdeaID `json:"id"`
	Idea unranked.Idea   `json:"idea"`
}

func (s *Server) registerIdeaRoutes(api *echo.Group) {
	api.GET("/ideas", s.handleListIdeas)
	api.POST("/ideas", s.handleAddIdea)
	api.GET("/ideas/leading", s.handleLeadingIdea)
	api.PUT("/ideas/threshold", s.handleSetThreshold, requireAdmin)
	api.POST("/ideas/reset", s.handleResetIdeas, requireAdmin)
	api.POST("/ideas/votes", s.handleVoteAll(true))
	api.DELETE("/ideas/votes", s.handleVoteAll(false))
	api.PUT("/ideas/:id", s.handleEditIdea)
	api.DELETE("/ideas/:id", s.handleRemoveIdea)
	api.POST("/ideas/:id/vote", s.handleVote(true))
	api.DELETE("/ideas/:id/vote", s.handleVote(false))
}

func (s *Server) handleListIdeas(c echo.Context) error {
	ctx := c.Request().Context()

	var (
		display string
		err     error
	)
	if verbose, _ := strconv.ParseBool(c.QueryParam("verbose")); verbose {
		display, err = s.events.DisplayIdeasVerbose(ctx)
	} else {
		display, err = s.engine.DisplayIdeas(ctx)
	}
	if err != nil {
		return fmt.Errorf("display ideas: %w", err)
	}

	return sendJSON(c, http.StatusOK, displayResponse{Display: unranked.IdeasDisplayTitle + "\n" + display})
}

func (s *Server) handleAddIdea(c echo.Context) error {
	description, err := bindDescription(c)
	if err != nil {
		return err
	}

	id, err := s.engine.AddIdea(c.Request().Context(), userFrom(c), description)
	if err != nil {
		return fmt.Errorf("add idea: %w", err)
	}

	return sendJSON(c, http.StatusCreated, map[string]unranked.IdeaID{"id": id})
}

func (s *Server) handleEditIdea(c echo.Context) error {
	id, err := ideaIDParam(c)
	if err != nil {
		return err
	}
	description, err := bindDescription(c)
	if err != nil {
		return err
	}

	if err := s.engine.EditIdea(c.Request().Context(), id, userFrom(c), description); err != nil {
		return fmt.Errorf("edit idea: %w", err)
	}

	return sendJSON(c, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRemoveIdea lets admins remove ideas they do not own.
func (s *Server) handleRemoveIdea(c echo.Context) error {
	id, err := ideaIDParam(c)
	if err != nil {
		return err
	}

	removed, err := s.engine.RemoveIdea(c.Request().Context(), id, userFrom(c), isAdmin(c))
	if err != nil {
		return fmt.Errorf("remove idea: %w", err)
	}

	return sendJSON(c, http.StatusOK, map[string]unranked.Idea{"removed": removed})
}

func (s *Server) handleVote(add bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := ideaIDParam(c)
		if err != nil {
			return err
		}

		changed, err := s.engine.ChangeVote(c.Request().Context(), id, userFrom(c), add)
		if err != nil {
			return fmt.Errorf("change vote: %w", err)
		}

		return sendJSON(c, http.StatusOK, map[string]bool{"changed": changed})
	}
}

func (s *Server) handleVoteAll(add bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		changed, err := s.engine.ChangeVoteAll(c.Request().Context(), userFrom(c), add)
		if err != nil {
			return fmt.Errorf("change all votes: %w", err)
		}

		return sendJSON(c, http.StatusOK, map[string]int{"changed": changed})
	}
}

func (s *Server) handleLeadingIdea(c echo.Context) error {
	leader, err := s.engine.LeadingIdea(c.Request().Context())
	if err != nil {
		return fmt.Errorf("leading idea: %w", err)
	}
	if leader == nil {
		return apperrors.NotFoundError("there are no ideas")
	}

	return sendJSON(c, http.StatusOK, leaderResponse{ID: leader.ID, Idea: leader.Idea})
}

func (s *Server) handleSetThreshold(c echo.Context) error {
	var req thresholdRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.Threshold == nil {
		return apperrors.ValidationError("threshold is required")
	}

	if err := s.engine.SetThreshold(c.Request().Context(), *req.Threshold); err != nil {
		return fmt.Errorf("set threshold: %w", err)
	}

	return sendJSON(c, http.StatusOK, map[string]int{"threshold": *req.Threshold})
}

func (s *Server) handleResetIdeas(c echo.Context) error {
	if err := s.engine.ResetIdeas(c.Request().Context()); err != nil {
		return fmt.Errorf("reset ideas: %w", err)
	}

	return sendJSON(c, http.StatusOK, map[string]string{"status": "ok"})
}

func bindDescription(c echo.Context) (string, error) {
	var req ideaRequest
	if err := c.Bind(&req); err != nil {
		return "", apperrors.ValidationError("invalid request body")
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return "", apperrors.ValidationError("description is required")
	}
	return description, nil
}

func ideaIDParam(c echo.Context) (unranked.IdeaID, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return 0, apperrors.ValidationError("idea id must be a number")
	}
	return unranked.IdeaID(id), nil
}

func sendJSON(c echo.Context, status int, body any) error {
	if err := c.JSON(status, body); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
