package httpserver

import (
	"fmt"
	"math"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/unranked/internal/app"
	apperrors "github.com/pscheid92/unranked/internal/platform/errors"
	"github.com/pscheid92/unranked/internal/unranked"
)

type scoreRequest struct {
	Score *int `json:"score"`
}

type scoreMessageRequest struct {
	Message string `json:"message"`
}

func (s *Server) registerScoreRoutes(api *echo.Group) {
	api.GET("/scores", s.handleDisplayScores)
	api.PUT("/scores", s.handleSetScore)
	api.DELETE("/scores", s.handleRemoveScore)
	api.PUT("/scores/message", s.handleSetScoreMessage, requireAdmin)
	api.POST("/event/start", s.handleStartEvent, requireAdmin)
}

func (s *Server) handleDisplayScores(c echo.Context) error {
	display, err := s.engine.DisplayScores(c.Request().Context())
	if err != nil {
		return fmt.Errorf("display scores: %w", err)
	}

	return sendJSON(c, http.StatusOK, displayResponse{Display: "**" + unranked.ScoresDisplayTitle + "**\n" + display})
}

func (s *Server) handleSetScore(c echo.Context) error {
	var req scoreRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.Score == nil {
		return apperrors.ValidationError("score is required")
	}
	if *req.Score < math.MinInt8 || *req.Score > math.MaxInt8 {
		return apperrors.ValidationError(fmt.Sprintf("score must be between %d and %d", math.MinInt8, math.MaxInt8))
	}

	if err := s.engine.SetScore(c.Request().Context(), userFrom(c), int8(*req.Score)); err != nil {
		return fmt.Errorf("set score: %w", err)
	}

	return sendJSON(c, http.StatusOK, map[string]int{"score": *req.Score})
}

func (s *Server) handleRemoveScore(c echo.Context) error {
	removed, err := s.engine.RemoveScore(c.Request().Context(), userFrom(c))
	if err != nil {
		return fmt.Errorf("remove score: %w", err)
	}

	return sendJSON(c, http.StatusOK, map[string]bool{"removed": removed})
}

// handleSetScoreMessage stores the leaderboard headline with markdown
// markers and line breaks stripped.
func (s *Server) handleSetScoreMessage(c echo.Context) error {
	var req scoreMessageRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	message := app.SanitizeMarkdown(req.Message)
	if err := s.engine.SetScoreMessage(c.Request().Context(), userFrom(c), message); err != nil {
		return fmt.Errorf("set score message: %w", err)
	}

	return sendJSON(c, http.StatusOK, map[string]string{"message": message})
}

func (s *Server) handleStartEvent(c echo.Context) error {
	announcement, err := s.events.StartEvent(c.Request().Context())
	if err != nil {
		return fmt.Errorf("start event: %w", err)
	}

	return sendJSON(c, http.StatusOK, map[string]string{"announcement": announcement})
}
