package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/unranked/internal/domain"
	"github.com/pscheid92/unranked/internal/platform/correlation"
	apperrors "github.com/pscheid92/unranked/internal/platform/errors"
	"github.com/pscheid92/unranked/internal/schedule"
	"github.com/pscheid92/unranked/internal/unranked"
)

const (
	headerUserID   = "X-User-ID"
	headerUserName = "X-User-Name"

	ctxKeyUser  = "user"
	ctxKeyAdmin = "admin"
)

func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(correlation.HeaderName)
		if id == "" {
			id = correlation.NewID()
		}
		c.Response().Header().Set(correlation.HeaderName, id)
		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// requireIdentity resolves the caller from the X-User-ID and X-User-Name
// headers. The display name defaults to the numeric ID.
func (s *Server) requireIdentity(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := c.Request().Header.Get(headerUserID)
		if raw == "" {
			return apperrors.UnauthorizedError("missing " + headerUserID + " header")
		}
		id, err := domain.ParseUserID(raw)
		if err != nil {
			return apperrors.UnauthorizedError("invalid " + headerUserID + " header")
		}

		name := c.Request().Header.Get(headerUserName)
		if !utf8.ValidString(name) {
			return apperrors.ValidationError(headerUserName + " header must be valid UTF-8")
		}
		if name == "" {
			name = id.String()
		}

		c.Set(ctxKeyUser, domain.NewUserRef(id, name))
		c.Set(ctxKeyAdmin, s.config.IsOwner(id))
		return next(c)
	}
}

func requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !isAdmin(c) {
			return apperrors.ForbiddenError("admin only")
		}
		return next(c)
	}
}

func userFrom(c echo.Context) domain.UserRef {
	user, _ := c.Get(ctxKeyUser).(domain.UserRef)
	return user
}

func isAdmin(c echo.Context) bool {
	admin, _ := c.Get(ctxKeyAdmin).(bool)
	return admin
}

// handleError is the echo error handler. It renders every failure as a JSON
// ErrorResponse with the status of its category.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	structuredErr := s.classify(err)
	logError(c, structuredErr)
	if s.httpMetrics != nil {
		s.httpMetrics.ErrorsTotal.WithLabelValues(string(structuredErr.Type)).Inc()
	}

	if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
		slog.ErrorContext(c.Request().Context(), "Failed to write error response", "error", err)
	}
}

func (s *Server) classify(err error) *apperrors.Error {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return wrapHTTPError(httpErr)
	}
	if errors.Is(err, unranked.ErrEngineStopped) || errors.Is(err, schedule.ErrSchedulerStopped) {
		return apperrors.UnavailableError("shutting down", err)
	}
	return apperrors.AsStructuredError(err)
}

func logError(c echo.Context, err *apperrors.Error) {
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	if user, ok := c.Get(ctxKeyUser).(domain.UserRef); ok {
		attrs = append(attrs, "user_id", user.ID.String())
	}

	ctx := c.Request().Context()
	switch err.Type {
	case apperrors.TypeValidation, apperrors.TypeNotFound:
		slog.InfoContext(ctx, "Request rejected", attrs...)
	case apperrors.TypeUnauthorized, apperrors.TypeForbidden:
		slog.WarnContext(ctx, "Access denied", attrs...)
	default:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Request failed", attrs...)
	}
}

func wrapHTTPError(httpErr *echo.HTTPError) *apperrors.Error {
	message := http.StatusText(httpErr.Code)
	if httpErr.Message != nil {
		message = fmt.Sprint(httpErr.Message)
	}

	var errType apperrors.ErrorType
	switch {
	case httpErr.Code == http.StatusUnauthorized:
		errType = apperrors.TypeUnauthorized
	case httpErr.Code == http.StatusForbidden:
		errType = apperrors.TypeForbidden
	case httpErr.Code == http.StatusNotFound:
		errType = apperrors.TypeNotFound
	case httpErr.Code == http.StatusServiceUnavailable:
		errType = apperrors.TypeUnavailable
	case httpErr.Code >= 400 && httpErr.Code < 500:
		errType = apperrors.TypeValidation
	default:
		errType = apperrors.TypeInternal
	}

	return &apperrors.Error{Type: errType, Message: message, Cause: httpErr.Internal}
}
