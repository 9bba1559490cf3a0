// Package httpapi exposes the device-to-constellation HTTP surface of
// spec.md §6: POST /api/v1/sync, GET /api/v1/sync/version,
// GET /api/v1/health, GET /api/v1/stats. Grounded on the teacher's echo
// route/handler conventions (routes.go registerAPIEndpoints, handlers.go
// error-JSON responses).
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/exogenesis-omega/constellation/internal/codec"
	"github.com/exogenesis-omega/constellation/internal/errs"
	"github.com/exogenesis-omega/constellation/internal/observability"
	"github.com/exogenesis-omega/constellation/internal/pattern"
)

// ShardManager is the subset of shard.Manager this package depends on, so
// handlers can be tested against a fake.
type ShardManager interface {
	HandleSync(ctx context.Context, deviceID pattern.ID, delta pattern.Delta) (pattern.Globals, error)
	DeviceState(ctx context.Context, id pattern.ID) (pattern.DeviceState, bool)
	Stats(ctx context.Context) map[string]any
}

// Server wires a ShardManager into an echo.Echo instance.
type Server struct {
	manager ShardManager
	log     zerolog.Logger
}

// New builds a Server.
func New(manager ShardManager, log zerolog.Logger) *Server {
	return &Server{manager: manager, log: log.With().Str("component", "httpapi").Logger()}
}

// Register mounts every route of spec.md §6 onto e.
func (s *Server) Register(e *echo.Echo) {
	e.POST("/api/v1/sync", s.handleSync)
	e.GET("/api/v1/sync/version", s.handleSyncVersion)
	e.GET("/api/v1/health", s.handleHealth)
	e.GET("/api/v1/stats", s.handleStats)
}

func errJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

// handleSync implements POST /api/v1/sync: decode the compressed delta,
// hand it to the ShardManager, encode and return the resulting Globals.
func (s *Server) handleSync(c echo.Context) error {
	deviceIDHeader := c.Request().Header.Get("X-Device-ID")
	if deviceIDHeader == "" {
		return errJSON(c, http.StatusBadRequest, "missing X-Device-ID header")
	}
	deviceID, err := pattern.ParseID(deviceIDHeader)
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid X-Device-ID header")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "failed to read request body")
	}
	if len(body) > codec.MaxDeltaCompressed {
		return errJSON(c, http.StatusRequestEntityTooLarge, "delta exceeds size cap")
	}

	delta, err := codec.DecodeDelta(body)
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "malformed delta: "+err.Error())
	}

	globals, err := s.manager.HandleSync(c.Request().Context(), deviceID, delta)
	if err != nil {
		return s.mapSyncError(c, err)
	}

	resp, err := codec.EncodeGlobals(globals)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode globals response")
		return errJSON(c, http.StatusInternalServerError, "failed to encode response")
	}
	if len(resp) > codec.MaxGlobalCompressed {
		s.log.Error().Int("size", len(resp)).Msg("globals response exceeded size cap")
		return errJSON(c, http.StatusInternalServerError, "response exceeds size cap")
	}

	return c.Blob(http.StatusOK, "application/octet-stream", resp)
}

func (s *Server) mapSyncError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, errs.ErrShardOverload):
		return errJSON(c, http.StatusServiceUnavailable, "shard at capacity")
	case errors.Is(err, errs.ErrDimensionMismatch), errors.Is(err, errs.ErrProtocolError):
		return errJSON(c, http.StatusBadRequest, err.Error())
	default:
		observability.LoggerWithTrace(c.Request().Context()).Error().Err(err).Msg("sync handling failed")
		return errJSON(c, http.StatusInternalServerError, "sync failed")
	}
}

// handleSyncVersion implements GET /api/v1/sync/version.
func (s *Server) handleSyncVersion(c echo.Context) error {
	deviceIDHeader := c.Request().Header.Get("X-Device-ID")
	if deviceIDHeader == "" {
		return errJSON(c, http.StatusBadRequest, "missing X-Device-ID header")
	}
	deviceID, err := pattern.ParseID(deviceIDHeader)
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid X-Device-ID header")
	}

	state, ok := s.manager.DeviceState(c.Request().Context(), deviceID)
	if !ok {
		return c.JSON(http.StatusOK, map[string]uint64{"version": 0})
	}
	return c.JSON(http.StatusOK, map[string]uint64{"version": state.LocalVersion})
}

// handleHealth implements GET /api/v1/health.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleStats implements GET /api/v1/stats.
func (s *Server) handleStats(c echo.Context) error {
	stats := s.manager.Stats(c.Request().Context())
	if raw, err := json.Marshal(stats); err == nil {
		observability.LoggerWithTrace(c.Request().Context()).Debug().
			RawJSON("stats", observability.RedactJSON(raw)).Msg("stats requested")
	}
	return c.JSON(http.StatusOK, stats)
}
