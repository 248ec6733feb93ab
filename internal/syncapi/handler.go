// Package syncapi exposes the reconciliation engine over HTTP: push, pull,
// per-device status, and the administrative audit history.
package syncapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medisync/medisync/internal/engine"
	"github.com/medisync/medisync/internal/platform/auth"
	"github.com/medisync/medisync/pkg/pagination"
)

type Handler struct {
	svc *engine.Service
}

func NewHandler(svc *engine.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	sync := api.Group("/sync")
	sync.POST("/push", h.Push)
	sync.GET("/pull", h.Pull)
	sync.GET("/status", h.Status)

	admin := api.Group("/admin/sync", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/history", h.History)
}

func (h *Handler) Push(c echo.Context) error {
	actor, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}

	var req engine.PushRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	resp, err := h.svc.Push(c.Request().Context(), actor, &req)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidPayload) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "push failed")
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Pull(c echo.Context) error {
	actor, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}

	deviceID := c.QueryParam("device_id")
	var since *time.Time
	if raw := c.QueryParam("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be RFC 3339")
		}
		since = &t
	}

	res, err := h.svc.Pull(c.Request().Context(), actor, deviceID, since)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidPayload) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "pull failed")
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Status(c echo.Context) error {
	actor, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}

	cp, err := h.svc.Status(c.Request().Context(), actor, c.QueryParam("device_id"))
	if err != nil {
		if errors.Is(err, engine.ErrInvalidPayload) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "status lookup failed")
	}
	return c.JSON(http.StatusOK, cp)
}

func (h *Handler) History(c echo.Context) error {
	filter := engine.AuditFilter{
		DeviceID: c.QueryParam("device_id"),
		Action:   c.QueryParam("action"),
	}
	if raw := c.QueryParam("actor_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid actor_id")
		}
		filter.ActorID = &id
	}

	p := pagination.FromContext(c)
	entries, total, err := h.svc.History(c.Request().Context(), filter, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, p.Limit, p.Offset))
}
