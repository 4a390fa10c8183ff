package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nandanugg/nxt-bus/module/core/domain"
	"github.com/nandanugg/nxt-bus/module/core/service"
)

type etaPredictor interface {
	PredictForScan(ctx context.Context, q domain.ScanQuery) (*domain.ETAResult, error)
}

type stopProjector interface {
	ProjectStops(ctx context.Context, routeID string, pos domain.VehiclePosition) ([]domain.StopETA, error)
}

type activeVehicleSource interface {
	ActiveVehicles(ctx context.Context, routeID string) ([]domain.ActiveVehicle, error)
}

type latestPositions interface {
	GetLatest(ctx context.Context, vehicleID string) (*domain.VehiclePosition, error)
}

type scanRequest struct {
	RouteID       string   `json:"routeId" binding:"required,max=64"`
	UserLat       *float64 `json:"userLat" binding:"required,gte=-90,lte=90"`
	UserLon       *float64 `json:"userLon" binding:"required,gte=-180,lte=180"`
	ScheduledFrom string   `json:"scheduledFrom"`
	ScheduledTo   string   `json:"scheduledTo"`
	TimeZone      string   `json:"timeZone"`
}

type stopETAsResponse struct {
	RouteID   string           `json:"routeId"`
	VehicleID string           `json:"vehicleId"`
	Stops     []domain.StopETA `json:"stops"`
}

type ETAHandler struct {
	predictor etaPredictor
	projector stopProjector
	vehicles  activeVehicleSource
	positions latestPositions
	logger    *slog.Logger
}

func NewETAHandler(predictor etaPredictor, projector stopProjector, vehicles activeVehicleSource, positions latestPositions, logger *slog.Logger) *ETAHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ETAHandler{
		predictor: predictor,
		projector: projector,
		vehicles:  vehicles,
		positions: positions,
		logger:    logger,
	}
}

// Register mounts the routes. scan carries extra middleware, typically the
// per-client rate limiter.
func (h *ETAHandler) Register(r gin.IRouter, scan ...gin.HandlerFunc) {
	r.POST("/eta/scan", append(scan, h.Scan)...)
	r.GET("/routes/:route_id/stops/etas", h.StopETAs)
}

func (h *ETAHandler) Scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	res, err := h.predictor.PredictForScan(c.Request.Context(), domain.ScanQuery{
		RouteID:       req.RouteID,
		UserLat:       *req.UserLat,
		UserLon:       *req.UserLon,
		ScheduledFrom: req.ScheduledFrom,
		ScheduledTo:   req.ScheduledTo,
		TimeZone:      req.TimeZone,
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, res)
	case errors.Is(err, domain.ErrNoActiveVehicles), errors.Is(err, domain.ErrNoValidVehicle):
		c.JSON(http.StatusNotFound, gin.H{"error": service.ErrorCode(err)})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.Status(499)
	default:
		h.logger.Error("scan failed", slog.String("route_id", req.RouteID), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

// StopETAs projects arrival times at every remaining stop. Without a
// vehicle_id the first active vehicle on the route is used.
func (h *ETAHandler) StopETAs(c *gin.Context) {
	ctx := c.Request.Context()
	routeID := c.Param("route_id")

	pos, err := h.vehiclePosition(ctx, routeID, c.Query("vehicle_id"))
	if err != nil {
		code := service.ErrorCode(err)
		switch code {
		case "not_found", "no_active_buses":
			c.JSON(http.StatusNotFound, gin.H{"error": code})
		default:
			h.logger.Error("stop etas", slog.String("route_id", routeID), slog.Any("error", err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		}
		return
	}

	stops, err := h.projector.ProjectStops(ctx, routeID, *pos)
	if err != nil {
		h.logger.Error("project stops", slog.String("route_id", routeID), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	if stops == nil {
		stops = []domain.StopETA{}
	}

	c.JSON(http.StatusOK, stopETAsResponse{RouteID: routeID, VehicleID: pos.VehicleID, Stops: stops})
}

func (h *ETAHandler) vehiclePosition(ctx context.Context, routeID, vehicleID string) (*domain.VehiclePosition, error) {
	if vehicleID != "" {
		return h.positions.GetLatest(ctx, vehicleID)
	}
	active, err := h.vehicles.ActiveVehicles(ctx, routeID)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, domain.ErrNoActiveVehicles
	}
	return &active[0].Position, nil
}
