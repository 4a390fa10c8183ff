package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nandanugg/nxt-bus/module/core/domain"
	"github.com/nandanugg/nxt-bus/module/core/service"
)

type ingestor interface {
	Ingest(ctx context.Context, upd domain.PositionUpdate) (*domain.VehiclePosition, error)
}

type locationService interface {
	GetLatest(ctx context.Context, vehicleID string) (*domain.VehiclePosition, error)
	GetHistory(ctx context.Context, query *domain.HistoryQuery) ([]domain.VehiclePosition, error)
	GetAllVehicles(ctx context.Context) ([]domain.Vehicle, error)
}

type locationRequest struct {
	VehicleID string     `json:"vehicleId" binding:"required,max=64"`
	Lat       *float64   `json:"lat" binding:"required"`
	Lon       *float64   `json:"lon" binding:"required"`
	Heading   *float64   `json:"heading" binding:"omitempty,gte=0,lte=360"`
	Speed     *float64   `json:"speed" binding:"omitempty,gte=0"`
	Accuracy  *float64   `json:"accuracy" binding:"omitempty,gte=0"`
	Altitude  *float64   `json:"altitude"`
	Timestamp *time.Time `json:"timestamp"`
}

type locationResponse struct {
	VehicleID string  `json:"vehicle_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"`
}

type VehicleHandler struct {
	ingestor    ingestor
	locationSvc locationService
	logger      *slog.Logger
}

func NewVehicleHandler(ing ingestor, locationSvc locationService, logger *slog.Logger) *VehicleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &VehicleHandler{ingestor: ing, locationSvc: locationSvc, logger: logger}
}

func (h *VehicleHandler) Register(r gin.IRouter) {
	r.POST("/locations", h.PostLocation)
	r.GET("/vehicles", h.GetAllVehicles)
	r.GET("/vehicles/:vehicle_id/location", h.GetLatestLocation)
	r.GET("/vehicles/:vehicle_id/history", h.GetHistory)
}

// PostLocation is the request/response ingestion path. Accepted fixes go
// through the same fan-out as socket-delivered ones.
func (h *VehicleHandler) PostLocation(c *gin.Context) {
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	pos, err := h.ingestor.Ingest(c.Request.Context(), domain.PositionUpdate{
		VehicleID: req.VehicleID,
		Lat:       *req.Lat,
		Lon:       *req.Lon,
		Heading:   req.Heading,
		Speed:     req.Speed,
		Accuracy:  req.Accuracy,
		Altitude:  req.Altitude,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		code := service.ErrorCode(err)
		if code == "internal_error" {
			h.logger.Error("ingest failed", slog.String("vehicle_id", req.VehicleID), slog.Any("error", err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": code})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"location":  pos,
		"timestamp": pos.Location.Timestamp.UnixMilli(),
	})
}

func (h *VehicleHandler) GetAllVehicles(c *gin.Context) {
	vehicles, err := h.locationSvc.GetAllVehicles(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch vehicles"})
		return
	}

	c.JSON(http.StatusOK, vehicles)
}

func (h *VehicleHandler) GetLatestLocation(c *gin.Context) {
	vehicleID := c.Param("vehicle_id")

	vp, err := h.locationSvc.GetLatest(c.Request.Context(), vehicleID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.Error("latest location", slog.String("vehicle_id", vehicleID), slog.Any("error", err))
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found"})
		return
	}

	c.JSON(http.StatusOK, toLocationResponse(vp))
}

func (h *VehicleHandler) GetHistory(c *gin.Context) {
	vehicleID := c.Param("vehicle_id")

	start, err := strconv.ParseInt(c.Query("start"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start parameter"})
		return
	}

	end, err := strconv.ParseInt(c.Query("end"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end parameter"})
		return
	}

	query := &domain.HistoryQuery{
		VehicleID: vehicleID,
		Start:     time.Unix(start, 0),
		End:       time.Unix(end, 0),
	}

	positions, err := h.locationSvc.GetHistory(c.Request.Context(), query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch history"})
		return
	}

	results := make([]locationResponse, len(positions))
	for i := range positions {
		results[i] = toLocationResponse(&positions[i])
	}
	c.JSON(http.StatusOK, results)
}

func toLocationResponse(vp *domain.VehiclePosition) locationResponse {
	return locationResponse{
		VehicleID: vp.VehicleID,
		Latitude:  vp.Location.Lat,
		Longitude: vp.Location.Lon,
		Timestamp: vp.Location.Timestamp.Unix(),
	}
}
