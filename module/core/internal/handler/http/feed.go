package http

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/gin-gonic/gin"
	"google.golang.org/protobuf/proto"

	"github.com/nandanugg/nxt-bus/module/core/domain"
	"github.com/nandanugg/nxt-bus/module/core/internal/clock"
)

const protobufContentType = "application/x-protobuf"

type currentPositions interface {
	ListCurrent(ctx context.Context) ([]domain.VehiclePosition, error)
}

type assignmentSource interface {
	ActiveAssignment(ctx context.Context, vehicleID string) (*domain.RouteAssignment, error)
}

// FeedHandler serves the latest fix of every vehicle as a GTFS-realtime
// VehiclePositions full dataset.
type FeedHandler struct {
	positions   currentPositions
	assignments assignmentSource
	clock       clock.Clock
	logger      *slog.Logger
}

func NewFeedHandler(positions currentPositions, assignments assignmentSource, clk clock.Clock, logger *slog.Logger) *FeedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedHandler{positions: positions, assignments: assignments, clock: clk, logger: logger}
}

func (h *FeedHandler) Register(r gin.IRouter) {
	r.GET("/feeds/vehicle-positions.pb", h.VehiclePositions)
}

func (h *FeedHandler) VehiclePositions(c *gin.Context) {
	feed, err := h.Build(c.Request.Context())
	if err != nil {
		h.logger.Error("build vehicle feed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	body, err := proto.Marshal(feed)
	if err != nil {
		h.logger.Error("marshal vehicle feed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.Data(http.StatusOK, protobufContentType, body)
}

// Build assembles the feed. Vehicles without an active assignment are
// listed without a trip descriptor.
func (h *FeedHandler) Build(ctx context.Context) (*gtfsrtpb.FeedMessage, error) {
	positions, err := h.positions.ListCurrent(ctx)
	if err != nil {
		return nil, err
	}

	feed := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      gtfsrtpb.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(h.clock.Now().Unix())),
		},
		Entity: make([]*gtfsrtpb.FeedEntity, 0, len(positions)),
	}

	for _, p := range positions {
		vp := &gtfsrtpb.VehiclePosition{
			Vehicle: &gtfsrtpb.VehicleDescriptor{Id: proto.String(p.VehicleID)},
			Position: &gtfsrtpb.Position{
				Latitude:  proto.Float32(float32(p.Location.Lat)),
				Longitude: proto.Float32(float32(p.Location.Lon)),
			},
			Timestamp: proto.Uint64(uint64(p.Location.Timestamp.Unix())),
		}
		if p.Heading != nil {
			vp.Position.Bearing = proto.Float32(float32(*p.Heading))
		}
		if p.Speed != nil {
			// GTFS-realtime speed is meters per second
			vp.Position.Speed = proto.Float32(float32(math.Round(*p.Speed/3.6*100) / 100))
		}

		a, err := h.assignments.ActiveAssignment(ctx, p.VehicleID)
		switch {
		case err == nil:
			vp.Trip = &gtfsrtpb.TripDescriptor{RouteId: proto.String(a.RouteID)}
		case errors.Is(err, domain.ErrNoAssignment), errors.Is(err, domain.ErrNotFound):
		default:
			return nil, err
		}

		feed.Entity = append(feed.Entity, &gtfsrtpb.FeedEntity{
			Id:      proto.String(p.VehicleID),
			Vehicle: vp,
		})
	}
	return feed, nil
}
