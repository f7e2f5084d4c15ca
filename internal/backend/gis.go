package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Arrow-air/svc-telemetry/internal/model"
)

// GISService is the RPC service name the GIS backend serves
const GISService = "grpc.RpcService"

var gisMethods = map[model.Kind]string{
	model.KindIdentity: "/" + GISService + "/UpdateAircraftId",
	model.KindPosition: "/" + GISService + "/UpdateAircraftPosition",
	model.KindVelocity: "/" + GISService + "/UpdateAircraftVelocity",
}

// GISClient notifies the geographic information service of aircraft
// updates. Requests and replies are google.protobuf.Struct messages.
type GISClient struct {
	backend *Cache[*grpc.ClientConn]
}

func NewGISClient(backend *Cache[*grpc.ClientConn]) *GISClient {
	return &GISClient{backend: backend}
}

// Update sends one batch of records of a single kind. Transport failures
// invalidate the channel and report ErrBackendUnavailable.
func (g *GISClient) Update(ctx context.Context, kind model.Kind, records []model.Record) error {
	method, ok := gisMethods[kind]
	if !ok {
		return fmt.Errorf("gis: no method for %s records", kind)
	}
	if len(records) == 0 {
		return nil
	}

	req, err := gisRequest(records)
	if err != nil {
		return fmt.Errorf("gis: building request: %w", err)
	}

	conn, err := g.backend.Get(ctx)
	if err != nil {
		return err
	}

	reply := new(structpb.Struct)
	if err := conn.Invoke(ctx, method, req, reply); err != nil {
		if isTransportError(ctx, err) {
			g.backend.Invalidate(ctx, conn)
			return fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, g.backend.Name(), err)
		}
		return fmt.Errorf("gis: %s: %w", method, err)
	}
	return nil
}

// isTransportError reports whether err says the channel, not the request,
// is broken. Canceled only counts when the caller did not cancel.
func isTransportError(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return true
	case codes.Canceled:
		return ctx.Err() == nil
	}
	return false
}

func gisRequest(records []model.Record) (*structpb.Struct, error) {
	items := make([]any, 0, len(records))
	for _, r := range records {
		item, err := gisItem(r)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return structpb.NewStruct(map[string]any{"aircraft": items})
}

func gisItem(r model.Record) (map[string]any, error) {
	switch rec := r.(type) {
	case *model.Identity:
		return map[string]any{
			"identifier": rec.Identifier,
			"callsign":   rec.Callsign,
			"asset_type": rec.AssetType,
			"source":     string(rec.Source),
			"timestamp":  rec.ReceivedAt.UTC().Format(time.RFC3339Nano),
		}, nil
	case *model.Position:
		return map[string]any{
			"identifier":      rec.Identifier,
			"latitude":        rec.Latitude,
			"longitude":       rec.Longitude,
			"altitude_meters": rec.AltitudeMeters,
			"source":          string(rec.Source),
			"timestamp":       rec.ReceivedAt.UTC().Format(time.RFC3339Nano),
		}, nil
	case *model.Velocity:
		return map[string]any{
			"identifier":         rec.Identifier,
			"ground_speed_mps":   rec.GroundSpeedMPS,
			"track_degrees":      rec.TrackDegrees,
			"vertical_speed_mps": rec.VerticalSpeedMPS,
			"source":             string(rec.Source),
			"timestamp":          rec.ReceivedAt.UTC().Format(time.RFC3339Nano),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported record %T", r)
	}
}
