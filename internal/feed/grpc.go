package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/signalsfoundry/vehicle-feed-simulator/internal/logging"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// LocationFeedServiceName is the fully-qualified gRPC service name.
const LocationFeedServiceName = "fleetsim.v1.LocationFeed"

const (
	ListVehiclesFullMethod = "/" + LocationFeedServiceName + "/ListVehicles"
	GetVehicleFullMethod   = "/" + LocationFeedServiceName + "/GetVehicle"
	SubscribeFullMethod    = "/" + LocationFeedServiceName + "/Subscribe"
)

// LocationFeedServer is the server API for the LocationFeed service.
// Payloads travel as google.protobuf.Struct mirroring the JSON feed.
type LocationFeedServer interface {
	ListVehicles(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetVehicle(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Subscribe(*emptypb.Empty, LocationFeedSubscribeServer) error
}

// LocationFeedSubscribeServer is the server side of a Subscribe stream.
type LocationFeedSubscribeServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

// LocationFeedServiceDesc describes the LocationFeed service to grpc.Server.
var LocationFeedServiceDesc = grpc.ServiceDesc{
	ServiceName: LocationFeedServiceName,
	HandlerType: (*LocationFeedServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListVehicles", Handler: listVehiclesHandler},
		{MethodName: "GetVehicle", Handler: getVehicleHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "fleetsim/v1/location_feed.proto",
}

// RegisterLocationFeedServer registers srv on s.
func RegisterLocationFeedServer(s grpc.ServiceRegistrar, srv LocationFeedServer) {
	s.RegisterService(&LocationFeedServiceDesc, srv)
}

func listVehiclesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LocationFeedServer).ListVehicles(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ListVehiclesFullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LocationFeedServer).ListVehicles(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getVehicleHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LocationFeedServer).GetVehicle(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetVehicleFullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LocationFeedServer).GetVehicle(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(LocationFeedServer).Subscribe(in, &subscribeServer{ServerStream: stream})
}

type subscribeServer struct {
	grpc.ServerStream
}

func (x *subscribeServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

// LocationFeedClient calls the LocationFeed service.
type LocationFeedClient struct {
	cc grpc.ClientConnInterface
}

// NewLocationFeedClient wraps cc.
func NewLocationFeedClient(cc grpc.ClientConnInterface) *LocationFeedClient {
	return &LocationFeedClient{cc: cc}
}

// ListVehicles returns {"cars": [...]} with the raw vehicle state.
func (c *LocationFeedClient) ListVehicles(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ListVehiclesFullMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetVehicle returns the raw state of the vehicle with the given ID.
func (c *LocationFeedClient) GetVehicle(ctx context.Context, id string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetVehicleFullMethod, wrapperspb.String(id), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// SubscribeStream yields {"event": name, "data": payload} messages.
type SubscribeStream struct {
	grpc.ClientStream
}

// Recv blocks for the next feed event.
func (x *SubscribeStream) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Subscribe opens the live feed. The first message is always the init frame.
func (c *LocationFeedClient) Subscribe(ctx context.Context, opts ...grpc.CallOption) (*SubscribeStream, error) {
	stream, err := c.cc.NewStream(ctx, &LocationFeedServiceDesc.Streams[0], SubscribeFullMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &SubscribeStream{ClientStream: stream}
	if err := x.ClientStream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// LocationFeedService implements LocationFeedServer over the fleet state.
type LocationFeedService struct {
	state FleetReader
	hub   *Hub
	log   logging.Logger
}

// NewLocationFeedService constructs a LocationFeedService.
func NewLocationFeedService(state FleetReader, hub *Hub, log logging.Logger) *LocationFeedService {
	if log == nil {
		log = logging.Noop()
	}
	return &LocationFeedService{state: state, hub: hub, log: log}
}

// ListVehicles returns the current raw vehicle state.
func (s *LocationFeedService) ListVehicles(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	log := logging.FromContextOr(ctx, s.log)

	vehicles := s.state.Vehicles()
	ctx, span := StartChildSpan(ctx, "feed.ListVehicles.encode", "vehicle", "",
		attribute.Int("vehicle_count", len(vehicles)))
	defer span.End()

	out, err := toStruct(map[string]any{"cars": vehicles})
	if err != nil {
		failSpan(span, err)
		log.Error(ctx, "encoding vehicles failed", logging.Err(err))
		return nil, ToStatusError(err)
	}
	return out, nil
}

// GetVehicle returns the raw state of a single vehicle. Unknown IDs map to
// NotFound and an empty ID to InvalidArgument.
func (s *LocationFeedService) GetVehicle(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	log := logging.FromContextOr(ctx, s.log)

	v, err := s.state.Vehicle(in.GetValue())
	if err != nil {
		log.Debug(ctx, "vehicle lookup failed", logging.String("vehicle_id", in.GetValue()), logging.Err(err))
		return nil, ToStatusError(err)
	}
	out, err := toStruct(v)
	if err != nil {
		log.Error(ctx, "encoding vehicle failed", logging.String("vehicle_id", v.ID), logging.Err(err))
		return nil, ToStatusError(err)
	}
	return out, nil
}

// Subscribe streams the init frame followed by every tick update until the
// client goes away or the hub closes.
func (s *LocationFeedService) Subscribe(_ *emptypb.Empty, stream LocationFeedSubscribeServer) error {
	ctx := stream.Context()
	sub, err := s.hub.Subscribe(ctx, InitEvent(s.state.InitFrame()))
	if err != nil {
		return ToStatusError(err)
	}
	defer sub.Close()

	ctx, log := logging.WithSubscriberLogger(ctx, logging.FromContextOr(ctx, s.log), sub.ID)
	log.Info(ctx, "client connected", logging.String("transport", "grpc"))
	defer log.Info(ctx, "client disconnected", logging.String("transport", "grpc"))

	for {
		select {
		case <-ctx.Done():
			return ToStatusError(ctx.Err())
		case ev, ok := <-sub.C:
			if !ok {
				if err := ctx.Err(); err != nil {
					return ToStatusError(err)
				}
				return ToStatusError(ErrHubClosed)
			}
			msg, err := toStruct(ev)
			if err != nil {
				log.Error(ctx, "encoding feed event failed",
					logging.String("event", ev.Name),
					logging.Err(err),
				)
				return ToStatusError(err)
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

// toStruct converts v through its JSON form so gRPC clients see the same
// field names as WebSocket clients.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding feed payload: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("converting feed payload: %w", err)
	}
	return out, nil
}
