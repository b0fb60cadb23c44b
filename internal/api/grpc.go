package api

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sam-thetutor/wahala/internal/errors"
)

// RoomControlService is the operator facing gRPC service. Requests and responses are plain structs so that
// operators can drive rooms with generic tooling: requests carry roomId and userId, responses mirror the JSON
// bodies of the HTTP API.
const RoomControlService = "wahala.v1.RoomControl"

type RoomControlServer interface {
	StartCountdown(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StartImmediately(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSnapshot(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterRoomControlServer(s grpc.ServiceRegistrar, srv RoomControlServer) {
	s.RegisterService(&roomControlDesc, srv)
}

var roomControlDesc = grpc.ServiceDesc{
	ServiceName: RoomControlService,
	HandlerType: (*RoomControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartCountdown", Handler: unary("StartCountdown", RoomControlServer.StartCountdown)},
		{MethodName: "StartImmediately", Handler: unary("StartImmediately", RoomControlServer.StartImmediately)},
		{MethodName: "GetSnapshot", Handler: unary("GetSnapshot", RoomControlServer.GetSnapshot)},
	},
}

type controlMethod func(RoomControlServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(method string, call controlMethod) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	info := &grpc.UnaryServerInfo{FullMethod: "/" + RoomControlService + "/" + method}

	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}

		if interceptor == nil {
			return call(srv.(RoomControlServer), ctx, in)
		}

		info := *info
		info.Server = srv
		return interceptor(ctx, in, &info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(RoomControlServer), ctx, req.(*structpb.Struct))
		})
	}
}

func (a *API) StartCountdown(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	roomID, userID, err := controlArgs(req)
	if err != nil {
		return nil, err
	}

	rm, err := a.rooms.StartCountdown(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}

	return toStruct(fromRoom(*rm))
}

func (a *API) StartImmediately(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	roomID, userID, err := controlArgs(req)
	if err != nil {
		return nil, err
	}

	rm, err := a.rooms.StartImmediately(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}

	return toStruct(fromRoom(*rm))
}

func (a *API) GetSnapshot(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	roomID := req.GetFields()["roomId"].GetStringValue()
	if roomID == "" {
		return nil, errors.Validation("roomId is required")
	}

	snap, err := a.rooms.Snapshot(ctx, roomID, req.GetFields()["userId"].GetStringValue())
	if err != nil {
		return nil, err
	}

	return toStruct(snap)
}

func controlArgs(req *structpb.Struct) (roomID, userID string, err error) {
	f := req.GetFields()
	roomID, userID = f["roomId"].GetStringValue(), f["userId"].GetStringValue()
	if roomID == "" || userID == "" {
		return "", "", errors.Validation("roomId and userId are required")
	}
	return roomID, userID, nil
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Internal(err)
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.Internal(err)
	}

	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, errors.Internal(err)
	}
	return s, nil
}

// RoomControlClient calls RoomControlService.
type RoomControlClient struct {
	cc grpc.ClientConnInterface
}

func NewRoomControlClient(cc grpc.ClientConnInterface) *RoomControlClient {
	return &RoomControlClient{cc: cc}
}

func (c *RoomControlClient) StartCountdown(ctx context.Context, roomID, userID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "StartCountdown", roomID, userID, opts...)
}

func (c *RoomControlClient) StartImmediately(ctx context.Context, roomID, userID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "StartImmediately", roomID, userID, opts...)
}

func (c *RoomControlClient) GetSnapshot(ctx context.Context, roomID, userID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetSnapshot", roomID, userID, opts...)
}

func (c *RoomControlClient) invoke(ctx context.Context, method, roomID, userID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"roomId": roomID, "userId": userID})
	if err != nil {
		return nil, err
	}

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+RoomControlService+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
