// Package node implements the remote tool executor protocol. A node is a
// second salmalm process on another machine that registers with the gateway,
// long-polls for tool tasks, and reports results. Payloads are
// structpb.Struct on both sides, so the wire format needs no generated code.
package node

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName    = "salmalm.node.v1.NodeGateway"
	methodRegister = "/" + serviceName + "/Register"
	methodPoll     = "/" + serviceName + "/Poll"
	methodReport   = "/" + serviceName + "/Report"
)

// gatewayService is the server-side contract behind the ServiceDesc.
type gatewayService interface {
	Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Poll(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Report(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// serviceDesc is written by hand; all three methods are unary Struct→Struct.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*gatewayService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: unaryHandler(gatewayService.Register)},
		{MethodName: "Poll", Handler: unaryHandler(gatewayService.Poll)},
		{MethodName: "Report", Handler: unaryHandler(gatewayService.Report)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "salmalm/node/v1/node.proto",
}

func unaryHandler(method func(gatewayService, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return method(srv.(gatewayService), ctx, in)
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return method(srv.(gatewayService), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/"}, handler)
	}
}

// toStruct wraps a plain map as a wire payload.
func toStruct(m map[string]interface{}) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return s, nil
}

func fieldString(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	if v, ok := s.Fields[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func fieldMap(s *structpb.Struct, key string) map[string]interface{} {
	if s == nil {
		return nil
	}
	if v, ok := s.Fields[key]; ok {
		if sv := v.GetStructValue(); sv != nil {
			return sv.AsMap()
		}
	}
	return nil
}

func fieldStrings(s *structpb.Struct, key string) []string {
	if s == nil {
		return nil
	}
	v, ok := s.Fields[key]
	if !ok {
		return nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil
	}
	out := make([]string, 0, len(list.Values))
	for _, item := range list.Values {
		if str := item.GetStringValue(); str != "" {
			out = append(out, str)
		}
	}
	return out
}
