package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName содержит полное имя gRPC-сервиса.
const ServiceName = "orderproc.v1.OrderProcessor"

const (
	methodProcessOrder = "/" + ServiceName + "/ProcessOrder"
	methodGetOrder     = "/" + ServiceName + "/GetOrder"
	methodListOrders   = "/" + ServiceName + "/ListOrders"
)

// OrderProcessorServer — серверная сторона orderproc.v1.OrderProcessor.
type OrderProcessorServer interface {
	ProcessOrder(context.Context, *ProcessOrderRequest) (*ProcessOrderResponse, error)
	GetOrder(context.Context, *GetOrderRequest) (*GetOrderResponse, error)
	ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error)
}

// OrderProcessorServiceDesc описывает сервис для grpc.Server.RegisterService.
var OrderProcessorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderProcessorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ProcessOrder", Handler: processOrderHandler},
		{MethodName: "GetOrder", Handler: getOrderHandler},
		{MethodName: "ListOrders", Handler: listOrdersHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: SchemaPath,
}

// RegisterOrderProcessorServer регистрирует реализацию на сервере.
func RegisterOrderProcessorServer(registrar grpc.ServiceRegistrar, srv OrderProcessorServer) {
	registrar.RegisterService(&OrderProcessorServiceDesc, srv)
}

func processOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ProcessOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderProcessorServer).ProcessOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodProcessOrder}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderProcessorServer).ProcessOrder(ctx, req.(*ProcessOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderProcessorServer).GetOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetOrder}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderProcessorServer).GetOrder(ctx, req.(*GetOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listOrdersHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListOrdersRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderProcessorServer).ListOrders(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListOrders}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderProcessorServer).ListOrders(ctx, req.(*ListOrdersRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// OrderProcessorClient — клиент orderproc.v1.OrderProcessor. JSON включается
// опцией grpc.CallContentSubtype(CodecName).
type OrderProcessorClient interface {
	ProcessOrder(ctx context.Context, in *ProcessOrderRequest, opts ...grpc.CallOption) (*ProcessOrderResponse, error)
	GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*GetOrderResponse, error)
	ListOrders(ctx context.Context, in *ListOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error)
}

type orderProcessorClient struct {
	cc grpc.ClientConnInterface
}

// NewOrderProcessorClient создаёт клиент поверх соединения.
func NewOrderProcessorClient(cc grpc.ClientConnInterface) OrderProcessorClient {
	return &orderProcessorClient{cc: cc}
}

func (c *orderProcessorClient) ProcessOrder(ctx context.Context, in *ProcessOrderRequest, opts ...grpc.CallOption) (*ProcessOrderResponse, error) {
	out := new(ProcessOrderResponse)
	if err := c.cc.Invoke(ctx, methodProcessOrder, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *orderProcessorClient) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*GetOrderResponse, error) {
	out := new(GetOrderResponse)
	if err := c.cc.Invoke(ctx, methodGetOrder, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *orderProcessorClient) ListOrders(ctx context.Context, in *ListOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error) {
	out := new(ListOrdersResponse)
	if err := c.cc.Invoke(ctx, methodListOrders, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
