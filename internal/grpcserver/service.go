package grpcserver

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName = "vipledger.v1.AccountService"

	methodGetAccountSummary = "GetAccountSummary"
	methodAddPoints         = "AddPoints"
	methodChargePostFee     = "ChargePostFee"
)

// AccountService is the server contract of vipledger.v1.AccountService.
// Messages are protobuf well-known types so no generated code is required.
type AccountService interface {
	GetAccountSummary(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	AddPoints(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ChargePostFee(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var _ AccountService = (*AccountServiceServer)(nil)

var accountServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AccountService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodGetAccountSummary, Handler: getAccountSummaryHandler},
		{MethodName: methodAddPoints, Handler: addPointsHandler},
		{MethodName: methodChargePostFee, Handler: chargePostFeeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vipledger/v1/account.proto",
}

// RegisterAccountServiceServer registers service on registrar.
func RegisterAccountServiceServer(registrar grpc.ServiceRegistrar, service AccountService) {
	registrar.RegisterService(&accountServiceDesc, service)
}

func fullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

func getAccountSummaryHandler(srv any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	request := new(wrapperspb.StringValue)
	if err := decode(request); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AccountService).GetAccountSummary(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(methodGetAccountSummary)}
	return interceptor(ctx, request, info, func(ctx context.Context, request any) (any, error) {
		return srv.(AccountService).GetAccountSummary(ctx, request.(*wrapperspb.StringValue))
	})
}

func addPointsHandler(srv any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	request := new(structpb.Struct)
	if err := decode(request); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AccountService).AddPoints(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(methodAddPoints)}
	return interceptor(ctx, request, info, func(ctx context.Context, request any) (any, error) {
		return srv.(AccountService).AddPoints(ctx, request.(*structpb.Struct))
	})
}

func chargePostFeeHandler(srv any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	request := new(structpb.Struct)
	if err := decode(request); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AccountService).ChargePostFee(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(methodChargePostFee)}
	return interceptor(ctx, request, info, func(ctx context.Context, request any) (any, error) {
		return srv.(AccountService).ChargePostFee(ctx, request.(*structpb.Struct))
	})
}

// AccountClient calls vipledger.v1.AccountService over conn.
type AccountClient struct {
	conn grpc.ClientConnInterface
}

// NewAccountClient wraps an established client connection.
func NewAccountClient(conn grpc.ClientConnInterface) *AccountClient {
	return &AccountClient{conn: conn}
}

func (client *AccountClient) GetAccountSummary(ctx context.Context, userID string, options ...grpc.CallOption) (*structpb.Struct, error) {
	response := new(structpb.Struct)
	if err := client.conn.Invoke(ctx, fullMethod(methodGetAccountSummary), wrapperspb.String(userID), response, options...); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *AccountClient) AddPoints(ctx context.Context, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	response := new(structpb.Struct)
	if err := client.conn.Invoke(ctx, fullMethod(methodAddPoints), request, response, options...); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *AccountClient) ChargePostFee(ctx context.Context, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	response := new(structpb.Struct)
	if err := client.conn.Invoke(ctx, fullMethod(methodChargePostFee), request, response, options...); err != nil {
		return nil, err
	}
	return response, nil
}

// NewServer builds a gRPC server with the account service, the standard
// health service, and per-call logging.
func NewServer(service AccountService, logger *zap.Logger) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = zap.NewNop()
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	RegisterAccountServiceServer(grpcServer, service)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	return grpcServer, healthServer
}

func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, request any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		response, err := handler(ctx, request)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("duration", time.Since(started)),
			zap.String("code", status.Code(err).String()),
		}
		if err != nil {
			logger.Warn("grpc call failed", append(fields, zap.Error(err))...)
			return response, err
		}
		logger.Debug("grpc call", fields...)
		return response, nil
	}
}
