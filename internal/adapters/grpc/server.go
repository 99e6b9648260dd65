package grpc

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/application"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
)

const serviceName = "viralforge.license.v1.LicenseInternalService"

// LicenseInternalService is served to other mesh services only.
type LicenseInternalService interface {
	VerifySessionToken(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrderStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExtendSubscription(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type LicenseInternalServer struct {
	service *application.Service
}

func NewLicenseInternalServer(service *application.Service) *LicenseInternalServer {
	return &LicenseInternalServer{service: service}
}

func Register(server grpc.ServiceRegistrar, svc LicenseInternalService) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*LicenseInternalService)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "VerifySessionToken", Handler: unaryHandler("VerifySessionToken", svc.VerifySessionToken)},
			{MethodName: "GetOrderStatus", Handler: unaryHandler("GetOrderStatus", svc.GetOrderStatus)},
			{MethodName: "ExtendSubscription", Handler: unaryHandler("ExtendSubscription", svc.ExtendSubscription)},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "mesh/contracts/proto/license/v1/license_internal.proto",
	}, svc)
}

func (s *LicenseInternalServer) VerifySessionToken(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID, err := requiredString(req, "order_id")
	if err != nil {
		return nil, err
	}
	token, err := requiredString(req, "token")
	if err != nil {
		return nil, err
	}

	claims, err := s.service.VerifySessionToken(ctx, orderID, token)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			return newStruct(map[string]any{"valid": false})
		}
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{
		"valid":       true,
		"order_id":    claims.OrderID,
		"tool_code":   claims.ToolCode,
		"device_hash": claims.DeviceHash,
		"email":       claims.Email,
		"expires_at":  claims.ExpiresAt.Unix(),
	})
}

func (s *LicenseInternalServer) GetOrderStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID, err := requiredString(req, "order_id")
	if err != nil {
		return nil, err
	}
	st, err := s.service.GetOrderStatus(ctx, orderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return orderStatusStruct(st)
}

func (s *LicenseInternalServer) ExtendSubscription(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID, err := requiredString(req, "order_id")
	if err != nil {
		return nil, err
	}
	raw, err := requiredString(req, "expire_time")
	if err != nil {
		return nil, err
	}
	expireTime, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "expire_time must be RFC 3339")
	}
	st, err := s.service.ExtendSubscription(ctx, application.ExtendSubscriptionRequest{OrderID: orderID, ExpireTime: expireTime})
	if err != nil {
		return nil, toStatus(err)
	}
	return orderStatusStruct(st)
}

func orderStatusStruct(st application.OrderStatus) (*structpb.Struct, error) {
	fields := map[string]any{
		"order_id":     st.OrderID,
		"tool_code":    st.ToolCode,
		"email":        st.Email,
		"paid_status":  st.PaidStatus,
		"active":       st.Active,
		"totp_enabled": st.TOTPEnabled,
		"expire_time":  nil,
	}
	if st.ExpireTime != nil {
		fields["expire_time"] = st.ExpireTime.UTC().Format(time.RFC3339)
	}
	if st.LastRebindTime != nil {
		fields["last_rebind_time"] = st.LastRebindTime.UTC().Format(time.RFC3339)
	}
	return newStruct(fields)
}

func requiredString(req *structpb.Struct, field string) (string, error) {
	val := req.GetFields()[field]
	if val == nil || val.GetStringValue() == "" {
		return "", status.Errorf(codes.InvalidArgument, "missing %s", field)
	}
	return val.GetStringValue(), nil
}

func newStruct(fields map[string]any) (*structpb.Struct, error) {
	resp, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return status.Error(codes.Aborted, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

type unaryMethod func(context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + serviceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*structpb.Struct)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return call(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}
