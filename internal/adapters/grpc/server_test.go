package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/security"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/application"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
)

func startServer(t *testing.T) (*grpc.ClientConn, *application.Service) {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.Upsert(context.Background(), domain.Tool{Code: "clicker", Name: "Clicker"}))
	svc := application.NewService(application.Dependencies{
		Orders:   store,
		Tools:    store,
		Lockouts: memory.NewLockoutStore(nil),
		TOTP:     security.NewTOTP(1),
		Codes:    security.NewBcryptHasher(4),
		Tokens:   security.NewSessionTokens(0),
	})

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	Register(server, NewLicenseInternalServer(svc))
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, svc
}

func invoke(t *testing.T, conn *grpc.ClientConn, method string, fields map[string]any) (*structpb.Struct, error) {
	t.Helper()
	req, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	resp := &structpb.Struct{}
	err = conn.Invoke(context.Background(), "/"+serviceName+"/"+method, req, resp)
	return resp, err
}

func TestInternalServiceVerifyAndExtend(t *testing.T) {
	conn, svc := startServer(t)
	ctx := context.Background()

	bound, err := svc.Bind(ctx, application.BindRequest{ToolCode: "clicker", DeviceHash: "dev-a"})
	require.NoError(t, err)
	valid, err := svc.IsValid(ctx, application.OrderIDRequest{OrderID: bound.OrderID})
	require.NoError(t, err)

	resp, err := invoke(t, conn, "VerifySessionToken", map[string]any{"order_id": bound.OrderID, "token": valid.Token})
	require.NoError(t, err)
	assert.True(t, resp.GetFields()["valid"].GetBoolValue())
	assert.Equal(t, "dev-a", resp.GetFields()["device_hash"].GetStringValue())

	resp, err = invoke(t, conn, "VerifySessionToken", map[string]any{"order_id": bound.OrderID, "token": "garbage"})
	require.NoError(t, err)
	assert.False(t, resp.GetFields()["valid"].GetBoolValue())

	until := time.Now().UTC().Add(30 * 24 * time.Hour).Truncate(time.Second)
	resp, err = invoke(t, conn, "ExtendSubscription", map[string]any{"order_id": bound.OrderID, "expire_time": until.Format(time.RFC3339)})
	require.NoError(t, err)
	assert.Equal(t, "subscribed", resp.GetFields()["paid_status"].GetStringValue())
	assert.Equal(t, until.Format(time.RFC3339), resp.GetFields()["expire_time"].GetStringValue())

	resp, err = invoke(t, conn, "GetOrderStatus", map[string]any{"order_id": bound.OrderID})
	require.NoError(t, err)
	assert.True(t, resp.GetFields()["active"].GetBoolValue())
}

func TestInternalServiceErrors(t *testing.T) {
	conn, _ := startServer(t)

	_, err := invoke(t, conn, "GetOrderStatus", map[string]any{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = invoke(t, conn, "GetOrderStatus", map[string]any{"order_id": "missing"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = invoke(t, conn, "ExtendSubscription", map[string]any{"order_id": "missing", "expire_time": "tomorrow"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
