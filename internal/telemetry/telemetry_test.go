package telemetry_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/sam-thetutor/wahala/internal/telemetry"
)

type panickingHealth struct {
	healthpb.UnimplementedHealthServer
}

func (panickingHealth) Check(context.Context, *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	panic("boom")
}

func dial(t *testing.T, register func(*grpc.Server)) *grpc.ClientConn {
	t.Helper()

	s := grpc.NewServer(telemetry.GRPCServerInterceptor())
	register(s)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })

	return cc
}

func TestGRPCServerInterceptor(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		register func(*grpc.Server)
		assert   func(t *testing.T, resp *healthpb.HealthCheckResponse, err error)
	}{
		"should pass calls through": {
			register: func(s *grpc.Server) { healthpb.RegisterHealthServer(s, health.NewServer()) },
			assert: func(t *testing.T, resp *healthpb.HealthCheckResponse, err error) {
				require.NoError(t, err)
				assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
			},
		},
		"should turn panics into internal errors": {
			register: func(s *grpc.Server) { healthpb.RegisterHealthServer(s, panickingHealth{}) },
			assert: func(t *testing.T, _ *healthpb.HealthCheckResponse, err error) {
				assert.Equal(t, codes.Internal, status.Code(err))
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cc := dial(t, tt.register)
			resp, err := healthpb.NewHealthClient(cc).Check(context.Background(), &healthpb.HealthCheckRequest{})
			tt.assert(t, resp, err)
		})
	}
}

func TestMonitorRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	r := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = r.Close() })

	require.NoError(t, telemetry.MonitorRedis(r, "test"))

	ctx := context.Background()
	require.NoError(t, r.Set(ctx, "k", "v", 0).Err())
	assert.ErrorIs(t, r.Get(ctx, "missing").Err(), redis.Nil)

	_, err := r.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, "n")
		return nil
	})
	require.NoError(t, err)

	n, err := mr.Get("n")
	require.NoError(t, err)
	assert.Equal(t, "1", n)
}

func TestGinLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)

	e := gin.New()
	e.Use(telemetry.GinLogger())
	e.GET("/ok", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
