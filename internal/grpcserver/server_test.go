package grpcserver

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	pb "github.com/sptensor/tnsample/api/proto/samplerpb"
	"github.com/sptensor/tnsample/internal/config"
	"github.com/sptensor/tnsample/internal/engine"
	"github.com/sptensor/tnsample/internal/grpcclient"
	"github.com/sptensor/tnsample/internal/metrics"
	"github.com/sptensor/tnsample/internal/pkg/errors"
)

const small = `3 4 5 4
1 1 1 1.0
1 2 1 2.0
3 4 5 3.0
2 2 3 -1.5
`

type harness struct {
	root    string
	engine  *engine.Engine
	server  *Server
	metrics *metrics.Metrics
	client  *grpcclient.Client
	conn    *grpc.ClientConn
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "small.tns"), []byte(small), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.tns"), []byte("2 2 2\n1 1 1 abc\n"), 0644))

	cfg.DataRoot = root
	eng := engine.New(engine.DefaultConfig(), nil, nil)
	m := metrics.New()
	srv := New(cfg, eng, m, nil)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	client, err := grpcclient.New(grpcclient.Config{
		ServerAddress: "passthrough:///bufnet",
		Timeout:       10 * time.Second,
		DialOptions:   []grpc.DialOption{dialer},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	conn, err := grpc.NewClient("passthrough:///bufnet", dialer,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &harness{root: root, engine: eng, server: srv, metrics: m, client: client, conn: conn}
}

func TestServer_MatchesLocalEngine(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	local := filepath.Join(h.root, "sub", "small.tns")

	want, err := h.engine.Sample(ctx, local, 4)
	require.NoError(t, err)

	got, err := h.client.Sample(ctx, "sub/small.tns", 4)
	require.NoError(t, err)
	assert.Equal(t, "sub/small.tns", got.Path)
	assert.Equal(t, want.Hash, got.Hash)
	assert.Equal(t, want.Shape, got.Shape)
	assert.Equal(t, want.NNZ, got.NNZ)
	assert.Equal(t, want.Base, got.Base)
	assert.Equal(t, want.CSF, got.CSF)
	assert.Equal(t, want.Flatten, got.Flatten)
	assert.Equal(t, want.Map, got.Map)
	assert.Equal(t, want.Features(), got.Features())

	base, err := h.client.GetBaseFeatures(ctx, "sub/small.tns")
	require.NoError(t, err)
	assert.Equal(t, want.Base, base)

	csf, err := h.client.GetCsfFeatures(ctx, "sub/small.tns")
	require.NoError(t, err)
	assert.Equal(t, want.CSF, csf)

	flat, err := h.client.GetFlattenInput(ctx, "sub/small.tns", 4)
	require.NoError(t, err)
	assert.Equal(t, want.Flatten, flat)

	mp, err := h.client.GetMapInput(ctx, "sub/small.tns", 4)
	require.NoError(t, err)
	assert.Equal(t, want.Map, mp)
}

func TestServer_ErrorCodesSurviveTheWire(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxResolution = 8
	h := newHarness(t, cfg)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
		code string
	}{
		{"traversal", func() error {
			_, err := h.client.GetBaseFeatures(ctx, "../etc/passwd")
			return err
		}, errors.CodeValidation},
		{"absolute path", func() error {
			_, err := h.client.GetCsfFeatures(ctx, "/etc/passwd")
			return err
		}, errors.CodeValidation},
		{"missing file", func() error {
			_, err := h.client.Sample(ctx, "nope.tns", 4)
			return err
		}, errors.CodeIO},
		{"malformed file", func() error {
			_, err := h.client.Sample(ctx, "broken.tns", 4)
			return err
		}, errors.CodeFormat},
		{"resolution over limit", func() error {
			_, err := h.client.GetFlattenInput(ctx, "sub/small.tns", 9)
			return err
		}, errors.CodeValidation},
		{"zero resolution", func() error {
			_, err := h.client.GetMapInput(ctx, "sub/small.tns", 0)
			return err
		}, errors.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.Code(err), "got %v", err)
		})
	}
}

func TestServer_StatusCodes(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	raw := pb.NewSamplerClient(h.conn)

	_, err := raw.Sample(context.Background(), pb.Request{Path: "broken.tns", Resolution: 2}.Struct())
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = raw.Sample(context.Background(), pb.Request{Path: "nope.tns", Resolution: 2}.Struct())
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestServer_Metrics(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	_, err := h.client.Sample(ctx, "sub/small.tns", 2)
	require.NoError(t, err)
	_, err = h.client.Sample(ctx, "broken.tns", 2)
	require.Error(t, err)

	assert.Equal(t, int64(1), h.metrics.GRPCRequests.WithLabels("Sample", codes.OK.String()).Value())
	assert.Equal(t, int64(1), h.metrics.GRPCRequests.WithLabels("Sample", codes.InvalidArgument.String()).Value())
	assert.Equal(t, int64(1), h.metrics.TensorsSampled.Value())
	assert.Equal(t, int64(1), h.metrics.TensorsFailed.WithLabels(errors.CodeFormat).Value())
}

func TestServer_RateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 1 // burst 2
	h := newHarness(t, cfg)
	ctx := context.Background()

	var limited int
	for i := 0; i < 10; i++ {
		if _, err := h.client.GetBaseFeatures(ctx, "sub/small.tns"); errors.IsCode(err, errors.CodeRateLimited) {
			limited++
		}
	}
	assert.Greater(t, limited, 0)
	assert.Positive(t, h.metrics.GRPCRequests.WithLabels("GetBaseFeatures", codes.ResourceExhausted.String()).Value())
}

func TestServer_Ping(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	before := time.Now().Add(-time.Second)
	ts, err := h.client.Ping(context.Background())
	require.NoError(t, err)
	assert.True(t, ts.After(before), "server clock %v before %v", ts, before)
}

func TestServer_StartAndStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	srv := New(cfg, engine.New(engine.DefaultConfig(), nil, nil), nil, nil)
	require.NoError(t, srv.Start())

	require.Eventually(t, func() bool { return srv.Addr() != nil }, 5*time.Second, 10*time.Millisecond)
	srv.Stop()
}

func TestConfigFrom(t *testing.T) {
	c := config.Default().GRPC
	c.MaxRecvMB = 4
	c.RateLimit = 7

	cfg := ConfigFrom(c)
	assert.Equal(t, c.Addr, cfg.Addr)
	assert.Equal(t, c.DataRoot, cfg.DataRoot)
	assert.Equal(t, c.MaxResolution, cfg.MaxResolution)
	assert.Equal(t, 7, cfg.RateLimit)
	assert.Equal(t, 4*1024*1024, cfg.MaxRecvMsgSize)
	assert.Equal(t, DefaultConfig().MaxSendMsgSize, cfg.MaxSendMsgSize)
}
