// Package grpcclient provides a gRPC client for a remote sampler. Client
// implements engine.Sampler, so a batch can run against a server that
// holds the tensor files.
package grpcclient

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	pb "github.com/sptensor/tnsample/api/proto/samplerpb"
	"github.com/sptensor/tnsample/internal/engine"
	"github.com/sptensor/tnsample/internal/pkg/errors"
)

// Config holds the client configuration.
type Config struct {
	// ServerAddress is the server address (e.g., "localhost:50061").
	ServerAddress string

	// Timeout bounds each call that arrives without a deadline.
	Timeout time.Duration

	// MaxRecvMsgSize caps responses. Projections grow with resolution squared.
	MaxRecvMsgSize int

	// DialOptions are appended to the defaults; tests use them to dial
	// in-memory listeners.
	DialOptions []grpc.DialOption
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ServerAddress:  "localhost:50061",
		Timeout:        5 * time.Minute,
		MaxRecvMsgSize: 256 * 1024 * 1024, // 256MB
	}
}

// Client is a gRPC client for the sampler.
type Client struct {
	cfg    Config
	conn   *grpc.ClientConn
	client *pb.SamplerClient
}

var _ engine.Sampler = (*Client)(nil)

// New creates a new gRPC client. The connection is established lazily on
// the first call.
func New(cfg Config) (*Client, error) {
	def := DefaultConfig()
	if cfg.ServerAddress == "" {
		cfg.ServerAddress = def.ServerAddress
	}
	if cfg.MaxRecvMsgSize <= 0 {
		cfg.MaxRecvMsgSize = def.MaxRecvMsgSize
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(cfg.MaxRecvMsgSize)),
	}
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.ServerAddress, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.ServerAddress, err)
	}

	return &Client{
		cfg:    cfg,
		conn:   conn,
		client: pb.NewSamplerClient(conn),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.cfg.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

// Ping returns the server clock.
func (c *Client) Ping(ctx context.Context) (time.Time, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	ts, err := c.client.Ping(ctx)
	if err != nil {
		return time.Time{}, errors.FromGRPC(err)
	}
	return ts.AsTime(), nil
}

// =============================================================================
// Sampler Methods
// =============================================================================

// GetBaseFeatures returns the base feature vector of a server-side tensor.
func (c *Client) GetBaseFeatures(ctx context.Context, path string) ([]float32, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.GetBaseFeatures(ctx, pb.Request{Path: path}.Struct())
	if err != nil {
		return nil, errors.FromGRPC(err)
	}
	return pb.ParseFeatures(resp)
}

// GetCsfFeatures returns the CSF feature vector of a server-side tensor.
func (c *Client) GetCsfFeatures(ctx context.Context, path string) ([]float32, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.GetCsfFeatures(ctx, pb.Request{Path: path}.Struct())
	if err != nil {
		return nil, errors.FromGRPC(err)
	}
	return pb.ParseFeatures(resp)
}

// GetFlattenInput returns the Flatten projections of a server-side tensor.
func (c *Client) GetFlattenInput(ctx context.Context, path string, resolution int) ([]int32, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.GetFlattenInput(ctx, pb.Request{Path: path, Resolution: resolution}.Struct())
	if err != nil {
		return nil, errors.FromGRPC(err)
	}
	return images(resp, resolution)
}

// GetMapInput returns the Map projections of a server-side tensor.
func (c *Client) GetMapInput(ctx context.Context, path string, resolution int) ([]int32, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.GetMapInput(ctx, pb.Request{Path: path, Resolution: resolution}.Struct())
	if err != nil {
		return nil, errors.FromGRPC(err)
	}
	return images(resp, resolution)
}

// Sample returns all four outputs of a server-side tensor.
func (c *Client) Sample(ctx context.Context, path string, resolution int) (*engine.Result, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.Sample(ctx, pb.Request{Path: path, Resolution: resolution}.Struct())
	if err != nil {
		return nil, errors.FromGRPC(err)
	}
	r, err := pb.ParseResult(resp)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "malformed sample response", err)
	}
	if r.Resolution != resolution {
		return nil, errors.InternalError(
			fmt.Sprintf("server sampled at resolution %d, asked for %d", r.Resolution, resolution), nil)
	}
	return r, nil
}

func images(resp *structpb.Struct, resolution int) ([]int32, error) {
	res, pix, err := pb.ParseImages(resp)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "malformed projection response", err)
	}
	if res != resolution {
		return nil, errors.InternalError(
			fmt.Sprintf("server projected at resolution %d, asked for %d", res, resolution), nil)
	}
	return pix, nil
}
