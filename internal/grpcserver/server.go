// Package grpcserver serves the tensor sampler over gRPC.
package grpcserver

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"path"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	pb "github.com/sptensor/tnsample/api/proto/samplerpb"
	"github.com/sptensor/tnsample/internal/config"
	"github.com/sptensor/tnsample/internal/engine"
	"github.com/sptensor/tnsample/internal/metrics"
	"github.com/sptensor/tnsample/internal/pkg/errors"
	"github.com/sptensor/tnsample/internal/pkg/logger"
	"github.com/sptensor/tnsample/internal/pkg/middleware"
	"github.com/sptensor/tnsample/internal/pkg/security"
)

// Config holds the gRPC server configuration.
type Config struct {
	// Addr is the TCP address to listen on (e.g., ":50061").
	Addr string

	// DataRoot is the directory request paths are resolved under.
	DataRoot string

	// MaxResolution caps requested projections. Zero means no limit.
	MaxResolution int

	// RateLimit is requests per second per peer. Zero disables limiting.
	RateLimit int

	// MaxRecvMsgSize is the maximum message size in bytes (default: 16MB).
	MaxRecvMsgSize int

	// MaxSendMsgSize is the maximum message size in bytes. Projection
	// responses grow with resolution squared, so this defaults higher.
	MaxSendMsgSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           ":50061",
		DataRoot:       "./data/tensors",
		MaxResolution:  1024,
		MaxRecvMsgSize: 16 * 1024 * 1024,  // 16MB
		MaxSendMsgSize: 256 * 1024 * 1024, // 256MB
	}
}

// ConfigFrom builds a server config from the application config.
func ConfigFrom(c config.GRPCConfig) Config {
	cfg := DefaultConfig()
	cfg.Addr = c.Addr
	cfg.DataRoot = c.DataRoot
	cfg.MaxResolution = c.MaxResolution
	cfg.RateLimit = c.RateLimit
	if c.MaxRecvMB > 0 {
		cfg.MaxRecvMsgSize = c.MaxRecvMB * 1024 * 1024
	}
	return cfg
}

// Server serves an engine.Sampler over gRPC. Request paths are resolved
// under DataRoot and never leave it.
type Server struct {
	cfg     Config
	log     *logger.Logger
	sampler engine.Sampler
	metrics *metrics.Metrics
	limiter *middleware.RateLimiter

	mu         sync.Mutex
	grpcServer *grpc.Server
	listener   net.Listener
}

var _ pb.SamplerServer = (*Server)(nil)

// New creates a new gRPC server. A nil metrics collects into a private set.
func New(cfg Config, sampler engine.Sampler, m *metrics.Metrics, log *logger.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultConfig().Addr
	}
	if cfg.MaxRecvMsgSize <= 0 {
		cfg.MaxRecvMsgSize = DefaultConfig().MaxRecvMsgSize
	}
	if cfg.MaxSendMsgSize <= 0 {
		cfg.MaxSendMsgSize = DefaultConfig().MaxSendMsgSize
	}
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = logger.Discard()
	}

	s := &Server{
		cfg:     cfg,
		log:     log,
		sampler: sampler,
		metrics: m,
	}
	if cfg.RateLimit > 0 {
		s.limiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RequestsPerSecond: float64(cfg.RateLimit),
			Burst:             2 * cfg.RateLimit,
			CleanupInterval:   time.Minute,
		})
	}
	return s
}

func (s *Server) build() *grpc.Server {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.grpcServer != nil {
		return s.grpcServer
	}

	// The limiter runs inside observe so rejected calls are still counted.
	interceptors := []grpc.UnaryServerInterceptor{s.observe}
	if s.limiter != nil {
		interceptors = append(interceptors, s.limiter.UnaryServerInterceptor())
	}

	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(s.cfg.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(s.cfg.MaxSendMsgSize),
		grpc.ChainUnaryInterceptor(interceptors...),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     5 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 5 * time.Second,
			Time:                  10 * time.Second,
			Timeout:               3 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	s.grpcServer = grpc.NewServer(opts...)
	pb.RegisterSamplerServer(s.grpcServer, s)
	return s.grpcServer
}

// Start listens on Addr and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on TCP %s: %w", s.cfg.Addr, err)
	}
	s.log.Info("gRPC server listening on TCP", "addr", lis.Addr().String(), "data_root", s.cfg.DataRoot)

	go func() {
		if err := s.Serve(lis); err != nil {
			s.log.Error("TCP server error", "error", err)
		}
	}()
	return nil
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	srv := s.build()
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	if err := srv.Serve(lis); err != nil && !stderrors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the gRPC server.
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.grpcServer
	s.mu.Unlock()

	if srv != nil {
		s.log.Info("Stopping gRPC server...")
		srv.GracefulStop()
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

// observe logs and records every call and turns plain errors into statuses.
func (s *Server) observe(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	err = toStatus(err)

	method := path.Base(info.FullMethod)
	code := status.Code(err)
	d := time.Since(start)
	s.metrics.RecordGRPCRequest(method, code.String(), d)

	if err != nil {
		level := s.log.Debug
		if code == codes.Internal {
			level = s.log.Error
		}
		level("RPC failed", "method", method, "code", code.String(), "error", err, "duration_ms", d.Milliseconds())
	} else {
		s.log.Debug("RPC handled", "method", method, "duration_ms", d.Milliseconds())
	}
	return resp, err
}

func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr.GRPCStatus().Err()
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Internal, err.Error())
}

// =============================================================================
// Sampler Methods
// =============================================================================

// request parses and checks a request. needRes demands a valid resolution.
func (s *Server) request(in *structpb.Struct, needRes bool) (pb.Request, string, error) {
	req, err := pb.ParseRequest(in)
	if err != nil {
		return req, "", err
	}
	full, err := security.ResolvePath(s.cfg.DataRoot, req.Path)
	if err != nil {
		return req, "", err
	}
	if needRes {
		if err := security.ValidateResolution(req.Resolution, s.cfg.MaxResolution); err != nil {
			return req, "", err
		}
	}
	return req, full, nil
}

// GetBaseFeatures returns the base feature vector of a tensor.
func (s *Server) GetBaseFeatures(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	_, full, err := s.request(in, false)
	if err != nil {
		return nil, err
	}
	v, err := s.sampler.GetBaseFeatures(ctx, full)
	if err != nil {
		return nil, err
	}
	return pb.FeaturesStruct(v), nil
}

// GetCsfFeatures returns the CSF feature vector of a tensor.
func (s *Server) GetCsfFeatures(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	_, full, err := s.request(in, false)
	if err != nil {
		return nil, err
	}
	v, err := s.sampler.GetCsfFeatures(ctx, full)
	if err != nil {
		return nil, err
	}
	return pb.FeaturesStruct(v), nil
}

// GetFlattenInput returns the Flatten projections of a tensor.
func (s *Server) GetFlattenInput(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, full, err := s.request(in, true)
	if err != nil {
		return nil, err
	}
	pix, err := s.sampler.GetFlattenInput(ctx, full, req.Resolution)
	if err != nil {
		return nil, err
	}
	return pb.ImagesStruct(req.Resolution, pix), nil
}

// GetMapInput returns the Map projections of a tensor.
func (s *Server) GetMapInput(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, full, err := s.request(in, true)
	if err != nil {
		return nil, err
	}
	pix, err := s.sampler.GetMapInput(ctx, full, req.Resolution)
	if err != nil {
		return nil, err
	}
	return pb.ImagesStruct(req.Resolution, pix), nil
}

// Sample returns all four outputs for a tensor. The result carries the
// path as requested, not as resolved on the server.
func (s *Server) Sample(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, full, err := s.request(in, true)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	r, err := s.sampler.Sample(ctx, full, req.Resolution)
	if err != nil {
		s.metrics.RecordFailure(errors.Code(err))
		return nil, err
	}
	s.metrics.RecordSample(r.NNZ, time.Since(start))

	out := *r
	out.Path = req.Path
	return pb.ResultStruct(&out), nil
}

// Ping returns the server clock.
func (s *Server) Ping(ctx context.Context, _ *emptypb.Empty) (*timestamppb.Timestamp, error) {
	return timestamppb.Now(), nil
}
