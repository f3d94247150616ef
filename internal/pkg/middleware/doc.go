// Package middleware provides gRPC interceptors for the sampler service.
//
// Available interceptors:
//   - RateLimiter: Per-peer rate limiting using a token bucket
//
// Usage:
//
//	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
//	defer rl.Stop()
//	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(rl.UnaryServerInterceptor()))
package middleware
