package rpc

import (
	"context"
	"net"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/mcules/homeprice/internal/auth"
)

// UnaryLogging logs each call and converts panics into codes.Internal.
func UnaryLogging(log *logrus.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				log.WithField("method", info.FullMethod).Errorf("panic: %v", p)
				err = status.Error(codes.Internal, "internal error")
			}
			entry := log.WithFields(logrus.Fields{
				"method":      info.FullMethod,
				"code":        status.Code(err).String(),
				"duration_ms": time.Since(start).Milliseconds(),
			})
			if err != nil {
				entry.WithError(err).Info("grpc call failed")
				return
			}
			entry.Debug("grpc call")
		}()
		return handler(ctx, req)
	}
}

// UnaryAuth requires "authorization: Bearer <key>" metadata on the listed methods.
// Other methods pass through, matching the open HTTP routes.
func UnaryAuth(a *auth.Authenticator, methods ...string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !slices.Contains(methods, info.FullMethod) {
			return handler(ctx, req)
		}

		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get("authorization"); len(v) > 0 {
				header = v[0]
			}
		}

		_, err := a.Authenticate(ctx, header)
		switch {
		case auth.IsRejected(err):
			a.RecordRejection(info.FullMethod, err)
			return nil, status.Error(codes.Unauthenticated, err.Error())
		case err != nil:
			a.Log.WithError(err).Error("auth: key lookup failed")
			return nil, status.Error(codes.Internal, "internal error")
		}
		return handler(ctx, req)
	}
}

// Limiter is a per-client admission check, keyed by peer host.
type Limiter interface {
	Allow(key string) bool
}

// UnaryRateLimit rejects calls over the limit on the listed methods with ResourceExhausted.
func UnaryRateLimit(l Limiter, methods ...string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if slices.Contains(methods, info.FullMethod) && !l.Allow(peerKey(ctx)) {
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

func peerKey(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
