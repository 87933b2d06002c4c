package handler

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// AuthInterceptor authenticates every unary call from its incoming metadata
// (authorization, or x-user-id / x-user-roles in dev mode) and stores the
// identity in the context.
func AuthInterceptor(a *Authenticator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		id, err := a.Authenticate(
			first(md, "authorization"),
			first(md, "x-user-id"),
			first(md, "x-user-roles"),
		)
		if err != nil {
			return nil, mapErrorToGRPC(err)
		}
		return handler(WithIdentity(ctx, id), req)
	}
}

// LoggingInterceptor logs method, code and latency, and turns panics into
// Internal errors.
func LoggingInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				log.Error().
					Interface("panic", p).
					Bytes("stack", debug.Stack()).
					Str("method", info.FullMethod).
					Msg("gRPC handler panicked")
				err = status.Error(codes.Internal, "internal error")
			}
			log.Info().
				Str("method", info.FullMethod).
				Str("code", status.Code(err).String()).
				Dur("duration", time.Since(start)).
				Msg("gRPC request")
		}()
		return handler(ctx, req)
	}
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}
