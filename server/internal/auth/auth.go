package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ModeAPIKey enables key checking.
const ModeAPIKey = "apikey"

// Policy decides whether a caller presented the configured key.
type Policy struct {
	Mode   string
	Header string // compared case-insensitively
	Key    string
}

// Enabled reports whether calls are checked at all.
func (p Policy) Enabled() bool {
	return p.Mode == ModeAPIKey && p.Key != ""
}

func (p Policy) match(got string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(p.Key)) == 1
}

// Unary returns a gRPC UnaryServerInterceptor enforcing the policy.
// A missing, empty, or incorrect key returns codes.Unauthenticated.
func (p Policy) Unary() grpc.UnaryServerInterceptor {
	header := strings.ToLower(p.Header)
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !p.Enabled() {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		vals := md.Get(header)
		if len(vals) == 0 || !p.match(vals[0]) {
			return nil, status.Error(codes.Unauthenticated, "invalid api key")
		}
		return handler(ctx, req)
	}
}

// Middleware wraps next so that requests without the key get 401.
func (p Policy) Middleware(next http.Handler) http.Handler {
	if !p.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !p.match(r.Header.Get(p.Header)) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid api key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// APIKeyInterceptor is shorthand for Policy{mode, header, key}.Unary().
func APIKeyInterceptor(mode, header, key string) grpc.UnaryServerInterceptor {
	return Policy{Mode: mode, Header: header, Key: key}.Unary()
}
