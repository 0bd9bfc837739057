package main

import (
	"errors"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang-jwt/jwt/v5/request"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/api/handlers"
	"github.com/BaSui01/nodeflow/types"
)

// JWTOptions configures JWTAuth.
type JWTOptions struct {
	// Secret is the HS256 key. An empty secret disables authentication.
	Secret string
	// Issuer, when set, must match the iss claim.
	Issuer string
}

// callerClaims accepts the registered claims plus the user_id claim some
// issuers use instead of sub.
type callerClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id,omitempty"`
}

func (c *callerClaims) caller() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.UserID
}

// JWTAuth validates HS256 bearer tokens and stores the caller in the request
// context with types.WithUserID. publicPaths and CORS preflights skip it.
func JWTAuth(opts JWTOptions, publicPaths []string, logger *zap.Logger) Middleware {
	if opts.Secret == "" {
		return passthrough
	}

	public := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = true
	}

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	parser := jwt.NewParser(parserOpts...)
	secret := []byte(opts.Secret)
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			claims := &callerClaims{}
			_, err := request.ParseFromRequest(r, request.AuthorizationHeaderExtractor, keyFunc,
				request.WithClaims(claims), request.WithParser(parser))
			switch {
			case errors.Is(err, request.ErrNoTokenInRequest):
				unauthorized(w, "missing Authorization header")
				return
			case err != nil:
				logger.Debug("JWT validation failed", zap.String("path", r.URL.Path), zap.Error(err))
				unauthorized(w, "invalid or expired token")
				return
			}

			ctx := r.Context()
			if caller := claims.caller(); caller != "" {
				ctx = types.WithUserID(ctx, caller)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	handlers.WriteError(w, types.NewError(types.ErrUnauthorized, message), nil)
}
