// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package overedit

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/iius-rcox/ai-assistant-sub001/internal/auth"
)

// TokenIssuer is the iss claim on generated tokens
const TokenIssuer = "overedit"

// tokenLeeway absorbs clock skew between the signer and this server.
const tokenLeeway = 30 * time.Second

// JWTAuth signs and checks the HS256 bearer tokens of editing users.
type JWTAuth struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTAuth creates an authenticator for secret.
func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(TokenIssuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(tokenLeeway),
		),
	}
}

// JWTClaims are the claims of an editing user's token. Subject is the user.
type JWTClaims struct {
	SessionID string `json:"sid"` // login session of the editing surface
	jwt.RegisteredClaims
}

// GenerateToken signs a token for userID bound to a login session.
func (j *JWTAuth) GenerateToken(userID, sessionID string, expiration time.Duration) (string, error) {
	now := time.Now()
	claims := &JWTClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// ValidateToken parses tokenString and returns its claims. An expired token
// yields an error wrapping jwt.ErrTokenExpired.
func (j *JWTAuth) ValidateToken(tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	if _, err := j.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("missing sub (user ID) in token")
	}
	return claims, nil
}

func (j *JWTAuth) claimsFromRequest(r *http.Request) (*JWTClaims, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, fmt.Errorf("authorization header required")
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader {
		return nil, fmt.Errorf("bearer token required")
	}

	claims, err := j.ValidateToken(tokenString)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// GetUserID extracts the user ID from JWT sub claim (implements ClientAuthenticator)
func (j *JWTAuth) GetUserID(r *http.Request) (string, error) {
	if id, ok := auth.FromContext(r.Context()); ok {
		return id.UserID, nil
	}
	claims, err := j.claimsFromRequest(r)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Middleware returns an HTTP middleware for JWT authentication
func (j *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := j.claimsFromRequest(r)
		if err != nil {
			slog.Debug("JWT validation failed", "error", err, "path", r.URL.Path, "expired", errors.Is(err, jwt.ErrTokenExpired))
			writeJSONError(w, http.StatusUnauthorized, ReasonAuthFailed, err.Error())
			return
		}

		ctx := auth.WithIdentity(r.Context(), auth.Identity{UserID: claims.Subject, SessionID: claims.SessionID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
