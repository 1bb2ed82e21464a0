package overedit

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/iius-rcox/ai-assistant-sub001/internal/auth"
)

func TestJWTAuth_GenerateToken(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")
	userID := "test-user-123"
	sessionID := "test-session-456"
	duration := time.Hour

	token, err := jwtAuth.GenerateToken(userID, sessionID, duration)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	if token == "" {
		t.Error("Generated token should not be empty")
	}

	claims, err := jwtAuth.ValidateToken(token)
	if err != nil {
		t.Fatalf("Failed to validate generated token: %v", err)
	}
	if claims.SessionID != sessionID {
		t.Errorf("Expected sid %s, got %s", sessionID, claims.SessionID)
	}
	if claims.Subject != userID {
		t.Errorf("Expected user_id %s, got %s", userID, claims.Subject)
	}
	if claims.Issuer != TokenIssuer {
		t.Errorf("Expected issuer %q, got %s", TokenIssuer, claims.Issuer)
	}

	expectedExpiry := time.Now().Add(duration)
	if diff := claims.ExpiresAt.Time.Sub(expectedExpiry).Abs(); diff > time.Second {
		t.Errorf("Token expiry differs by more than 1 second: expected ~%v, got %v", expectedExpiry, claims.ExpiresAt.Time)
	}
}

func TestJWTAuth_ValidateToken_Failures(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")

	expired, err := jwtAuth.GenerateToken("user", "session", -time.Hour)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	if _, err := jwtAuth.ValidateToken(expired); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("Expected expired token to be rejected with ErrTokenExpired, got %v", err)
	}

	other, err := NewJWTAuth("other-secret").GenerateToken("user", "session", time.Hour)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	if _, err := jwtAuth.ValidateToken(other); err == nil {
		t.Error("Expected token signed with another secret to be rejected")
	}

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, &JWTClaims{
		SessionID: "session",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   "user",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signedForeign, err := foreign.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	if _, err := jwtAuth.ValidateToken(signedForeign); err == nil {
		t.Error("Expected token from another issuer to be rejected")
	}

	noSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, &JWTClaims{
		SessionID: "session",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := noSubject.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	if _, err := jwtAuth.ValidateToken(signed); err == nil {
		t.Error("Expected token without subject to be rejected")
	}

	if _, err := jwtAuth.ValidateToken("not-a-jwt"); err == nil {
		t.Error("Expected malformed token to be rejected")
	}
}

func TestJWTAuth_Middleware(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")
	var gotUser, gotSession string
	handler := jwtAuth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = auth.UserID(r.Context())
		gotSession = auth.SessionID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/records/msg-1", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", rr.Code)
	}

	token, err := jwtAuth.GenerateToken("user-9", "session-9", time.Hour)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/records/msg-1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("Expected 204 with valid token, got %d", rr.Code)
	}
	if gotUser != "user-9" || gotSession != "session-9" {
		t.Errorf("Expected auth context user-9/session-9, got %s/%s", gotUser, gotSession)
	}

	req = httptest.NewRequest(http.MethodGet, "/records/msg-1", nil)
	req.Header.Set("Authorization", token)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without Bearer prefix, got %d", rr.Code)
	}
}
