package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"
)

var (
	testSecret = []byte("0123456789abcdef0123456789abcdef")
	testNow    = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newTestProvider() *TokenProvider {
	return NewTokenProvider(testSecret, "parley").WithClock(func() time.Time { return testNow })
}

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()
	provider := newTestProvider()

	token, err := provider.GenerateToken("user-1", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	identity, err := provider.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}

	want := &Identity{
		Subject:   "user-1",
		IssuedAt:  testNow,
		ExpiresAt: testNow.Add(time.Hour),
	}
	if diff := cmp.Diff(want, identity); diff != "" {
		t.Errorf("ValidateToken() mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	t.Parallel()
	provider := newTestProvider()

	sign := func(method jwt.SigningMethod, key interface{}, claims jwt.RegisteredClaims) string {
		token, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("failed to sign token: %v", err)
		}
		return token
	}
	valid := jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    "parley",
		ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
	}

	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(testNow.Add(-time.Minute))

	otherIssuer := valid
	otherIssuer.Issuer = "someone-else"

	noSubject := valid
	noSubject.Subject = ""

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", sign(jwt.SigningMethodHS256, []byte("another-secret"), valid)},
		{"unsigned", sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid)},
		{"other algorithm", sign(jwt.SigningMethodHS512, testSecret, valid)},
		{"expired", sign(jwt.SigningMethodHS256, testSecret, expired)},
		{"other issuer", sign(jwt.SigningMethodHS256, testSecret, otherIssuer)},
		{"missing subject", sign(jwt.SigningMethodHS256, testSecret, noSubject)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := provider.ValidateToken(tt.token); err == nil {
				t.Errorf("ValidateToken() expected an error")
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()
	provider := newTestProvider()
	token, err := provider.GenerateToken("user-1", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	handler := Middleware(provider, "/healthz")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := "anonymous"
		if identity := FromContext(r.Context()); identity != nil {
			subject = identity.Subject
		}
		_, _ = w.Write([]byte(subject))
	}))

	tests := []struct {
		name          string
		path          string
		authorization string
		wantStatus    int
		wantBody      string
	}{
		{"public path", "/healthz", "", http.StatusOK, "anonymous"},
		{"valid token", "/chats", "Bearer " + token, http.StatusOK, "user-1"},
		{"missing header", "/chats", "", http.StatusUnauthorized, "{\"error\":\"missing authorization header\"}\n"},
		{"wrong scheme", "/chats", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, "{\"error\":\"invalid authorization format\"}\n"},
		{"invalid token", "/chats", "Bearer nope", http.StatusUnauthorized, "{\"error\":\"invalid or expired token\"}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.authorization != "" {
				req.Header.Set("Authorization", tt.authorization)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}
