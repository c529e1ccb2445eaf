package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("comments-moderation-test-secret!")

func signed(t *testing.T, method jwt.SigningMethod, key any, subject, role string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role: role,
	})
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestJWTVerifier_Parse(t *testing.T) {
	hour := time.Now().Add(time.Hour)
	valid := signed(t, jwt.SigningMethodHS256, testSecret, "mod-1", RoleModerator, hour)

	cases := []struct {
		name     string
		verifier JWTVerifier
		token    string
		wantErr  bool
	}{
		{"valid", JWTVerifier{Secret: testSecret}, valid, false},
		{"expired", JWTVerifier{Secret: testSecret}, signed(t, jwt.SigningMethodHS256, testSecret, "mod-1", RoleModerator, time.Now().Add(-time.Hour)), true},
		{"wrong secret", JWTVerifier{Secret: []byte("another-secret")}, valid, true},
		{"no secret", JWTVerifier{}, valid, true},
		{"other hmac", JWTVerifier{Secret: testSecret}, signed(t, jwt.SigningMethodHS512, testSecret, "mod-1", RoleModerator, hour), true},
		{"garbage", JWTVerifier{Secret: testSecret}, "not.a.token", true},
		{"tampered", JWTVerifier{Secret: testSecret}, tamper(valid), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			claims, err := tc.verifier.Parse(tc.token)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if claims.Subject != "mod-1" || claims.Role != RoleModerator {
				t.Fatalf("unexpected claims %+v", claims)
			}
		})
	}
}

// tamper flips one character of the payload segment.
func tamper(tok string) string {
	parts := strings.Split(tok, ".")
	b := []byte(parts[1])
	if b[0] == 'A' {
		b[0] = 'B'
	} else {
		b[0] = 'A'
	}
	parts[1] = string(b)
	return strings.Join(parts, ".")
}

func TestRequireUser(t *testing.T) {
	verifier := JWTVerifier{Secret: testSecret}
	cases := []struct {
		name     string
		header   string
		status   int
		code     string
		wantSub  string
		wantRole string
	}{
		{"missing", "", http.StatusUnauthorized, "AUTH_MISSING", "", ""},
		{"basic scheme", "Basic bW9kOnB3", http.StatusUnauthorized, "AUTH_SCHEME", "", ""},
		{"invalid", "Bearer nope", http.StatusUnauthorized, "AUTH_INVALID", "", ""},
		{"no subject", "Bearer " + signed(t, jwt.SigningMethodHS256, testSecret, "", RoleAdmin, time.Now().Add(time.Hour)), http.StatusUnauthorized, "AUTH_INVALID", "", ""},
		{"moderator", "bearer " + signed(t, jwt.SigningMethodHS256, testSecret, "mod-7", RoleModerator, time.Now().Add(time.Hour)), http.StatusOK, "", "mod-7", RoleModerator},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var sub, role string
			h := RequireUser(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				sub, _ = SubjectFromContext(r.Context())
				role, _ = RoleFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/v1/admin/comments/c1", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if tc.code != "" && !strings.Contains(rr.Body.String(), tc.code) {
				t.Fatalf("expected %s envelope, got %s", tc.code, rr.Body.String())
			}
			if sub != tc.wantSub || role != tc.wantRole {
				t.Fatalf("context = (%q, %q), want (%q, %q)", sub, role, tc.wantSub, tc.wantRole)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(RoleAdmin, RoleModerator)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		role   string
		status int
	}{
		{RoleAdmin, http.StatusOK},
		{"Moderator ", http.StatusOK},
		{"ADMIN", http.StatusOK},
		{"user", http.StatusForbidden},
		{"", http.StatusForbidden},
	}
	for _, tc := range cases {
		ctx := context.Background()
		if tc.role != "" {
			ctx = context.WithValue(ctx, ctxKeyRole{}, tc.role)
		}
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/comments/c1", nil).WithContext(ctx)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != tc.status {
			t.Fatalf("role %q: expected %d, got %d", tc.role, tc.status, rr.Code)
		}
		if tc.status == http.StatusForbidden && !strings.Contains(rr.Body.String(), "ROLE_REQUIRED") {
			t.Fatalf("role %q: expected ROLE_REQUIRED, got %s", tc.role, rr.Body.String())
		}
	}
}

func TestWithSubject(t *testing.T) {
	ctx := WithSubject(context.Background(), "mod-3")
	if sub, ok := SubjectFromContext(ctx); !ok || sub != "mod-3" {
		t.Fatalf("SubjectFromContext = %q, %v", sub, ok)
	}
}

func TestJWTVerifier_IssuerAndExpiry(t *testing.T) {
	mint := func(iss string, exp *jwt.NumericDate) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "mod-1", Issuer: iss, ExpiresAt: exp},
			Role:             RoleModerator,
		})
		s, err := tok.SignedString(testSecret)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	v := JWTVerifier{Secret: testSecret, Issuer: "blog-identity", Leeway: 30 * time.Second}

	if _, err := v.Parse(mint("blog-identity", jwt.NewNumericDate(time.Now().Add(time.Minute)))); err != nil {
		t.Fatalf("matching issuer: %v", err)
	}
	if _, err := v.Parse(mint("someone-else", jwt.NewNumericDate(time.Now().Add(time.Minute)))); err == nil {
		t.Fatal("expected issuer mismatch to fail")
	}
	if _, err := v.Parse(mint("blog-identity", nil)); err == nil {
		t.Fatal("expected token without exp to fail")
	}
	if _, err := v.Parse(mint("blog-identity", jwt.NewNumericDate(time.Now().Add(-10*time.Second)))); err != nil {
		t.Fatalf("expiry inside leeway should pass: %v", err)
	}
}
