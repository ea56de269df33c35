package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/loginlog/internal/cookie"
	"github.com/hitoshi/loginlog/internal/metrics"
	"github.com/hitoshi/loginlog/internal/model"
)

// --- モック定義 ---

type mockAuthenticator struct {
	authenticateFn func(ctx context.Context, token string) (*model.Session, error)
}

func (m *mockAuthenticator) Authenticate(ctx context.Context, token string) (*model.Session, error) {
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, token)
	}
	return nil, nil
}

type recordingCollector struct {
	metrics.NopCollector
	resolves []string
}

func (c *recordingCollector) RecordSessionResolve(result string) {
	c.resolves = append(c.resolves, result)
}

const testCookieSecret = "middleware-test-secret-0123456789"

var testIdentity = model.Identity{
	ID:          "user-123",
	Email:       "ann@example.com",
	DisplayName: "Ann",
	AvatarURL:   "https://example.com/ann.png",
}

// validAuthenticator は"valid-token"のみを有効なセッションとして解決する。
func validAuthenticator() *mockAuthenticator {
	return &mockAuthenticator{
		authenticateFn: func(_ context.Context, token string) (*model.Session, error) {
			if token == "valid-token" {
				return &model.Session{
					ID:        "valid-token",
					Identity:  testIdentity,
					ExpiresAt: time.Now().Add(time.Hour),
				}, nil
			}
			return nil, nil
		},
	}
}

// signedSessionCookie は署名済みのセッションCookieを生成する。
func signedSessionCookie(t *testing.T, codec *cookie.SessionCookie, token string) *http.Cookie {
	t.Helper()
	w := httptest.NewRecorder()
	if err := codec.Write(w, token); err != nil {
		t.Fatalf("failed to write cookie: %v", err)
	}
	return w.Result().Cookies()[0]
}

// --- テスト ---

func TestSessionMiddleware_ValidSession_InjectsIdentity(t *testing.T) {
	codec := cookie.NewSessionCookie(testCookieSecret, cookie.Config{})
	collector := &recordingCollector{}
	mw := NewSessionMiddleware(codec, validAuthenticator(), ResponseHTML, collector)

	var captured model.Identity
	var capturedSessionID string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := IdentityFromContext(r.Context())
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		captured = identity
		capturedSessionID = SessionIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/profile", nil)
	req.AddCookie(signedSessionCookie(t, codec, "valid-token"))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if captured != testIdentity {
		t.Errorf("identity = %+v, want %+v", captured, testIdentity)
	}
	if capturedSessionID != "valid-token" {
		t.Errorf("session id = %q, want valid-token", capturedSessionID)
	}
	if len(collector.resolves) != 1 || collector.resolves[0] != metrics.ResolveOK {
		t.Errorf("resolves = %v, want [ok]", collector.resolves)
	}
}

// 欠落・改ざん・期限切れ・ストアエラーがすべて同一のレスポンスになることを検証
func TestSessionMiddleware_FailuresAreIndistinguishable(t *testing.T) {
	codec := cookie.NewSessionCookie(testCookieSecret, cookie.Config{})
	otherCodec := cookie.NewSessionCookie("another-secret-abcdefghijklmnopqrstu", cookie.Config{})

	failingAuth := &mockAuthenticator{
		authenticateFn: func(_ context.Context, token string) (*model.Session, error) {
			if token == "store-error" {
				return nil, errors.New("connection refused")
			}
			return nil, nil
		},
	}

	cases := []struct {
		name   string
		cookie *http.Cookie
		result string
	}{
		{"no cookie", nil, metrics.ResolveAbsent},
		{"empty cookie", &http.Cookie{Name: cookie.SessionCookieName, Value: ""}, metrics.ResolveAbsent},
		{"unsigned raw token", &http.Cookie{Name: cookie.SessionCookieName, Value: "valid-token"}, metrics.ResolveInvalid},
		{"signed with other secret", signedSessionCookie(t, otherCodec, "valid-token"), metrics.ResolveInvalid},
		{"expired or unknown", signedSessionCookie(t, codec, "expired-token"), metrics.ResolveAbsent},
		{"store error", signedSessionCookie(t, codec, "store-error"), metrics.ResolveError},
	}

	for _, kind := range []ResponseKind{ResponseHTML, ResponseJSON} {
		var reference *httptest.ResponseRecorder

		for _, tc := range cases {
			collector := &recordingCollector{}
			called := false
			handler := NewSessionMiddleware(codec, failingAuth, kind, collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tc.cookie != nil {
				req.AddCookie(tc.cookie)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if called {
				t.Errorf("kind=%d %s: protected handler must not be called", kind, tc.name)
			}
			if len(collector.resolves) != 1 || collector.resolves[0] != tc.result {
				t.Errorf("kind=%d %s: resolves = %v, want [%s]", kind, tc.name, collector.resolves, tc.result)
			}

			if reference == nil {
				reference = w
				continue
			}
			if w.Code != reference.Code {
				t.Errorf("kind=%d %s: status = %d, want %d", kind, tc.name, w.Code, reference.Code)
			}
			if w.Body.String() != reference.Body.String() {
				t.Errorf("kind=%d %s: body differs: %q vs %q", kind, tc.name, w.Body.String(), reference.Body.String())
			}
			if w.Header().Get("Location") != reference.Header().Get("Location") {
				t.Errorf("kind=%d %s: Location differs", kind, tc.name)
			}
		}
	}
}

func TestSessionMiddleware_HTML_RedirectsToLanding(t *testing.T) {
	codec := cookie.NewSessionCookie(testCookieSecret, cookie.Config{})
	handler := NewSessionMiddleware(codec, validAuthenticator(), ResponseHTML, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/profile", nil))

	if w.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if loc := w.Header().Get("Location"); loc != AnonymousEntryPath {
		t.Errorf("Location = %q, want %q", loc, AnonymousEntryPath)
	}
}

func TestSessionMiddleware_JSON_Returns401(t *testing.T) {
	codec := cookie.NewSessionCookie(testCookieSecret, cookie.Config{})
	handler := NewSessionMiddleware(codec, validAuthenticator(), ResponseJSON, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/user-data", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if w.Header().Get("Location") != "" {
		t.Error("JSON endpoint must not redirect")
	}
}

func TestIdentityFromContext_NoValue_ReturnsError(t *testing.T) {
	if _, err := IdentityFromContext(context.Background()); err == nil {
		t.Error("expected error for empty context")
	}
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for empty context")
	}
}

func TestContextWithIdentity_RoundTrip(t *testing.T) {
	ctx := ContextWithIdentity(context.Background(), testIdentity)

	identity, err := IdentityFromContext(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if identity != testIdentity {
		t.Errorf("identity = %+v, want %+v", identity, testIdentity)
	}

	userID, err := UserIDFromContext(ctx)
	if err != nil || userID != "user-123" {
		t.Errorf("UserIDFromContext = %q, %v", userID, err)
	}
}
