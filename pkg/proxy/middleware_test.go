package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symbiontlabs/leukocyte/pkg/inspector"
	"github.com/symbiontlabs/leukocyte/pkg/policy"
	"github.com/symbiontlabs/leukocyte/pkg/ruleset"
)

type staticSource struct {
	snap ruleset.Snapshot
}

func (s staticSource) Current() ruleset.Snapshot {
	return s.snap
}

func newSource(suppression, allow []string) staticSource {
	return staticSource{snap: ruleset.Snapshot{
		Generation: 1,
		ReceivedAt: time.Now(),
		Config:     policy.New(suppression, allow),
	}}
}

func newTestMiddleware(source SnapshotSource, next http.Handler) *Middleware {
	insp := inspector.New(nil, inspector.Options{})
	return NewMiddleware(source, insp, NewMetrics(), nil, next)
}

func TestMiddleware_DeniesSuppressedBodyField(t *testing.T) {
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("next handler must not run on denial")
	})
	mw := newTestMiddleware(newSource([]string{"password"}, nil), next)

	r := httptest.NewRequest("POST", "/login", strings.NewReader(`{"user": "x", "password": "y"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	mw.ServeHTTP(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "methylated", w.Header().Get(inspector.DefenseHeader))
	assert.Equal(t, "Access Denied: Pathogen Suppressed", w.Body.String())
	assert.NotEmpty(t, w.Header().Get(inspector.RequestIDHeader))
}

func TestMiddleware_DeniesSuppressedHeader(t *testing.T) {
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("next handler must not run on denial")
	})
	mw := newTestMiddleware(newSource([]string{"x-secret"}, nil), next)

	r := httptest.NewRequest("GET", "/data", nil)
	r.Header.Set("X-Secret", "1")
	w := httptest.NewRecorder()

	mw.ServeHTTP(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "methylated-header", w.Header().Get(inspector.DefenseHeader))
}

func TestMiddleware_GRPCDenialConvention(t *testing.T) {
	mw := newTestMiddleware(newSource([]string{"x-secret"}, nil), http.NotFoundHandler())

	r := httptest.NewRequest("POST", "/pkg.Service/Method", nil)
	r.Header.Set("Content-Type", "application/grpc")
	r.Header.Set("x-secret", "1")
	w := httptest.NewRecorder()

	mw.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "7", w.Header().Get("grpc-status"))
	assert.Equal(t, "Access Denied: Pathogen Header Suppressed", w.Header().Get("grpc-message"))
}

func TestMiddleware_AllowsAndReplaysBody(t *testing.T) {
	body := `{"user": "x"}`
	var forwarded string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		forwarded = string(data)
		w.WriteHeader(http.StatusNoContent)
	})
	mw := newTestMiddleware(newSource([]string{"password"}, nil), next)

	r := httptest.NewRequest("POST", "/login", strings.NewReader(body))
	w := httptest.NewRecorder()

	mw.ServeHTTP(w, r)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, body, forwarded)
}

func TestMiddleware_OverCapBodyForwardedIntact(t *testing.T) {
	body := `{"user": "` + strings.Repeat("x", 256) + `", "password": "y"}`
	var forwarded string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		forwarded = string(data)
		w.WriteHeader(http.StatusNoContent)
	})
	insp := inspector.New(nil, inspector.Options{MaxBodyBytes: 16})
	mw := NewMiddleware(newSource([]string{"password"}, nil), insp, NewMetrics(), nil, next)

	r := httptest.NewRequest("POST", "/login", strings.NewReader(body))
	w := httptest.NewRecorder()

	mw.ServeHTTP(w, r)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, body, forwarded)
	assert.Equal(t, int64(len(body)), r.ContentLength)
}

func TestMiddleware_EmptyRulesPassesThrough(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	mw := newTestMiddleware(newSource(nil, nil), next)

	r := httptest.NewRequest("POST", "/anything", strings.NewReader(`{"password": "y"}`))
	w := httptest.NewRecorder()

	mw.ServeHTTP(w, r)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_AllowListRejection(t *testing.T) {
	mw := newTestMiddleware(newSource(nil, []string{"user"}), http.NotFoundHandler())

	r := httptest.NewRequest("POST", "/data", strings.NewReader(`{"user": "x", "role": "admin"}`))
	w := httptest.NewRecorder()

	mw.ServeHTTP(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "antigen-rejected", w.Header().Get(inspector.DefenseHeader))
	assert.Equal(t, "Access Denied: Foreign Antigen", w.Body.String())
}
