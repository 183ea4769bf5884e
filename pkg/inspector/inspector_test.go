package inspector

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symbiontlabs/leukocyte/pkg/policy"
)

func TestInspect_SuppressedHeader(t *testing.T) {
	insp := New(nil, Options{})
	cfg := policy.New([]string{"x-secret"}, nil)

	r := httptest.NewRequest("POST", "/v1/data", strings.NewReader(`{"user": "x"}`))
	r.Header.Set("X-Secret", "1")

	res, err := insp.Inspect(context.Background(), r, cfg)
	require.NoError(t, err)

	assert.Equal(t, policy.ActionDeny, res.Verdict.Action)
	assert.Equal(t, policy.ReasonHeaderSuppressed, res.Verdict.Reason)
	assert.Equal(t, PhaseHeaders, res.Phase)
	assert.Nil(t, res.Body)
}

func TestInspect_HeaderDenyShortCircuitsBodyPhase(t *testing.T) {
	insp := New(nil, Options{})
	cfg := policy.New([]string{"x-secret", "password"}, nil)

	// Body also contains a suppressed path, but the header phase runs first
	// and its verdict must be surfaced.
	r := httptest.NewRequest("POST", "/v1/data", strings.NewReader(`{"password": "y"}`))
	r.Header.Set("x-secret", "1")

	res, err := insp.Inspect(context.Background(), r, cfg)
	require.NoError(t, err)

	assert.Equal(t, policy.ReasonHeaderSuppressed, res.Verdict.Reason)
	assert.Equal(t, policy.DefenseMethylatedHeader, res.Verdict.DefenseType)
}

func TestInspect_SuppressedBodyPath(t *testing.T) {
	insp := New(nil, Options{})
	cfg := policy.New([]string{"password"}, nil)

	r := httptest.NewRequest("POST", "/v1/data", strings.NewReader(`{"user": "x", "password": "y"}`))

	res, err := insp.Inspect(context.Background(), r, cfg)
	require.NoError(t, err)

	assert.Equal(t, policy.ActionDeny, res.Verdict.Action)
	assert.Equal(t, policy.ReasonBodyPathSuppressed, res.Verdict.Reason)
	assert.Equal(t, policy.DefenseMethylated, res.Verdict.DefenseType)
	assert.Equal(t, PhaseBody, res.Phase)
}

func TestInspect_AllowedBodyReplays(t *testing.T) {
	insp := New(nil, Options{})
	cfg := policy.New([]string{"password"}, nil)
	body := `{"user": "x"}`

	r := httptest.NewRequest("POST", "/v1/data", strings.NewReader(body))

	res, err := insp.Inspect(context.Background(), r, cfg)
	require.NoError(t, err)

	assert.True(t, res.Verdict.Allowed())
	require.NotNil(t, res.Body)
	defer res.Body.Close()

	replayed, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(replayed))
	assert.Equal(t, len(body), res.BodyLen)
}

func TestInspect_MalformedBodyFailsOpen(t *testing.T) {
	insp := New(nil, Options{})
	cfg := policy.New([]string{"password"}, []string{"user"})
	body := `this is not json`

	r := httptest.NewRequest("POST", "/v1/data", strings.NewReader(body))

	res, err := insp.Inspect(context.Background(), r, cfg)
	require.NoError(t, err)

	assert.True(t, res.Verdict.Allowed())
	require.NotNil(t, res.Body)
	defer res.Body.Close()

	replayed, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(replayed))
}

func TestInspect_NoRulesSkipsBodyBuffering(t *testing.T) {
	insp := New(nil, Options{})

	r := httptest.NewRequest("POST", "/v1/data", strings.NewReader(`{"anything": 1}`))

	res, err := insp.Inspect(context.Background(), r, policy.Empty())
	require.NoError(t, err)

	assert.True(t, res.Verdict.Allowed())
	// Body untouched: the caller forwards the original stream.
	assert.Nil(t, res.Body)
}

func TestInspect_AllowListRejectsForeignPath(t *testing.T) {
	insp := New(nil, Options{})
	cfg := policy.New(nil, []string{"user"})

	r := httptest.NewRequest("POST", "/v1/data", strings.NewReader(`{"user": "x", "extra": 1}`))

	res, err := insp.Inspect(context.Background(), r, cfg)
	require.NoError(t, err)

	assert.Equal(t, policy.ActionDeny, res.Verdict.Action)
	assert.Equal(t, policy.ReasonBodyPathNotAllowed, res.Verdict.Reason)
	assert.Equal(t, policy.DefenseAntigenRejected, res.Verdict.DefenseType)
	assert.Equal(t, "extra", res.Verdict.Subject)
}

func TestInspect_LargeBodySpillsAndReplays(t *testing.T) {
	insp := New(nil, Options{MemoryThreshold: 64})
	cfg := policy.New([]string{"password"}, nil)

	// Well past the 64 byte threshold so the buffer promotes to a file.
	padding := strings.Repeat("x", 4096)
	body := `{"user": "` + padding + `"}`

	r := httptest.NewRequest("POST", "/v1/data", strings.NewReader(body))

	res, err := insp.Inspect(context.Background(), r, cfg)
	require.NoError(t, err)

	assert.True(t, res.Verdict.Allowed())
	require.NotNil(t, res.Body)
	defer res.Body.Close()

	replayed, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(replayed))
}

func TestInspect_LargeBodySuppression(t *testing.T) {
	insp := New(nil, Options{MemoryThreshold: 64})
	cfg := policy.New([]string{"password"}, nil)

	padding := strings.Repeat("x", 4096)
	body := `{"user": "` + padding + `", "password": "y"}`

	r := httptest.NewRequest("POST", "/v1/data", strings.NewReader(body))

	res, err := insp.Inspect(context.Background(), r, cfg)
	require.NoError(t, err)

	assert.Equal(t, policy.ActionDeny, res.Verdict.Action)
	assert.Equal(t, policy.ReasonBodyPathSuppressed, res.Verdict.Reason)
}

func TestInspect_BodyOverCapStreamsThrough(t *testing.T) {
	insp := New(nil, Options{MaxBodyBytes: 16})
	cfg := policy.New([]string{"password"}, nil)

	padding := strings.Repeat("x", 128)
	body := `{"user": "` + padding + `", "password": "y"}`

	r := httptest.NewRequest("POST", "/v1/data", strings.NewReader(body))

	res, err := insp.Inspect(context.Background(), r, cfg)
	require.NoError(t, err)

	// The cap bounds buffering only: the body phase is skipped and the
	// upstream must still see every byte, suppressed fields included.
	assert.True(t, res.Verdict.Allowed())
	require.NotNil(t, res.Body)
	defer res.Body.Close()

	replayed, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(replayed))
	assert.Equal(t, -1, res.BodyLen)
}

func TestInspect_BodyAtCapStillInspected(t *testing.T) {
	body := `{"user": "x", "password": "y"}`
	insp := New(nil, Options{MaxBodyBytes: int64(len(body))})
	cfg := policy.New([]string{"password"}, nil)

	r := httptest.NewRequest("POST", "/v1/data", strings.NewReader(body))

	res, err := insp.Inspect(context.Background(), r, cfg)
	require.NoError(t, err)

	assert.Equal(t, policy.ActionDeny, res.Verdict.Action)
	assert.Equal(t, policy.ReasonBodyPathSuppressed, res.Verdict.Reason)
}

func TestInspect_EmptyBodyAllows(t *testing.T) {
	insp := New(nil, Options{})
	cfg := policy.New([]string{"password"}, []string{"user"})

	r := httptest.NewRequest("POST", "/v1/data", strings.NewReader(""))

	res, err := insp.Inspect(context.Background(), r, cfg)
	require.NoError(t, err)

	assert.True(t, res.Verdict.Allowed())
}
