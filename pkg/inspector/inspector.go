// Package inspector sequences the two inspection phases over an incoming
// HTTP request and translates verdicts into denial responses. It is thin
// glue over the policy package: the engine decides, the inspector moves
// bytes and writes responses.
package inspector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/symbiontlabs/leukocyte/pkg/policy"
)

// Phase names the inspection stage that produced a verdict.
type Phase string

const (
	// PhaseHeaders is the header suppression phase.
	PhaseHeaders Phase = "headers"
	// PhaseBody is the body suppression/allow-list phase.
	PhaseBody Phase = "body"
)

// Result pairs a verdict with the phase that produced it and the replayable
// request body, when one was buffered.
type Result struct {
	Verdict policy.Verdict
	Phase   Phase
	// Body replays the buffered request body for the upstream. Nil when the
	// body was not inspected; callers then forward the original body.
	Body io.ReadCloser
	// BodyLen is the buffered body size in bytes, valid when Body is non-nil.
	// Negative when the body exceeded the buffering cap: only a prefix was
	// buffered and the total length is unknown.
	BodyLen int
}

// Inspector runs the header and body phases against the active rule set.
// It holds no per-request state and is safe for concurrent use.
type Inspector struct {
	engine       *policy.Engine
	logger       *slog.Logger
	memThreshold int64
	maxBodyBytes int64
}

// Options configure an Inspector.
type Options struct {
	// MemoryThreshold is the body size above which buffering spills to a
	// temp file. Zero selects the 1MB default.
	MemoryThreshold int64
	// MaxBodyBytes caps how much body is buffered for inspection. Zero
	// means unlimited. Bodies over the cap skip the body phase and stream
	// through unmodified.
	MaxBodyBytes int64
}

// New constructs an Inspector.
func New(logger *slog.Logger, opts Options) *Inspector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inspector{
		engine:       policy.NewEngine(),
		logger:       logger,
		memThreshold: opts.MemoryThreshold,
		maxBodyBytes: opts.MaxBodyBytes,
	}
}

// Inspect runs the header phase and, when warranted, buffers the complete
// body and runs the body phase. The body phase requires the whole document:
// Inspect blocks reading r.Body until end-of-stream before flattening.
//
// Body read errors are the only error condition; the decision logic itself
// is total.
func (i *Inspector) Inspect(ctx context.Context, r *http.Request, cfg *policy.Config) (Result, error) {
	verdict := i.engine.CheckHeaders(requestHeaders(r), cfg)
	if !verdict.Allowed() {
		i.logger.WarnContext(ctx, "suppressed pathogen header",
			"header", verdict.Subject,
			"defense_type", verdict.DefenseType,
		)
		return Result{Verdict: verdict, Phase: PhaseHeaders}, nil
	}

	if !cfg.HasRules() || r.Body == nil || r.Body == http.NoBody {
		return Result{Verdict: policy.Allow(), Phase: PhaseHeaders}, nil
	}

	buf := newBodyBuffer(i.memThreshold)

	src := io.Reader(r.Body)
	if i.maxBodyBytes > 0 {
		// One byte past the cap makes an over-cap body detectable without
		// consuming the whole stream.
		src = io.LimitReader(src, i.maxBodyBytes+1)
	}
	n, err := io.Copy(buf, src)
	if err != nil {
		buf.Cleanup()
		return Result{}, fmt.Errorf("inspector: buffer request body: %w", err)
	}

	if i.maxBodyBytes > 0 && n > i.maxBodyBytes {
		// The cap bounds buffering, never what the upstream receives:
		// replay the buffered prefix ahead of the unconsumed remainder and
		// skip the body phase.
		i.logger.WarnContext(ctx, "request body exceeds inspection cap, skipping body phase",
			"cap_bytes", i.maxBodyBytes,
		)
		prefix, err := buf.Reader()
		if err != nil {
			buf.Cleanup()
			return Result{}, err
		}
		return Result{Verdict: policy.Allow(), Phase: PhaseHeaders, Body: joinBodies(prefix, r.Body), BodyLen: -1}, nil
	}

	if err := r.Body.Close(); err != nil {
		i.logger.WarnContext(ctx, "failed to close request body", "error", err)
	}

	verdict = i.inspectBuffered(buf, cfg)
	if !verdict.Allowed() {
		buf.Cleanup()
		i.logger.WarnContext(ctx, "suppressed pathogen body path",
			"path", verdict.Subject,
			"reason", string(verdict.Reason),
			"defense_type", verdict.DefenseType,
		)
		return Result{Verdict: verdict, Phase: PhaseBody}, nil
	}

	size := buf.Len()
	replay, err := buf.Reader()
	if err != nil {
		buf.Cleanup()
		return Result{}, err
	}

	return Result{Verdict: policy.Allow(), Phase: PhaseBody, Body: replay, BodyLen: size}, nil
}

// inspectBuffered decodes the buffered body and runs the body phase. A body
// that does not parse as JSON has no inspectable paths and is allowed.
func (i *Inspector) inspectBuffered(buf *bodyBuffer, cfg *policy.Config) policy.Verdict {
	if buf.Len() == 0 {
		return policy.Allow()
	}

	peek, err := buf.Peek()
	if err != nil {
		return policy.Allow()
	}

	var value any
	if err := json.NewDecoder(peek).Decode(&value); err != nil {
		return policy.Allow()
	}

	return i.engine.CheckBodyPaths(policy.Flatten(value, ""), cfg)
}

func requestHeaders(r *http.Request) []policy.Header {
	headers := make([]policy.Header, 0, len(r.Header))
	for name, values := range r.Header {
		for _, value := range values {
			headers = append(headers, policy.Header{Name: name, Value: value})
		}
	}
	return headers
}
