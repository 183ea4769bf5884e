// Package proxy hosts the inspecting data plane: an HTTP middleware that
// runs the request inspector in front of an upstream reverse proxy, plus the
// admin listener and process lifecycle.
package proxy

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/symbiontlabs/leukocyte/pkg/inspector"
	"github.com/symbiontlabs/leukocyte/pkg/policy"
	"github.com/symbiontlabs/leukocyte/pkg/ruleset"
	"github.com/symbiontlabs/leukocyte/pkg/telemetry"
)

// SnapshotSource supplies the active rule set snapshot. Implemented by
// ruleset.FileProvider.
type SnapshotSource interface {
	Current() ruleset.Snapshot
}

// Middleware inspects every request before handing it to next. Denials are
// terminated here; allowed requests continue with a replayed body.
type Middleware struct {
	source    SnapshotSource
	inspector *inspector.Inspector
	metrics   *Metrics
	logger    *slog.Logger
	next      http.Handler
}

// NewMiddleware wires the inspection middleware in front of next.
func NewMiddleware(source SnapshotSource, insp *inspector.Inspector, metrics *Metrics, logger *slog.Logger, next http.Handler) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{
		source:    source,
		inspector: insp,
		metrics:   metrics,
		logger:    logger,
		next:      next,
	}
}

func (m *Middleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()
	ctx := r.Context()

	snap := m.source.Current()

	result, err := m.inspector.Inspect(ctx, r, snap.Config)
	if err != nil {
		m.logger.ErrorContext(ctx, "request inspection failed",
			"request_id", requestID,
			"error", err,
		)
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	elapsed := time.Since(start)
	m.record(result, snap, elapsed)
	telemetry.RecordDecision(ctx, telemetry.Decision{
		Verdict:    result.Verdict,
		Phase:      string(result.Phase),
		Generation: snap.Generation,
		BodyBytes:  result.BodyLen,
		Duration:   elapsed,
	})

	if !result.Verdict.Allowed() {
		telemetry.RecordDenialEvent(trace.SpanFromContext(ctx), result.Verdict)
		m.logger.WarnContext(ctx, "request denied",
			"request_id", requestID,
			"phase", string(result.Phase),
			"reason", string(result.Verdict.Reason),
			"defense_type", result.Verdict.DefenseType,
			"generation", snap.Generation,
		)
		inspector.WriteDenial(w, r, result.Verdict, requestID)
		return
	}

	if result.Body != nil {
		r.Body = result.Body
		// A negative BodyLen means only a prefix was buffered; the original
		// Content-Length still describes the joined replay.
		if result.BodyLen >= 0 {
			r.ContentLength = int64(result.BodyLen)
		}
	}

	m.next.ServeHTTP(w, r)
}

func (m *Middleware) record(result inspector.Result, snap ruleset.Snapshot, elapsed time.Duration) {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordDecision(string(result.Verdict.Action), string(result.Phase), elapsed.Seconds())
	m.metrics.RecordBodyBytes(result.BodyLen)
	if result.Verdict.Action == policy.ActionDeny {
		m.metrics.RecordDenial(string(result.Verdict.Reason), result.Verdict.DefenseType)
	}
	m.metrics.SetRulesetSize(snap.Config.SuppressedCount(), snap.Config.AllowedCount())
}
