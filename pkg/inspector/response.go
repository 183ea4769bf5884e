package inspector

import (
	"net/http"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"

	"github.com/symbiontlabs/leukocyte/pkg/policy"
)

// DefenseHeader carries the defense-type tag on every denial response.
const DefenseHeader = "x-leukocyte-defense"

// RequestIDHeader echoes the request id assigned by the data plane.
const RequestIDHeader = "x-leukocyte-request-id"

// WriteDenial renders a denial verdict onto w using the convention the
// request's content type selects: plain HTTP (403, reason text body) or the
// gRPC trailers-only shape (200, grpc-status PermissionDenied with the
// reason as the status message). Both carry the defense marker header.
func WriteDenial(w http.ResponseWriter, r *http.Request, verdict policy.Verdict, requestID string) {
	header := w.Header()
	header.Set(DefenseHeader, verdict.DefenseType)
	if requestID != "" {
		header.Set(RequestIDHeader, requestID)
	}

	if IsGRPC(r.Header.Get("Content-Type")) {
		header.Set("Content-Type", "application/grpc")
		header.Set("grpc-status", strconv.Itoa(int(codes.PermissionDenied)))
		header.Set("grpc-message", verdict.Message())
		w.WriteHeader(http.StatusOK)
		return
	}

	header.Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(verdict.Message()))
}

// IsGRPC reports whether a content type declares a gRPC-style stream.
func IsGRPC(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "application/grpc")
}
