// Package policy implements the request-inspection decision core: JSON path
// flattening, normalized suppression/allow rule sets, and the two-phase
// header/body checks that produce a Verdict.
package policy

// Action defines the outcome of a policy evaluation.
type Action string

const (
	// ActionAllow permits the request to proceed.
	ActionAllow Action = "allow"
	// ActionDeny terminates the request.
	ActionDeny Action = "deny"
)

// ReasonCode identifies which rule class produced a denial.
type ReasonCode string

const (
	// ReasonHeaderSuppressed marks a request header matching the suppression set.
	ReasonHeaderSuppressed ReasonCode = "header_suppressed"
	// ReasonBodyPathSuppressed marks a flattened body path matching the suppression set.
	ReasonBodyPathSuppressed ReasonCode = "body_path_suppressed"
	// ReasonBodyPathNotAllowed marks a flattened body path absent from a non-empty allow set.
	ReasonBodyPathNotAllowed ReasonCode = "body_path_not_allowed"
)

// Defense type tags surfaced to callers on the x-leukocyte-defense marker
// header. Opaque strings as far as the engine is concerned.
const (
	DefenseMethylatedHeader = "methylated-header"
	DefenseMethylated       = "methylated"
	DefenseAntigenRejected  = "antigen-rejected"
)

// Verdict captures the result of an inspection phase.
type Verdict struct {
	Action      Action
	Reason      ReasonCode
	DefenseType string
	// Subject is the header name or flattened path that triggered a denial.
	Subject string
}

// Allowed reports whether the verdict permits the request.
func (v Verdict) Allowed() bool {
	return v.Action != ActionDeny
}

// Message returns the human-readable reason text rendered into denial
// responses.
func (v Verdict) Message() string {
	switch v.Reason {
	case ReasonHeaderSuppressed:
		return "Access Denied: Pathogen Header Suppressed"
	case ReasonBodyPathSuppressed:
		return "Access Denied: Pathogen Suppressed"
	case ReasonBodyPathNotAllowed:
		return "Access Denied: Foreign Antigen"
	default:
		return ""
	}
}

// Allow is the zero-cost allow verdict.
func Allow() Verdict {
	return Verdict{Action: ActionAllow}
}
