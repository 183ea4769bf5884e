package policy

import (
	"encoding/json"
	"strings"
)

// Header is a single request header as received from the host transport.
type Header struct {
	Name  string
	Value string
}

// Engine evaluates headers and flattened body paths against a Config. It is
// stateless and reentrant; a single Engine may serve arbitrarily many
// concurrent requests.
type Engine struct{}

// NewEngine constructs an Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// CheckHeaders runs the header phase: the first header whose name, as
// received or lowercased, is in the suppression set denies the request.
// Headers are inspected in the caller's order and the first match wins. The
// allow set is never consulted for headers.
func (e *Engine) CheckHeaders(headers []Header, cfg *Config) Verdict {
	for _, h := range headers {
		if cfg.Suppressed(h.Name) || cfg.Suppressed(strings.ToLower(h.Name)) {
			return Verdict{
				Action:      ActionDeny,
				Reason:      ReasonHeaderSuppressed,
				DefenseType: DefenseMethylatedHeader,
				Subject:     h.Name,
			}
		}
	}
	return Allow()
}

// CheckBodyPaths runs the body phase over flattened paths. Suppression is
// evaluated first and takes priority over allow-listing: a path that is both
// suppressed and absent from the allow set reports ReasonBodyPathSuppressed.
// Suppression matches are exact; the incoming path is not case-folded. The
// allow pass runs only when the allow set is non-empty, and requires every
// path, intermediate object keys included, to appear verbatim in the set.
func (e *Engine) CheckBodyPaths(paths []string, cfg *Config) Verdict {
	for _, path := range paths {
		if cfg.Suppressed(path) {
			return Verdict{
				Action:      ActionDeny,
				Reason:      ReasonBodyPathSuppressed,
				DefenseType: DefenseMethylated,
				Subject:     path,
			}
		}
	}

	if cfg.AllowListActive() {
		for _, path := range paths {
			if !cfg.Allowed(path) {
				return Verdict{
					Action:      ActionDeny,
					Reason:      ReasonBodyPathNotAllowed,
					DefenseType: DefenseAntigenRejected,
					Subject:     path,
				}
			}
		}
	}

	return Allow()
}

// InspectBody parses body as JSON, flattens it, and runs the body phase. A
// body that fails to parse carries no inspectable paths and is allowed; the
// fail-open choice for unparsable bodies is deliberate.
func (e *Engine) InspectBody(body []byte, cfg *Config) Verdict {
	if len(body) == 0 {
		return Allow()
	}

	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return Allow()
	}

	return e.CheckBodyPaths(Flatten(value, ""), cfg)
}
