// Package ruleset loads suppression/allow rule sets from a watched file and
// publishes them to request handlers as immutable snapshots.
package ruleset

import (
	"time"

	"github.com/symbiontlabs/leukocyte/pkg/policy"
)

// Spec is the on-disk rule set document. Both fields default to empty when
// absent; an empty allow_paths list disables allow-listing rather than
// denying everything.
type Spec struct {
	SuppressionPaths []string `json:"suppression_paths" yaml:"suppression_paths"`
	AllowPaths       []string `json:"allow_paths" yaml:"allow_paths"`
}

// Snapshot is the immutable representation of one published rule set
// generation. In-flight requests keep evaluating against the snapshot they
// started with; a reload installs a wholly new Snapshot rather than mutating
// the current one.
type Snapshot struct {
	Generation int64          `json:"generation"`
	ReceivedAt time.Time      `json:"receivedAt"`
	Config     *policy.Config `json:"-"`
}

// Summary is the admin-endpoint view of a snapshot.
type Summary struct {
	Generation      int64     `json:"generation"`
	ReceivedAt      time.Time `json:"receivedAt"`
	SuppressedCount int       `json:"suppressedCount"`
	AllowedCount    int       `json:"allowedCount"`
	AllowListActive bool      `json:"allowListActive"`
}

// Summarize builds the admin view of the snapshot.
func (s Snapshot) Summarize() Summary {
	return Summary{
		Generation:      s.Generation,
		ReceivedAt:      s.ReceivedAt,
		SuppressedCount: s.Config.SuppressedCount(),
		AllowedCount:    s.Config.AllowedCount(),
		AllowListActive: s.Config.AllowListActive(),
	}
}
