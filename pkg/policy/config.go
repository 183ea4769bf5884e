package policy

import "strings"

// Config is the normalized, immutable rule set a request is inspected
// against. Both sets are lowercased at construction so membership tests
// never mix cased and uncased forms. Instances must not be mutated after
// construction; independent requests share the same Config without
// synchronization.
type Config struct {
	suppressed map[string]struct{}
	allowed    map[string]struct{}
}

// New builds a Config from the raw suppression and allow path lists,
// case-folding every entry. Duplicates collapse; order is irrelevant.
func New(suppressionPaths, allowPaths []string) *Config {
	return &Config{
		suppressed: foldSet(suppressionPaths),
		allowed:    foldSet(allowPaths),
	}
}

// Empty returns a Config with no rules. Every check against it allows.
func Empty() *Config {
	return New(nil, nil)
}

// Suppressed reports whether name is in the suppression set. The comparison
// is exact; callers that need case-insensitive matching lower the name first.
func (c *Config) Suppressed(name string) bool {
	_, ok := c.suppressed[name]
	return ok
}

// Allowed reports whether path is in the allow set.
func (c *Config) Allowed(path string) bool {
	_, ok := c.allowed[path]
	return ok
}

// AllowListActive reports whether the allow-list phase is enabled. An empty
// allow set means allow-listing is disabled, not "allow nothing".
func (c *Config) AllowListActive() bool {
	return len(c.allowed) > 0
}

// SuppressedCount returns the size of the suppression set.
func (c *Config) SuppressedCount() int {
	return len(c.suppressed)
}

// AllowedCount returns the size of the allow set.
func (c *Config) AllowedCount() int {
	return len(c.allowed)
}

// HasRules reports whether either rule set is non-empty. When both are empty
// the body phase has nothing to inspect.
func (c *Config) HasRules() bool {
	return len(c.suppressed) > 0 || len(c.allowed) > 0
}

func foldSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = struct{}{}
	}
	return set
}
