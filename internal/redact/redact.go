// Package redact scrubs secrets from log output. Secrets come from two
// places: well-known credential formats matched by pattern, and literal
// values collected from the configuration at startup.
package redact

import (
	"regexp"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Placeholder replaces every redacted value.
const Placeholder = "***REDACTED***"

// secretKey matches configuration keys whose values are secrets.
var secretKey = regexp.MustCompile(`(?i)(secret|token|password|pass$|api_key|credential)`)

// minLiteral is the shortest configured value treated as a secret.
// Shorter values would blank out ordinary words in log lines.
const minLiteral = 4

// Redactor replaces secrets in strings. It is safe for concurrent use.
type Redactor struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	literals []string
}

// New returns a Redactor preloaded with DefaultPatterns.
func New() *Redactor {
	return &Redactor{patterns: DefaultPatterns()}
}

// AddLiteral registers a value to redact on sight. Values shorter than
// four bytes are ignored.
func (r *Redactor) AddLiteral(secret string) {
	if len(secret) < minLiteral {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.Contains(r.literals, secret) {
		return
	}
	r.literals = append(r.literals, secret)
	// Longest first so a secret containing another is replaced whole.
	slices.SortFunc(r.literals, func(a, b string) int { return len(b) - len(a) })
}

// CollectSecrets walks a configuration tree and registers the scalar value
// of every mapping key that names a secret. It returns the number of values
// added.
func (r *Redactor) CollectSecrets(node *yaml.Node) int {
	if node == nil {
		return 0
	}
	n := 0
	switch node.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, c := range node.Content {
			n += r.CollectSecrets(c)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, val := node.Content[i], node.Content[i+1]
			if val.Kind == yaml.ScalarNode && secretKey.MatchString(key.Value) {
				if len(val.Value) >= minLiteral {
					r.AddLiteral(val.Value)
					n++
				}
				continue
			}
			n += r.CollectSecrets(val)
		}
	}
	return n
}

// Redact returns s with every known secret replaced by Placeholder.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}
	r.mu.RLock()
	patterns, literals := r.patterns, r.literals
	r.mu.RUnlock()

	for _, p := range patterns {
		s = p.ReplaceAllString(s, "${1}"+Placeholder+"${2}")
	}
	for _, lit := range literals {
		s = strings.ReplaceAll(s, lit, Placeholder)
	}
	return s
}

// DefaultPatterns returns patterns for credential formats that show up in
// this service's configuration and errors. The first and second capture
// groups, when present, are kept around the placeholder.
func DefaultPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		// OpenAI-style API keys.
		regexp.MustCompile(`()sk-[A-Za-z0-9_\-]{20,}`),
		// Authorization header values.
		regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/\-]+=*`),
		// Passwords embedded in redis:// and similar URLs.
		regexp.MustCompile(`([a-z][a-z0-9+.\-]*://[^:/@\s]*:)[^@/\s]+(@)`),
	}
}
