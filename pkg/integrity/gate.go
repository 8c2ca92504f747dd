// Package integrity implements the content gate every piece of agent-authored
// text must pass before it can influence shared state or another agent, plus
// the authenticated override channel that bypasses it.
package integrity

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/accordlabs/accord/pkg/audit"
	"github.com/accordlabs/accord/pkg/canonicalize"
)

// denyPatterns match command-injection and shell-metacharacter content.
// The list is fixed: it is a tripwire for obviously hostile text, not a
// general sanitizer.
var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rm\s+-rf?\b`),
	regexp.MustCompile("`[^`]*`"),
	regexp.MustCompile(`\$\([^)]*\)`),
	regexp.MustCompile(`(?i);\s*(rm|curl|wget|nc|chmod|chown|mkfs)\b`),
	regexp.MustCompile(`(?i)\|\s*(sh|bash|zsh)\b`),
	regexp.MustCompile(`(?i)\bsudo\s`),
	regexp.MustCompile(`\.\./\.\./`),
	regexp.MustCompile(`(?i)\beval\s*\(`),
	regexp.MustCompile(`(?i)\bexec\s*\(`),
	regexp.MustCompile(`(?i)\bdrop\s+table\b`),
	regexp.MustCompile(`(?i)>\s*/dev/(null|sd[a-z])`),
	regexp.MustCompile(`(?i)/etc/(passwd|shadow)\b`),
}

// defaultDomainKeywords relax the drift threshold for text that is plainly
// about the shared belief domain even when it shares few trigrams with the
// genesis reference.
var defaultDomainKeywords = []string{
	"tenet", "proposal", "vote", "consensus", "agent", "belief", "fuse", "adopt",
}

// maxTokenLen caps the drift exemption for whitespace-free tokens. The
// longest generated identifier is 22 characters ("tenet-" plus 16 hex).
const maxTokenLen = 64

// GateConfig tunes the semantic-drift layer.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type GateConfig struct {
	// GenesisText is the fixed reference text drift is measured against.
	GenesisText string

	// DriftThreshold blocks text whose Jaccard trigram distance from the
	// genesis reference exceeds it.
	DriftThreshold float64

	// RelaxedThreshold applies instead when the text contains a domain keyword.
	RelaxedThreshold float64

	// MinDriftLen skips the drift check for shorter strings, which avoids
	// false positives on identifiers.
	MinDriftLen int

	// DomainKeywords overrides the default keyword allow-list when non-empty.
	DomainKeywords []string
}

// DefaultGateConfig returns the stock thresholds.
func DefaultGateConfig(genesis string) GateConfig {
	return GateConfig{
		GenesisText:      genesis,
		DriftThreshold:   0.75,
		RelaxedThreshold: 0.95,
		MinDriftLen:      20,
	}
}

// Gate screens text through a regex denylist and a semantic-drift filter.
// Gates are stateless with respect to tenets and safe to share across agents.
type Gate struct {
	cfg             GateConfig
	genesisTrigrams map[string]struct{}
	keywords        []string
	authority       *Authority
	log             *audit.Log
}

// NewGate builds a gate. authority may be nil, in which case the override
// channel is disabled. log may be nil, in which case blocked attempts are
// not recorded.
func NewGate(cfg GateConfig, authority *Authority, log *audit.Log) *Gate {
	keywords := cfg.DomainKeywords
	if len(keywords) == 0 {
		keywords = defaultDomainKeywords
	}
	return &Gate{
		cfg:             cfg,
		genesisTrigrams: trigrams(norm.NFC.String(cfg.GenesisText)),
		keywords:        keywords,
		authority:       authority,
		log:             log,
	}
}

// Scan reports whether text is admissible. It never records audit entries;
// use Admit on paths that must log blocked attempts.
func (g *Gate) Scan(text string) bool {
	text = norm.NFC.String(text)

	for _, pattern := range denyPatterns {
		if pattern.MatchString(text) {
			return false
		}
	}

	if len(text) < g.cfg.MinDriftLen {
		return true
	}
	// The drift filter targets prose. Short single tokens (identifiers,
	// hashes) share no trigrams with any genesis text and would always read
	// as maximal drift. The length bound keeps long unspaced strings subject
	// to the filter.
	if len(text) <= maxTokenLen && !strings.ContainsAny(text, " \t\n") {
		return true
	}

	threshold := g.cfg.DriftThreshold
	lower := strings.ToLower(text)
	for _, kw := range g.keywords {
		if strings.Contains(lower, kw) {
			threshold = g.cfg.RelaxedThreshold
			break
		}
	}

	return jaccardDistance(trigrams(text), g.genesisTrigrams) <= threshold
}

// Admit screens text for storage or broadcast. Text in the authority
// override format is accepted unconditionally with the MAC stripped, and the
// very next audit write is suppressed exactly once. Otherwise the text must
// pass Scan; a failure records a blocked audit entry carrying only a hash
// and short preview of the offending content, never the full text.
func (g *Gate) Admit(ctx context.Context, actorID, text string) (string, bool) {
	if g.authority != nil {
		if payload, ok := g.authority.Verify(text); ok {
			if g.log != nil {
				g.log.SuppressNext()
			}
			return payload, true
		}
	}

	if g.Scan(text) {
		return text, true
	}

	if g.log != nil {
		_, _ = g.log.Append(ctx, actorID, "CONTENT_BLOCKED", map[string]any{
			"content_hash": canonicalize.HashBytes([]byte(text)),
			"preview":      canonicalize.Preview(text),
		})
	}
	return "", false
}

// trigrams returns the set of character 3-grams of s.
func trigrams(s string) map[string]struct{} {
	runes := []rune(strings.ToLower(s))
	set := make(map[string]struct{})
	for i := 0; i+3 <= len(runes); i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}

// jaccardDistance returns 1 - |a∩b| / |a∪b|. Two empty sets are identical.
func jaccardDistance(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for g := range a {
		if _, ok := b[g]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return 1 - float64(intersection)/float64(union)
}
