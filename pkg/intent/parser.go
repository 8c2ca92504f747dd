// Package intent parses the two grammars agents may embed anywhere in
// generated text into a tagged action, validated before any side effect:
//
//	FUSE [id, id, ...] -> "new text"
//	DELETE [id, id, ...]
//
// Anything else defaults to ADD with the full text as content. The parser is
// deterministic and independent of whatever produced the raw text.
package intent

import (
	"regexp"
	"strings"

	"github.com/accordlabs/accord/pkg/contracts"
)

var (
	fuseRe   = regexp.MustCompile(`FUSE\s*\[([^\]]*)\]\s*->\s*"([^"]*)"`)
	deleteRe = regexp.MustCompile(`DELETE\s*\[([^\]]*)\]`)
)

// Intent is the parsed action variant.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Intent struct {
	Action    contracts.ProposalAction
	Text      string
	TargetIDs []string
}

// Parse extracts the embedded action from text. A FUSE match wins over a
// DELETE match; a match with no valid target IDs falls back to ADD so a
// malformed marker can never delete anything.
func Parse(text string) Intent {
	if m := fuseRe.FindStringSubmatch(text); m != nil {
		ids := splitIDs(m[1])
		if len(ids) > 0 && strings.TrimSpace(m[2]) != "" {
			return Intent{
				Action:    contracts.ActionFuse,
				Text:      strings.TrimSpace(m[2]),
				TargetIDs: ids,
			}
		}
	}
	if m := deleteRe.FindStringSubmatch(text); m != nil {
		ids := splitIDs(m[1])
		if len(ids) > 0 {
			return Intent{
				Action:    contracts.ActionDelete,
				Text:      strings.TrimSpace(text),
				TargetIDs: ids,
			}
		}
	}
	return Intent{Action: contracts.ActionAdd, Text: strings.TrimSpace(text)}
}

func splitIDs(raw string) []string {
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if id := strings.TrimSpace(p); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
