package integrity

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/accordlabs/accord/pkg/audit"
	"github.com/accordlabs/accord/pkg/canonicalize"
)

// DirectiveChannel watches a single small text artifact for operator
// directives in the <mac>:<payload> override form. Each appearance is
// consumed at most once: the file is cleared on read whether or not the
// MAC verifies.
type DirectiveChannel struct {
	path      string
	authority *Authority
	log       *audit.Log
}

// NewDirectiveChannel creates a channel over the file at path.
func NewDirectiveChannel(path string, authority *Authority, log *audit.Log) *DirectiveChannel {
	return &DirectiveChannel{path: path, authority: authority, log: log}
}

// Consume reads and clears a pending directive. It returns ok=false when no
// directive is present or the MAC does not verify; a read or remove failure
// is a storage failure and is returned.
func (c *DirectiveChannel) Consume(ctx context.Context) (string, bool, error) {
	raw, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("directive read: %w", err)
	}
	if err := os.Remove(c.path); err != nil {
		return "", false, fmt.Errorf("directive clear: %w", err)
	}

	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", false, nil
	}

	payload, ok := c.authority.Verify(text)
	if !ok {
		if c.log != nil {
			_, _ = c.log.Append(ctx, "directive-channel", "DIRECTIVE_REJECTED", map[string]any{
				"content_hash": canonicalize.HashBytes([]byte(text)),
				"preview":      canonicalize.Preview(text),
			})
		}
		return "", false, nil
	}

	if c.log != nil {
		_, _ = c.log.Append(ctx, "directive-channel", "DIRECTIVE_CONSUMED", map[string]any{
			"payload_hash": canonicalize.HashBytes([]byte(payload)),
		})
	}
	return payload, true, nil
}
