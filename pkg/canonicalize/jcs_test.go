package canonicalize

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCSKeyOrdering(t *testing.T) {
	out, err := JCS(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, string(out))
}

func TestJCSNoHTMLEscaping(t *testing.T) {
	out, err := JCS(map[string]string{"k": "a<b>&c"})
	require.NoError(t, err)
	assert.Equal(t, `{"k":"a<b>&c"}`, string(out))
}

func TestCanonicalHashStable(t *testing.T) {
	type triple struct {
		Text  string `json:"text"`
		Round int    `json:"round"`
	}
	h1, err := CanonicalHash(triple{"same", 3})
	require.NoError(t, err)
	h2, err := CanonicalHash(triple{"same", 3})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3, err := CanonicalHash(triple{"other", 3})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestPreviewTruncates(t *testing.T) {
	short := "tiny"
	assert.Equal(t, short, Preview(short))

	long := ""
	for i := 0; i < 20; i++ {
		long += "abcdefghij"
	}
	got := Preview(long)
	assert.Len(t, got, 53)
	assert.Equal(t, long[:50]+"...", got)
}

func TestPreviewKeepsRunesIntact(t *testing.T) {
	long := strings.Repeat("é", 60)
	got := Preview(long)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("é", 50)+"...", got)
}
