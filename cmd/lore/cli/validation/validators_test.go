package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionPrefix(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		ok     bool
	}{
		{"full uuid", "a1b2c3d4-e5f6-4a7b-8c9d-0e1f2a3b4c5d", true},
		{"short prefix", "a1b2c3d4", true},
		{"empty", "", false},
		{"path traversal", "../etc/passwd", false},
		{"non-hex", "ghijkl", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SessionPrefix(tt.prefix)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestCommitPrefix(t *testing.T) {
	assert.NoError(t, CommitPrefix("abc1"))
	assert.NoError(t, CommitPrefix(strings.Repeat("a", 40)))
	assert.Error(t, CommitPrefix("ab"))
	assert.Error(t, CommitPrefix(strings.Repeat("a", 41)))
	assert.Error(t, CommitPrefix("zzzz"))
}

func TestTagLabel(t *testing.T) {
	assert.NoError(t, TagLabel("bugfix"))
	assert.NoError(t, TagLabel("feature/auth-v2"))
	assert.Error(t, TagLabel(""))
	assert.Error(t, TagLabel("Has Spaces"))
	assert.Error(t, TagLabel("UPPER"))
	assert.Error(t, TagLabel(strings.Repeat("a", 65)))
	assert.Error(t, TagLabel("-leading"))
}
