package recordid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTemporary_Format(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1_700_000_000_123)
	id := NewTemporary(now)

	assert.True(t, IsTemporary(id))
	assert.False(t, IsCanonical(id))
	assert.Regexp(t, `^local_1700000000123_[0-9a-f]{12}$`, id)
}

func TestNewTemporary_Unique(t *testing.T) {
	t.Parallel()

	now := time.Now()
	seen := make(map[string]bool)

	for range 1000 {
		id := NewTemporary(now)
		require.False(t, seen[id], "duplicate temporary id %s", id)
		seen[id] = true
	}
}

func TestClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		id        string
		temporary bool
		canonical bool
	}{
		{"uuid canonical", "3f2b8c1e-8d4b-4c7a-9e55-2a3b4c5d6e7f", false, true},
		{"temporary", "local_1700000000000_abcdef012345", true, false},
		{"legacy temporary without suffix", "local_1700000000000", true, false},
		{"empty", "", false, false},
		{"prefix inside id", "card_local_1", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.temporary, IsTemporary(tt.id))
			assert.Equal(t, tt.canonical, IsCanonical(tt.id))
		})
	}
}

func TestMintedAt(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1_700_000_000_000)

	got, ok := MintedAt(NewTemporary(now))
	require.True(t, ok)
	assert.True(t, got.Equal(now))

	_, ok = MintedAt("3f2b8c1e-8d4b")
	assert.False(t, ok)

	_, ok = MintedAt("local_notanumber_abc")
	assert.False(t, ok)
}
