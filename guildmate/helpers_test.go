package guildmate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPasswordAndVerify(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$"))

	ok, err := verifyPassword(hash, "correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = verifyPassword(hash, "wrong password")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashPasswordUniqueness(t *testing.T) {
	t.Parallel()

	hash1, err := HashPassword("same password")
	require.NoError(t, err)
	hash2, err := HashPassword("same password")
	require.NoError(t, err)

	// salted: identical passwords never hash identically
	assert.NotEqual(t, hash1, hash2)
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	t.Parallel()

	_, err := verifyPassword("not-a-hash", "whatever")
	require.Error(t, err)
}

func TestDerive64ByteKey(t *testing.T) {
	t.Parallel()

	key := derive64ByteKey("some secret")
	assert.Len(t, key, 64)
	assert.Equal(t, key, derive64ByteKey("some secret"))
	assert.NotEqual(t, key, derive64ByteKey("other secret"))
}

func TestGenerateRandomHexString(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 16, 31, 32} {
		s, err := generateRandomHexString(n)
		require.NoError(t, err)
		assert.Len(t, s, n)
	}

	a, err := generateRandomHexString(32)
	require.NoError(t, err)
	b, err := generateRandomHexString(32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exact", truncate("exact", 5))
	assert.Equal(t, "trunc", truncate("truncated", 5))
	// rune-aware, not byte-aware
	assert.Equal(t, "▰▰", truncate("▰▰▱▱", 2))
}

func TestChunkItems(t *testing.T) {
	t.Parallel()

	chunks := chunkItems(2, "a", "b", "c", "d", "e")
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"a", "b"}, chunks[0])
	assert.Equal(t, []string{"c", "d"}, chunks[1])
	assert.Equal(t, []string{"e"}, chunks[2])

	assert.Empty(t, chunkItems[string](5))
}

func TestStringPointerValue(t *testing.T) {
	t.Parallel()

	assert.Empty(t, stringPointerValue(nil))
	s := "value"
	assert.Equal(t, "value", stringPointerValue(&s))
}
