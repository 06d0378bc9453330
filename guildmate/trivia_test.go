package guildmate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriviaCustomIDRoundTrip(t *testing.T) {
	t.Parallel()

	customID := triviaCustomID("abc123", 2)
	sessionID, index, ok := parseTriviaCustomID(customID)
	require.True(t, ok)
	assert.Equal(t, "abc123", sessionID)
	assert.Equal(t, 2, index)
}

func TestParseTriviaCustomIDRejectsForeignIDs(t *testing.T) {
	t.Parallel()

	for _, customID := range []string{
		"",
		"something-else",
		"other:abc:1",
		"trivia:abc",
		"trivia:abc:notanumber",
		"trivia:abc:-1",
		"trivia:abc:1:extra",
	} {
		_, _, ok := parseTriviaCustomID(customID)
		assert.Falsef(t, ok, "expected %q to be rejected", customID)
	}
}

func TestTriviaSessionRecordAnswer(t *testing.T) {
	t.Parallel()

	session := &triviaSession{ID: "s1", answered: map[string]bool{}}

	assert.True(t, session.recordAnswer("member-1"))
	assert.False(t, session.recordAnswer("member-1"))

	// other members get their own attempt
	assert.True(t, session.recordAnswer("member-2"))
}

func TestTriviaSessionExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	session := &triviaSession{ExpiresAt: now.Add(30 * time.Second)}

	assert.False(t, session.Expired(now))
	assert.False(t, session.Expired(now.Add(30*time.Second)))
	assert.True(t, session.Expired(now.Add(31*time.Second)))
}

func TestTriviaRegistry(t *testing.T) {
	t.Parallel()

	registry := newTriviaRegistry()
	session := &triviaSession{ID: "s1"}

	registry.add(session)
	assert.Same(t, session, registry.get("s1"))
	assert.Nil(t, registry.get("missing"))

	registry.remove("s1")
	assert.Nil(t, registry.get("s1"))

	// removing twice is harmless
	registry.remove("s1")
}
