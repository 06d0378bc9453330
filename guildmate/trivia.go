package guildmate

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// triviaSession is one in-flight trivia question. Sessions are held
// in memory and referenced by tagged button custom IDs, so a component
// interaction can be resolved against the stored question rather than
// through handler closures.
type triviaSession struct {
	ID        string
	GuildID   string
	ChannelID string
	Question  TriviaQuestion
	ExpiresAt time.Time

	mu       sync.Mutex
	answered map[string]bool
}

// Expired reports whether the session's answer window has closed.
func (s *triviaSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// recordAnswer marks the member as having answered. Returns false if
// the member already answered this session, so each member gets at
// most one attempt (and at most one award) per question.
func (s *triviaSession) recordAnswer(memberID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.answered[memberID] {
		return false
	}
	if s.answered == nil {
		s.answered = map[string]bool{}
	}
	s.answered[memberID] = true
	return true
}

// triviaRegistry tracks in-flight trivia sessions by ID.
type triviaRegistry struct {
	mu       sync.Mutex
	sessions map[string]*triviaSession
}

func newTriviaRegistry() *triviaRegistry {
	return &triviaRegistry{sessions: map[string]*triviaSession{}}
}

func (r *triviaRegistry) add(s *triviaSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

func (r *triviaRegistry) get(id string) *triviaSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

func (r *triviaRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// triviaCustomID builds the component custom ID for one answer button.
func triviaCustomID(sessionID string, optionIndex int) string {
	return fmt.Sprintf(
		"%s:%s:%d", triviaComponentPrefix, sessionID, optionIndex,
	)
}

// parseTriviaCustomID splits a component custom ID into its session ID
// and option index. ok is false for IDs that aren't trivia buttons.
func parseTriviaCustomID(customID string) (
	sessionID string,
	optionIndex int,
	ok bool,
) {
	parts := strings.Split(customID, ":")
	if len(parts) != 3 || parts[0] != triviaComponentPrefix {
		return "", 0, false
	}
	index, err := strconv.Atoi(parts[2])
	if err != nil || index < 0 {
		return "", 0, false
	}
	return parts[1], index, true
}
