package guildmate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFactsClient(t *testing.T, handler http.HandlerFunc) *FactsClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewFactsClient(
		&FactsConfig{
			FactURL:        srv.URL + "/fact",
			TriviaURL:      srv.URL + "/trivia",
			RequestTimeout: 5 * time.Second,
		},
		srv.Client(),
		nil,
	)
}

func TestFunFact(t *testing.T) {
	t.Parallel()
	client := newTestFactsClient(
		t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(
				[]byte(`{"text": "Honey never spoils &amp; never expires"}`),
			)
		},
	)

	fact := client.FunFact(context.Background())
	assert.Equal(t, "Honey never spoils & never expires", fact)
}

func TestFunFactFallbackOnServerError(t *testing.T) {
	t.Parallel()
	client := newTestFactsClient(
		t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
	)

	assert.Equal(t, FallbackFact, client.FunFact(context.Background()))
}

func TestFunFactFallbackOnBadPayload(t *testing.T) {
	t.Parallel()
	client := newTestFactsClient(
		t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"unexpected": true}`))
		},
	)

	assert.Equal(t, FallbackFact, client.FunFact(context.Background()))
}

func TestTrivia(t *testing.T) {
	t.Parallel()
	client := newTestFactsClient(
		t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(
				[]byte(`{
					"response_code": 0,
					"results": [{
						"category": "Science &amp; Nature",
						"difficulty": "medium",
						"question": "What is H<sub>2</sub>O? &quot;Water&quot; or not?",
						"correct_answer": "Water &amp; ice",
						"incorrect_answers": ["Helium", "Oxygen", "Gold"]
					}]
				}`),
			)
		},
	)

	question, err := client.Trivia(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Science & Nature", question.Category)
	assert.Equal(t, "medium", question.Difficulty)
	assert.Len(t, question.Options, 4)
	assert.Contains(t, question.Options, "Water & ice")
	assert.Contains(t, question.Options, "Helium")

	require.GreaterOrEqual(t, question.CorrectIndex, 0)
	require.Less(t, question.CorrectIndex, len(question.Options))
	assert.Equal(t, "Water & ice", question.Correct())
}

func TestTriviaErrorOnBadResponseCode(t *testing.T) {
	t.Parallel()
	client := newTestFactsClient(
		t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"response_code": 2, "results": []}`))
		},
	)

	_, err := client.Trivia(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExternalService)
}

func TestTriviaErrorOnServerError(t *testing.T) {
	t.Parallel()
	client := newTestFactsClient(
		t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		},
	)

	_, err := client.Trivia(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExternalService)
}
