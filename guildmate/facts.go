package guildmate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/lmittmann/tint"
)

// ErrExternalService indicates an upstream fact/trivia API request
// failed or returned an unusable payload.
var ErrExternalService = errors.New("external service failure")

// FactsClient fetches random fun facts and trivia questions from
// external HTTP APIs. Each request is bounded by RequestTimeout and
// runs independently of other in-flight operations.
type FactsClient struct {
	httpClient *http.Client
	factURL    string
	triviaURL  string
	timeout    time.Duration
	logger     *slog.Logger
}

func NewFactsClient(
	config *FactsConfig,
	httpClient *http.Client,
	logger *slog.Logger,
) *FactsClient {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	factURL := config.FactURL
	if factURL == "" {
		factURL = DefaultFactURL
	}
	triviaURL := config.TriviaURL
	if triviaURL == "" {
		triviaURL = DefaultTriviaURL
	}
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultFactRequestTimeout
	}
	return &FactsClient{
		httpClient: httpClient,
		factURL:    factURL,
		triviaURL:  triviaURL,
		timeout:    timeout,
		logger:     logger.With(loggerNameKey, "facts"),
	}
}

type factResponse struct {
	Text string `json:"text"`
}

// FunFact returns a random fun fact. On any upstream failure it logs
// the error and returns fallback content, never an error: the fact
// surfaces (daily broadcast, /fact command) should degrade, not break.
func (f *FactsClient) FunFact(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	body, err := f.get(ctx, f.factURL)
	if err != nil {
		f.logger.WarnContext(
			ctx,
			"fact fetch failed, using fallback",
			tint.Err(err),
		)
		return FallbackFact
	}

	var payload factResponse
	if err = json.Unmarshal(body, &payload); err != nil || payload.Text == "" {
		f.logger.WarnContext(
			ctx,
			"unusable fact payload, using fallback",
			tint.Err(err),
		)
		return FallbackFact
	}
	return html.UnescapeString(payload.Text)
}

// TriviaQuestion is a single multiple-choice question with its answer
// options in randomized order.
type TriviaQuestion struct {
	Category   string
	Difficulty string
	Question   string
	// Options holds all answers in shuffled order.
	Options []string
	// CorrectIndex is the index of the correct answer within Options.
	CorrectIndex int
}

// Correct returns the correct answer text.
func (q TriviaQuestion) Correct() string {
	return q.Options[q.CorrectIndex]
}

type triviaResponse struct {
	ResponseCode int `json:"response_code"`
	Results      []struct {
		Category         string   `json:"category"`
		Difficulty       string   `json:"difficulty"`
		Question         string   `json:"question"`
		CorrectAnswer    string   `json:"correct_answer"`
		IncorrectAnswers []string `json:"incorrect_answers"`
	} `json:"results"`
}

// Trivia fetches a random multiple-choice trivia question. Unlike
// FunFact, upstream failures are returned as errors (wrapping
// ErrExternalService) so the command handler can tell the user the
// question could not be fetched.
func (f *FactsClient) Trivia(ctx context.Context) (*TriviaQuestion, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	body, err := f.get(ctx, f.triviaURL)
	if err != nil {
		return nil, err
	}

	var payload triviaResponse
	if err = json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf(
			"%w: decoding trivia payload: %w", ErrExternalService, err,
		)
	}
	if payload.ResponseCode != 0 || len(payload.Results) == 0 {
		return nil, fmt.Errorf(
			"%w: trivia API response code %d with %d results",
			ErrExternalService,
			payload.ResponseCode,
			len(payload.Results),
		)
	}

	result := payload.Results[0]
	options := make([]string, 0, len(result.IncorrectAnswers)+1)
	correct := html.UnescapeString(result.CorrectAnswer)
	options = append(options, correct)
	for _, incorrect := range result.IncorrectAnswers {
		options = append(options, html.UnescapeString(incorrect))
	}
	rand.Shuffle(
		len(options), func(i, j int) {
			options[i], options[j] = options[j], options[i]
		},
	)

	correctIndex := 0
	for i, option := range options {
		if option == correct {
			correctIndex = i
			break
		}
	}

	return &TriviaQuestion{
		Category:     html.UnescapeString(result.Category),
		Difficulty:   result.Difficulty,
		Question:     html.UnescapeString(result.Question),
		Options:      options,
		CorrectIndex: correctIndex,
	}, nil
}

func (f *FactsClient) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %w", ErrExternalService, err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExternalService, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(
			"%w: %s returned status %d", ErrExternalService, url, resp.StatusCode,
		)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrExternalService, err)
	}
	return body, nil
}
