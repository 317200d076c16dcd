// Package llm wraps the external language-model collaborator behind a
// narrow Analyzer interface so pipeline stages can be tested with fakes and
// the vendor client stays confined to this package.
//
// The OpenAI implementation bounds every call with a timeout and a fixed
// retry budget, and throttles outbound calls client-side so a burst of
// uploads cannot stampede the upstream API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// ErrExhausted is returned when the retry budget is spent without a
// successful completion. Stages record it as an upstream failure.
var ErrExhausted = errors.New("analysis engine retries exhausted")

// Analyzer produces a raw analysis of document text. Implementations must
// honor ctx for cancellation and return the model output verbatim; section
// parsing happens in parse.go.
type Analyzer interface {
	Analyze(ctx context.Context, doc Document) (string, error)
}

// Document is the analysis input: the extracted text of one submitted file
// plus the knobs that shape the requested analysis depth.
type Document struct {
	Filename string
	Text     string
	Detailed bool // request the extended analysis sections
}

const analyzerSystemPrompt = "You are a requirements analyst. You read a " +
	"project document and produce a structured requirements analysis in " +
	"plain markdown with exactly these level-2 headings: Summary, " +
	"Functional Requirements, Non-Functional Requirements, Risks. List " +
	"requirements as bullet points, one requirement per bullet."

// OpenAIAnalyzer implements Analyzer on the OpenAI chat completions API.
type OpenAIAnalyzer struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	retries int
	limiter *rate.Limiter

	// call issues one completion attempt. Swapped in tests.
	call func(ctx context.Context, prompt string) (string, error)
}

// Options bound the analyzer's calls toward the upstream API.
type Options struct {
	Model   string        // e.g. "gpt-4o-mini"
	Timeout time.Duration // per-attempt upper bound
	Retries int           // extra attempts after the first failure
	RPS     float64       // client-side request rate toward the API
}

// NewOpenAIAnalyzer builds an analyzer for the given API key and options.
func NewOpenAIAnalyzer(apiKey string, opts Options) *OpenAIAnalyzer {
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.RPS <= 0 {
		opts.RPS = 1
	}
	a := &OpenAIAnalyzer{
		client:  openai.NewClient(apiKey),
		model:   opts.Model,
		timeout: opts.Timeout,
		retries: opts.Retries,
		limiter: rate.NewLimiter(rate.Limit(opts.RPS), 1),
	}
	a.call = a.attempt
	return a
}

// Analyze sends the document text for analysis. Each attempt is bounded by
// the configured timeout; transient failures are retried up to the budget,
// after which ErrExhausted wraps the last error. A stage receiving
// ErrExhausted fails the request record instead of retrying forever.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, doc Document) (string, error) {
	prompt := fmt.Sprintf("Document %q:\n\n%s", doc.Filename, doc.Text)
	if doc.Detailed {
		prompt += "\n\nProvide the detailed analysis: include rationale per requirement and a risk likelihood estimate."
	}

	var lastErr error
	for attempt := 0; attempt <= a.retries; attempt++ {
		if err := a.limiter.Wait(ctx); err != nil {
			return "", err
		}
		out, err := a.call(ctx, prompt)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}

func (a *OpenAIAnalyzer) attempt(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: analyzerSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("analysis engine returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
