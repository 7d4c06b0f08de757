// Package llm defines the narrow interface the rest of this module uses
// to reach a language model, plus an optional concrete implementation
// backed by the Anthropic API. No other package imports
// anthropic-sdk-go directly or depends on a model being configured at
// all: hybrid search degrades to BM25-only, and reinforcement/decay
// never need a model. Grounded on the teacher's internal/compact/haiku.go,
// generalized from "summarize one issue" to "answer one prompt" and
// wired through the circuit breaker registry instead of being called
// directly.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"

	"github.com/arcwright/recall/internal/breaker"
)

// Adapter is the capability this module needs from a language model:
// answer a single prompt with a single text response. Anything that
// satisfies this — Anthropic, a local model server, a test stub — can
// back it.
type Adapter interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

// errAPIKeyRequired is returned when no API key is available from
// either the explicit argument or ANTHROPIC_API_KEY.
var errAPIKeyRequired = errors.New("anthropic API key required")

// AnthropicAdapter answers prompts via the Anthropic Messages API,
// retrying transient failures with exponential backoff and recording
// outcomes against a named circuit breaker so a flaky model never
// blocks retrieval.
type AnthropicAdapter struct {
	client  anthropic.Client
	model   anthropic.Model
	breaker *breaker.Breaker
}

// NewAnthropicAdapter builds an adapter using the ANTHROPIC_API_KEY
// environment variable when it is set, and apiKey otherwise (env takes
// precedence, matching the teacher's haikuClient). breakers supplies
// the named breaker guarding every call this adapter makes.
func NewAnthropicAdapter(apiKey, model string, breakers *breaker.Registry) (*AnthropicAdapter, error) {
	envKey := os.Getenv("ANTHROPIC_API_KEY")
	if envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or pass one explicitly", errAPIKeyRequired)
	}
	if model == "" {
		model = "claude-3-5-haiku-20241022"
	}

	return &AnthropicAdapter{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   anthropic.Model(model),
		breaker: breakers.Get("llm.anthropic"),
	}, nil
}

// Ask answers prompt, retrying retryable failures up to 3 times with
// exponential backoff, all inside the adapter's circuit breaker. A
// breaker already OPEN rejects immediately via *types.BreakerOpenError
// without attempting a call.
func (a *AnthropicAdapter) Ask(ctx context.Context, prompt string) (string, error) {
	var answer string
	err := a.breaker.Call(ctx, func(ctx context.Context) error {
		return a.askWithRetry(ctx, prompt, &answer)
	})
	return answer, err
}

func (a *AnthropicAdapter) askWithRetry(ctx context.Context, prompt string, out *string) error {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	policy = backoff.WithContext(policy, ctx)

	return backoff.Retry(func() error {
		resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     a.model,
			MaxTokens: 1024,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if len(resp.Content) == 0 {
			return backoff.Permanent(fmt.Errorf("anthropic: empty response content"))
		}
		block := resp.Content[0]
		if block.Type != "text" {
			return backoff.Permanent(fmt.Errorf("anthropic: unexpected content type %q", block.Type))
		}
		*out = block.Text
		return nil
	}, policy)
}

func isRetryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 529:
			return true
		default:
			return false
		}
	}
	return true
}

// Embedder is the capability hybrid search needs to turn text into a
// vector: embed one string, or return types.ErrEmbedderUnavailable if
// no embedding model is configured. Grounded on src/vector_store.py's
// graceful "no embedder installed" path.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedFunc adapts a plain function to the Embedder interface, and also
// satisfies the embed callback signature scoring.Hybrid expects.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbedFunc) Embed(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

// AsHybridEmbedFunc adapts an Embedder to the context-free signature
// internal/scoring.Hybrid expects, using a short fixed timeout so a
// hung embedder cannot stall retrieval indefinitely.
func AsHybridEmbedFunc(e Embedder) func(string) ([]float32, error) {
	return func(text string) ([]float32, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.Embed(ctx, text)
	}
}
