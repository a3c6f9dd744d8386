package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/sync/errgroup"

	"github.com/scourlab/scour/internal/config"
	"github.com/scourlab/scour/internal/observability"
)

// Output is one summarizer completion. TokensUsed counts generated
// tokens, approximated with the budget tokenizer because the endpoint's
// usage block is not surfaced by the single-prompt client.
type Output struct {
	Text       string
	TokensUsed int
}

// Summarizer produces summaries from fully built prompts. Summarize is
// the final pass; SummarizeBatch is the map phase and must return
// outputs in prompt order.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (Output, error)
	SummarizeBatch(ctx context.Context, prompts []string) ([]Output, error)
}

// Breaker thresholds: a run of failed model calls trips the breaker so a
// dead endpoint fails fast instead of stalling every message on timeouts.
const (
	breakerConsecutiveFailures = 5
	breakerCooldown            = 30 * time.Second
)

// VLLM talks to a vLLM server through its OpenAI-compatible API.
type VLLM struct {
	llm     *openai.LLM
	tok     Tokenizer
	breaker *gobreaker.CircuitBreaker
	metrics *observability.PipelineMetrics

	temperature  float64
	topP         float64
	maxTokens    int
	mapMaxTokens int
	timeout      time.Duration
}

// NewVLLM builds the production summarizer. model is the tier-resolved
// model name. vLLM accepts any API key; an empty configured key is sent
// as "EMPTY" per vLLM convention.
func NewVLLM(cfg config.SummarizerConfig, model string, tok Tokenizer, metrics *observability.PipelineMetrics) (*VLLM, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "EMPTY"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("init summarizer client: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "summarizer",
		Timeout: breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerConsecutiveFailures
		},
	})

	return &VLLM{
		llm:          llm,
		tok:          tok,
		breaker:      breaker,
		metrics:      metrics,
		temperature:  cfg.Temperature,
		topP:         cfg.TopP,
		maxTokens:    cfg.MaxTokens,
		mapMaxTokens: cfg.MapMaxTokens,
		timeout:      cfg.RequestTimeout,
	}, nil
}

// Summarize runs the final pass with the full output budget.
func (s *VLLM) Summarize(ctx context.Context, prompt string) (Output, error) {
	return s.generate(ctx, prompt, s.maxTokens)
}

// SummarizeBatch fans the map prompts out concurrently and returns
// outputs in prompt order. Any failed call fails the whole batch; the
// served model batches the concurrent requests internally.
func (s *VLLM) SummarizeBatch(ctx context.Context, prompts []string) ([]Output, error) {
	if len(prompts) == 0 {
		return nil, nil
	}

	outputs := make([]Output, len(prompts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(prompts))

	for i, prompt := range prompts {
		g.Go(func() error {
			out, err := s.generate(gctx, prompt, s.mapMaxTokens)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i+1, err)
			}

			outputs[i] = out

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return outputs, nil
}

func (s *VLLM) generate(ctx context.Context, prompt string, maxTokens int) (Output, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()

	out, err := s.breaker.Execute(func() (any, error) {
		return llms.GenerateFromSinglePrompt(callCtx, s.llm, prompt,
			llms.WithTemperature(s.temperature),
			llms.WithTopP(s.topP),
			llms.WithMaxTokens(maxTokens),
		)
	})
	if err != nil {
		return Output{}, fmt.Errorf("summarizer call: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordInference(ctx, time.Since(start))
	}

	text := strings.TrimSpace(out.(string))

	return Output{Text: text, TokensUsed: s.tok.Count(text)}, nil
}
