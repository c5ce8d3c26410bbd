// Package agents binds the pipeline's text generation and roster contracts
// to an LLM provider.
package agents

import (
	"context"
	"errors"
	"strings"
	"time"

	"frameworks/bosun/pkg/llm"
	"frameworks/bosun/pkg/logging"
)

const defaultGenerateTimeout = 45 * time.Second

type GeneratorConfig struct {
	LLM     llm.Provider
	Timeout time.Duration
	Logger  logging.Logger
}

// Generator implements pipeline.TextGenerator over a streaming provider.
type Generator struct {
	llm     llm.Provider
	timeout time.Duration
	logger  logging.Logger
}

func NewGenerator(cfg GeneratorConfig) *Generator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGenerateTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Generator{llm: cfg.LLM, timeout: timeout, logger: logger}
}

// Generate sends the persona as the system message and returns the trimmed
// completion. Provider and stream errors are returned as-is for the caller
// to wrap.
func (g *Generator) Generate(ctx context.Context, system, input string) (string, error) {
	if g == nil || g.llm == nil {
		return "", errors.New("LLM provider not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	messages := make([]llm.Message, 0, 2)
	if strings.TrimSpace(system) != "" {
		messages = append(messages, llm.System(system))
	}
	messages = append(messages, llm.User(input))

	start := time.Now()
	text, err := llm.Collect(ctx, g.llm, messages)
	llmDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		llmCallsTotal.WithLabelValues("error").Inc()
		return "", err
	}
	llmCallsTotal.WithLabelValues("ok").Inc()
	return strings.TrimSpace(text), nil
}
