package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"frameworks/bosun/internal/pipeline"
	"frameworks/bosun/pkg/logging"
)

const rosterSystemPrompt = `You cast personas for a team of social media agents.
Return ONLY a JSON array with exactly one object per requested role, in the same order.
Each object has "name", "personality" and "specialty".
Names are creative, funny first names like "Dave", never role labels like "Agent Analyser".`

// LLMRoster asks the model to invent one persona per stage.
type LLMRoster struct {
	generator pipeline.TextGenerator
}

func NewLLMRoster(generator pipeline.TextGenerator) *LLMRoster {
	return &LLMRoster{generator: generator}
}

func (r *LLMRoster) Roster(ctx context.Context, pc pipeline.Context, stages []pipeline.Stage) ([]pipeline.AgentSpec, error) {
	raw, err := r.generator.Generate(ctx, rosterSystemPrompt, buildRosterPrompt(pc, stages))
	if err != nil {
		return nil, err
	}
	specs, err := parseRoster(raw)
	if err != nil {
		return nil, err
	}
	if len(specs) != len(stages) {
		return nil, fmt.Errorf("roster: expected %d agents, got %d", len(stages), len(specs))
	}
	for i := range specs {
		if strings.TrimSpace(specs[i].Name) == "" {
			return nil, fmt.Errorf("roster: agent %d has no name", i)
		}
		if specs[i].Personality == "" {
			specs[i].Personality = stages[i].Personality
		}
		if specs[i].Specialty == "" {
			specs[i].Specialty = stages[i].Specialty
		}
	}
	return specs, nil
}

func buildRosterPrompt(pc pipeline.Context, stages []pipeline.Stage) string {
	var b strings.Builder
	if pc.Subject != "" {
		fmt.Fprintf(&b, "The team will discuss %s.\n\n", pc.Subject)
	}
	b.WriteString("Roles, in order:\n")
	for i, stage := range stages {
		fmt.Fprintf(&b, "%d. %s: %s (specialty: %s)\n", i+1, stage.Role, stage.Personality, stage.Specialty)
	}
	return b.String()
}

// parseRoster accepts a bare JSON array or one wrapped in a Markdown code fence.
func parseRoster(raw string) ([]pipeline.AgentSpec, error) {
	text := strings.TrimSpace(raw)
	if start := strings.Index(text, "["); start >= 0 {
		if end := strings.LastIndex(text, "]"); end > start {
			text = text[start : end+1]
		}
	}
	var specs []pipeline.AgentSpec
	if err := json.Unmarshal([]byte(text), &specs); err != nil {
		return nil, fmt.Errorf("roster: decode: %w", err)
	}
	return specs, nil
}

// StaticRoster uses fixed names with each stage's default persona.
type StaticRoster struct {
	Names []string
}

var defaultNames = []string{"Dave", "Mona", "Rex", "Tia", "Gus", "Ivy"}

func (s StaticRoster) Roster(_ context.Context, _ pipeline.Context, stages []pipeline.Stage) ([]pipeline.AgentSpec, error) {
	names := s.Names
	if len(names) == 0 {
		names = defaultNames
	}
	specs := make([]pipeline.AgentSpec, len(stages))
	for i, stage := range stages {
		specs[i] = pipeline.AgentSpec{
			Name:        names[i%len(names)],
			Personality: stage.Personality,
			Specialty:   stage.Specialty,
		}
	}
	return specs, nil
}

// FallbackRoster tries Primary and drops to Fallback when it fails.
type FallbackRoster struct {
	Primary  pipeline.RosterGenerator
	Fallback pipeline.RosterGenerator
	Logger   logging.Logger
}

func (f FallbackRoster) Roster(ctx context.Context, pc pipeline.Context, stages []pipeline.Stage) ([]pipeline.AgentSpec, error) {
	specs, err := f.Primary.Roster(ctx, pc, stages)
	if err == nil {
		return specs, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	if f.Logger != nil {
		f.Logger.WithError(err).Warn("Roster: generated roster unusable, using static personas")
	}
	rosterFallbacksTotal.Inc()
	return f.Fallback.Roster(ctx, pc, stages)
}
