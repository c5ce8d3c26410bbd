package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"frameworks/bosun/pkg/logging"
)

type Config struct {
	Stages    []Stage
	Roster    RosterGenerator
	Generator TextGenerator
	Logger    logging.Logger
}

type Pipeline struct {
	stages    []Stage
	roster    RosterGenerator
	generator TextGenerator
	logger    logging.Logger
}

func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Pipeline{
		stages:    cfg.Stages,
		roster:    cfg.Roster,
		generator: cfg.Generator,
		logger:    logger,
	}
}

// Stages returns the configured stage count.
func (p *Pipeline) Stages() int {
	return len(p.stages)
}

// Run executes every stage in order. Stage k sees the literal responses of
// stages 0..k-1, so nothing runs in parallel. The first failing stage ends
// the run; its StageResult is the last element of the returned slice and its
// error is returned as the run error.
func (p *Pipeline) Run(ctx context.Context, pc Context) ([]StageResult, error) {
	if len(p.stages) == 0 {
		return nil, ErrNoStages
	}
	if p.generator == nil || p.roster == nil {
		return nil, fmt.Errorf("pipeline: generator and roster are required")
	}

	specs, err := p.roster.Roster(ctx, pc, p.stages)
	if err != nil {
		runsTotal.WithLabelValues("roster_error").Inc()
		return nil, &GenerationError{Stage: -1, Role: "roster", Err: err}
	}
	if len(specs) != len(p.stages) {
		runsTotal.WithLabelValues("roster_error").Inc()
		return nil, fmt.Errorf("%w: got %d agents for %d stages", ErrRosterSize, len(specs), len(p.stages))
	}

	results := make([]StageResult, 0, len(p.stages))
	for i, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			runsTotal.WithLabelValues("cancelled").Inc()
			return results, err
		}

		result := StageResult{Index: i, Role: stage.Role, Agent: specs[i]}
		input := stage.Instruct(pc, results)

		start := time.Now()
		response, genErr := p.generator.Generate(ctx, Persona(specs[i]), input)
		stageDuration.WithLabelValues(stage.Role).Observe(time.Since(start).Seconds())

		switch {
		case genErr != nil:
			result.Err = &GenerationError{Stage: i, Role: stage.Role, Err: genErr}
		case strings.TrimSpace(response) == "":
			result.Err = &GenerationError{Stage: i, Role: stage.Role, Err: ErrEmptyOutput}
		default:
			result.Response = strings.TrimSpace(response)
		}
		results = append(results, result)

		if result.Err != nil {
			stageFailuresTotal.WithLabelValues(stage.Role).Inc()
			runsTotal.WithLabelValues("stage_error").Inc()
			p.logger.WithFields(logging.Fields{
				"stage": i,
				"role":  stage.Role,
				"agent": specs[i].Name,
			}).WithError(result.Err).Warn("Pipeline: stage failed")
			return results, result.Err
		}

		p.logger.WithFields(logging.Fields{
			"stage":  i,
			"role":   stage.Role,
			"agent":  specs[i].Name,
			"length": len(result.Response),
		}).Debug("Pipeline: stage complete")
	}

	runsTotal.WithLabelValues("ok").Inc()
	return results, nil
}

// Persona renders the system prompt that binds a generation call to an agent.
func Persona(spec AgentSpec) string {
	var b strings.Builder
	if spec.Name != "" {
		fmt.Fprintf(&b, "You are %s.", spec.Name)
	}
	if spec.Personality != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(spec.Personality)
	}
	if spec.Specialty != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "Your specialty: %s.", spec.Specialty)
	}
	return b.String()
}
