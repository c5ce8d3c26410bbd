package agents

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"frameworks/bosun/internal/pipeline"
	"frameworks/bosun/pkg/llm"
)

func TestGeneratorAgainstOpenAICompatibleServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"  gm \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"frens  \"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	gen := NewGenerator(GeneratorConfig{LLM: llm.NewOpenAIProvider(llm.Config{APIURL: server.URL, Model: "m"})})
	got, err := gen.Generate(context.Background(), "You are Dave.", "say hi")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "gm frens" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestGeneratorWithoutProvider(t *testing.T) {
	if _, err := NewGenerator(GeneratorConfig{}).Generate(context.Background(), "", "hi"); err == nil {
		t.Fatal("expected error without provider")
	}
}

type cannedGenerator struct {
	text string
	err  error
}

func (c cannedGenerator) Generate(context.Context, string, string) (string, error) {
	return c.text, c.err
}

func TestLLMRosterParsesFencedJSON(t *testing.T) {
	raw := "```json\n[{\"name\":\"Dave\",\"personality\":\"dry\",\"specialty\":\"charts\"},{\"name\":\"Mona\"}]\n```"
	stages := pipeline.CanonicalStages()[:2]

	specs, err := NewLLMRoster(cannedGenerator{text: raw}).Roster(context.Background(), pipeline.Context{Subject: "BONK"}, stages)
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if specs[0].Name != "Dave" || specs[1].Name != "Mona" {
		t.Fatalf("unexpected names %+v", specs)
	}
	if specs[1].Personality != stages[1].Personality {
		t.Fatalf("expected default personality fill, got %q", specs[1].Personality)
	}
}

func TestLLMRosterRejectsWrongSize(t *testing.T) {
	raw := `[{"name":"Dave"}]`
	_, err := NewLLMRoster(cannedGenerator{text: raw}).Roster(context.Background(), pipeline.Context{}, pipeline.CanonicalStages())
	if err == nil {
		t.Fatal("expected size mismatch error")
	}
}

func TestLLMRosterRejectsGarbage(t *testing.T) {
	_, err := NewLLMRoster(cannedGenerator{text: "sure! here are some agents"}).Roster(context.Background(), pipeline.Context{}, pipeline.CanonicalStages())
	if err == nil {
		t.Fatal("expected decode error")
	}
}

func TestFallbackRosterUsesStaticOnFailure(t *testing.T) {
	roster := FallbackRoster{
		Primary:  NewLLMRoster(cannedGenerator{err: errors.New("timeout")}),
		Fallback: StaticRoster{},
	}
	specs, err := roster.Roster(context.Background(), pipeline.Context{}, pipeline.CanonicalStages())
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if len(specs) != 4 || specs[0].Name != "Dave" || specs[3].Name != "Tia" {
		t.Fatalf("unexpected static roster %+v", specs)
	}
}

func TestStaticRosterCyclesNames(t *testing.T) {
	specs, _ := StaticRoster{Names: []string{"A", "B"}}.Roster(context.Background(), pipeline.Context{}, pipeline.CanonicalStages())
	if specs[2].Name != "A" || specs[3].Name != "B" {
		t.Fatalf("expected names to cycle, got %+v", specs)
	}
}
