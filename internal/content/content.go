// Package content turns pipeline output into platform-sized posts.
package content

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"frameworks/bosun/internal/pipeline"
)

const (
	MaxLength = 280
	ellipsis  = "..."
)

// Unit is one primary post plus the replies threaded under it.
type Unit struct {
	Primary string   `json:"primary"`
	Replies []string `json:"replies"`
}

// Posts returns the primary followed by the replies.
func (u Unit) Posts() []string {
	return append([]string{u.Primary}, u.Replies...)
}

// Topic is the entity a unit is about. When URL is set the first mention of
// Name in the primary and first reply becomes a Markdown link.
type Topic struct {
	Name string
	URL  string
}

// AssemblyError reports a required stage with no usable output.
type AssemblyError struct {
	Stage int
	Role  string
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("missing agent output for stage %d (%s)", e.Stage, e.Role)
}

// Stage positions consumed by Assemble. Stage 0 (analysis) only feeds the
// later stages.
const (
	primaryStage = 1
	replyStage   = 2
	tagStage     = 3
)

// Assemble builds a Unit from a full pipeline run:
//
//	primary: "<copywriter>:\n<post>"
//	reply 1: "<replier>:\n<copywriter> <reply>"
//	reply 2: "<tagger>:\n<hashtags>"
//
// Each string is normalized and then capped at MaxLength.
func Assemble(results []pipeline.StageResult, topic Topic) (Unit, error) {
	for _, idx := range []int{primaryStage, replyStage, tagStage} {
		if err := requireStage(results, idx); err != nil {
			return Unit{}, err
		}
	}
	copywriter := results[primaryStage]
	replier := results[replyStage]
	tagger := results[tagStage]

	primary := fmt.Sprintf("%s:\n%s", copywriter.Agent.Name, LinkEntity(copywriter.Response, topic))
	reply := fmt.Sprintf("%s:\n%s %s", replier.Agent.Name, copywriter.Agent.Name, LinkEntity(replier.Response, topic))
	tags := fmt.Sprintf("%s:\n%s", tagger.Agent.Name, tagger.Response)

	return Unit{
		Primary: Finalize(primary),
		Replies: []string{Finalize(reply), Finalize(tags)},
	}, nil
}

func requireStage(results []pipeline.StageResult, idx int) error {
	if idx >= len(results) {
		return &AssemblyError{Stage: idx}
	}
	r := results[idx]
	if r.Err != nil || strings.TrimSpace(r.Response) == "" || strings.TrimSpace(r.Agent.Name) == "" {
		return &AssemblyError{Stage: idx, Role: r.Role}
	}
	return nil
}

// LinkEntity replaces the first occurrence of the topic name with
// "[name](url)". Text without the name, or a topic without a URL, is
// returned unchanged.
func LinkEntity(text string, topic Topic) string {
	if topic.Name == "" || topic.URL == "" {
		return text
	}
	return strings.Replace(text, topic.Name, "["+topic.Name+"]("+topic.URL+")", 1)
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Normalize strips Markdown bold, expands literal "\n" escapes and collapses
// whitespace runs to a single space.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Truncate caps s at MaxLength characters, replacing the tail with "..." when
// it has to cut. Shorter strings are returned unchanged.
func Truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxLength-len(ellipsis)]) + ellipsis
}

// Finalize is Normalize followed by Truncate, the form handed to a publisher.
func Finalize(s string) string {
	return Truncate(Normalize(s))
}
