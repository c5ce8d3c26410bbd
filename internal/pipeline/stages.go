package pipeline

import (
	"fmt"
	"strings"
)

const (
	RoleAnalyst    = "analyst"
	RoleCopywriter = "copywriter"
	RoleReplier    = "replier"
	RoleTagger     = "tagger"
)

const lengthRule = "Keep it under 280 characters. Respond with only the text to publish."

// CanonicalStages is the four-stage content pipeline: an analysis, a post
// built on it, a reply to the post, and a hashtag line over all three.
func CanonicalStages() []Stage {
	return []Stage{
		{
			Role:        RoleAnalyst,
			Personality: "Analytical and blunt. You judge projects on evidence, not hype.",
			Specialty:   "crypto project analysis",
			Instruct: func(pc Context, _ []StageResult) string {
				return fmt.Sprintf("Analyze %s and give a clearly positive or negative verdict.\n\n%s",
					pc.Subject, pc.Brief)
			},
		},
		{
			Role:        RoleCopywriter,
			Personality: "If the analysis is good you are snarky and funny; if it is bad you are snarky and rude.",
			Specialty:   "social media copywriting",
			Instruct: func(pc Context, prior []StageResult) string {
				var b strings.Builder
				fmt.Fprintf(&b, "Write a post about %s based on this analysis. Include the name %s.\n\n", pc.Subject, pc.Subject)
				fmt.Fprintf(&b, "Analysis:\n%s\n", responseOf(prior, 0))
				if len(pc.Avoid) > 0 {
					b.WriteString("\nDo not repeat these recent posts:\n")
					for _, recent := range pc.Avoid {
						fmt.Fprintf(&b, "- %s\n", recent)
					}
				}
				b.WriteString("\n" + lengthRule)
				return b.String()
			},
		},
		{
			Role:        RoleReplier,
			Personality: "If the post is positive you are sarcastic and funny; if it is negative you are rude, cautious and informative.",
			Specialty:   "social media copywriting",
			Instruct: func(pc Context, prior []StageResult) string {
				return fmt.Sprintf("Write a reply to the post below, drawing on the analysis. Mention the price if one is known.\n\nAnalysis:\n%s\n\nPost:\n%s\n\nFacts:\n%s\n\n%s",
					responseOf(prior, 0), responseOf(prior, 1), pc.Brief, lengthRule)
			},
		},
		{
			Role:        RoleTagger,
			Personality: "Professional and precise.",
			Specialty:   "hashtags that match the tone and tag the major relevant topics",
			Instruct: func(_ Context, prior []StageResult) string {
				return fmt.Sprintf("Write one line of hashtags matching the tone of this thread.\n\nAnalysis:\n%s\n\nPost:\n%s\n\nReply:\n%s\n\n%s",
					responseOf(prior, 0), responseOf(prior, 1), responseOf(prior, 2), lengthRule)
			},
		},
	}
}

func responseOf(prior []StageResult, index int) string {
	if index < 0 || index >= len(prior) {
		return ""
	}
	return prior[index].Response
}
