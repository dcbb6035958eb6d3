package prompts

import (
	"slices"
	"strings"
)

// baseSystemTemplate names the research tools and when to prefer each.
const baseSystemTemplate = `You are an AI research assistant with multiple specialized tools.

Please use the following tools for specific research needs:
- wikipedia_research: For factual information, historical data, and verified knowledge about concepts, people, places, and events. This should be your FIRST choice for general knowledge questions.
- tavily_search: For general web search and basic information
- serper_search: For credible academic information, research papers, and scientific data. Use this for climate change research, medical information, and academic topics.
- metaphor_search: For finding recent blog posts, articles, and trending content. Use this for discovering the latest industry trends, technology news, and recent discussions.
- browse_web: For extracting content from a specific webpage

When a user asks about general knowledge, definitions, or historical facts, ALWAYS use wikipedia_research first.
When a user asks about research from credible sources, ALWAYS use serper_search.
When a user asks about recent blog posts or trends, ALWAYS use metaphor_search.
`

// namedTools are described in baseSystemTemplate.
var namedTools = []string{
	"wikipedia_research",
	"tavily_search",
	"serper_search",
	"metaphor_search",
	"browse_web",
}

// System returns the research system prompt. Tools in available that
// the base prompt does not describe are listed after it so the model
// knows they exist.
func System(available []string) string {
	var extra []string
	for _, name := range available {
		if !slices.Contains(namedTools, name) {
			extra = append(extra, name)
		}
	}
	if len(extra) == 0 {
		return baseSystemTemplate
	}
	slices.Sort(extra)

	var sb strings.Builder
	sb.WriteString(baseSystemTemplate)
	sb.WriteString("\nAdditional tools are also available: ")
	sb.WriteString(strings.Join(extra, ", "))
	sb.WriteString(".\n")
	return sb.String()
}
