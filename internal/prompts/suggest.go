package prompts

import "strings"

// suggestionRules map query keywords to the tool the system prompt
// prefers for them. Rules are checked in order.
var suggestionRules = []struct {
	tool  string
	terms []string
}{
	{"wikipedia_research", []string{"wikipedia", "fact", "definition", "history", "who is", "what is", "when did", "where is"}},
	{"serper_search", []string{"research", "credible", "scientific", "academic", "paper", "study", "climate"}},
	{"metaphor_search", []string{"blog", "recent", "trend", "latest", "article", "post"}},
	{"browse_web", []string{"browse", "visit", "webpage", "website"}},
}

// SuggestTool returns the research tool the system prompt would steer a
// query toward, defaulting to tavily_search.
func SuggestTool(query string) string {
	q := strings.ToLower(query)
	for _, rule := range suggestionRules {
		for _, term := range rule.terms {
			if strings.Contains(q, term) {
				return rule.tool
			}
		}
	}
	return "tavily_search"
}
