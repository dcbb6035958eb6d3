package prompts

import "fmt"

// PartialResult is the assistant reply used when the research loop
// reaches its iteration limit before the model produces an answer.
func PartialResult(steps int, summary string) string {
	if summary == "" {
		summary = "nothing conclusive yet"
	}
	return fmt.Sprintf("I wasn't able to finish researching this within %d steps. Here is what I found so far: %s", steps, summary)
}

// EmptyResponseFallback is the user-facing message returned when the
// model ends a request without composing any text.
const EmptyResponseFallback = "I processed your request but wasn't able to compose a response. Please try again."

// Apology is the assistant reply stored when a request fails after the
// user's message was accepted.
func Apology(err error) string {
	return fmt.Sprintf("I'm sorry, I encountered an error: %v. Please try again.", err)
}
