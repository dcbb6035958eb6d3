package tools

import "fmt"

// ErrToolUnavailable is returned when a tool call targets a tool that
// is not present in the registry or the bound snapshot. The research
// loop reports it to the model as an error result.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}

// ErrDuplicateTool is returned when a tool name is already registered
// by a different source.
type ErrDuplicateTool struct {
	ToolName string
	Existing string // source that holds the name
	Rejected string // source whose registration was refused
}

// Error implements the error interface.
func (e *ErrDuplicateTool) Error() string {
	return fmt.Sprintf("tool %q already registered by %s (rejected from %s)", e.ToolName, e.Existing, e.Rejected)
}
