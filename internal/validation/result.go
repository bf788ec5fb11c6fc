package validation

import (
	"fmt"

	"github.com/rendis/tabflow/pkg/schema"
)

// Severity separates blocking problems from advice.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding, located by a path into the workflow document.
type Issue struct {
	Path     string   `json:"path"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

// Result collects the issues of every validation stage.
type Result struct {
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
	// Plan holds the scheduler groups once the graph checks pass.
	Plan [][]string `json:"plan,omitempty"`
}

// Valid reports whether no errors were found. Warnings do not count.
func (r *Result) Valid() bool {
	return len(r.Errors) == 0
}

func (r *Result) addError(path, code, message string) {
	r.Errors = append(r.Errors, Issue{Path: path, Code: code, Message: message, Severity: SeverityError})
}

func (r *Result) addWarning(path, message string) {
	r.Warnings = append(r.Warnings, Issue{Path: path, Code: schema.ErrCodeValidation, Message: message, Severity: SeverityWarning})
}

func (r *Result) merge(other *Result) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Err returns nil for a valid result. Otherwise it returns a FlowError
// carrying the issues; a single scheduling issue keeps its own code.
func (r *Result) Err() error {
	if r.Valid() {
		return nil
	}
	code := schema.ErrCodeValidation
	msg := r.Errors[0].Message
	if len(r.Errors) == 1 {
		code = r.Errors[0].Code
	} else {
		msg = fmt.Sprintf("validation failed with %d errors", len(r.Errors))
	}
	return schema.NewError(code, msg).WithDetails(map[string]any{
		"errors":   r.Errors,
		"warnings": r.Warnings,
	})
}
