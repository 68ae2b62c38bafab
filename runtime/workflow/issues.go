package workflow

import (
	"fmt"
	"strings"
)

type (
	// Issue is a single validation finding anchored to a location in the
	// definition document.
	Issue struct {
		// Path locates the finding, e.g. "nodes[2].edges[0].targetNode".
		Path string `json:"path"`
		// Message describes the problem.
		Message string `json:"message"`
	}

	// ValidationError aggregates the issues that made a definition invalid.
	ValidationError struct {
		// Issues are the individual findings. Never empty.
		Issues []Issue
	}
)

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "invalid workflow definition"
	}
	msgs := make([]string, len(e.Issues))
	for i, iss := range e.Issues {
		if iss.Path == "" {
			msgs[i] = iss.Message
			continue
		}
		msgs[i] = fmt.Sprintf("%s: %s", iss.Path, iss.Message)
	}
	return "invalid workflow definition: " + strings.Join(msgs, "; ")
}

func issuef(path, format string, args ...any) Issue {
	return Issue{Path: path, Message: fmt.Sprintf(format, args...)}
}
