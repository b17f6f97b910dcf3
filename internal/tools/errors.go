package tools

import (
	"errors"
	"fmt"
	"time"
)

// ErrCatalogDrift is returned by NewExecutor when the catalog and the
// handler set disagree. It indicates a programming error and should
// stop startup.
var ErrCatalogDrift = errors.New("tool catalog and handlers out of sync")

// UnknownToolError is returned for a tool call whose name is not in the
// catalog. The executor reports it to the model as "Unknown tool.".
type UnknownToolError struct {
	Name string
}

// Error implements the error interface.
func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// timeoutError is produced when a handler outlives the per-call limit.
type timeoutError struct {
	tool  string
	limit time.Duration
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.tool, e.limit)
}
