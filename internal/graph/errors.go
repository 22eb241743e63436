package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCycle marks repositories that depend on each other.
	ErrCycle = errors.New("circular dependency detected")
	// ErrUnassignable marks kept repositories that never become ready.
	ErrUnassignable = errors.New("repositories cannot be assigned to a level")
	// ErrUnknownTrigger marks a trigger that names no repository.
	ErrUnknownTrigger = errors.New("unknown trigger repository")
)

// GraphError is returned before any pipeline starts.
type GraphError struct {
	Kind         error
	Repositories []string
	Path         []string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case len(e.Path) > 0:
		return fmt.Sprintf("%s: %s", e.Kind.Error(), strings.Join(e.Path, " -> "))
	case len(e.Repositories) > 0:
		return fmt.Sprintf("%s: %s", e.Kind.Error(), strings.Join(e.Repositories, ", "))
	default:
		return e.Kind.Error()
	}
}

func (e *GraphError) Unwrap() error { return e.Kind }

func (e *GraphError) FormatStderr() string {
	return fmt.Sprintf("error: %s\n", e.Error())
}
