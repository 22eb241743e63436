package model

import (
	"fmt"
	"strings"
)

// ConfigError is a configuration problem detected before any process runs.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ConfigError) FormatStderr() string {
	return fmt.Sprintf("error: %s: %s\n", e.Field, e.Message)
}

// ConfigErrors collects every problem found while validating a config.
type ConfigErrors struct {
	Errors []ConfigError
}

func (ce *ConfigErrors) Add(field, message string) {
	ce.Errors = append(ce.Errors, ConfigError{Field: field, Message: message})
}

// AddErr records err, keeping its field when it is a ConfigError.
func (ce *ConfigErrors) AddErr(field string, err error) {
	if c, ok := err.(*ConfigError); ok {
		ce.Add(field, c.Message)
		return
	}
	ce.Add(field, err.Error())
}

func (ce *ConfigErrors) HasErrors() bool {
	return len(ce.Errors) > 0
}

func (ce *ConfigErrors) Error() string {
	msgs := make([]string, 0, len(ce.Errors))
	for _, e := range ce.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "\n")
}

func (ce *ConfigErrors) FormatStderr() string {
	var sb strings.Builder
	for _, e := range ce.Errors {
		sb.WriteString(e.FormatStderr())
	}
	return sb.String()
}

// ErrOrNil returns nil when no errors were collected.
func (ce *ConfigErrors) ErrOrNil() error {
	if ce.HasErrors() {
		return ce
	}
	return nil
}
