package config

import (
	"errors"
	"fmt"
)

// Error codes reported by Load and Parse.
const (
	ErrCodeNotFound = "E101" // Pipeline file missing
	ErrCodeRead     = "E102" // Pipeline file unreadable
	ErrCodeParse    = "E103" // YAML syntax or shape error
	ErrCodeSchema   = "E104" // Schema validation failed
	ErrCodeEnv      = "E105" // Environment override unreadable
	ErrCodeInvalid  = "E106" // Semantic check failed
)

// LoadError reports why a pipeline file was rejected.
type LoadError struct {
	Code    string
	Field   string
	Message string
}

func (e *LoadError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Code returns the LoadError code carried by err, or "".
func Code(err error) string {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}
