package spec

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input errors
	ErrNoServices       = errors.New("no services defined")
	ErrEmptyName        = errors.New("service name is required")
	ErrDuplicateService = errors.New("duplicate service name")
	ErrNoImage          = errors.New("service image is required")
	ErrInvalidPort      = errors.New("invalid port mapping")
	ErrInvalidVolume    = errors.New("invalid volume mount")
	ErrInvalidResource  = errors.New("invalid resource limit")

	// Dependency errors
	ErrUnknownDependency  = errors.New("dependency references unknown service")
	ErrDependencyStage    = errors.New("dependency must be in a strictly lower stage")
	ErrCircularDependency = errors.New("circular dependency detected")

	// Compose document errors
	ErrEmptyInput         = errors.New("compose content is empty")
	ErrInvalidYAML        = errors.New("invalid YAML syntax")
	ErrUnsupportedFeature = errors.New("unsupported compose feature")

	// Backup errors
	ErrNoBackup = errors.New("no backup file found")
)

// CompileError wraps compilation failures with the entry that caused them.
type CompileError struct {
	Service string // Service name, if known
	Field   string // Field within the service, if applicable
	Message string
	Err     error
}

func (e *CompileError) Error() string {
	switch {
	case e.Service != "" && e.Field != "":
		return fmt.Sprintf("compile %s.%s: %s", e.Service, e.Field, e.Message)
	case e.Service != "":
		return fmt.Sprintf("compile %s: %s", e.Service, e.Message)
	default:
		return fmt.Sprintf("compile: %s", e.Message)
	}
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// NewCompileError creates a new CompileError.
func NewCompileError(service, field, message string, err error) *CompileError {
	return &CompileError{
		Service: service,
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// ParseError wraps errors with context about where document parsing failed.
type ParseError struct {
	Field   string // e.g., "services.web.ports"
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError.
func NewParseError(field, message string, err error) *ParseError {
	return &ParseError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
