// Package errors provides categorized errors for the analysis pipeline.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"time"
)

// ErrorCategory represents the type of error for classification by callers
type ErrorCategory string

const (
	CategoryContentRejected ErrorCategory = "content-rejected"
	CategoryTransient       ErrorCategory = "transient"
	CategoryRetryExhausted  ErrorCategory = "retry-exhausted"
	CategoryResponseParse   ErrorCategory = "response-parse"
	CategoryConfiguration   ErrorCategory = "configuration"
	CategoryNotFound        ErrorCategory = "not-found"
	CategoryState           ErrorCategory = "state"
	CategoryValidation      ErrorCategory = "validation"
	CategoryStorage         ErrorCategory = "storage"
	CategoryDatabase        ErrorCategory = "database"
	CategoryImageProcessing ErrorCategory = "image-processing"
	CategoryRemote          ErrorCategory = "remote-service"
	CategoryPublish         ErrorCategory = "publish"
	CategoryGeneric         ErrorCategory = "generic"
)

// EnhancedError wraps an error with a category, component and context
type EnhancedError struct {
	Err       error
	Component string
	Category  ErrorCategory
	Context   map[string]any
	Timestamp time.Time
}

// Error implements the error interface
func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

// Unwrap implements the error unwrapping interface
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is reports category equality when the target is an EnhancedError
func (ee *EnhancedError) Is(target error) bool {
	if ee2, ok := target.(*EnhancedError); ok {
		return ee.Category == ee2.Category
	}
	return false
}

// GetContext returns a copy of the error context
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Context == nil {
		return nil
	}
	out := make(map[string]any, len(ee.Context))
	maps.Copy(out, ee.Context)
	return out
}

// Detail renders the error with its context for operator logs
func (ee *EnhancedError) Detail() string {
	if len(ee.Context) == 0 {
		return fmt.Sprintf("[%s/%s] %s", ee.Component, ee.Category, ee.Err)
	}
	keys := make([]string, 0, len(ee.Context))
	for k := range ee.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, ee.Context[k]))
	}
	return fmt.Sprintf("[%s/%s] %s (%s)", ee.Component, ee.Category, ee.Err, strings.Join(parts, " "))
}

// ErrorBuilder provides a fluent interface for creating enhanced errors
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New creates a new error builder around err
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf creates a new formatted error builder
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component name
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context adds context data to the error
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// Build creates the EnhancedError
func (eb *ErrorBuilder) Build() *EnhancedError {
	ee := &EnhancedError{
		Err:       eb.err,
		Component: eb.component,
		Category:  eb.category,
		Context:   eb.context,
		Timestamp: time.Now(),
	}
	if ee.Err == nil {
		ee.Err = stderrors.New("unknown error")
	}
	if ee.Component == "" {
		ee.Component = "unknown"
	}
	if ee.Category == "" {
		ee.Category = CategoryGeneric
	}
	return ee
}

// CategoryOf returns the category of the outermost EnhancedError in the chain
func CategoryOf(err error) ErrorCategory {
	var ee *EnhancedError
	if As(err, &ee) {
		return ee.Category
	}
	return ""
}

// IsCategory reports whether any EnhancedError in the chain has the category
func IsCategory(err error, category ErrorCategory) bool {
	for err != nil {
		var ee *EnhancedError
		if !As(err, &ee) {
			return false
		}
		if ee.Category == category {
			return true
		}
		err = ee.Err
	}
	return false
}

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool {
	return IsCategory(err, CategoryNotFound)
}

// IsConfiguration reports whether err is a configuration error
func IsConfiguration(err error) bool {
	return IsCategory(err, CategoryConfiguration)
}

// Is is a passthrough to the standard library
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is a passthrough to the standard library
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Join is a passthrough to the standard library
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// NewStd creates a plain error without enhancement
func NewStd(text string) error {
	return stderrors.New(text)
}
