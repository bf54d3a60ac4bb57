package errors

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
)

// Category represents the type of error.
type Category string

const (
	CategoryCLI     Category = "cli"
	CategoryConfig  Category = "config"
	CategoryNetwork Category = "network"
	CategoryRuntime Category = "runtime"
)

// Location represents a position in a file.
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column,omitempty"`
}

// String returns the location as a formatted string.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// SeqlineError is a structured error with location, suggestion and cause.
type SeqlineError struct {
	// Code is a unique error identifier (e.g., "E100").
	Code string

	// Category is the error type (cli, config, network, runtime).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Location is the file position the error refers to, if any.
	Location *Location

	// Context contains the lines surrounding Location, starting at line
	// ContextStart.
	Context      []string
	ContextStart int

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *SeqlineError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *SeqlineError) Unwrap() error {
	return e.Wrapped
}

// WithLocation adds a file position to the error.
func (e *SeqlineError) WithLocation(file string, line, column int) *SeqlineError {
	e.Location = &Location{File: file, Line: line, Column: column}
	e.ContextStart, e.Context = readExcerpt(file, line, contextRadius)
	return e
}

// yamlLine matches the position yaml.v3 puts in its error messages.
var yamlLine = regexp.MustCompile(`line (\d+)`)

// WithLocationFromError points the error at the line named in a YAML
// decode error, if there is one.
func (e *SeqlineError) WithLocationFromError(file string, err error) *SeqlineError {
	if err == nil {
		return e
	}
	m := yamlLine.FindStringSubmatch(err.Error())
	if m == nil {
		return e
	}
	line, convErr := strconv.Atoi(m[1])
	if convErr != nil || line <= 0 {
		return e
	}
	return e.WithLocation(file, line, 0)
}

// WithSuggestion adds a fix suggestion to the error.
func (e *SeqlineError) WithSuggestion(s string) *SeqlineError {
	e.Suggestion = s
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *SeqlineError) WithDetail(d string) *SeqlineError {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *SeqlineError) Wrap(err error) *SeqlineError {
	e.Wrapped = err
	return e
}

// contextRadius is how many lines are shown on each side of a location.
const contextRadius = 2

// readExcerpt returns the lines of filename within radius of line, and
// the number of the first one. It returns nothing if the file cannot be
// read or is shorter than line.
func readExcerpt(filename string, line, radius int) (int, []string) {
	file, err := os.Open(filename)
	if err != nil {
		return 0, nil
	}
	defer file.Close()

	first := max(1, line-radius)
	last := line + radius

	var lines []string
	scanner := bufio.NewScanner(file)
	for n := 1; n <= last && scanner.Scan(); n++ {
		if n >= first {
			lines = append(lines, scanner.Text())
		}
	}
	if first+len(lines)-1 < line {
		return 0, nil
	}
	return first, lines
}

// New creates a SeqlineError from a registered error code.
func New(code string) *SeqlineError {
	template, ok := registry[code]
	if !ok {
		return &SeqlineError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &SeqlineError{
		Code:       code,
		Category:   template.Category,
		Message:    template.Message,
		Detail:     template.Detail,
		Suggestion: template.Suggestion,
	}
}

// Newf creates a new SeqlineError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *SeqlineError {
	return &SeqlineError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in a SeqlineError. An error that already
// contains a SeqlineError is returned as that error.
func FromError(err error, code string) *SeqlineError {
	if err == nil {
		return nil
	}
	var se *SeqlineError
	if errors.As(err, &se) {
		return se
	}
	return New(code).Wrap(err)
}
