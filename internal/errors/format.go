package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Style selects how an error is rendered.
type Style int

const (
	// StyleTerminal is a multi-line block with ANSI colour and an excerpt
	// of the offending file.
	StyleTerminal Style = iota

	// StylePlain is StyleTerminal without colour.
	StylePlain

	// StyleLine is a single line, for logs and pipes.
	StyleLine

	// StyleJSON is a single JSON object.
	StyleJSON
)

const (
	ansiReset = "\033[0m"
	ansiBold  = "\033[1m"
	ansiRed   = "\033[31m"
	ansiCyan  = "\033[36m"
	ansiGray  = "\033[90m"
)

// StyleFor picks the style for writing to f. JSON is used when asked for.
// Otherwise a terminal gets the block, coloured unless NO_COLOR is set,
// and anything else gets one line.
func StyleFor(f *os.File, jsonOutput bool) Style {
	switch {
	case jsonOutput:
		return StyleJSON
	case !isTerminal(f):
		return StyleLine
	case os.Getenv("NO_COLOR") != "":
		return StylePlain
	default:
		return StyleTerminal
	}
}

func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

// Render writes err to w in style, followed by a newline. An error that
// does not contain a SeqlineError is shown as an uncoded runtime error.
func Render(w io.Writer, err error, style Style) error {
	if err == nil {
		return nil
	}
	se := asSeqline(err)

	var out string
	switch style {
	case StyleJSON:
		out = se.JSON()
	case StyleLine:
		out = se.Line()
	case StylePlain:
		out = se.Block(false)
	default:
		out = se.Block(true)
	}
	_, werr := io.WriteString(w, out+"\n")
	return werr
}

// PrintError writes err to stderr in the style StyleFor chooses.
func PrintError(err error, jsonOutput bool) {
	_ = Render(os.Stderr, err, StyleFor(os.Stderr, jsonOutput))
}

func asSeqline(err error) *SeqlineError {
	var se *SeqlineError
	if errors.As(err, &se) {
		return se
	}
	return &SeqlineError{Category: CategoryRuntime, Message: err.Error()}
}

// Block renders the error as an indented block:
//
//	error E110: Invalid configuration file
//	  --> seqline.yaml:4
//	    3 | listen: ":4567"
//	  > 4 | buffer_size: lots
//	    5 | transform: reverse
//
//	  hint: Fix the value on the highlighted line.
//	  cause: yaml: unmarshal errors: ...
func (e *SeqlineError) Block(color bool) string {
	paint := func(code, s string) string {
		if !color {
			return s
		}
		return code + s + ansiReset
	}

	var b strings.Builder
	title := e.Message
	if e.Code != "" {
		title = e.Code + ": " + e.Message
	}
	fmt.Fprintf(&b, "%s %s\n", paint(ansiRed+ansiBold, "error"), paint(ansiBold, title))

	if e.Location != nil {
		fmt.Fprintf(&b, "  %s %s\n", paint(ansiGray, "-->"), paint(ansiCyan, e.Location.String()))
		e.writeExcerpt(&b, paint)
	}
	if e.Detail != "" {
		b.WriteString("\n")
		for _, line := range wrap(e.Detail, 72) {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&b, "\n  %s %s\n", paint(ansiCyan, "hint:"), e.Suggestion)
	}
	if e.Wrapped != nil {
		fmt.Fprintf(&b, "  %s %s\n", paint(ansiGray, "cause:"), e.Wrapped.Error())
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *SeqlineError) writeExcerpt(b *strings.Builder, paint func(code, s string) string) {
	if len(e.Context) == 0 || e.ContextStart <= 0 {
		return
	}
	width := len(strconv.Itoa(e.ContextStart + len(e.Context) - 1))
	bar := paint(ansiGray, "|")

	for i, text := range e.Context {
		n := e.ContextStart + i
		marker := " "
		if n == e.Location.Line {
			marker = paint(ansiRed, ">")
		}
		fmt.Fprintf(b, "  %s %*d %s %s\n", marker, width, n, bar, text)
		if n == e.Location.Line && e.Location.Column > 0 {
			fmt.Fprintf(b, "    %*s %s %s%s\n", width, "", bar,
				strings.Repeat(" ", e.Location.Column-1), paint(ansiRed, "^"))
		}
	}
}

// Line renders the error on one line: location, code, message, detail
// and cause separated by ": ".
func (e *SeqlineError) Line() string {
	parts := make([]string, 0, 5)
	if e.Location != nil {
		parts = append(parts, e.Location.String())
	}
	if e.Code != "" {
		parts = append(parts, e.Code)
	}
	parts = append(parts, e.Message)
	if e.Detail != "" {
		parts = append(parts, strings.TrimSuffix(e.Detail, "."))
	}
	if e.Wrapped != nil {
		parts = append(parts, strings.ReplaceAll(e.Wrapped.Error(), "\n", " "))
	}
	return strings.Join(parts, ": ")
}

type jsonError struct {
	Code       string    `json:"code,omitempty"`
	Category   Category  `json:"category,omitempty"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	Location   *Location `json:"location,omitempty"`
	Suggestion string    `json:"suggestion,omitempty"`
	Cause      string    `json:"cause,omitempty"`
}

// JSON renders the error as a JSON object.
func (e *SeqlineError) JSON() string {
	v := jsonError{
		Code:       e.Code,
		Category:   e.Category,
		Message:    e.Message,
		Detail:     e.Detail,
		Location:   e.Location,
		Suggestion: e.Suggestion,
	}
	if e.Wrapped != nil {
		v.Cause = e.Wrapped.Error()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return strconv.Quote(e.Error())
	}
	return string(data)
}

// wrap breaks text at spaces into lines of at most width bytes. A word
// longer than width gets a line of its own.
func wrap(text string, width int) []string {
	var (
		lines []string
		line  string
	)
	for _, word := range strings.Fields(text) {
		switch {
		case line == "":
			line = word
		case len(line)+1+len(word) > width:
			lines = append(lines, line)
			line = word
		default:
			line += " " + word
		}
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}
