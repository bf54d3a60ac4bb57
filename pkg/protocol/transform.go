package protocol

import (
	"fmt"
	"strings"
)

// Transformer turns a request word into the word sent back to the client.
//
// Implementations may fail. Failures that wrap ErrTransform are considered
// recoverable and are subject to the server's retry policy; any other error
// drops the request.
type Transformer interface {
	Transform(word string) (string, error)
}

// TransformFunc adapts a function to the Transformer interface.
type TransformFunc func(word string) (string, error)

// Transform calls f(word).
func (f TransformFunc) Transform(word string) (string, error) {
	return f(word)
}

// TransformMode names a built-in transformer.
type TransformMode string

const (
	// TransformIdentity echoes the word unchanged.
	TransformIdentity TransformMode = "identity"

	// TransformReverse reverses the characters of the word.
	TransformReverse TransformMode = "reverse"
)

// String returns the mode name.
func (m TransformMode) String() string {
	return string(m)
}

// ParseTransformMode parses a mode name. It is case-insensitive.
func ParseTransformMode(s string) (TransformMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "identity", "echo", "none":
		return TransformIdentity, nil
	case "reverse", "reversal":
		return TransformReverse, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTransform, s)
	}
}

// Transformer returns the built-in Transformer for m.
// Unknown modes fall back to identity.
func (m TransformMode) Transformer() Transformer {
	if m == TransformReverse {
		return TransformFunc(reverse)
	}
	return TransformFunc(identity)
}

// Identity returns word unchanged.
func Identity(word string) string {
	return word
}

// Reverse returns word with its characters in reverse order.
func Reverse(word string) string {
	runes := []rune(word)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

func identity(word string) (string, error) { return Identity(word), nil }
func reverse(word string) (string, error)  { return Reverse(word), nil }
