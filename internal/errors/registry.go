package errors

import "sort"

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Command Line Errors (E100-E109)
	// ============================================

	"E100": {
		Category:   CategoryCLI,
		Message:    "Invalid port",
		Detail:     "The port argument must be a whole number between 0 and 65535.",
		Suggestion: "Run seqlined with a port such as 4567, or omit it to use the default.",
	},
	"E101": {
		Category:   CategoryCLI,
		Message:    "Invalid flag value",
		Detail:     "A command line flag has a value seqlined does not understand.",
		Suggestion: "Run seqlined --help to see the accepted values.",
	},

	// ============================================
	// Configuration Errors (E110-E119)
	// ============================================

	"E110": {
		Category:   CategoryConfig,
		Message:    "Invalid configuration file",
		Detail:     "The configuration file could not be parsed or contains a value the server cannot run with.",
		Suggestion: "Fix the value on the highlighted line.",
	},
	"E111": {
		Category:   CategoryConfig,
		Message:    "Configuration file unreadable",
		Detail:     "The configuration file exists but could not be read.",
		Suggestion: "Check the file's permissions, or pass --config with another path.",
	},

	// ============================================
	// Network Errors (E120-E129)
	// ============================================

	"E120": {
		Category:   CategoryNetwork,
		Message:    "Cannot listen on address",
		Detail:     "The listening socket could not be bound. Another process may already be using the port.",
		Suggestion: "Choose a different port, or stop the process that holds it.",
	},
	"E121": {
		Category:   CategoryNetwork,
		Message:    "Cannot start admin listener",
		Detail:     "The admin HTTP endpoint could not be bound.",
		Suggestion: "Choose a different --admin-addr, or leave it empty to disable the endpoint.",
	},

	// ============================================
	// Runtime Errors (E130-E139)
	// ============================================

	"E130": {
		Category:   CategoryRuntime,
		Message:    "Unsupported platform",
		Detail:     "The event loop needs epoll, which is only available on Linux.",
		Suggestion: "Run seqlined on Linux, for example in a container.",
	},
	"E131": {
		Category: CategoryRuntime,
		Message:  "Server stopped unexpectedly",
		Detail:   "The event loop or the response writer failed while serving.",
	},
}

// GetAllCodes returns all registered error codes in order.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for a given error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a custom error template.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}
