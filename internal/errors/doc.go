// Package errors provides structured, actionable startup errors for seqline.
//
// Every failure that stops the daemon before it serves (a bad port argument,
// an unreadable config file, a listener that cannot bind) is reported as a
// SeqlineError with a stable code, a plain-language explanation and a hint.
//
// # Error Codes
//
//   - E100-E109: command line
//   - E110-E119: configuration file
//   - E120-E129: network
//   - E130-E139: runtime
//
// # Usage
//
//	err := errors.New("E110").
//	    WithLocation("seqline.yaml", 4, 0).
//	    Wrap(parseErr)
//
//	errors.Render(os.Stderr, err, errors.StylePlain)
//	// error E110: Invalid configuration file
//	//   --> seqline.yaml:4
//	//     3 | listen: ":4567"
//	//   > 4 | buffer_size: lots
//	//     5 | transform: reverse
//	//
//	//   hint: Fix the value on the highlighted line.
//
// PrintError picks the style from the destination: JSON when the daemon
// logs JSON, one line when stderr is not a terminal, the block otherwise.
package errors
