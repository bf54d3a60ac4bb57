package protocol

import "strconv"

// Format builds the response line for word and counter.
// The returned slice is freshly allocated and owned by the caller.
func Format(word string, counter uint64) []byte {
	buf := make([]byte, 0, len(word)+22)
	return AppendFormat(buf, word, counter)
}

// AppendFormat appends the response line for word and counter to dst.
func AppendFormat(dst []byte, word string, counter uint64) []byte {
	dst = append(dst, word...)
	dst = append(dst, ' ')
	dst = strconv.AppendUint(dst, counter, 10)
	return append(dst, '\n')
}
