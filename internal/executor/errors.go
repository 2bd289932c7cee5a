package executor

import (
	"fmt"
	"net/http"
	"strings"
)

// Error kinds reported through ErrorKind.
const (
	KindTerminal  = "terminal"
	KindTransient = "transient"
)

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: upstream returned %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	if body := strings.TrimSpace(e.Body); body != "" {
		msg += ": " + body
	}
	return msg
}

// ErrorKind classifies client errors as terminal, except those that signal a
// retry is worthwhile (timeout, too early, rate limited).
func (e *StatusError) ErrorKind() string {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return KindTransient
	}
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return KindTerminal
	}
	return KindTransient
}
