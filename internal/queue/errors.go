package queue

import "errors"

// ErrInvalidRequest reports an enqueue call that violates the request data model.
var ErrInvalidRequest = errors.New("invalid request")

// ErrorClassifier allows executor errors to declare their classification.
// Errors that implement this interface can mark a failure as terminal so the
// engine evicts the request instead of retrying it, when configured to.
type ErrorClassifier interface {
	// ErrorKind returns a string classification of the error.
	// Known kinds treated as terminal: "terminal", "validation", "not_found".
	// All other kinds are transient.
	ErrorKind() string
}

// IsTerminal reports whether an executor failure will never succeed on retry.
func IsTerminal(err error) bool {
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		switch classifier.ErrorKind() {
		case "terminal", "validation", "not_found":
			return true
		}
	}
	return false
}
