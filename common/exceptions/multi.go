package exceptions

import (
	"strings"
)

type multiError struct {
	errors []error
}

func (e *multiError) Error() string {
	messages := make([]string, 0, len(e.errors))
	for _, err := range e.errors {
		messages = append(messages, err.Error())
	}
	return "multi error: (" + strings.Join(messages, " | ") + ")"
}

func (e *multiError) Unwrap() []error {
	return e.errors
}

// Errors drops nil entries and returns nil, the single remaining error, or a
// combined error that unwraps to all of them.
func Errors(errors ...error) error {
	var nonNil []error
	for _, err := range errors {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		return &multiError{nonNil}
	}
}
