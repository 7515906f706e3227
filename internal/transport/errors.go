package transport

import "errors"

// ErrPermanent marks a delivery failure that will never succeed for this
// recipient: the bot was blocked, the account is gone, the chat does not
// exist. Everything else is treated as transient.
var ErrPermanent = errors.New("recipient permanently unreachable")

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }

func (e permanentError) Unwrap() []error { return []error{ErrPermanent, e.err} }

// Permanent wraps err so IsPermanent reports true while errors.Is still
// matches the original error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool { return errors.Is(err, ErrPermanent) }
