package executor

import (
	"errors"

	"datagate/internal/apierr"
)

// ExceptionParser turns driver errors into classified API errors.
type ExceptionParser struct {
	DeveloperMode bool
	IsBadInput    func(error) bool
}

// Parse classifies err. Values the database rejected become 400
// DatabaseInputError; everything else is a 500. Driver messages reach the
// client only in development mode.
func (p ExceptionParser) Parse(err error) error {
	if err == nil {
		return nil
	}
	var ae *apierr.Error
	if errors.As(err, &ae) {
		return ae
	}
	msg := apierr.GenericDBErrorMessage
	if p.DeveloperMode {
		msg = err.Error()
	}
	if p.IsBadInput != nil && p.IsBadInput(err) {
		return apierr.Wrap(err, apierr.DatabaseInputError, "%s", msg)
	}
	return apierr.Wrap(err, apierr.DatabaseOperationFailed, "%s", msg)
}
