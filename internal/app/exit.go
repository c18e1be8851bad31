package app

import (
	"github.com/cockroachdb/errors"

	"sgbackup/internal/sgb"
)

// Process exit codes.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitUsage    = 2
	ExitNoOutput = 3
)

// ExitError carries the process exit code for an error.
type ExitError struct {
	Err  error
	Code int
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// Usage wraps err so that it exits with ExitUsage.
func Usage(err error) error {
	return &ExitError{Err: err, Code: ExitUsage}
}

// ExitCode maps an error to the process exit code. An explicit ExitError
// wins; otherwise invalid configuration and arguments exit with
// ExitUsage, an archiver that wrote nothing with ExitNoOutput and every
// other error with ExitFailure.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	switch {
	case errors.Is(err, sgb.ErrConfigInvalid):
		return ExitUsage
	case errors.Is(err, sgb.ErrNoOutput):
		return ExitNoOutput
	}
	return ExitFailure
}
