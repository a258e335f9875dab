// Package docstore is the authenticated task document service. The Service
// answers NATS requests backed by SQLite and streams per-owner snapshots; the
// Client is the matching remote repository and identity provider.
package docstore

import (
	"errors"
	"fmt"

	"github.com/taskboard/internal/auth"
	natsc "github.com/taskboard/internal/nats"
	"github.com/taskboard/internal/tasks"
)

var (
	ErrPermissionDenied = errors.New("missing or insufficient permissions")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrInternal         = errors.New("internal error")
)

// known errors travel by message and are restored to the same sentinel
var knownErrors = []error{
	auth.ErrInvalidEmail,
	auth.ErrWeakPassword,
	auth.ErrEmailInUse,
	auth.ErrInvalidCredentials,
	auth.ErrUnauthenticated,
	tasks.ErrNotFound,
	tasks.ErrEmptyTitle,
	tasks.ErrInvalidStatus,
	tasks.ErrInvalidDueDate,
	ErrPermissionDenied,
}

// codeFor classifies a service error for the wire
func codeFor(err error) string {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return natsc.CodeUnauthenticated
	case errors.Is(err, ErrPermissionDenied):
		return natsc.CodePermissionDenied
	case errors.Is(err, tasks.ErrNotFound):
		return natsc.CodeNotFound
	case errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrEmailInUse),
		errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, tasks.ErrEmptyTitle),
		errors.Is(err, tasks.ErrInvalidStatus),
		errors.Is(err, tasks.ErrInvalidDueDate),
		errors.Is(err, ErrInvalidArgument):
		return natsc.CodeInvalidArgument
	}
	return natsc.CodeInternal
}

// errorReply builds the failure envelope. Internal errors are not echoed.
func errorReply(err error) natsc.Reply {
	code := codeFor(err)
	msg := err.Error()
	if code == natsc.CodeInternal {
		msg = ErrInternal.Error()
	}
	for _, known := range knownErrors {
		if errors.Is(err, known) {
			msg = known.Error()
			break
		}
	}
	return natsc.Reply{OK: false, Error: msg, Code: code}
}

// decodeError turns a failure envelope back into an error
func decodeError(r natsc.Reply) error {
	if r.OK {
		return nil
	}
	for _, known := range knownErrors {
		if r.Error == known.Error() {
			return known
		}
	}
	switch r.Code {
	case natsc.CodeUnauthenticated:
		return auth.ErrUnauthenticated
	case natsc.CodePermissionDenied:
		return ErrPermissionDenied
	case natsc.CodeNotFound:
		return fmt.Errorf("%w: %s", tasks.ErrNotFound, r.Error)
	case natsc.CodeInvalidArgument:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, r.Error)
	}
	if r.Error == "" {
		return ErrInternal
	}
	return fmt.Errorf("%w: %s", ErrInternal, r.Error)
}
