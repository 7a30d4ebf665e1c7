// Package access decides who may do what to a document. Every decision is a
// pure function of a document snapshot and the caller's email; there is no
// I/O here and callers must resolve document existence before asking.
package access

import (
	"errors"
	"strings"
)

// Snapshot is the slice of document state authorization depends on.
// OwnerEmail is structural ownership (the user the document is stored
// under), which is not the same thing as appearing in AllowedUsers.
type Snapshot struct {
	OwnerEmail   string
	AllowedUsers []string
}

type Action string

const (
	ActionRead          Action = "read"
	ActionWrite         Action = "write"
	ActionManageEditors Action = "manage-editors"
	ActionInvite        Action = "invite"
)

var (
	// ErrUnauthenticated means no caller identity was presented.
	ErrUnauthenticated = errors.New("caller not authenticated")
	// ErrNotAllowed means the caller is known but lacks the right.
	ErrNotAllowed = errors.New("caller not allowed")
)

// Can reports whether caller may perform action on the document. Read and
// write share the allowed-users gate; there is no read-only tier. Changing
// the editor list and sending invitations are owner-only.
func Can(doc Snapshot, caller string, action Action) bool {
	switch action {
	case ActionRead, ActionWrite:
		return isAllowedUser(doc, caller)
	case ActionManageEditors, ActionInvite:
		return caller == doc.OwnerEmail
	default:
		return false
	}
}

// Authorize is Can with the error taxonomy: a blank caller short-circuits to
// ErrUnauthenticated before membership is ever evaluated.
func Authorize(doc Snapshot, caller string, action Action) error {
	if strings.TrimSpace(caller) == "" {
		return ErrUnauthenticated
	}
	if !Can(doc, caller, action) {
		return ErrNotAllowed
	}
	return nil
}

func isAllowedUser(doc Snapshot, caller string) bool {
	for _, email := range doc.AllowedUsers {
		if email == caller {
			return true
		}
	}
	return false
}
