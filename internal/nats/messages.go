package nats

import (
	"fmt"

	"github.com/taskboard/internal/tasks"
)

// Subject constants for the document service
const (
	SubjectAuthSignUp  = "docstore.auth.signup"
	SubjectAuthSignIn  = "docstore.auth.signin"
	SubjectAuthSignOut = "docstore.auth.signout"
	SubjectAuthResolve = "docstore.auth.resolve"

	SubjectTasksList   = "docstore.tasks.list"
	SubjectTasksCreate = "docstore.tasks.create"
	SubjectTasksUpdate = "docstore.tasks.update"
	SubjectTasksDelete = "docstore.tasks.delete"

	// SubjectTasksSnapshot is the pattern for an owner's snapshot stream
	// Use SnapshotSubject(ownerID) to create specific subjects
	SubjectTasksSnapshot = "docstore.tasks.%s.snapshot"

	// SubjectAllSnapshots matches every owner's snapshot stream
	SubjectAllSnapshots = "docstore.tasks.*.snapshot"

	// ServiceQueue load-balances requests across service instances
	ServiceQueue = "docstore"
)

// SnapshotSubject returns the snapshot subject for an owner
func SnapshotSubject(ownerID string) string {
	return fmt.Sprintf(SubjectTasksSnapshot, ownerID)
}

// Error codes carried in Reply.Code
const (
	CodeInvalidArgument  = "invalid_argument"
	CodeNotFound         = "not_found"
	CodePermissionDenied = "permission_denied"
	CodeUnauthenticated  = "unauthenticated"
	CodeInternal         = "internal"
)

// Reply is the envelope every service response starts with
type Reply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// CredentialsRequest carries an email/password pair
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenRequest identifies a session
type TokenRequest struct {
	Token string `json:"token"`
}

// AuthReply answers sign-up, sign-in and resolve
type AuthReply struct {
	Reply
	UID   string `json:"uid,omitempty"`
	Email string `json:"email,omitempty"`
	Token string `json:"token,omitempty"`
}

// ListRequest asks for an owner's current collection
type ListRequest struct {
	Token   string `json:"token"`
	OwnerID string `json:"owner_id"`
}

// CreateRequest stores a new task; the service stamps created_at
type CreateRequest struct {
	Token   string     `json:"token"`
	OwnerID string     `json:"owner_id"`
	Task    tasks.Task `json:"task"`
}

// UpdateRequest changes one task's status
type UpdateRequest struct {
	Token   string       `json:"token"`
	OwnerID string       `json:"owner_id"`
	ID      string       `json:"id"`
	Status  tasks.Status `json:"status"`
}

// DeleteRequest removes one task
type DeleteRequest struct {
	Token   string `json:"token"`
	OwnerID string `json:"owner_id"`
	ID      string `json:"id"`
}

// SnapshotMessage is an owner's full collection, newest first. Revision
// increases with every change so receivers can discard out-of-order copies.
type SnapshotMessage struct {
	Reply
	OwnerID  string       `json:"owner_id"`
	Revision uint64       `json:"revision"`
	Tasks    []tasks.Task `json:"tasks"`
}
