// Package gateway is the capability-gated client for the remote object store that holds
// the backup copy of every fuel entry.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeJPEG = "image/jpeg"
)

// ErrUnauthenticated indicates the capability yielded no valid bearer token.
var ErrUnauthenticated = errors.New("gateway: unauthenticated")

// Object names one remote object.
type Object struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Gateway is the remote object store as the sync engine sees it.
type Gateway interface {
	// EnsureFolder returns the folder named name under parentID, creating it when absent.
	// An empty parentID addresses the store root. Concurrent callers may create duplicates.
	EnsureFolder(ctx context.Context, name, parentID string) (string, error)
	// UploadBlob always creates a new object.
	UploadBlob(ctx context.Context, folderID, fileName string, data []byte, contentType string) (Object, error)
	ListJSONObjects(ctx context.Context, folderID string) ([]Object, error)
	DownloadObject(ctx context.Context, objectID string) ([]byte, error)
}

// NetworkFailure reports a transport-level failure.
type NetworkFailure struct {
	Operation string
	Err       error
}

func (e *NetworkFailure) Error() string {
	return fmt.Sprintf("gateway: %s: network failure: %v", e.Operation, e.Err)
}

func (e *NetworkFailure) Unwrap() error {
	return e.Err
}

// RemoteRejected reports a non-success status from the remote store.
type RemoteRejected struct {
	Operation string
	Status    int
	Message   string
}

func (e *RemoteRejected) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway: %s: remote rejected with status %d", e.Operation, e.Status)
	}
	return fmt.Sprintf("gateway: %s: remote rejected with status %d: %s", e.Operation, e.Status, e.Message)
}

// IsNetworkFailure reports whether err stems from the transport.
func IsNetworkFailure(err error) bool {
	var target *NetworkFailure
	return errors.As(err, &target)
}

// IsRemoteRejected reports whether err is a remote rejection, returning its status.
func IsRemoteRejected(err error) (int, bool) {
	var target *RemoteRejected
	if errors.As(err, &target) {
		return target.Status, true
	}
	return 0, false
}

// bearer resolves the capability into a usable token.
func bearer(tokens oauth2.TokenSource) (*oauth2.Token, error) {
	if tokens == nil {
		return nil, ErrUnauthenticated
	}
	token, err := tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !token.Valid() {
		return nil, ErrUnauthenticated
	}
	return token, nil
}
