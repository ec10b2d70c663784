// Package errorkinds holds the sentinel error values that are shared
// between the daemon core, the transfer engine and the platform layers.
package errorkinds

import "errors"

// Generic error values for various operations.
var (
	// ErrAdapterNotFound indicates that an adapter does not exist
	// in the adapter store.
	ErrAdapterNotFound = errors.New("adapter not found")

	// ErrSessionNotExist indicates that an object exchange session
	// is not open.
	ErrSessionNotExist = errors.New("session does not exist")

	// ErrTransferActive indicates that an exchange is already attached
	// to a transfer.
	ErrTransferActive = errors.New("transfer already active")

	// ErrTransferNotConnected indicates that an exchange could not be
	// started on the underlying transport.
	ErrTransferNotConnected = errors.New("transfer not connected")

	// ErrTransferCanceled is handed to the transfer callback when a
	// transfer is aborted.
	ErrTransferCanceled = errors.New("transfer canceled")

	// ErrNotAuthorized indicates that the requester of an operation does
	// not match the session's controlling agent.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrStateNotFound indicates that no persisted state exists for an
	// adapter, as distinct from a read failure.
	ErrStateNotFound = errors.New("no persisted state")

	// ErrFrameIrrelevant indicates a control-channel frame that is valid
	// but not an adapter lifecycle notification.
	ErrFrameIrrelevant = errors.New("frame not relevant")

	// ErrNotSupported indicates an unsupported operation.
	ErrNotSupported = errors.New("operation not supported")
)

// GenericError describes a generic error with associated data.
type GenericError struct {
	// Error holds the error message.
	Error string `json:"error,omitempty" codec:"Error,omitempty" doc:"The error message."`
}
