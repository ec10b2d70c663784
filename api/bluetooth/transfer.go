package bluetooth

// TransferStatus describes the status of an object transfer.
type TransferStatus string

// The different transfer status types.
const (
	TransferQueued   TransferStatus = "queued"
	TransferActive   TransferStatus = "active"
	TransferComplete TransferStatus = "complete"
	TransferError    TransferStatus = "error"
	TransferCanceled TransferStatus = "canceled"
)

// TransferData holds the static data for an object transfer.
type TransferData struct {
	// Name is the name of the object being transferred.
	Name string `json:"name,omitempty" codec:"Name,omitempty" doc:"The name of the object being transferred."`

	// Type is the type of the object (mime-type).
	Type string `json:"type,omitempty" codec:"Type,omitempty" doc:"The type of the object (mime-type)."`

	// Filename is the complete name of the file.
	Filename string `json:"filename,omitempty" codec:"Filename,omitempty" doc:"The complete name of the file."`

	TransferEventData
}

// TransferEventData holds the dynamic (variable) data for an object transfer.
// This is primarily used to send transfer event related data.
type TransferEventData struct {
	// SessionID holds the identifier of the session the transfer
	// belongs to.
	SessionID string `json:"session_id,omitempty" codec:"SessionID,omitempty" doc:"The identifier of the owning session."`

	// Status indicates the transfer status.
	Status TransferStatus `json:"status,omitempty" codec:"Status,omitempty" enum:"queued,active,complete,error,canceled" doc:"Indicates the transfer status."`

	// Size holds the total size of the object in bytes.
	Size uint64 `json:"size,omitempty" codec:"Size,omitempty" doc:"The total size of the object in bytes."`

	// Transferred holds the cumulative number of bytes moved so far.
	Transferred uint64 `json:"transferred,omitempty" codec:"Transferred,omitempty" doc:"The cumulative number of bytes moved so far."`
}
