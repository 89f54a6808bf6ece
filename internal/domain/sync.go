package domain

// SyncOptions controls one synchronization of a source/destination pair
type SyncOptions struct {
	// Selection limits the run to these source files; empty means all
	Selection []DpFile

	// ForceSync transfers files even when they already match the destination
	ForceSync bool

	// DeleteFiles removes destination files that are not on the source
	DeleteFiles bool

	// DeletePackages removes destination package records not on the source
	DeletePackages bool
}

// TaskState is a step of the synchronize task state machine
type TaskState int

const (
	StateIdle TaskState = iota
	StatePreparingSource
	StatePreparingDestination
	StateListingSource
	StateListingDestination
	StateTransferring
	StateDeletingOnDestination
	StateDeletingMetadata
	StateDone
)

// String returns the string representation of the state
func (s TaskState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparingSource:
		return "preparing-source"
	case StatePreparingDestination:
		return "preparing-destination"
	case StateListingSource:
		return "listing-source"
	case StateListingDestination:
		return "listing-destination"
	case StateTransferring:
		return "transferring"
	case StateDeletingOnDestination:
		return "deleting-on-destination"
	case StateDeletingMetadata:
		return "deleting-metadata"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// TransferStatus summarizes a batch transfer
type TransferStatus string

const (
	TransferSuccess  TransferStatus = "success"
	TransferPartial  TransferStatus = "partial"
	TransferFailed   TransferStatus = "failed"
	TransferCanceled TransferStatus = "canceled"
)

// TransferResult is the outcome of one batch transfer
type TransferResult struct {
	Status           TransferStatus
	FilesTransferred int
	FilesFailed      int
	BytesTransferred int64
}
