package scheduler

// errorKind enumerates the error taxonomy as it appears inside eventbus
// error-event payloads.
type errorKind string

const (
	errKindTimeout            errorKind = "timeout"
	errKindCancelled          errorKind = "cancelled"
	errKindModelPermanent     errorKind = "model_permanent"
	errKindSelectionFailure   errorKind = "selection_failure"
	errKindInternal           errorKind = "internal"
)

// errorPayload is the data field of an error event.
type errorPayload struct {
	Kind    errorKind `json:"kind"`
	Message string    `json:"message"`
}
