package api

// SubmitMotionRequest is the wire format the edge relay POSTs to /motion.
// Timestamp is optional epoch milliseconds; the server never trusts it
// blindly.
type SubmitMotionRequest struct {
	Sensor    string `json:"sensor"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type SubmitMotionResponse struct {
	Status string `json:"status"` // "ok" or "duplicate"
}

type MotionEventResponse struct {
	Sensor     string `json:"sensor"`
	Timestamp  int64  `json:"timestamp"`
	ReceivedAt int64  `json:"received_at"`
	Type       string `json:"type"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	StatusOK        = "ok"
	StatusDuplicate = "duplicate"

	ErrorInvalidRequest   = "InvalidRequest"
	ErrorStoreUnavailable = "StoreUnavailable"
)
