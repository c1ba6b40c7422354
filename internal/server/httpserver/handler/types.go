package handler

import "time"

// Response is the standard API response envelope.
// All JSON responses use this format (except /metrics which uses Prometheus format).
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// HealthResponse is the body of GET /health and GET /ready.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

// KeyResponse is the body of GET /v1/keys/{key}. Value is base64 encoded
// by encoding/json.
type KeyResponse struct {
	Key       string     `json:"key"`
	Value     []byte     `json:"value"`
	Flags     uint32     `json:"flags"`
	Version   uint64     `json:"version"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	TTLMillis int64      `json:"ttl_ms"`
}

// SnapshotResponse is the body of POST /admin/v1/snapshot.
type SnapshotResponse struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Size       int64     `json:"size" table:"bytes"`
	LastSeq    uint64    `json:"last_seq"`
	WALSegment uint64    `json:"wal_segment"`
	EntryCount int64     `json:"entry_count"`
	CreatedAt  time.Time `json:"created_at"`
	Encrypted  bool      `json:"encrypted"`
}

// SweepResponse is the body of POST /admin/v1/sweep.
type SweepResponse struct {
	Removed     int    `json:"removed"`
	TriggeredAt string `json:"triggered_at"`
}
