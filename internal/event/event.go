// internal/event/event.go
// Package event defines the wire schema shared by the input and output
// topics together with the record-level validation applied at the
// consume boundary.
package event

import (
	"encoding/json"
	"fmt"
)

// Raw is one user-login record as read from the input topic, after
// validation. It is immutable for the duration of a processing pass.
type Raw struct {
	UserID     string `json:"user_id"`
	AppVersion string `json:"app_version"`
	DeviceType string `json:"device_type"`
	IP         string `json:"ip"`
	Locale     string `json:"locale"`
	Timestamp  int64  `json:"timestamp"`
}

// Processed is the transformed record published to the output topic.
// The schema is identical to Raw plus the processed marker, which is
// always true once the stage has produced it.
type Processed struct {
	Raw
	Processed bool `json:"processed"`
	// Bucket is the minute-granularity traffic bucket derived from
	// Timestamp. It feeds the aggregation engine and is not part of
	// the output wire contract.
	Bucket string `json:"-"`
}

// DecodeError reports a record that failed validation at the consume
// boundary. It carries the raw payload so the caller can log it.
type DecodeError struct {
	Reason string
	Raw    []byte
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode event: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode event: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// wire mirrors Raw with pointer fields so missing required fields can
// be told apart from zero values. Unknown extra fields are ignored.
type wire struct {
	UserID     *string `json:"user_id"`
	AppVersion *string `json:"app_version"`
	DeviceType *string `json:"device_type"`
	IP         *string `json:"ip"`
	Locale     *string `json:"locale"`
	Timestamp  *int64  `json:"timestamp"`
}

// Decode parses and validates one input record. A record without a
// user_id or timestamp is rejected here; dimension fields may be
// absent and default to the empty string so the aggregation engine can
// still count them under their literal value.
func Decode(b []byte) (Raw, error) {
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return Raw{}, &DecodeError{Reason: "invalid JSON", Raw: b, Err: err}
	}
	if w.UserID == nil || *w.UserID == "" {
		return Raw{}, &DecodeError{Reason: "missing required field user_id", Raw: b}
	}
	if w.Timestamp == nil {
		return Raw{}, &DecodeError{Reason: "missing required field timestamp", Raw: b}
	}
	r := Raw{
		UserID:    *w.UserID,
		Timestamp: *w.Timestamp,
	}
	if w.AppVersion != nil {
		r.AppVersion = *w.AppVersion
	}
	if w.DeviceType != nil {
		r.DeviceType = *w.DeviceType
	}
	if w.IP != nil {
		r.IP = *w.IP
	}
	if w.Locale != nil {
		r.Locale = *w.Locale
	}
	return r, nil
}
