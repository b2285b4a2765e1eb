// Package codec decodes the encrypted alert envelope sent by mobile clients.
// The wire format is base64 over a JSON document carrying location, message
// and client timestamp.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sos-guardian/internal/model"
)

const (
	// MaxMessageBytes bounds the free-text message carried in an alert.
	MaxMessageBytes = 2000

	// TimestampSkew is how far a client timestamp may drift from server
	// receipt time before it is flagged as implausible.
	TimestampSkew = 24 * time.Hour
)

var (
	ErrBadEncoding = errors.New("envelope is not valid base64")
	ErrBadPayload  = errors.New("envelope payload is malformed")

	// ErrImplausibleTimestamp is non-fatal: the decoded location is still
	// usable, only the client clock is suspect.
	ErrImplausibleTimestamp = errors.New("implausible client timestamp")
)

type envelope struct {
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	Message   *string  `json:"message"`
	Timestamp *int64   `json:"timestamp"`
}

// Decode parses a raw envelope against the server receipt time now.
//
// On ErrImplausibleTimestamp the returned payload is still populated; every
// other error returns a nil payload. Callers must persist the raw blob
// regardless of the outcome.
func Decode(raw string, now time.Time) (*model.DecodedPayload, error) {
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, ErrBadEncoding
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if env.Lat == nil || env.Lon == nil || env.Message == nil || env.Timestamp == nil {
		return nil, fmt.Errorf("%w: missing required field", ErrBadPayload)
	}
	if *env.Lat < -90 || *env.Lat > 90 {
		return nil, fmt.Errorf("%w: lat out of range", ErrBadPayload)
	}
	if *env.Lon < -180 || *env.Lon > 180 {
		return nil, fmt.Errorf("%w: lon out of range", ErrBadPayload)
	}
	if len(*env.Message) > MaxMessageBytes {
		return nil, fmt.Errorf("%w: message too long", ErrBadPayload)
	}

	payload := &model.DecodedPayload{
		Lat:       *env.Lat,
		Lon:       *env.Lon,
		Message:   *env.Message,
		Timestamp: *env.Timestamp,
	}

	skew := now.Unix() - *env.Timestamp
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > TimestampSkew {
		return payload, ErrImplausibleTimestamp
	}

	return payload, nil
}
