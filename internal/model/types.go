package model

// EventStatus tracks an SOS event through the dispatch state machine.
// Transitions are one-directional except DispatchFailed -> Dispatching
// (manual retry).
type EventStatus string

const (
	StatusReceived       EventStatus = "Received"
	StatusDecoded        EventStatus = "Decoded"
	StatusDecodeFailed   EventStatus = "DecodeFailed"
	StatusDispatching    EventStatus = "Dispatching"
	StatusDispatched     EventStatus = "Dispatched"
	StatusDispatchFailed EventStatus = "DispatchFailed"
)

// Terminal reports whether the engine performs no further automatic
// transitions from this status. DispatchFailed stays re-triggerable through
// an explicit retry.
func (s EventStatus) Terminal() bool {
	return s == StatusDispatched || s == StatusDispatchFailed
}

func (s EventStatus) Valid() bool {
	switch s {
	case StatusReceived, StatusDecoded, StatusDecodeFailed,
		StatusDispatching, StatusDispatched, StatusDispatchFailed:
		return true
	}
	return false
}

type KeyType string

const (
	KeyTypeEd25519 KeyType = "ed25519"
	KeyTypeRaw     KeyType = "raw"
)

type Identity struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	DeviceID  string  `json:"device_id"`
	PublicKey []byte  `json:"identity_key_pub"`
	KeyType   KeyType `json:"key_type"`
	CreatedAt int64   `json:"created_at"`
}

type DecodedPayload struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Message   string  `json:"message"`
	Timestamp int64   `json:"timestamp"`
}

type SosEvent struct {
	SessionID       string          `json:"session_id"`
	Fingerprint     string          `json:"fingerprint"`
	CreatorDeviceID string          `json:"creator_device_id"`
	RawBlob         string          `json:"encrypted_session_blob"`
	Payload         *DecodedPayload `json:"payload,omitempty"`
	DecodeNote      string          `json:"decode_note,omitempty"`
	Status          EventStatus     `json:"status"`
	Attempts        int             `json:"attempts"`
	Cancelled       bool            `json:"cancelled"`
	CreatedAt       int64           `json:"created_at"`
	UpdatedAt       int64           `json:"updated_at"`
}
