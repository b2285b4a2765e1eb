package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"

	"sos-guardian/internal/model"
)

// MaxRawKeyBytes bounds opaque keys registered with key_type "raw".
const MaxRawKeyBytes = 1024

var (
	ErrInvalidPublicKey = errors.New("Invalid public key")
	ErrInvalidSignature = errors.New("Invalid signature")
	ErrUnsupportedKey   = errors.New("Unsupported key type")
)

// ParsePublicKey validates a registration key against its declared type and
// returns the raw key bytes. Ed25519 keys arrive base64-encoded and must be
// exactly ed25519.PublicKeySize; raw keys are opaque and only size-bounded.
func ParsePublicKey(encoded string, keyType model.KeyType) ([]byte, error) {
	switch keyType {
	case model.KeyTypeEd25519:
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil || len(key) != ed25519.PublicKeySize {
			return nil, ErrInvalidPublicKey
		}
		return key, nil
	case model.KeyTypeRaw:
		if encoded == "" || len(encoded) > MaxRawKeyBytes {
			return nil, ErrInvalidPublicKey
		}
		return []byte(encoded), nil
	default:
		return nil, ErrUnsupportedKey
	}
}

// VerifySignature checks an ed25519 signature over a challenge, both base64.
func VerifySignature(publicKey []byte, challengeB64, signatureB64 string) error {
	if len(publicKey) != ed25519.PublicKeySize {
		return ErrInvalidPublicKey
	}

	challenge, err := base64.StdEncoding.DecodeString(challengeB64)
	if err != nil || len(challenge) == 0 {
		return ErrInvalidSignature
	}

	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil || len(signature) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}

	if !ed25519.Verify(ed25519.PublicKey(publicKey), challenge, signature) {
		return ErrInvalidSignature
	}
	return nil
}
