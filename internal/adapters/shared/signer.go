package shared

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	"github.com/coachpo/venuelink/errs"
	"github.com/coachpo/venuelink/internal/schema"
)

// Encoding selects the text form of a signature.
type Encoding uint8

const (
	// EncodingHex is used for websocket authentication frames.
	EncodingHex Encoding = iota
	// EncodingBase64 is used for REST headers.
	EncodingBase64
)

// Signer derives HMAC-SHA256 signatures from the credential secret.
type Signer struct {
	key    string
	secret []byte
}

// NewSigner validates the credential and returns a signer bound to it.
func NewSigner(exchange string, cred schema.Credential) (*Signer, error) {
	if cred.Empty() {
		return nil, errs.New(exchange, errs.CodeInvalid,
			errs.WithMessage("credential key and secret required"),
			errs.WithCanonicalCode(errs.CanonicalMissingCredentials))
	}
	return &Signer{key: cred.Key, secret: []byte(cred.Secret)}, nil
}

// Key returns the public half of the credential.
func (s *Signer) Key() string { return s.key }

// Sign concatenates parts in the given order and returns the encoded HMAC.
// The parts must be byte-identical to what the exchange will see on the wire.
func (s *Signer) Sign(enc Encoding, parts ...string) string {
	mac := hmac.New(sha256.New, s.secret)
	for _, part := range parts {
		_, _ = mac.Write([]byte(part))
	}
	sum := mac.Sum(nil)
	if enc == EncodingBase64 {
		return base64.StdEncoding.EncodeToString(sum)
	}
	return hex.EncodeToString(sum)
}
