// Package captcha issues and verifies ALTCHA proof-of-work challenges.
package captcha

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/altcha-org/altcha-lib-go"
	"github.com/rs/zerolog/log"
)

const (
	// MinPayloadLength rejects obviously malformed payloads before any
	// decoding happens. Real payloads are well above this.
	MinPayloadLength = 100
	// ChallengeTTL is how long an issued challenge may be solved for.
	ChallengeTTL = 5 * time.Minute
	// DefaultMaxNumber bounds the client's search space.
	DefaultMaxNumber = 100000
)

// ErrNoKey is returned when the HMAC key is not configured.
var ErrNoKey = errors.New("ALTCHA HMAC key not configured")

// Verifier issues challenges and checks solutions against an HMAC key.
type Verifier struct {
	HMACKey   string
	MaxNumber int64

	// verify is swapped out in tests to observe delegation.
	verify func(payload string, hmacKey string) (bool, error)
}

// NewVerifier returns a Verifier with the given key and search bound.
func NewVerifier(hmacKey string, maxNumber int64) *Verifier {
	if maxNumber <= 0 {
		maxNumber = DefaultMaxNumber
	}
	return &Verifier{HMACKey: hmacKey, MaxNumber: maxNumber}
}

// Challenge creates a signed challenge expiring after ChallengeTTL.
func (v *Verifier) Challenge() (altcha.Challenge, error) {
	if v.HMACKey == "" {
		return altcha.Challenge{}, ErrNoKey
	}
	expires := time.Now().Add(ChallengeTTL)
	return altcha.CreateChallenge(altcha.ChallengeOptions{
		Algorithm: altcha.SHA256,
		MaxNumber: v.MaxNumber,
		HMACKey:   v.HMACKey,
		Expires:   &expires,
	})
}

// Verify checks a base64-encoded solution payload. It never panics and
// reports every failure, including misconfiguration, as false.
func (v *Verifier) Verify(payload string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("altcha verification panicked")
			ok = false
		}
	}()
	if v.HMACKey == "" {
		log.Error().Err(ErrNoKey).Msg("rejecting altcha payload")
		return false
	}
	if len(payload) < MinPayloadLength {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return false
	}
	if !json.Valid(decoded) {
		return false
	}
	verify := v.verify
	if verify == nil {
		verify = verifySolution
	}
	ok, err = verify(payload, v.HMACKey)
	if err != nil {
		log.Debug().Err(err).Msg("altcha verification failed")
		return false
	}
	return ok
}

func verifySolution(payload string, hmacKey string) (bool, error) {
	// Expiry is always enforced.
	return altcha.VerifySolution(payload, hmacKey, true)
}
