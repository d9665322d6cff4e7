// Package mfa defines the pluggable second-factor verification capability.
package mfa

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Verifier checks a second-factor code for an identity. Deployments
// substitute their MFA provider behind this contract.
type Verifier interface {
	// Verify reports whether the code is currently valid for the identity.
	Verify(ctx context.Context, identityID, code string) (bool, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, identityID, code string) (bool, error)

// Verify implements Verifier.
func (f VerifierFunc) Verify(ctx context.Context, identityID, code string) (bool, error) {
	return f(ctx, identityID, code)
}

// TOTP parameters. RFC 6238 defaults; period and skew are fixed because
// the verifier derives seeds rather than provisioning external devices.
const (
	totpDigits = 6
	totpPeriod = 30 * time.Second
	totpSkew   = 1 // accept one step of clock drift in each direction
)

// TOTPVerifier is the reference Verifier. It derives a per-identity seed
// from a deployment secret via HKDF-SHA256 and verifies time-based
// HMAC-SHA1 codes against it.
type TOTPVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewTOTPVerifier creates a verifier keyed with the deployment secret.
func NewTOTPVerifier(secret []byte) *TOTPVerifier {
	s := make([]byte, len(secret))
	copy(s, secret)
	return &TOTPVerifier{secret: s, now: time.Now}
}

// SeedFor derives the base32-encoded TOTP seed for an identity, suitable
// for provisioning an authenticator.
func (v *TOTPVerifier) SeedFor(identityID string) (string, error) {
	raw, err := v.rawSeed(identityID)
	if err != nil {
		return "", err
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return strings.ToUpper(enc.EncodeToString(raw)), nil
}

// rawSeed derives 20 bytes (160-bit) of seed material for an identity.
func (v *TOTPVerifier) rawSeed(identityID string) ([]byte, error) {
	h := hkdf.New(sha256.New, v.secret, []byte(identityID), []byte("totp-seed"))
	out := make([]byte, 20)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Verify reports whether the code matches the identity's current TOTP
// window, accepting totpSkew steps of drift in each direction.
func (v *TOTPVerifier) Verify(ctx context.Context, identityID, code string) (bool, error) {
	if len(code) != totpDigits {
		return false, nil
	}
	seed, err := v.rawSeed(identityID)
	if err != nil {
		return false, err
	}

	counter := uint64(v.now().UTC().Unix()) / uint64(totpPeriod/time.Second)
	for delta := -totpSkew; delta <= totpSkew; delta++ {
		want := hotp(seed, counter+uint64(int64(delta)))
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return true, nil
		}
	}
	return false, nil
}

// hotp computes a truncated HMAC-SHA1 one-time code for the counter.
func hotp(seed []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, seed)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return fmt.Sprintf("%06d", code%1_000_000)
}

// Compile-time interface verification.
var _ Verifier = (*TOTPVerifier)(nil)
