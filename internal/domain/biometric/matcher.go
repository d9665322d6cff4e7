// Package biometric defines the pluggable biometric matching capability.
package biometric

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrNoSamples is returned when enrollment is attempted with no samples.
var ErrNoSamples = errors.New("no biometric samples supplied")

// Matcher turns raw samples into derived templates and compares samples
// against them. The engine treats matching as a pluggable capability;
// production deployments substitute a true per-modality matcher behind
// this contract.
type Matcher interface {
	// Enroll derives a template from one or more raw samples.
	// The template must not be reversible to the samples.
	Enroll(ctx context.Context, samples [][]byte) ([]byte, error)

	// Compare reports whether the sample matches the template.
	// Compare never fails on mismatched input sizes; it returns false.
	Compare(ctx context.Context, sample, template []byte) (bool, error)
}

// templateSize is the derived template length in bytes.
const templateSize = 32

// HKDFMatcher is the reference Matcher. It derives a keyed HKDF-SHA256
// template from the concatenated samples and compares by re-deriving from
// the presented sample, in constant time. This gives byte-identical
// verification only; it stands in for a real similarity matcher.
type HKDFMatcher struct {
	key []byte
}

// NewHKDFMatcher creates a matcher keyed with the given secret.
// The key binds templates to this deployment so a leaked template cannot
// be verified elsewhere.
func NewHKDFMatcher(key []byte) *HKDFMatcher {
	k := make([]byte, len(key))
	copy(k, key)
	return &HKDFMatcher{key: k}
}

// Enroll derives a template from the concatenation of all samples.
func (m *HKDFMatcher) Enroll(ctx context.Context, samples [][]byte) ([]byte, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	var joined []byte
	for _, s := range samples {
		joined = append(joined, s...)
	}
	return m.derive(joined)
}

// Compare re-derives a template from the sample and compares in constant
// time. A template of unexpected size returns false, never an error.
func (m *HKDFMatcher) Compare(ctx context.Context, sample, template []byte) (bool, error) {
	if len(template) != templateSize || len(sample) == 0 {
		return false, nil
	}
	derived, err := m.derive(sample)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(derived, template) == 1, nil
}

// derive expands sample material into a fixed-size template using
// HKDF-SHA256 with the deployment key as salt.
func (m *HKDFMatcher) derive(material []byte) ([]byte, error) {
	h := hkdf.New(sha256.New, material, m.key, []byte("biometric-template"))
	out := make([]byte, templateSize)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ConfidenceFor estimates enrollment confidence from sample agreement.
// All-identical samples give 1.0; divergent samples reduce confidence.
func ConfidenceFor(samples [][]byte) float64 {
	if len(samples) <= 1 {
		return 0.95
	}
	first := samples[0]
	agree := 1
	for _, s := range samples[1:] {
		if hmac.Equal(first, s) {
			agree++
		}
	}
	return float64(agree) / float64(len(samples))
}

// Compile-time interface verification.
var _ Matcher = (*HKDFMatcher)(nil)
