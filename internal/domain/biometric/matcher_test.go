package biometric

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestHKDFMatcher_EnrollAndCompare(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewHKDFMatcher([]byte("deployment-secret"))

	sample := []byte("fingerprint-scan-data")
	template, err := m.Enroll(ctx, [][]byte{sample})
	if err != nil {
		t.Fatalf("Enroll() error: %v", err)
	}
	if bytes.Contains(template, sample) {
		t.Error("template contains raw sample material")
	}

	ok, err := m.Compare(ctx, sample, template)
	if err != nil {
		t.Fatalf("Compare() error: %v", err)
	}
	if !ok {
		t.Error("Compare(enrolled sample) = false, want true")
	}

	ok, err = m.Compare(ctx, []byte("different-scan"), template)
	if err != nil {
		t.Fatalf("Compare() error: %v", err)
	}
	if ok {
		t.Error("Compare(wrong sample) = true, want false")
	}
}

func TestHKDFMatcher_EnrollNoSamples(t *testing.T) {
	t.Parallel()

	m := NewHKDFMatcher([]byte("key"))
	if _, err := m.Enroll(context.Background(), nil); !errors.Is(err, ErrNoSamples) {
		t.Errorf("Enroll(nil) error = %v, want ErrNoSamples", err)
	}
}

func TestHKDFMatcher_CompareMalformedInputs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewHKDFMatcher([]byte("key"))

	// Wrong-size template and empty sample return false, never an error.
	ok, err := m.Compare(ctx, []byte("sample"), []byte("short"))
	if err != nil || ok {
		t.Errorf("Compare(short template) = (%v, %v), want (false, nil)", ok, err)
	}
	ok, err = m.Compare(ctx, nil, make([]byte, 32))
	if err != nil || ok {
		t.Errorf("Compare(empty sample) = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestHKDFMatcher_KeyBindsTemplate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sample := []byte("scan")

	a := NewHKDFMatcher([]byte("deployment-a"))
	b := NewHKDFMatcher([]byte("deployment-b"))

	template, err := a.Enroll(ctx, [][]byte{sample})
	if err != nil {
		t.Fatalf("Enroll() error: %v", err)
	}

	ok, err := b.Compare(ctx, sample, template)
	if err != nil {
		t.Fatalf("Compare() error: %v", err)
	}
	if ok {
		t.Error("template from one deployment verified in another")
	}
}

func TestConfidenceFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples [][]byte
		want    float64
	}{
		{"single sample", [][]byte{[]byte("a")}, 0.95},
		{"all agree", [][]byte{[]byte("a"), []byte("a"), []byte("a")}, 1.0},
		{"partial agreement", [][]byte{[]byte("a"), []byte("a"), []byte("b"), []byte("c")}, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConfidenceFor(tt.samples); got != tt.want {
				t.Errorf("ConfidenceFor() = %v, want %v", got, tt.want)
			}
		})
	}
}
