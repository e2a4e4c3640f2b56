package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func newKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestNewAESSealer(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid", newKey(t), false},
		{"empty", "", true},
		{"not base64", "not-base64!!", true},
		{"short", base64.StdEncoding.EncodeToString([]byte("too-short")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAESSealer(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewAESSealer() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSealOpen(t *testing.T) {
	s, err := NewAESSealer(newKey(t))
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := s.Seal("syt_dmlydG9fYm90_secret", "@virto_bot:matrix.org")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if strings.Contains(sealed, "secret") || !IsSealed(sealed) {
		t.Errorf("sealed value %q", sealed)
	}
	got, err := s.Open(sealed, "@virto_bot:matrix.org")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got != "syt_dmlydG9fYm90_secret" {
		t.Errorf("Open() = %q", got)
	}

	again, _ := s.Seal("syt_dmlydG9fYm90_secret", "@virto_bot:matrix.org")
	if again == sealed {
		t.Error("two seals of the same value must differ")
	}
}

func TestOpenRejects(t *testing.T) {
	s, _ := NewAESSealer(newKey(t))
	other, _ := NewAESSealer(newKey(t))
	sealed, _ := s.Seal("token", "@a:example.org")

	if _, err := s.Open(sealed, "@b:example.org"); err == nil {
		t.Error("expected failure for another owner")
	}
	if _, err := other.Open(sealed, "@a:example.org"); !errors.Is(err, ErrKeyMismatch) {
		t.Errorf("other key error = %v, want ErrKeyMismatch", err)
	}
	if _, err := s.Open("plaintext-token", "@a:example.org"); !errors.Is(err, ErrMalformed) {
		t.Errorf("plaintext error = %v, want ErrMalformed", err)
	}
	tampered := sealed[:len(sealed)-2] + "AA"
	if tampered != sealed {
		if _, err := s.Open(tampered, "@a:example.org"); err == nil {
			t.Error("expected failure for tampered value")
		}
	}
}

func TestEmptyValues(t *testing.T) {
	s, _ := NewAESSealer(newKey(t))
	if v, err := s.Seal("", "owner"); err != nil || v != "" {
		t.Errorf("Seal(\"\") = %q, %v", v, err)
	}
	if v, err := s.Open("", "owner"); err != nil || v != "" {
		t.Errorf("Open(\"\") = %q, %v", v, err)
	}
}
