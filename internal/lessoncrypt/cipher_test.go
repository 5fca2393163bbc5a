package lessoncrypt

import (
	"errors"
	"reflect"
	"testing"

	"cic-sync/internal/domain"
)

func TestDerivedKeysInteroperate(t *testing.T) {
	k1, err := DeriveUserKey("user-a", "")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	k2, err := DeriveUserKey("user-a", "")
	if err != nil {
		t.Fatalf("derive again: %v", err)
	}

	blob, err := Encrypt(map[string]any{"title": "Bio"}, k1)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	out, err := Decrypt(blob, k2)
	if err != nil {
		t.Fatalf("decrypt with re-derived key: %v", err)
	}
	if out.(map[string]any)["title"] != "Bio" {
		t.Fatalf("unexpected plaintext %v", out)
	}
}

func TestRoundTripPreservesShape(t *testing.T) {
	key, _ := DeriveUserKey("user-a", "")
	inputs := []any{
		map[string]any{"id": "L1", "questions": []any{map[string]any{"id": "q1"}}, "lastSessionIndex": float64(3)},
		[]any{"a", float64(1), true, nil},
		float64(42),
		"plain text that is not json",
	}
	for _, in := range inputs {
		blob, err := Encrypt(in, key)
		if err != nil {
			t.Fatalf("encrypt %v: %v", in, err)
		}
		out, err := Decrypt(blob, key)
		if err != nil {
			t.Fatalf("decrypt %v: %v", in, err)
		}
		if !reflect.DeepEqual(in, out) {
			t.Fatalf("round trip mismatch: in=%#v out=%#v", in, out)
		}
	}
}

func TestEncryptIsRandomized(t *testing.T) {
	key, _ := DeriveUserKey("user-a", "")
	a, _ := Encrypt("same", key)
	b, _ := Encrypt("same", key)
	if a == b {
		t.Fatalf("expected different ciphertexts for the same input")
	}
}

func TestCrossUserDecryptFails(t *testing.T) {
	keyA, _ := DeriveUserKey("user-a", "")
	keyB, _ := DeriveUserKey("user-b", "")

	blob, err := Encrypt(map[string]any{"secret": "notes"}, keyA)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	out, err := Decrypt(blob, keyB)
	if !errors.Is(err, domain.ErrDecryption) {
		t.Fatalf("expected decryption error, got %v (out=%v)", err, out)
	}
	if out != nil {
		t.Fatalf("expected no plaintext on failure, got %v", out)
	}
}

func TestDecryptRejectsTamperAndGarbage(t *testing.T) {
	key, _ := DeriveUserKey("user-a", "")
	blob, _ := Encrypt("payload", key)

	tampered := []byte(blob)
	if tampered[20] == 'A' {
		tampered[20] = 'B'
	} else {
		tampered[20] = 'A'
	}
	for _, bad := range []string{string(tampered), "not base64!!", "AAAA"} {
		if _, err := Decrypt(bad, key); !errors.Is(err, domain.ErrDecryption) {
			t.Fatalf("expected decryption error for %q, got %v", bad, err)
		}
	}
}

func TestSaltChangesKey(t *testing.T) {
	d := NewDeriver("secret", "salt-1", 0)
	k1, _ := d.Derive("user-a")
	k2, _ := d.DeriveWithSalt("user-a", "salt-2")

	blob, _ := Encrypt("x", k1)
	if _, err := Decrypt(blob, k2); !errors.Is(err, domain.ErrDecryption) {
		t.Fatalf("expected salts to produce unrelated keys, got %v", err)
	}
}

func TestEmptyIdentityRejected(t *testing.T) {
	if _, err := DeriveUserKey("", ""); !errors.Is(err, domain.ErrSecurityViolation) {
		t.Fatalf("expected security violation, got %v", err)
	}
}

func TestDecryptInto(t *testing.T) {
	key, _ := DeriveUserKey("user-a", "")
	idx := 7
	blob, _ := Encrypt(domain.Lesson{ID: "L1", Progress: domain.Progress{LastSessionIndex: &idx}}, key)

	var out domain.Lesson
	if err := DecryptInto(blob, key, &out); err != nil {
		t.Fatalf("decrypt into: %v", err)
	}
	if out.ID != "L1" || out.LastSessionIndex == nil || *out.LastSessionIndex != 7 {
		t.Fatalf("unexpected lesson %+v", out)
	}
}
