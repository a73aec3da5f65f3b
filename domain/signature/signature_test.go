package signature_test

import (
	"testing"

	"github.com/metergate/metergate/domain/signature"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	payload := []byte(`{"sourceKey":"key_1","delta":5}`)

	sig := signature.Sign(payload, "secret")

	if !signature.Verify(payload, sig, "secret") {
		t.Error("valid signature rejected")
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	payload := []byte("hello")
	sig := signature.Sign(payload, "secret-a")

	if signature.Verify(payload, sig, "secret-b") {
		t.Error("signature under the wrong secret accepted")
	}
}

func TestVerify_TamperedPayload(t *testing.T) {
	payload := []byte(`{"delta":5}`)
	sig := signature.Sign(payload, "secret")

	tampered := []byte(`{"delta":50}`)
	if signature.Verify(tampered, sig, "secret") {
		t.Error("tampered payload accepted")
	}
}

func TestVerify_MissingSignature(t *testing.T) {
	if signature.Verify([]byte("anything"), "", "secret") {
		t.Error("empty signature accepted")
	}
}

func TestVerify_MalformedSignature(t *testing.T) {
	for _, sig := range []string{"nothex", "deadbeef", "  "} {
		if signature.Verify([]byte("payload"), sig, "secret") {
			t.Errorf("malformed signature %q accepted", sig)
		}
	}
}

func TestSign_Deterministic(t *testing.T) {
	payload := []byte("payload")

	a := signature.Sign(payload, "secret")
	b := signature.Sign(payload, "secret")

	if a != b {
		t.Errorf("signatures differ: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("hex sha256 length = %d, want 64", len(a))
	}
}
