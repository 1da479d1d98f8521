package signature

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	c := New("topsecret")
	body := []byte(`{"event":"audit_completed"}`)
	sig := c.Sign(body)
	if sig == "" {
		t.Fatal("expected non-empty signature")
	}
	if !c.Verify(body, sig) {
		t.Fatal("expected valid signature to verify")
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	c := New("topsecret")
	sig := c.Sign([]byte(`{"a":1}`))
	if c.Verify([]byte(`{"a":2}`), sig) {
		t.Fatal("expected tampered body to fail verification")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig := New("one").Sign(body)
	if New("two").Verify(body, sig) {
		t.Fatal("expected signature from different secret to fail")
	}
}

func TestPermissiveModeWithoutSecret(t *testing.T) {
	c := New("")
	if c.Enabled() {
		t.Fatal("expected codec without secret to be disabled")
	}
	if got := c.Sign([]byte("x")); got != "" {
		t.Fatalf("expected empty signature, got %q", got)
	}
	if !c.Verify([]byte("x"), "bogus") {
		t.Fatal("expected permissive verify to accept any signature")
	}
	if !c.Verify([]byte("x"), "") {
		t.Fatal("expected permissive verify to accept missing signature")
	}
}

func TestSignDeterministic(t *testing.T) {
	c := New("topsecret")
	body := []byte(`{"event":"x","n":1}`)
	if a, b := c.Sign(body), c.Sign(body); a != b {
		t.Fatalf("expected stable signature, got %q and %q", a, b)
	}
}
