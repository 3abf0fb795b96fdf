package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignatureAcceptsValidHMAC(t *testing.T) {
	secret := []byte("webhook-secret")
	body := []byte(`{"intent_ref":"intent_123","outcome":"succeeded"}`)

	h := &Handler{webhookSecret: secret}
	if !h.verifySignature(body, sign(secret, body)) {
		t.Fatal("expected valid signature to verify")
	}
}

func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
	body := []byte(`{"intent_ref":"intent_123","outcome":"succeeded"}`)

	h := &Handler{webhookSecret: []byte("webhook-secret")}
	if h.verifySignature(body, sign([]byte("other-secret"), body)) {
		t.Fatal("expected signature from wrong secret to fail")
	}
}

func TestVerifySignatureRejectsTamperedBody(t *testing.T) {
	secret := []byte("webhook-secret")
	signature := sign(secret, []byte(`{"outcome":"failed"}`))

	h := &Handler{webhookSecret: secret}
	if h.verifySignature([]byte(`{"outcome":"succeeded"}`), signature) {
		t.Fatal("expected tampered body to fail verification")
	}
}

func TestVerifySignatureRejectsMissingOrMalformed(t *testing.T) {
	h := &Handler{webhookSecret: []byte("webhook-secret")}

	if h.verifySignature([]byte(`{}`), "") {
		t.Fatal("expected empty signature to fail")
	}
	if h.verifySignature([]byte(`{}`), "not-hex") {
		t.Fatal("expected non-hex signature to fail")
	}
}
