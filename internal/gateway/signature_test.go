package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignatureValid(t *testing.T) {
	body := []byte(`{"ticker":"BTCUSDT"}`)
	header := sign("topsecret", body)
	if !verifySignature("topsecret", body, header) {
		t.Fatal("expected valid signature to verify")
	}
}

func TestVerifySignatureWrongSecret(t *testing.T) {
	body := []byte(`{"ticker":"BTCUSDT"}`)
	header := sign("topsecret", body)
	if verifySignature("othersecret", body, header) {
		t.Fatal("expected signature with wrong secret to fail")
	}
}

func TestVerifySignatureTamperedBody(t *testing.T) {
	header := sign("topsecret", []byte(`{"ticker":"BTCUSDT"}`))
	if verifySignature("topsecret", []byte(`{"ticker":"ETHUSDT"}`), header) {
		t.Fatal("expected tampered body to fail verification")
	}
}

func TestVerifySignatureMissingHeader(t *testing.T) {
	if verifySignature("topsecret", []byte(`{}`), "") {
		t.Fatal("expected missing header to fail verification")
	}
}

func TestVerifySignatureMalformedHeader(t *testing.T) {
	if verifySignature("topsecret", []byte(`{}`), "not-a-valid-header") {
		t.Fatal("expected malformed header to fail verification")
	}
}
