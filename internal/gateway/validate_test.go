package gateway

import (
	"testing"

	"github.com/aristath/signalbridge/internal/domain"
)

func TestParseAlertMinimalValid(t *testing.T) {
	alert, err := parseAlert([]byte(`{"ticker":"BTCUSDT","action":"buy","alert_id":"a1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert.Ticker != "BTCUSDT" || alert.Action != domain.ActionBuy || alert.AlertID != "a1" {
		t.Fatalf("unexpected alert: %+v", alert)
	}
}

func TestParseAlertMissingTicker(t *testing.T) {
	if _, err := parseAlert([]byte(`{"action":"buy","alert_id":"a1"}`)); err == nil {
		t.Fatal("expected error for missing ticker")
	}
}

func TestParseAlertInvalidAction(t *testing.T) {
	if _, err := parseAlert([]byte(`{"ticker":"BTCUSDT","action":"yolo","alert_id":"a1"}`)); err == nil {
		t.Fatal("expected error for invalid action")
	}
}

func TestParseAlertNegativeSizeValue(t *testing.T) {
	if _, err := parseAlert([]byte(`{"ticker":"BTCUSDT","action":"buy","alert_id":"a1","size_value":-5}`)); err == nil {
		t.Fatal("expected error for negative size_value")
	}
}

func TestParseAlertMissingAlertIDDerivesFingerprint(t *testing.T) {
	alert, err := parseAlert([]byte(`{"ticker":"BTCUSDT","action":"sell"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert.AlertID == "" {
		t.Fatal("expected a derived fingerprint alert id")
	}
}

func TestParseAlertPreservesUnknownFields(t *testing.T) {
	alert, err := parseAlert([]byte(`{"ticker":"BTCUSDT","action":"buy","alert_id":"a1","custom_field":"x"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert.Extra["custom_field"] != "x" {
		t.Fatalf("expected custom_field preserved in Extra, got %+v", alert.Extra)
	}
}
