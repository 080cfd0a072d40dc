package executor

import (
	"testing"

	"github.com/aristath/signalbridge/internal/domain"
)

func TestSizeOrderQuoteModePinnedBoundary(t *testing.T) {
	alert := domain.Alert{SizeMode: domain.SizeModeQuote, SizeValue: 100, Leverage: 10}
	qty, err := sizeOrder(alert, 50000, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if qty != 0.02 {
		t.Fatalf("expected qty 0.02, got %v", qty)
	}
}

func TestSizeOrderBaseMode(t *testing.T) {
	alert := domain.Alert{SizeMode: domain.SizeModeBase, SizeValue: 1.5}
	qty, err := sizeOrder(alert, 50000, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if qty != 1.5 {
		t.Fatalf("expected qty 1.5, got %v", qty)
	}
}

func TestSizeOrderPercentageMode(t *testing.T) {
	alert := domain.Alert{SizeMode: domain.SizeModePercentage, SizeValue: 50, Leverage: 2}
	qty, err := sizeOrder(alert, 100, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// (1000 * 0.5 * 2) / 100 = 10
	if qty != 10 {
		t.Fatalf("expected qty 10, got %v", qty)
	}
}

func TestSizeOrderFixedUSDTSynonymousWithQuote(t *testing.T) {
	alert := domain.Alert{SizeMode: domain.SizeModeFixedUSDT, SizeValue: 200, Leverage: 1}
	qty, err := sizeOrder(alert, 100, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if qty != 2 {
		t.Fatalf("expected qty 2, got %v", qty)
	}
}

func TestSizeOrderFallsBackToQuantity(t *testing.T) {
	alert := domain.Alert{Quantity: 3.2}
	qty, err := sizeOrder(alert, 100, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if qty != 3.2 {
		t.Fatalf("expected qty 3.2, got %v", qty)
	}
}

func TestSizeOrderFallsBackToContracts(t *testing.T) {
	alert := domain.Alert{Contracts: 7}
	qty, err := sizeOrder(alert, 100, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if qty != 7 {
		t.Fatalf("expected qty 7, got %v", qty)
	}
}

func TestSizeOrderNonPositiveIsInvalidSize(t *testing.T) {
	_, err := sizeOrder(domain.Alert{}, 100, 0)
	if domain.KindOf(err) != domain.ErrConfigInvalidSize {
		t.Fatalf("expected config/invalid_size, got %v", err)
	}
}

func TestSizeOrderUnknownSizeModeIsInvalidSize(t *testing.T) {
	alert := domain.Alert{SizeMode: "bogus", SizeValue: 10}
	_, err := sizeOrder(alert, 100, 0)
	if domain.KindOf(err) != domain.ErrConfigInvalidSize {
		t.Fatalf("expected config/invalid_size, got %v", err)
	}
}
