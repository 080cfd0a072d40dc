package executor

import (
	"fmt"

	"github.com/aristath/signalbridge/internal/domain"
)

// defaultContractSize is the multiplier applied to a raw contract count
// when the adapter does not expose a finer-grained contract specification.
// Every adapter in this tree is spot/linear-perp and trades in base-unit
// quantities, so this is 1 everywhere today.
const defaultContractSize = 1.0

// sizeOrder computes an order quantity per §4.C.5's five size_mode
// formulas, given the reference price from the price-source fallback chain
// and the account's free balance in the quote currency.
func sizeOrder(alert domain.Alert, price, freeBalance float64) (float64, error) {
	leverage := float64(alert.Leverage)
	if leverage < 1 {
		leverage = 1
	}

	if alert.SizeValue > 0 {
		switch alert.SizeMode {
		case domain.SizeModeQuote, domain.SizeModeFixedUSDT:
			return positiveOrErr((alert.SizeValue * leverage) / price)
		case domain.SizeModeBase:
			return positiveOrErr(alert.SizeValue)
		case domain.SizeModeContracts:
			return positiveOrErr(alert.SizeValue * defaultContractSize)
		case domain.SizeModePercentage:
			return positiveOrErr((freeBalance * (alert.SizeValue / 100) * leverage) / price)
		default:
			return 0, domain.Classify(domain.ErrConfigInvalidSize, fmt.Sprintf("unknown size_mode %q", alert.SizeMode), nil)
		}
	}

	if alert.Quantity > 0 {
		return positiveOrErr(alert.Quantity)
	}
	if alert.Contracts > 0 {
		return positiveOrErr(alert.Contracts * defaultContractSize)
	}

	return 0, domain.Classify(domain.ErrConfigInvalidSize, "no size_value, quantity, or contracts provided", nil)
}

func positiveOrErr(qty float64) (float64, error) {
	if qty <= 0 {
		return 0, domain.Classify(domain.ErrConfigInvalidSize, fmt.Sprintf("computed non-positive quantity %v", qty), nil)
	}
	return qty, nil
}
