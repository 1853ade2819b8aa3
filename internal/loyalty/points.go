// Package loyalty holds the point computation rules. Earn and redeem amounts
// are always derived here on the server; client-supplied earn values are
// ignored upstream.
package loyalty

import (
	"math"

	"goldbook/backend/internal/domain"
	"goldbook/backend/internal/store"
)

// Compute derives the points earned and redeemed for an invoice total.
//
// Earn is floor-rounded per the shop's configured mode. Redeem is capped by
// the customer's live balance: asking for more than the balance is an error,
// never a silent clamp. When the customer could not be resolved
// (customerResolved == false) or loyalty is disabled for the shop, both
// values are forced to zero no matter what the request asked for.
func Compute(settings *domain.LoyaltySettings, customerResolved bool, balance int64, requestedRedeem int64, grandTotal float64) (earn int64, redeem int64, err error) {
	if settings == nil || !settings.Enabled || !customerResolved {
		return 0, 0, nil
	}
	if requestedRedeem < 0 {
		return 0, 0, store.ErrInvalidInvoice
	}

	switch settings.Mode {
	case domain.LoyaltyModeFlat:
		if settings.FlatPointsRatio > 0 {
			earn = int64(math.Floor(grandTotal * settings.FlatPointsRatio))
		}
	case domain.LoyaltyModePercentage:
		if settings.PercentageBack > 0 {
			earn = int64(math.Floor(grandTotal * settings.PercentageBack / 100))
		}
	}
	if earn < 0 {
		earn = 0
	}

	if requestedRedeem > balance {
		return 0, 0, &store.InsufficientPointsError{Requested: requestedRedeem, Available: balance}
	}
	return earn, requestedRedeem, nil
}
