package loyalty

import (
	"errors"
	"testing"

	"goldbook/backend/internal/domain"
	"goldbook/backend/internal/store"
)

func flatSettings(ratio float64) *domain.LoyaltySettings {
	return &domain.LoyaltySettings{ShopID: "main-shop", Enabled: true, Mode: domain.LoyaltyModeFlat, FlatPointsRatio: ratio}
}

func percentageSettings(pct float64) *domain.LoyaltySettings {
	return &domain.LoyaltySettings{ShopID: "main-shop", Enabled: true, Mode: domain.LoyaltyModePercentage, PercentageBack: pct}
}

func TestComputeFlatModeFloors(t *testing.T) {
	earn, redeem, err := Compute(flatSettings(0.01), true, 0, 0, 10000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if earn != 100 || redeem != 0 {
		t.Fatalf("expected earn=100 redeem=0, got earn=%d redeem=%d", earn, redeem)
	}

	earn, _, err = Compute(flatSettings(0.01), true, 0, 0, 10050)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if earn != 100 {
		t.Fatalf("expected floor to 100, got %d", earn)
	}
}

func TestComputePercentageModeFloors(t *testing.T) {
	earn, _, err := Compute(percentageSettings(1), true, 0, 0, 9999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if earn != 99 {
		t.Fatalf("expected earn=99 for 1%% of 9999, got %d", earn)
	}
}

func TestComputeDisabledEarnsNothing(t *testing.T) {
	settings := flatSettings(0.01)
	settings.Enabled = false

	earn, redeem, err := Compute(settings, true, 500, 0, 10000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if earn != 0 || redeem != 0 {
		t.Fatalf("expected zero points when disabled, got earn=%d redeem=%d", earn, redeem)
	}
}

func TestComputeDisabledZeroesRedeemRequest(t *testing.T) {
	settings := flatSettings(0.01)
	settings.Enabled = false

	// A disabled program forces both amounts to zero even when the client
	// asked to redeem; the creation itself must not fail.
	earn, redeem, err := Compute(settings, true, 500, 100, 10000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if earn != 0 || redeem != 0 {
		t.Fatalf("expected zero points when disabled, got earn=%d redeem=%d", earn, redeem)
	}
}

func TestComputeUnresolvedCustomer(t *testing.T) {
	earn, redeem, err := Compute(flatSettings(0.01), false, 0, 0, 10000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if earn != 0 || redeem != 0 {
		t.Fatalf("expected zero points without a customer, got earn=%d redeem=%d", earn, redeem)
	}

	earn, redeem, err = Compute(flatSettings(0.01), false, 0, 50, 10000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if earn != 0 || redeem != 0 {
		t.Fatalf("expected redeem forced to zero without a customer, got earn=%d redeem=%d", earn, redeem)
	}
}

func TestComputeRedeemOverBalance(t *testing.T) {
	_, _, err := Compute(flatSettings(0.01), true, 80, 100, 10000)
	var insufficient *store.InsufficientPointsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientPointsError, got %v", err)
	}
	if insufficient.Requested != 100 || insufficient.Available != 80 {
		t.Fatalf("expected requested=100 available=80, got %+v", insufficient)
	}
}

func TestComputeRedeemWithinBalance(t *testing.T) {
	earn, redeem, err := Compute(flatSettings(0.02), true, 300, 250, 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if earn != 100 {
		t.Fatalf("expected earn=100, got %d", earn)
	}
	if redeem != 250 {
		t.Fatalf("expected redeem=250, got %d", redeem)
	}
}

func TestComputeNegativeRedeemRejected(t *testing.T) {
	_, _, err := Compute(flatSettings(0.01), true, 100, -1, 10000)
	if !errors.Is(err, store.ErrInvalidInvoice) {
		t.Fatalf("expected ErrInvalidInvoice, got %v", err)
	}
}
