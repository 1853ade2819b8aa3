package memory

import (
	"context"
	"errors"
	"testing"

	"goldbook/backend/internal/domain"
	"goldbook/backend/internal/store"
)

func TestCreateInvoiceUnknownEarnCustomerLeavesStockUntouched(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	stock, err := s.GetInventoryItemByTag(ctx, "main-shop", "G-RING-001")
	if err != nil {
		t.Fatalf("seed lookup: %v", err)
	}

	_, err = s.CreateInvoice(ctx, store.InvoiceCreateArgs{
		ShopID:     "main-shop",
		CustomerID: "cus_does_not_exist",
		Items: []domain.InvoiceItem{{
			Name:        stock.Name,
			Metal:       stock.Metal,
			WeightGrams: stock.WeightGrams,
			RatePerGram: 6000,
			Amount:      stock.WeightGrams * 6000,
			StockItemID: stock.ID,
		}},
		Subtotal:     stock.WeightGrams * 6000,
		GrandTotal:   stock.WeightGrams * 6000,
		Status:       domain.InvoiceStatusPaid,
		PointsEarned: 100,
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown customer, got %v", err)
	}

	after, err := s.GetInventoryItemByTag(ctx, "main-shop", "G-RING-001")
	if err != nil {
		t.Fatalf("lookup after failed create: %v", err)
	}
	if after.Status != domain.StockStatusInStock {
		t.Fatalf("stock status = %q, want %q", after.Status, domain.StockStatusInStock)
	}
	if after.SoldInvoiceID != "" {
		t.Fatalf("stock carries sold invoice %q after failed create", after.SoldInvoiceID)
	}
}
