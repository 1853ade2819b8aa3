package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"goldbook/backend/internal/domain"
	"goldbook/backend/internal/store"
)

func TestCancelInvoiceReleasesStockAndRevertsPoints(t *testing.T) {
	databaseURL := os.Getenv("GOLDBOOK_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set GOLDBOOK_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	shopID := "main-shop"
	customerID := fmt.Sprintf("cust-cancel-it-%d", stamp)
	stockID := fmt.Sprintf("stk-cancel-it-%d", stamp)
	tagNo := fmt.Sprintf("IT-CANCEL-%d", stamp)
	phone := fmt.Sprintf("99%d", stamp%100000000)

	var invoiceID string
	t.Cleanup(func() {
		if invoiceID != "" {
			_, _ = s.db.ExecContext(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1`, invoiceID)
			_, _ = s.db.ExecContext(ctx, `DELETE FROM invoices WHERE id = $1`, invoiceID)
		}
		_, _ = s.db.ExecContext(ctx, `DELETE FROM loyalty_ledger WHERE customer_id = $1`, customerID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_items WHERE id = $1`, stockID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, customerID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, shop_id, name, phone, address, state, pincode, loyalty_points, created_at, updated_at)
		VALUES ($1, $2, 'Cancel IT Customer', $3, '', '', '', 200, now(), now())
	`, customerID, shopID, phone); err != nil {
		t.Fatalf("insert customer: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_items (id, shop_id, tag_no, name, metal, weight_grams, purity, status, created_at)
		VALUES ($1, $2, $3, 'Cancel IT Ring', 'gold', 4.2, '22K', 'IN_STOCK', now())
	`, stockID, shopID, tagNo); err != nil {
		t.Fatalf("insert inventory item: %v", err)
	}

	invoiceID, err = s.CreateInvoice(ctx, store.InvoiceCreateArgs{
		ShopID:     shopID,
		CustomerID: customerID,
		Snapshot:   domain.CustomerSnapshot{Name: "Cancel IT Customer", Phone: phone},
		Items: []domain.InvoiceItem{
			{Name: "Cancel IT Ring", Metal: "gold", WeightGrams: 4.2, Purity: "22K", RatePerGram: 6000, MakingCharge: 500, Amount: 25700, StockItemID: stockID},
		},
		Subtotal:       25700,
		GrandTotal:     26471,
		CGST:           385.5,
		SGST:           385.5,
		Status:         domain.InvoiceStatusPaid,
		PointsEarned:   264,
		PointsRedeemed: 100,
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}

	var balance int64
	if err := s.db.QueryRowContext(ctx, `SELECT loyalty_points FROM customers WHERE id = $1`, customerID).Scan(&balance); err != nil {
		t.Fatalf("query balance: %v", err)
	}
	if balance != 364 {
		t.Fatalf("expected balance 364 after create (200 - 100 + 264), got %d", balance)
	}

	res, err := s.CancelInvoice(ctx, shopID, invoiceID)
	if err != nil {
		t.Fatalf("cancel invoice: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected cancel success, got %q", res.Error)
	}

	var stockStatus string
	if err := s.db.QueryRowContext(ctx, `SELECT status FROM inventory_items WHERE id = $1`, stockID).Scan(&stockStatus); err != nil {
		t.Fatalf("query stock status: %v", err)
	}
	if stockStatus != domain.StockStatusInStock {
		t.Fatalf("expected stock IN_STOCK after cancel, got %s", stockStatus)
	}

	// Cancel reverts the earn only; the redemption debit is refunded on delete.
	if err := s.db.QueryRowContext(ctx, `SELECT loyalty_points FROM customers WHERE id = $1`, customerID).Scan(&balance); err != nil {
		t.Fatalf("query balance: %v", err)
	}
	if balance != 100 {
		t.Fatalf("expected balance 100 after cancel (364 - 264), got %d", balance)
	}

	res, err = s.CancelInvoice(ctx, shopID, invoiceID)
	if err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
	if res.Success {
		t.Fatalf("expected repeat cancel to fail")
	}
	if res.Error != "invoice already cancelled" {
		t.Fatalf("unexpected repeat cancel error: %q", res.Error)
	}
}
