package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"goldbook/backend/internal/domain"
	"goldbook/backend/internal/store"
	"goldbook/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) UpsertCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	customer.Name = strings.TrimSpace(customer.Name)
	customer.Phone = strings.TrimSpace(customer.Phone)
	if customer.ShopID == "" || customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}

	var saved domain.Customer
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO customers (id, shop_id, name, phone, address, state, pincode, loyalty_points, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,0,now(),now())
		ON CONFLICT (shop_id, phone)
		DO UPDATE SET name = EXCLUDED.name, address = EXCLUDED.address,
			state = EXCLUDED.state, pincode = EXCLUDED.pincode, updated_at = now()
		RETURNING id, shop_id, name, phone, address, state, pincode, loyalty_points, created_at, updated_at
	`, customer.ID, customer.ShopID, customer.Name, customer.Phone, customer.Address, customer.State, customer.Pincode).Scan(
		&saved.ID, &saved.ShopID, &saved.Name, &saved.Phone, &saved.Address, &saved.State, &saved.Pincode,
		&saved.LoyaltyPoints, &saved.CreatedAt, &saved.UpdatedAt)
	if err != nil {
		return nil, err
	}
	saved.CreatedAt = saved.CreatedAt.UTC()
	saved.UpdatedAt = saved.UpdatedAt.UTC()
	return &saved, nil
}

func (s *Store) FindCustomerByPhone(ctx context.Context, shopID string, phone string) (*domain.Customer, error) {
	return s.findCustomer(ctx, `shop_id = $1 AND phone = $2`, shopID, strings.TrimSpace(phone))
}

func (s *Store) GetCustomer(ctx context.Context, shopID string, customerID string) (*domain.Customer, error) {
	return s.findCustomer(ctx, `shop_id = $1 AND id = $2`, shopID, customerID)
}

func (s *Store) findCustomer(ctx context.Context, where string, args ...any) (*domain.Customer, error) {
	var customer domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, shop_id, name, phone, address, state, pincode, loyalty_points, created_at, updated_at
		FROM customers
		WHERE `+where, args...).Scan(
		&customer.ID, &customer.ShopID, &customer.Name, &customer.Phone, &customer.Address,
		&customer.State, &customer.Pincode, &customer.LoyaltyPoints, &customer.CreatedAt, &customer.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	customer.CreatedAt = customer.CreatedAt.UTC()
	customer.UpdatedAt = customer.UpdatedAt.UTC()
	return &customer, nil
}

func (s *Store) InsertCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	customer.Name = strings.TrimSpace(customer.Name)
	customer.Phone = strings.TrimSpace(customer.Phone)
	if customer.ShopID == "" || customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, shop_id, name, phone, address, state, pincode, loyalty_points, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,0,$8,$8)
	`, customer.ID, customer.ShopID, customer.Name, customer.Phone, customer.Address, customer.State, customer.Pincode, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	customer.LoyaltyPoints = 0
	customer.CreatedAt = now
	customer.UpdatedAt = now
	created := customer
	return &created, nil
}

func (s *Store) UpdateCustomerProfile(ctx context.Context, customer domain.Customer) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET name = COALESCE(NULLIF($3,''), name), address = $4, state = $5, pincode = $6, updated_at = now()
		WHERE shop_id = $1 AND id = $2
	`, customer.ShopID, customer.ID, strings.TrimSpace(customer.Name), customer.Address, customer.State, customer.Pincode)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListCustomers(ctx context.Context, shopID string, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, name, phone, address, state, pincode, loyalty_points, created_at, updated_at
		FROM customers
		WHERE shop_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, shopID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, limit)
	for rows.Next() {
		var customer domain.Customer
		if err := rows.Scan(&customer.ID, &customer.ShopID, &customer.Name, &customer.Phone, &customer.Address,
			&customer.State, &customer.Pincode, &customer.LoyaltyPoints, &customer.CreatedAt, &customer.UpdatedAt); err != nil {
			return nil, err
		}
		customer.CreatedAt = customer.CreatedAt.UTC()
		customer.UpdatedAt = customer.UpdatedAt.UTC()
		customers = append(customers, customer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) GetLoyaltyBalance(ctx context.Context, customerID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		SELECT loyalty_points FROM customers WHERE id = $1
	`, customerID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return balance, nil
}

func (s *Store) IncrementPoints(ctx context.Context, shopID string, customerID string, points int64, reason string, invoiceID string) error {
	if points < 1 {
		return store.ErrInvalidInput
	}
	return s.adjustPoints(ctx, shopID, customerID, points, reason, invoiceID)
}

func (s *Store) DecrementPoints(ctx context.Context, shopID string, customerID string, points int64, reason string, invoiceID string) error {
	if points < 1 {
		return store.ErrInvalidInput
	}
	return s.adjustPoints(ctx, shopID, customerID, -points, reason, invoiceID)
}

// adjustPoints moves the balance and appends the ledger entry in one
// transaction. The balance row is locked so concurrent adjustments for the
// same customer serialize.
func (s *Store) adjustPoints(ctx context.Context, shopID string, customerID string, delta int64, reason string, invoiceID string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var balance int64
	err = tx.QueryRowContext(ctx, `
		SELECT loyalty_points FROM customers
		WHERE shop_id = $1 AND id = $2
		FOR UPDATE
	`, shopID, customerID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	if balance+delta < 0 {
		return store.ErrNegativeBalance
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE customers SET loyalty_points = loyalty_points + $3, updated_at = now()
		WHERE shop_id = $1 AND id = $2
	`, shopID, customerID, delta)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO loyalty_ledger (id, shop_id, customer_id, invoice_id, points_change, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, xid.New("led"), shopID, customerID, nullIfEmpty(invoiceID), delta, reason)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) ListLedgerEntries(ctx context.Context, shopID string, customerID string, limit int) ([]domain.LoyaltyLedgerEntry, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, customer_id, COALESCE(invoice_id,''), points_change, reason, created_at
		FROM loyalty_ledger
		WHERE shop_id = $1 AND customer_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, shopID, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LoyaltyLedgerEntry, 0, limit)
	for rows.Next() {
		var entry domain.LoyaltyLedgerEntry
		if err := rows.Scan(&entry.ID, &entry.ShopID, &entry.CustomerID, &entry.InvoiceID, &entry.PointsChange, &entry.Reason, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) GetLoyaltySettings(ctx context.Context, shopID string) (*domain.LoyaltySettings, error) {
	var settings domain.LoyaltySettings
	err := s.db.QueryRowContext(ctx, `
		SELECT shop_id, enabled, mode, flat_points_ratio, percentage_back
		FROM loyalty_settings
		WHERE shop_id = $1
	`, shopID).Scan(&settings.ShopID, &settings.Enabled, &settings.Mode, &settings.FlatPointsRatio, &settings.PercentageBack)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &settings, nil
}

func (s *Store) SaveLoyaltySettings(ctx context.Context, settings domain.LoyaltySettings) (*domain.LoyaltySettings, error) {
	if settings.ShopID == "" {
		return nil, store.ErrInvalidInput
	}
	if settings.Mode != domain.LoyaltyModeFlat && settings.Mode != domain.LoyaltyModePercentage {
		return nil, store.ErrInvalidInput
	}
	if settings.FlatPointsRatio < 0 || settings.PercentageBack < 0 || settings.PercentageBack > 100 {
		return nil, store.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO loyalty_settings (shop_id, enabled, mode, flat_points_ratio, percentage_back, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (shop_id)
		DO UPDATE SET enabled = EXCLUDED.enabled, mode = EXCLUDED.mode,
			flat_points_ratio = EXCLUDED.flat_points_ratio, percentage_back = EXCLUDED.percentage_back, updated_at = now()
	`, settings.ShopID, settings.Enabled, settings.Mode, settings.FlatPointsRatio, settings.PercentageBack)
	if err != nil {
		return nil, err
	}
	saved := settings
	return &saved, nil
}

func (s *Store) CreateInvoice(ctx context.Context, args store.InvoiceCreateArgs) (string, error) {
	if args.ShopID == "" || len(args.Items) == 0 {
		return "", store.ErrInvalidInvoice
	}
	if args.Status != domain.InvoiceStatusDue && args.Status != domain.InvoiceStatusPaid {
		return "", store.ErrInvalidInvoice
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return "", err
	}
	defer func() { _ = pgTx.Rollback() }()

	invoiceID := xid.New("inv")
	now := time.Now().UTC()

	if err := markStockSold(ctx, pgTx, args.ShopID, invoiceID, args.Items, now); err != nil {
		return "", err
	}

	if args.PointsRedeemed > 0 {
		if err := adjustPointsTx(ctx, pgTx, args.ShopID, args.CustomerID, -args.PointsRedeemed, "redeemed", invoiceID); err != nil {
			return "", err
		}
	}
	// Earn is credited on creation only for invoices that start out paid;
	// a due invoice earns when it is later marked paid.
	if args.PointsEarned > 0 && args.Status == domain.InvoiceStatusPaid {
		if err := adjustPointsTx(ctx, pgTx, args.ShopID, args.CustomerID, args.PointsEarned, "earned", invoiceID); err != nil {
			return "", err
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO invoices (
			id, shop_id, customer_id, customer_name, customer_phone, customer_address,
			customer_state, customer_pincode, subtotal, discount, cgst, sgst, grand_total,
			status, loyalty_points_earned, loyalty_points_redeemed, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$17)
	`, invoiceID, args.ShopID, nullIfEmpty(args.CustomerID), args.Snapshot.Name, args.Snapshot.Phone,
		args.Snapshot.Address, args.Snapshot.State, args.Snapshot.Pincode, args.Subtotal, args.Discount,
		args.CGST, args.SGST, args.GrandTotal, args.Status, args.PointsEarned, args.PointsRedeemed, now)
	if err != nil {
		return "", err
	}

	if err := insertInvoiceItems(ctx, pgTx, invoiceID, args.Items); err != nil {
		return "", err
	}

	if err := pgTx.Commit(); err != nil {
		return "", err
	}
	return invoiceID, nil
}

func (s *Store) UpdateInvoice(ctx context.Context, args store.InvoiceUpdateArgs) (store.ProcedureResult, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return store.ProcedureResult{}, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var status string
	var customerID sql.NullString
	err = pgTx.QueryRowContext(ctx, `
		SELECT status, customer_id FROM invoices
		WHERE shop_id = $1 AND id = $2
		FOR UPDATE
	`, args.ShopID, args.InvoiceID).Scan(&status, &customerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ProcedureResult{Success: false, Error: "invoice not found"}, nil
		}
		return store.ProcedureResult{}, err
	}
	if status == domain.InvoiceStatusCancelled {
		return store.ProcedureResult{Success: false, Error: "invoice is cancelled"}, nil
	}

	now := time.Now().UTC()

	// Release stock held by the old item set, then re-mark the new set.
	_, err = pgTx.ExecContext(ctx, `
		UPDATE inventory_items
		SET status = $3, sold_invoice_id = NULL, sold_at = NULL
		WHERE shop_id = $1 AND sold_invoice_id = $2
	`, args.ShopID, args.InvoiceID, domain.StockStatusInStock)
	if err != nil {
		return store.ProcedureResult{}, err
	}
	if err := markStockSold(ctx, pgTx, args.ShopID, args.InvoiceID, args.Items, now); err != nil {
		if errors.Is(err, store.ErrStockConflict) {
			return store.ProcedureResult{Success: false, Error: "stock item already sold"}, nil
		}
		return store.ProcedureResult{}, err
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE invoices
		SET customer_name = $3, customer_phone = $4, customer_address = $5, customer_state = $6,
			customer_pincode = $7, subtotal = $8, discount = $9, cgst = $10, sgst = $11,
			grand_total = $12, updated_at = $13
		WHERE shop_id = $1 AND id = $2
	`, args.ShopID, args.InvoiceID, args.Snapshot.Name, args.Snapshot.Phone, args.Snapshot.Address,
		args.Snapshot.State, args.Snapshot.Pincode, args.Subtotal, args.Discount, args.CGST, args.SGST,
		args.GrandTotal, now)
	if err != nil {
		return store.ProcedureResult{}, err
	}

	_, err = pgTx.ExecContext(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1`, args.InvoiceID)
	if err != nil {
		return store.ProcedureResult{}, err
	}
	if err := insertInvoiceItems(ctx, pgTx, args.InvoiceID, args.Items); err != nil {
		return store.ProcedureResult{}, err
	}

	if customerID.Valid {
		_, err = pgTx.ExecContext(ctx, `
			UPDATE customers
			SET name = COALESCE(NULLIF($3,''), name), address = $4, state = $5, pincode = $6, updated_at = now()
			WHERE shop_id = $1 AND id = $2
		`, args.ShopID, customerID.String, args.Snapshot.Name, args.Snapshot.Address, args.Snapshot.State, args.Snapshot.Pincode)
		if err != nil {
			return store.ProcedureResult{}, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return store.ProcedureResult{}, err
	}
	return store.ProcedureResult{Success: true}, nil
}

func (s *Store) CancelInvoice(ctx context.Context, shopID string, invoiceID string) (store.ProcedureResult, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return store.ProcedureResult{}, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var status string
	var customerID sql.NullString
	var earned, redeemed int64
	err = pgTx.QueryRowContext(ctx, `
		SELECT status, customer_id, loyalty_points_earned, loyalty_points_redeemed
		FROM invoices
		WHERE shop_id = $1 AND id = $2
		FOR UPDATE
	`, shopID, invoiceID).Scan(&status, &customerID, &earned, &redeemed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ProcedureResult{Success: false, Error: "invoice not found"}, nil
		}
		return store.ProcedureResult{}, err
	}
	if status == domain.InvoiceStatusCancelled {
		return store.ProcedureResult{Success: false, Error: "invoice already cancelled"}, nil
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE inventory_items
		SET status = $3, sold_invoice_id = NULL, sold_at = NULL
		WHERE shop_id = $1 AND sold_invoice_id = $2
	`, shopID, invoiceID, domain.StockStatusInStock)
	if err != nil {
		return store.ProcedureResult{}, err
	}

	// Cancel reverts only the applied earn. The redemption debit stays on the
	// balance until the invoice is deleted, where it is always refunded.
	if customerID.Valid && status == domain.InvoiceStatusPaid && earned > 0 {
		if err := adjustPointsTx(ctx, pgTx, shopID, customerID.String, -earned, "cancel_revert_earn", invoiceID); err != nil {
			return store.ProcedureResult{Success: false, Error: err.Error()}, nil
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE invoices SET status = $3, updated_at = now()
		WHERE shop_id = $1 AND id = $2
	`, shopID, invoiceID, domain.InvoiceStatusCancelled)
	if err != nil {
		return store.ProcedureResult{}, err
	}

	if err := pgTx.Commit(); err != nil {
		return store.ProcedureResult{}, err
	}
	return store.ProcedureResult{Success: true}, nil
}

// markStockSold locks and validates every referenced stock item, then marks
// the set sold against the invoice. Items already sold to the same invoice
// keep their original sold_at.
func markStockSold(ctx context.Context, pgTx *sql.Tx, shopID string, invoiceID string, items []domain.InvoiceItem, now time.Time) error {
	for _, item := range items {
		if item.StockItemID == "" {
			continue
		}
		var status string
		var soldInvoiceID sql.NullString
		err := pgTx.QueryRowContext(ctx, `
			SELECT status, sold_invoice_id FROM inventory_items
			WHERE shop_id = $1 AND id = $2
			FOR UPDATE
		`, shopID, item.StockItemID).Scan(&status, &soldInvoiceID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrStockConflict
			}
			return err
		}
		if status == domain.StockStatusSold && (!soldInvoiceID.Valid || soldInvoiceID.String != invoiceID) {
			return store.ErrStockConflict
		}

		_, err = pgTx.ExecContext(ctx, `
			UPDATE inventory_items
			SET status = $3, sold_invoice_id = $4, sold_at = COALESCE(sold_at, $5)
			WHERE shop_id = $1 AND id = $2
		`, shopID, item.StockItemID, domain.StockStatusSold, invoiceID, now)
		if err != nil {
			return err
		}
	}
	return nil
}

func insertInvoiceItems(ctx context.Context, pgTx *sql.Tx, invoiceID string, items []domain.InvoiceItem) error {
	for idx, item := range items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO invoice_items (invoice_id, position, name, metal, weight_grams, purity, rate_per_gram, making_charge, amount, stock_item_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, invoiceID, idx, item.Name, item.Metal, item.WeightGrams, item.Purity, item.RatePerGram, item.MakingCharge, item.Amount, nullIfEmpty(item.StockItemID))
		if err != nil {
			return err
		}
	}
	return nil
}

// adjustPointsTx is the in-transaction variant of adjustPoints for the
// invoice procedures.
func adjustPointsTx(ctx context.Context, pgTx *sql.Tx, shopID string, customerID string, delta int64, reason string, invoiceID string) error {
	if customerID == "" {
		return store.ErrNotFound
	}

	var balance int64
	err := pgTx.QueryRowContext(ctx, `
		SELECT loyalty_points FROM customers
		WHERE shop_id = $1 AND id = $2
		FOR UPDATE
	`, shopID, customerID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	if balance+delta < 0 {
		if delta < 0 {
			return &store.InsufficientPointsError{Requested: -delta, Available: balance}
		}
		return store.ErrNegativeBalance
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE customers SET loyalty_points = loyalty_points + $3, updated_at = now()
		WHERE shop_id = $1 AND id = $2
	`, shopID, customerID, delta)
	if err != nil {
		return err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO loyalty_ledger (id, shop_id, customer_id, invoice_id, points_change, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, xid.New("led"), shopID, customerID, nullIfEmpty(invoiceID), delta, reason)
	return err
}

func (s *Store) GetInvoice(ctx context.Context, shopID string, invoiceID string) (*domain.Invoice, error) {
	var invoice domain.Invoice
	var customerID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, shop_id, customer_id, customer_name, customer_phone, customer_address,
			customer_state, customer_pincode, subtotal, discount, cgst, sgst, grand_total,
			status, loyalty_points_earned, loyalty_points_redeemed, created_at, updated_at
		FROM invoices
		WHERE shop_id = $1 AND id = $2
	`, shopID, invoiceID).Scan(
		&invoice.ID, &invoice.ShopID, &customerID, &invoice.Customer.Name, &invoice.Customer.Phone,
		&invoice.Customer.Address, &invoice.Customer.State, &invoice.Customer.Pincode,
		&invoice.Subtotal, &invoice.Discount, &invoice.CGST, &invoice.SGST, &invoice.GrandTotal,
		&invoice.Status, &invoice.LoyaltyPointsEarned, &invoice.LoyaltyPointsRedeemed,
		&invoice.CreatedAt, &invoice.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if customerID.Valid {
		invoice.CustomerID = customerID.String
	}
	invoice.CreatedAt = invoice.CreatedAt.UTC()
	invoice.UpdatedAt = invoice.UpdatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, metal, weight_grams, purity, rate_per_gram, making_charge, amount, COALESCE(stock_item_id,'')
		FROM invoice_items
		WHERE invoice_id = $1
		ORDER BY position ASC
	`, invoice.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.InvoiceItem, 0, 4)
	for rows.Next() {
		var item domain.InvoiceItem
		if err := rows.Scan(&item.Name, &item.Metal, &item.WeightGrams, &item.Purity, &item.RatePerGram, &item.MakingCharge, &item.Amount, &item.StockItemID); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	invoice.Items = items

	return &invoice, nil
}

func (s *Store) ListInvoices(ctx context.Context, shopID string, status string, limit int) ([]domain.Invoice, error) {
	if limit < 1 {
		limit = 100
	}
	status = strings.ToLower(strings.TrimSpace(status))

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, COALESCE(customer_id,''), customer_name, customer_phone, customer_address,
			customer_state, customer_pincode, subtotal, discount, cgst, sgst, grand_total,
			status, loyalty_points_earned, loyalty_points_redeemed, created_at, updated_at
		FROM invoices
		WHERE shop_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, shopID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, limit)
	for rows.Next() {
		var invoice domain.Invoice
		if err := rows.Scan(&invoice.ID, &invoice.ShopID, &invoice.CustomerID, &invoice.Customer.Name,
			&invoice.Customer.Phone, &invoice.Customer.Address, &invoice.Customer.State, &invoice.Customer.Pincode,
			&invoice.Subtotal, &invoice.Discount, &invoice.CGST, &invoice.SGST, &invoice.GrandTotal,
			&invoice.Status, &invoice.LoyaltyPointsEarned, &invoice.LoyaltyPointsRedeemed,
			&invoice.CreatedAt, &invoice.UpdatedAt); err != nil {
			return nil, err
		}
		invoice.CreatedAt = invoice.CreatedAt.UTC()
		invoice.UpdatedAt = invoice.UpdatedAt.UTC()
		invoices = append(invoices, invoice)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (s *Store) SetInvoiceStatus(ctx context.Context, shopID string, invoiceID string, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE invoices SET status = $3, updated_at = now()
		WHERE shop_id = $1 AND id = $2
	`, shopID, invoiceID, status)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteInvoice(ctx context.Context, shopID string, invoiceID string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1`, invoiceID)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM invoices WHERE shop_id = $1 AND id = $2`, shopID, invoiceID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return tx.Commit()
}

func (s *Store) CreateInventoryItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	item.TagNo = strings.TrimSpace(item.TagNo)
	item.Name = strings.TrimSpace(item.Name)
	if item.ShopID == "" || item.TagNo == "" || item.Name == "" || item.WeightGrams <= 0 {
		return nil, store.ErrInvalidInput
	}
	if item.ID == "" {
		item.ID = xid.New("stk")
	}
	item.Status = domain.StockStatusInStock
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_items (id, shop_id, tag_no, name, metal, weight_grams, purity, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, item.ID, item.ShopID, item.TagNo, item.Name, item.Metal, item.WeightGrams, item.Purity, item.Status, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("tag %s already registered", item.TagNo)
		}
		return nil, err
	}
	item.CreatedAt = now
	created := item
	return &created, nil
}

func (s *Store) GetInventoryItemByTag(ctx context.Context, shopID string, tagNo string) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	var soldInvoiceID sql.NullString
	var soldAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, shop_id, tag_no, name, metal, weight_grams, purity, status, sold_invoice_id, sold_at, created_at
		FROM inventory_items
		WHERE shop_id = $1 AND upper(tag_no) = upper($2)
	`, shopID, strings.TrimSpace(tagNo)).Scan(
		&item.ID, &item.ShopID, &item.TagNo, &item.Name, &item.Metal, &item.WeightGrams, &item.Purity,
		&item.Status, &soldInvoiceID, &soldAt, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if soldInvoiceID.Valid {
		item.SoldInvoiceID = soldInvoiceID.String
	}
	if soldAt.Valid {
		at := soldAt.Time.UTC()
		item.SoldAt = &at
	}
	item.CreatedAt = item.CreatedAt.UTC()
	return &item, nil
}

func (s *Store) ListInventoryItems(ctx context.Context, shopID string, status string, limit int) ([]domain.InventoryItem, error) {
	if limit < 1 {
		limit = 200
	}
	status = strings.ToUpper(strings.TrimSpace(status))

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, tag_no, name, metal, weight_grams, purity, status, sold_invoice_id, sold_at, created_at
		FROM inventory_items
		WHERE shop_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY tag_no ASC
		LIMIT $3
	`, shopID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanInventoryRows(rows)
}

func (s *Store) ListInventoryByInvoice(ctx context.Context, invoiceID string) ([]domain.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, tag_no, name, metal, weight_grams, purity, status, sold_invoice_id, sold_at, created_at
		FROM inventory_items
		WHERE sold_invoice_id = $1
		ORDER BY tag_no ASC
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanInventoryRows(rows)
}

func (s *Store) ReleaseInventoryForInvoice(ctx context.Context, shopID string, invoiceID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE inventory_items
		SET status = $3, sold_invoice_id = NULL, sold_at = NULL
		WHERE shop_id = $1 AND sold_invoice_id = $2
	`, shopID, invoiceID, domain.StockStatusInStock)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func scanInventoryRows(rows *sql.Rows) ([]domain.InventoryItem, error) {
	items := make([]domain.InventoryItem, 0, 32)
	for rows.Next() {
		var item domain.InventoryItem
		var soldInvoiceID sql.NullString
		var soldAt sql.NullTime
		if err := rows.Scan(&item.ID, &item.ShopID, &item.TagNo, &item.Name, &item.Metal, &item.WeightGrams,
			&item.Purity, &item.Status, &soldInvoiceID, &soldAt, &item.CreatedAt); err != nil {
			return nil, err
		}
		if soldInvoiceID.Valid {
			item.SoldInvoiceID = soldInvoiceID.String
		}
		if soldAt.Valid {
			at := soldAt.Time.UTC()
			item.SoldAt = &at
		}
		item.CreatedAt = item.CreatedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, shop_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.ShopID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, shopID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR shop_id = $1) AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, shopID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ShopID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = "staff"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,true,now())
	`, username, user.Password, user.Role)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password_hash, role, active, created_at
		FROM users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
