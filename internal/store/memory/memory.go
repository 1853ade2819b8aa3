package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"goldbook/backend/internal/domain"
	"goldbook/backend/internal/store"
	"goldbook/backend/internal/xid"
)

type Store struct {
	mu               sync.RWMutex
	customersByID    map[string]domain.Customer
	customerIDByKey  map[string]string
	invoicesByID     map[string]*domain.Invoice
	inventoryByID    map[string]domain.InventoryItem
	inventoryIDByTag map[string]string
	ledgerEntries    []domain.LoyaltyLedgerEntry
	settingsByShop   map[string]domain.LoyaltySettings
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_OWNER_PASSWORD and SEED_STAFF_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_OWNER_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"owner", ownerPwd, "owner"},
		{"staff", staffPwd, "staff"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	items := []domain.InventoryItem{
		{TagNo: "G-RING-001", Name: "Gold Ring 22K", Metal: "gold", WeightGrams: 4.52, Purity: "22K"},
		{TagNo: "G-CHAIN-001", Name: "Gold Chain 22K", Metal: "gold", WeightGrams: 12.30, Purity: "22K"},
		{TagNo: "G-BANGLE-001", Name: "Gold Bangle Pair 22K", Metal: "gold", WeightGrams: 21.75, Purity: "22K"},
		{TagNo: "G-STUD-001", Name: "Gold Ear Studs 18K", Metal: "gold", WeightGrams: 3.10, Purity: "18K"},
		{TagNo: "S-ANKLET-001", Name: "Silver Anklet", Metal: "silver", WeightGrams: 38.40, Purity: "925"},
		{TagNo: "S-COIN-010", Name: "Silver Coin 10g", Metal: "silver", WeightGrams: 10.00, Purity: "999"},
	}

	inventoryByID := make(map[string]domain.InventoryItem, len(items))
	inventoryIDByTag := make(map[string]string, len(items))
	for _, item := range items {
		item.ID = xid.New("stk")
		item.ShopID = "main-shop"
		item.Status = domain.StockStatusInStock
		item.CreatedAt = now
		inventoryByID[item.ID] = item
		inventoryIDByTag[inventoryTagKey(item.ShopID, item.TagNo)] = item.ID
	}

	return &Store{
		customersByID:    make(map[string]domain.Customer),
		customerIDByKey:  make(map[string]string),
		invoicesByID:     make(map[string]*domain.Invoice),
		inventoryByID:    inventoryByID,
		inventoryIDByTag: inventoryIDByTag,
		ledgerEntries:    make([]domain.LoyaltyLedgerEntry, 0, 128),
		settingsByShop: map[string]domain.LoyaltySettings{
			"main-shop": {ShopID: "main-shop", Enabled: true, Mode: domain.LoyaltyModeFlat, FlatPointsRatio: 0.01},
		},
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

func (s *Store) UpsertCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	customer.Name = strings.TrimSpace(customer.Name)
	customer.Phone = strings.TrimSpace(customer.Phone)
	if customer.ShopID == "" || customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	key := customerKey(customer.ShopID, customer.Phone)
	if existingID, ok := s.customerIDByKey[key]; ok {
		existing := s.customersByID[existingID]
		existing.Name = customer.Name
		existing.Address = customer.Address
		existing.State = customer.State
		existing.Pincode = customer.Pincode
		existing.UpdatedAt = now
		s.customersByID[existingID] = existing
		copyCustomer := existing
		return &copyCustomer, nil
	}

	customer.ID = xid.New("cust")
	customer.LoyaltyPoints = 0
	customer.CreatedAt = now
	customer.UpdatedAt = now
	s.customersByID[customer.ID] = customer
	s.customerIDByKey[key] = customer.ID
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) FindCustomerByPhone(_ context.Context, shopID string, phone string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.customerIDByKey[customerKey(shopID, strings.TrimSpace(phone))]
	if !ok {
		return nil, store.ErrNotFound
	}
	customer := s.customersByID[id]
	return &customer, nil
}

func (s *Store) InsertCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	customer.Name = strings.TrimSpace(customer.Name)
	customer.Phone = strings.TrimSpace(customer.Phone)
	if customer.ShopID == "" || customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := customerKey(customer.ShopID, customer.Phone)
	if _, exists := s.customerIDByKey[key]; exists {
		return nil, store.ErrInvalidInput
	}

	now := time.Now().UTC()
	customer.ID = xid.New("cust")
	customer.LoyaltyPoints = 0
	customer.CreatedAt = now
	customer.UpdatedAt = now
	s.customersByID[customer.ID] = customer
	s.customerIDByKey[key] = customer.ID
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) UpdateCustomerProfile(_ context.Context, customer domain.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.customersByID[customer.ID]
	if !ok || existing.ShopID != customer.ShopID {
		return store.ErrNotFound
	}
	if name := strings.TrimSpace(customer.Name); name != "" {
		existing.Name = name
	}
	existing.Address = customer.Address
	existing.State = customer.State
	existing.Pincode = customer.Pincode
	existing.UpdatedAt = time.Now().UTC()
	s.customersByID[customer.ID] = existing
	return nil
}

func (s *Store) GetCustomer(_ context.Context, shopID string, customerID string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customersByID[customerID]
	if !ok || customer.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) ListCustomers(_ context.Context, shopID string, limit int) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Customer, 0, len(s.customersByID))
	for _, customer := range s.customersByID {
		if customer.ShopID != shopID {
			continue
		}
		result = append(result, customer)
	}
	slices.SortFunc(result, func(a, b domain.Customer) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetLoyaltyBalance(_ context.Context, customerID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customersByID[customerID]
	if !ok {
		return 0, store.ErrNotFound
	}
	return customer.LoyaltyPoints, nil
}

func (s *Store) IncrementPoints(_ context.Context, shopID string, customerID string, points int64, reason string, invoiceID string) error {
	if points < 1 {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.adjustPointsLocked(shopID, customerID, points, reason, invoiceID)
}

func (s *Store) DecrementPoints(_ context.Context, shopID string, customerID string, points int64, reason string, invoiceID string) error {
	if points < 1 {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.adjustPointsLocked(shopID, customerID, -points, reason, invoiceID)
}

// adjustPointsLocked applies a balance delta and appends the matching ledger
// entry as one step. Caller must hold the write lock.
func (s *Store) adjustPointsLocked(shopID string, customerID string, delta int64, reason string, invoiceID string) error {
	customer, ok := s.customersByID[customerID]
	if !ok || customer.ShopID != shopID {
		return store.ErrNotFound
	}
	next := customer.LoyaltyPoints + delta
	if next < 0 {
		return store.ErrNegativeBalance
	}
	customer.LoyaltyPoints = next
	customer.UpdatedAt = time.Now().UTC()
	s.customersByID[customerID] = customer

	s.ledgerEntries = append(s.ledgerEntries, domain.LoyaltyLedgerEntry{
		ID:           xid.New("led"),
		ShopID:       shopID,
		CustomerID:   customerID,
		InvoiceID:    invoiceID,
		PointsChange: delta,
		Reason:       reason,
		CreatedAt:    time.Now().UTC(),
	})
	return nil
}

func (s *Store) ListLedgerEntries(_ context.Context, shopID string, customerID string, limit int) ([]domain.LoyaltyLedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.LoyaltyLedgerEntry, 0, 64)
	for _, entry := range s.ledgerEntries {
		if entry.ShopID != shopID || entry.CustomerID != customerID {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.LoyaltyLedgerEntry) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetLoyaltySettings(_ context.Context, shopID string) (*domain.LoyaltySettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings, ok := s.settingsByShop[shopID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copySettings := settings
	return &copySettings, nil
}

func (s *Store) SaveLoyaltySettings(_ context.Context, settings domain.LoyaltySettings) (*domain.LoyaltySettings, error) {
	if settings.ShopID == "" {
		return nil, store.ErrInvalidInput
	}
	if settings.Mode != domain.LoyaltyModeFlat && settings.Mode != domain.LoyaltyModePercentage {
		return nil, store.ErrInvalidInput
	}
	if settings.FlatPointsRatio < 0 || settings.PercentageBack < 0 || settings.PercentageBack > 100 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.settingsByShop[settings.ShopID] = settings
	copySettings := settings
	return &copySettings, nil
}

func (s *Store) CreateInvoice(_ context.Context, args store.InvoiceCreateArgs) (string, error) {
	if args.ShopID == "" || len(args.Items) == 0 {
		return "", store.ErrInvalidInvoice
	}
	if args.Status != domain.InvoiceStatusDue && args.Status != domain.InvoiceStatusPaid {
		return "", store.ErrInvalidInvoice
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	invoiceID := xid.New("inv")

	// Validate every referenced stock item before mutating anything.
	for _, item := range args.Items {
		if item.StockItemID == "" {
			continue
		}
		stock, ok := s.inventoryByID[item.StockItemID]
		if !ok || stock.ShopID != args.ShopID || stock.Status == domain.StockStatusSold {
			return "", store.ErrStockConflict
		}
	}

	// Both point paths are validated before any stock mutation so a failed
	// adjustment cannot leave items marked sold.
	if args.PointsRedeemed > 0 || (args.PointsEarned > 0 && args.Status == domain.InvoiceStatusPaid) {
		customer, ok := s.customersByID[args.CustomerID]
		if !ok || customer.ShopID != args.ShopID {
			return "", store.ErrNotFound
		}
		if customer.LoyaltyPoints < args.PointsRedeemed {
			return "", &store.InsufficientPointsError{Requested: args.PointsRedeemed, Available: customer.LoyaltyPoints}
		}
	}

	for _, item := range args.Items {
		if item.StockItemID == "" {
			continue
		}
		stock := s.inventoryByID[item.StockItemID]
		stock.Status = domain.StockStatusSold
		stock.SoldInvoiceID = invoiceID
		soldAt := now
		stock.SoldAt = &soldAt
		s.inventoryByID[item.StockItemID] = stock
	}

	if args.PointsRedeemed > 0 {
		if err := s.adjustPointsLocked(args.ShopID, args.CustomerID, -args.PointsRedeemed, "redeemed", invoiceID); err != nil {
			return "", err
		}
	}
	// Earn is credited on creation only for invoices that start out paid;
	// a due invoice earns when it is later marked paid.
	if args.PointsEarned > 0 && args.Status == domain.InvoiceStatusPaid {
		if err := s.adjustPointsLocked(args.ShopID, args.CustomerID, args.PointsEarned, "earned", invoiceID); err != nil {
			return "", err
		}
	}

	items := make([]domain.InvoiceItem, len(args.Items))
	copy(items, args.Items)
	s.invoicesByID[invoiceID] = &domain.Invoice{
		ID:                    invoiceID,
		ShopID:                args.ShopID,
		CustomerID:            args.CustomerID,
		Customer:              args.Snapshot,
		Subtotal:              args.Subtotal,
		Discount:              args.Discount,
		CGST:                  args.CGST,
		SGST:                  args.SGST,
		GrandTotal:            args.GrandTotal,
		Status:                args.Status,
		LoyaltyPointsEarned:   args.PointsEarned,
		LoyaltyPointsRedeemed: args.PointsRedeemed,
		CreatedAt:             now,
		UpdatedAt:             now,
		Items:                 items,
	}
	return invoiceID, nil
}

func (s *Store) UpdateInvoice(_ context.Context, args store.InvoiceUpdateArgs) (store.ProcedureResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, ok := s.invoicesByID[args.InvoiceID]
	if !ok || invoice.ShopID != args.ShopID {
		return store.ProcedureResult{Success: false, Error: "invoice not found"}, nil
	}
	if invoice.Status == domain.InvoiceStatusCancelled {
		return store.ProcedureResult{Success: false, Error: "invoice is cancelled"}, nil
	}

	now := time.Now().UTC()
	for _, item := range args.Items {
		if item.StockItemID == "" {
			continue
		}
		stock, ok := s.inventoryByID[item.StockItemID]
		if !ok || stock.ShopID != args.ShopID {
			return store.ProcedureResult{Success: false, Error: "stock item not found"}, nil
		}
		if stock.Status == domain.StockStatusSold && stock.SoldInvoiceID != args.InvoiceID {
			return store.ProcedureResult{Success: false, Error: "stock item already sold"}, nil
		}
	}

	// Release stock no longer referenced, then mark the new set sold.
	nextStock := make(map[string]struct{}, len(args.Items))
	for _, item := range args.Items {
		if item.StockItemID != "" {
			nextStock[item.StockItemID] = struct{}{}
		}
	}
	for _, item := range invoice.Items {
		if item.StockItemID == "" {
			continue
		}
		if _, keep := nextStock[item.StockItemID]; keep {
			continue
		}
		stock, ok := s.inventoryByID[item.StockItemID]
		if !ok || stock.SoldInvoiceID != args.InvoiceID {
			continue
		}
		stock.Status = domain.StockStatusInStock
		stock.SoldInvoiceID = ""
		stock.SoldAt = nil
		s.inventoryByID[item.StockItemID] = stock
	}
	for id := range nextStock {
		stock := s.inventoryByID[id]
		stock.Status = domain.StockStatusSold
		stock.SoldInvoiceID = args.InvoiceID
		if stock.SoldAt == nil {
			soldAt := now
			stock.SoldAt = &soldAt
		}
		s.inventoryByID[id] = stock
	}

	items := make([]domain.InvoiceItem, len(args.Items))
	copy(items, args.Items)
	invoice.Customer = args.Snapshot
	invoice.Subtotal = args.Subtotal
	invoice.Discount = args.Discount
	invoice.CGST = args.CGST
	invoice.SGST = args.SGST
	invoice.GrandTotal = args.GrandTotal
	invoice.Items = items
	invoice.UpdatedAt = now

	if invoice.CustomerID != "" {
		customer, ok := s.customersByID[invoice.CustomerID]
		if ok {
			customer.Name = args.Snapshot.Name
			customer.Address = args.Snapshot.Address
			customer.State = args.Snapshot.State
			customer.Pincode = args.Snapshot.Pincode
			customer.UpdatedAt = now
			s.customersByID[invoice.CustomerID] = customer
		}
	}

	return store.ProcedureResult{Success: true}, nil
}

func (s *Store) CancelInvoice(_ context.Context, shopID string, invoiceID string) (store.ProcedureResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, ok := s.invoicesByID[invoiceID]
	if !ok || invoice.ShopID != shopID {
		return store.ProcedureResult{Success: false, Error: "invoice not found"}, nil
	}
	if invoice.Status == domain.InvoiceStatusCancelled {
		return store.ProcedureResult{Success: false, Error: "invoice already cancelled"}, nil
	}

	s.releaseInventoryLocked(shopID, invoiceID)

	// Cancel reverts only the applied earn. The redemption debit stays on the
	// balance until the invoice is deleted, where it is always refunded.
	if invoice.CustomerID != "" && invoice.Status == domain.InvoiceStatusPaid && invoice.LoyaltyPointsEarned > 0 {
		if err := s.adjustPointsLocked(shopID, invoice.CustomerID, -invoice.LoyaltyPointsEarned, "cancel_revert_earn", invoiceID); err != nil {
			return store.ProcedureResult{Success: false, Error: err.Error()}, nil
		}
	}

	invoice.Status = domain.InvoiceStatusCancelled
	invoice.UpdatedAt = time.Now().UTC()
	return store.ProcedureResult{Success: true}, nil
}

func (s *Store) GetInvoice(_ context.Context, shopID string, invoiceID string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoice, ok := s.invoicesByID[invoiceID]
	if !ok || invoice.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	return cloneInvoice(invoice), nil
}

func (s *Store) ListInvoices(_ context.Context, shopID string, status string, limit int) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status = strings.ToLower(strings.TrimSpace(status))
	result := make([]domain.Invoice, 0, len(s.invoicesByID))
	for _, invoice := range s.invoicesByID {
		if invoice.ShopID != shopID {
			continue
		}
		if status != "" && invoice.Status != status {
			continue
		}
		result = append(result, *cloneInvoice(invoice))
	}
	slices.SortFunc(result, func(a, b domain.Invoice) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) SetInvoiceStatus(_ context.Context, shopID string, invoiceID string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, ok := s.invoicesByID[invoiceID]
	if !ok || invoice.ShopID != shopID {
		return store.ErrNotFound
	}
	invoice.Status = status
	invoice.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) DeleteInvoice(_ context.Context, shopID string, invoiceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, ok := s.invoicesByID[invoiceID]
	if !ok || invoice.ShopID != shopID {
		return store.ErrNotFound
	}
	delete(s.invoicesByID, invoiceID)
	return nil
}

func (s *Store) CreateInventoryItem(_ context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	item.TagNo = strings.TrimSpace(item.TagNo)
	item.Name = strings.TrimSpace(item.Name)
	if item.ShopID == "" || item.TagNo == "" || item.Name == "" || item.WeightGrams <= 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := inventoryTagKey(item.ShopID, item.TagNo)
	if _, exists := s.inventoryIDByTag[key]; exists {
		return nil, fmt.Errorf("tag %s already registered", item.TagNo)
	}

	item.ID = xid.New("stk")
	item.Status = domain.StockStatusInStock
	item.CreatedAt = time.Now().UTC()
	s.inventoryByID[item.ID] = item
	s.inventoryIDByTag[key] = item.ID
	copyItem := item
	return &copyItem, nil
}

func (s *Store) GetInventoryItemByTag(_ context.Context, shopID string, tagNo string) (*domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.inventoryIDByTag[inventoryTagKey(shopID, strings.TrimSpace(tagNo))]
	if !ok {
		return nil, store.ErrNotFound
	}
	item := s.inventoryByID[id]
	return &item, nil
}

func (s *Store) ListInventoryItems(_ context.Context, shopID string, status string, limit int) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status = strings.ToUpper(strings.TrimSpace(status))
	result := make([]domain.InventoryItem, 0, len(s.inventoryByID))
	for _, item := range s.inventoryByID {
		if item.ShopID != shopID {
			continue
		}
		if status != "" && item.Status != status {
			continue
		}
		result = append(result, item)
	}
	slices.SortFunc(result, func(a, b domain.InventoryItem) int {
		return cmpString(a.TagNo, b.TagNo)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListInventoryByInvoice(_ context.Context, invoiceID string) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryItem, 0, 4)
	for _, item := range s.inventoryByID {
		if item.SoldInvoiceID != invoiceID {
			continue
		}
		result = append(result, item)
	}
	slices.SortFunc(result, func(a, b domain.InventoryItem) int {
		return cmpString(a.TagNo, b.TagNo)
	})
	return result, nil
}

func (s *Store) ReleaseInventoryForInvoice(_ context.Context, shopID string, invoiceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.releaseInventoryLocked(shopID, invoiceID), nil
}

func (s *Store) releaseInventoryLocked(shopID string, invoiceID string) int {
	released := 0
	for id, item := range s.inventoryByID {
		if item.ShopID != shopID || item.SoldInvoiceID != invoiceID {
			continue
		}
		item.Status = domain.StockStatusInStock
		item.SoldInvoiceID = ""
		item.SoldAt = nil
		s.inventoryByID[id] = item
		released++
	}
	return released
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, shopID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if shopID != "" && entry.ShopID != shopID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidInput
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "staff"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func customerKey(shopID string, phone string) string {
	return shopID + "::" + phone
}

func inventoryTagKey(shopID string, tagNo string) string {
	return shopID + "::" + strings.ToUpper(tagNo)
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneInvoice(src *domain.Invoice) *domain.Invoice {
	if src == nil {
		return nil
	}
	dup := *src
	items := make([]domain.InvoiceItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return &dup
}
