package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"goldbook/backend/internal/domain"
	"goldbook/backend/internal/loyalty"
	"goldbook/backend/internal/notify"
	"goldbook/backend/internal/store"
	"goldbook/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service coordinates invoice writes with the customer, loyalty, and stock
// state they touch. The invoice procedures are atomic; the surrounding
// customer resolution and point adjustments are individual store calls, so
// each step degrades the way documented on the operation that runs it.
type Service struct {
	repo          store.Repository
	proc          store.InvoiceProcedure
	notifier      notify.Notifier
	defaultShopID string
}

func New(repo store.Repository, proc store.InvoiceProcedure, notifier notify.Notifier, defaultShopID string) *Service {
	if defaultShopID == "" {
		defaultShopID = "main-shop"
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}

	return &Service{
		repo:          repo,
		proc:          proc,
		notifier:      notifier,
		defaultShopID: defaultShopID,
	}
}

const defaultGSTRatePercent = 3

func (s *Service) CreateInvoice(ctx context.Context, req domain.InvoiceCreateRequest) (domain.InvoiceCreateResponse, error) {
	if req.ShopID == "" {
		req.ShopID = s.defaultShopID
	}
	if req.Status == "" {
		req.Status = domain.InvoiceStatusPaid
	}
	if req.Status != domain.InvoiceStatusDue && req.Status != domain.InvoiceStatusPaid {
		return domain.InvoiceCreateResponse{}, store.ErrInvalidInvoice
	}
	if req.RedeemPoints < 0 {
		return domain.InvoiceCreateResponse{}, store.ErrInvalidInvoice
	}

	snapshot := normalizeSnapshot(req.Customer)
	items, subtotal, err := normalizeItems(req.Items)
	if err != nil {
		return domain.InvoiceCreateResponse{}, err
	}

	discount := round2(req.Discount)
	if discount < 0 || discount > subtotal {
		return domain.InvoiceCreateResponse{}, store.ErrInvalidInvoice
	}
	gstRate := req.GSTRatePercent
	if gstRate == 0 {
		gstRate = defaultGSTRatePercent
	}
	if gstRate < 0 || gstRate > 100 {
		return domain.InvoiceCreateResponse{}, store.ErrInvalidInvoice
	}

	taxBase := subtotal - discount
	// GST on jewellery is split equally between central and state halves.
	cgst := round2(taxBase * gstRate / 200)
	sgst := cgst
	grandTotal := round2(taxBase + cgst + sgst)

	customer, err := s.resolveCustomer(ctx, req.ShopID, snapshot)
	if err != nil {
		return domain.InvoiceCreateResponse{}, err
	}

	customerID := ""
	balance := int64(0)
	resolved := customer != nil
	if resolved {
		customerID = customer.ID
		balance, err = s.repo.GetLoyaltyBalance(ctx, customerID)
		if err != nil {
			// The invoice can still be written; it just carries no points.
			log.Printf("[service] WARN: loyalty balance lookup for customer %s failed, forcing zero points: %v", customerID, err)
			resolved = false
			balance = 0
		}
	}

	var settings *domain.LoyaltySettings
	if resolved {
		settings, err = s.repo.GetLoyaltySettings(ctx, req.ShopID)
		if err != nil && !isNotFound(err) {
			log.Printf("[service] WARN: loyalty settings lookup for shop %s failed, forcing zero points: %v", req.ShopID, err)
		}
	}

	earn, redeem, err := loyalty.Compute(settings, resolved, balance, req.RedeemPoints, grandTotal)
	if err != nil {
		return domain.InvoiceCreateResponse{}, err
	}

	invoiceID, err := s.proc.CreateInvoice(ctx, store.InvoiceCreateArgs{
		ShopID:         req.ShopID,
		CustomerID:     customerID,
		Snapshot:       snapshot,
		Items:          items,
		Subtotal:       subtotal,
		Discount:       discount,
		CGST:           cgst,
		SGST:           sgst,
		GrandTotal:     grandTotal,
		Status:         req.Status,
		PointsEarned:   earn,
		PointsRedeemed: redeem,
	})
	if err != nil {
		return domain.InvoiceCreateResponse{}, err
	}

	s.logAudit(ctx, req.ShopID, "invoice_create", "invoice", invoiceID,
		fmt.Sprintf("total=%.2f,status=%s,earn=%d,redeem=%d", grandTotal, req.Status, earn, redeem))
	s.notifier.DataChanged(ctx, req.ShopID, notify.ScopeInvoices, notify.ScopeDashboard, notify.ScopeInsights)

	return domain.InvoiceCreateResponse{
		InvoiceID:      invoiceID,
		GrandTotal:     grandTotal,
		PointsEarned:   earn,
		PointsRedeemed: redeem,
		CustomerID:     customerID,
	}, nil
}

// resolveCustomer ensures the invoice's customer exists with current contact
// fields. A nil customer with nil error means the invoice proceeds without a
// customer link (anonymous walk-in with no phone).
func (s *Service) resolveCustomer(ctx context.Context, shopID string, snapshot domain.CustomerSnapshot) (*domain.Customer, error) {
	if snapshot.Phone == "" {
		return nil, nil
	}
	if snapshot.Name == "" {
		return nil, store.ErrInvalidInvoice
	}

	candidate := domain.Customer{
		ShopID:  shopID,
		Name:    snapshot.Name,
		Phone:   snapshot.Phone,
		Address: snapshot.Address,
		State:   snapshot.State,
		Pincode: snapshot.Pincode,
	}

	customer, err := s.repo.UpsertCustomer(ctx, candidate)
	if err == nil {
		return customer, nil
	}
	log.Printf("[service] WARN: customer upsert for phone %s failed, falling back to find-or-insert: %v", snapshot.Phone, err)

	existing, findErr := s.repo.FindCustomerByPhone(ctx, shopID, snapshot.Phone)
	if findErr == nil {
		update := candidate
		update.ID = existing.ID
		if updErr := s.repo.UpdateCustomerProfile(ctx, update); updErr != nil {
			log.Printf("[service] WARN: customer profile update for %s failed: %v", existing.ID, updErr)
		}
		existing.Name = candidate.Name
		existing.Address = candidate.Address
		existing.State = candidate.State
		existing.Pincode = candidate.Pincode
		return existing, nil
	}
	if !isNotFound(findErr) {
		return nil, findErr
	}

	// Both the upsert and the lookup say the customer does not exist, so the
	// insert must succeed or the whole invoice aborts.
	inserted, insErr := s.repo.InsertCustomer(ctx, candidate)
	if insErr != nil {
		return nil, fmt.Errorf("customer record could not be created: %w", insErr)
	}
	return inserted, nil
}

func (s *Service) GetInvoice(ctx context.Context, shopID string, invoiceID string) (*domain.Invoice, error) {
	if shopID == "" {
		shopID = s.defaultShopID
	}
	return s.repo.GetInvoice(ctx, shopID, invoiceID)
}

func (s *Service) ListInvoices(ctx context.Context, shopID string, status string, limit int) ([]domain.Invoice, error) {
	if shopID == "" {
		shopID = s.defaultShopID
	}
	return s.repo.ListInvoices(ctx, shopID, status, limit)
}

func (s *Service) UpdateInvoice(ctx context.Context, shopID string, invoiceID string, req domain.InvoiceUpdateRequest) (*domain.Invoice, error) {
	if shopID == "" {
		shopID = s.defaultShopID
	}

	invoice, err := s.repo.GetInvoice(ctx, shopID, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status == domain.InvoiceStatusCancelled {
		return nil, fmt.Errorf("invoice is cancelled")
	}

	snapshot := invoice.Customer
	if req.Name != nil {
		snapshot.Name = strings.TrimSpace(*req.Name)
	}
	if req.Phone != nil {
		snapshot.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Address != nil {
		snapshot.Address = strings.TrimSpace(*req.Address)
	}
	if req.State != nil {
		snapshot.State = strings.TrimSpace(*req.State)
	}
	if req.Pincode != nil {
		snapshot.Pincode = strings.TrimSpace(*req.Pincode)
	}

	items := invoice.Items
	subtotal := invoice.Subtotal
	if req.Items != nil {
		items, subtotal, err = normalizeItems(req.Items)
		if err != nil {
			return nil, err
		}
	}

	discount := invoice.Discount
	if req.Discount != nil {
		discount = round2(*req.Discount)
	}
	if discount < 0 || discount > subtotal {
		return nil, store.ErrInvalidInvoice
	}

	// Tax is re-derived from the stored split so the original rate carries
	// through edits that never touched it.
	gstRate := defaultGSTRatePercent * 1.0
	if invoice.Subtotal-invoice.Discount > 0 {
		gstRate = (invoice.CGST + invoice.SGST) / (invoice.Subtotal - invoice.Discount) * 100
	}
	taxBase := subtotal - discount
	cgst := round2(taxBase * gstRate / 200)
	sgst := cgst
	grandTotal := round2(taxBase + cgst + sgst)

	res, err := s.proc.UpdateInvoice(ctx, store.InvoiceUpdateArgs{
		InvoiceID:  invoiceID,
		ShopID:     shopID,
		Snapshot:   snapshot,
		Items:      items,
		Subtotal:   subtotal,
		Discount:   discount,
		CGST:       cgst,
		SGST:       sgst,
		GrandTotal: grandTotal,
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("invoice update rejected: %s", res.Error)
	}

	s.logAudit(ctx, shopID, "invoice_update", "invoice", invoiceID, fmt.Sprintf("total=%.2f", grandTotal))
	s.notifier.DataChanged(ctx, shopID, notify.ScopeInvoices, notify.ScopeDashboard)

	return s.repo.GetInvoice(ctx, shopID, invoiceID)
}

func (s *Service) ChangeInvoiceStatus(ctx context.Context, shopID string, invoiceID string, next string) (*domain.Invoice, error) {
	if shopID == "" {
		shopID = s.defaultShopID
	}
	next = strings.ToLower(strings.TrimSpace(next))
	if next != domain.InvoiceStatusDue && next != domain.InvoiceStatusPaid && next != domain.InvoiceStatusCancelled {
		return nil, store.ErrInvalidInvoice
	}

	if next == domain.InvoiceStatusCancelled {
		res, err := s.proc.CancelInvoice(ctx, shopID, invoiceID)
		if err != nil {
			return nil, err
		}
		if !res.Success {
			return nil, fmt.Errorf("invoice cancel rejected: %s", res.Error)
		}
		s.logAudit(ctx, shopID, "invoice_cancel", "invoice", invoiceID, "")
		s.notifier.DataChanged(ctx, shopID, notify.ScopeInvoices, notify.ScopeDashboard, notify.ScopeInsights)
		return s.repo.GetInvoice(ctx, shopID, invoiceID)
	}

	invoice, err := s.repo.GetInvoice(ctx, shopID, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status == domain.InvoiceStatusCancelled {
		return nil, fmt.Errorf("invoice is cancelled")
	}
	if invoice.Status == next {
		return nil, fmt.Errorf("invoice already %s", next)
	}

	// Points move before the status row: a failed adjustment is logged and
	// skipped, the status change still lands.
	if invoice.CustomerID != "" && invoice.LoyaltyPointsEarned > 0 {
		switch {
		case invoice.Status == domain.InvoiceStatusDue && next == domain.InvoiceStatusPaid:
			if err := s.repo.IncrementPoints(ctx, shopID, invoice.CustomerID, invoice.LoyaltyPointsEarned, "earned_on_paid", invoiceID); err != nil {
				log.Printf("[service] WARN: crediting %d points for invoice %s failed: %v", invoice.LoyaltyPointsEarned, invoiceID, err)
			}
		case invoice.Status == domain.InvoiceStatusPaid && next == domain.InvoiceStatusDue:
			if err := s.repo.DecrementPoints(ctx, shopID, invoice.CustomerID, invoice.LoyaltyPointsEarned, "revert_on_due", invoiceID); err != nil {
				log.Printf("[service] WARN: reverting %d points for invoice %s failed: %v", invoice.LoyaltyPointsEarned, invoiceID, err)
			}
		}
	}

	if err := s.repo.SetInvoiceStatus(ctx, shopID, invoiceID, next); err != nil {
		return nil, err
	}

	s.logAudit(ctx, shopID, "invoice_status", "invoice", invoiceID, fmt.Sprintf("%s->%s", invoice.Status, next))
	s.notifier.DataChanged(ctx, shopID, notify.ScopeInvoices, notify.ScopeDashboard)

	return s.repo.GetInvoice(ctx, shopID, invoiceID)
}

func (s *Service) DeleteInvoice(ctx context.Context, shopID string, invoiceID string) error {
	if shopID == "" {
		shopID = s.defaultShopID
	}

	invoice, err := s.repo.GetInvoice(ctx, shopID, invoiceID)
	if err != nil {
		return err
	}

	if invoice.CustomerID != "" {
		// Earn is reverted only when it was actually applied, which means the
		// invoice sits at paid. A cancelled invoice had its earn reverted by
		// the cancel procedure and a due invoice never had it credited.
		if invoice.Status == domain.InvoiceStatusPaid && invoice.LoyaltyPointsEarned > 0 {
			if err := s.repo.DecrementPoints(ctx, shopID, invoice.CustomerID, invoice.LoyaltyPointsEarned, "delete_revert_earn", invoiceID); err != nil {
				log.Printf("[service] WARN: reverting %d earned points for deleted invoice %s failed: %v", invoice.LoyaltyPointsEarned, invoiceID, err)
			}
		}
		// Redemption is refunded on every delete regardless of status; the
		// cancel procedure leaves the redemption debit in place.
		if invoice.LoyaltyPointsRedeemed > 0 {
			if err := s.repo.IncrementPoints(ctx, shopID, invoice.CustomerID, invoice.LoyaltyPointsRedeemed, "delete_refund_redeem", invoiceID); err != nil {
				log.Printf("[service] WARN: refunding %d redeemed points for deleted invoice %s failed: %v", invoice.LoyaltyPointsRedeemed, invoiceID, err)
			}
		}
	}

	// Stock release is the hard gate: a sold item that stays marked against a
	// deleted invoice row would be unsellable forever.
	if _, err := s.repo.ReleaseInventoryForInvoice(ctx, shopID, invoiceID); err != nil {
		return fmt.Errorf("inventory release failed, invoice not deleted: %w", err)
	}

	if err := s.repo.DeleteInvoice(ctx, shopID, invoiceID); err != nil {
		return err
	}

	s.logAudit(ctx, shopID, "invoice_delete", "invoice", invoiceID, fmt.Sprintf("status=%s,total=%.2f", invoice.Status, invoice.GrandTotal))
	s.notifier.DataChanged(ctx, shopID, notify.ScopeInvoices, notify.ScopeDashboard, notify.ScopeInsights)
	return nil
}

func (s *Service) ListCustomers(ctx context.Context, shopID string, limit int) ([]domain.Customer, error) {
	if shopID == "" {
		shopID = s.defaultShopID
	}
	return s.repo.ListCustomers(ctx, shopID, limit)
}

func (s *Service) GetCustomerLedger(ctx context.Context, shopID string, customerID string, limit int) (domain.CustomerLedgerResponse, error) {
	if shopID == "" {
		shopID = s.defaultShopID
	}

	customer, err := s.repo.GetCustomer(ctx, shopID, customerID)
	if err != nil {
		return domain.CustomerLedgerResponse{}, err
	}
	entries, err := s.repo.ListLedgerEntries(ctx, shopID, customerID, limit)
	if err != nil {
		return domain.CustomerLedgerResponse{}, err
	}

	var issued, redeemed int64
	for _, entry := range entries {
		if entry.PointsChange > 0 {
			issued += entry.PointsChange
		} else {
			redeemed += -entry.PointsChange
		}
	}

	return domain.CustomerLedgerResponse{
		Customer:       *customer,
		Entries:        entries,
		PointsIssued:   issued,
		PointsRedeemed: redeemed,
	}, nil
}

func (s *Service) GetLoyaltySettings(ctx context.Context, shopID string) (domain.LoyaltySettings, error) {
	if shopID == "" {
		shopID = s.defaultShopID
	}
	settings, err := s.repo.GetLoyaltySettings(ctx, shopID)
	if err != nil {
		if isNotFound(err) {
			return domain.LoyaltySettings{ShopID: shopID, Enabled: false, Mode: domain.LoyaltyModeFlat}, nil
		}
		return domain.LoyaltySettings{}, err
	}
	return *settings, nil
}

func (s *Service) SaveLoyaltySettings(ctx context.Context, settings domain.LoyaltySettings) (domain.LoyaltySettings, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "owner" {
		return domain.LoyaltySettings{}, fmt.Errorf("owner role required")
	}
	if settings.ShopID == "" {
		settings.ShopID = s.defaultShopID
	}

	saved, err := s.repo.SaveLoyaltySettings(ctx, settings)
	if err != nil {
		return domain.LoyaltySettings{}, err
	}
	s.logAudit(ctx, settings.ShopID, "loyalty_settings_save", "loyalty_settings", settings.ShopID,
		fmt.Sprintf("enabled=%t,mode=%s", saved.Enabled, saved.Mode))
	return *saved, nil
}

func (s *Service) CreateInventoryItem(ctx context.Context, req domain.InventoryCreateRequest) (domain.InventoryItem, error) {
	if req.ShopID == "" {
		req.ShopID = s.defaultShopID
	}
	req.TagNo = strings.ToUpper(strings.TrimSpace(req.TagNo))
	req.Name = strings.TrimSpace(req.Name)
	req.Metal = strings.ToLower(strings.TrimSpace(req.Metal))
	if req.TagNo == "" || req.Name == "" || req.WeightGrams <= 0 {
		return domain.InventoryItem{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateInventoryItem(ctx, domain.InventoryItem{
		ShopID:      req.ShopID,
		TagNo:       req.TagNo,
		Name:        req.Name,
		Metal:       req.Metal,
		WeightGrams: req.WeightGrams,
		Purity:      strings.TrimSpace(req.Purity),
	})
	if err != nil {
		return domain.InventoryItem{}, err
	}

	s.logAudit(ctx, req.ShopID, "inventory_register", "inventory_item", created.ID,
		fmt.Sprintf("tag=%s,metal=%s,weight=%.3f", created.TagNo, created.Metal, created.WeightGrams))
	return *created, nil
}

func (s *Service) ListInventoryItems(ctx context.Context, shopID string, status string, limit int) ([]domain.InventoryItem, error) {
	if shopID == "" {
		shopID = s.defaultShopID
	}
	return s.repo.ListInventoryItems(ctx, shopID, status, limit)
}

func (s *Service) ListAuditLogs(ctx context.Context, shopID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "owner" {
		return nil, fmt.Errorf("owner role required")
	}
	if shopID == "" {
		shopID = s.defaultShopID
	}
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Minute)
	}
	return s.repo.ListAuditLogs(ctx, shopID, from, to, limit)
}

func normalizeSnapshot(snapshot domain.CustomerSnapshot) domain.CustomerSnapshot {
	snapshot.Name = strings.TrimSpace(snapshot.Name)
	snapshot.Phone = strings.TrimSpace(snapshot.Phone)
	snapshot.Address = strings.TrimSpace(snapshot.Address)
	snapshot.State = strings.TrimSpace(snapshot.State)
	snapshot.Pincode = strings.TrimSpace(snapshot.Pincode)
	return snapshot
}

// normalizeItems recomputes each line amount from weight, rate, and making
// charge. Client-sent amounts are never trusted.
func normalizeItems(inputs []domain.InvoiceItemInput) ([]domain.InvoiceItem, float64, error) {
	if len(inputs) == 0 {
		return nil, 0, store.ErrInvalidInvoice
	}

	items := make([]domain.InvoiceItem, 0, len(inputs))
	subtotal := 0.0
	for _, input := range inputs {
		name := strings.TrimSpace(input.Name)
		if name == "" || input.WeightGrams <= 0 || input.RatePerGram <= 0 || input.MakingCharge < 0 {
			return nil, 0, store.ErrInvalidInvoice
		}
		amount := round2(input.WeightGrams*input.RatePerGram + input.MakingCharge)
		items = append(items, domain.InvoiceItem{
			Name:         name,
			Metal:        strings.ToLower(strings.TrimSpace(input.Metal)),
			WeightGrams:  input.WeightGrams,
			Purity:       strings.TrimSpace(input.Purity),
			RatePerGram:  input.RatePerGram,
			MakingCharge: input.MakingCharge,
			Amount:       amount,
			StockItemID:  strings.TrimSpace(input.StockItemID),
		})
		subtotal += amount
	}
	return items, round2(subtotal), nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func (s *Service) logAudit(ctx context.Context, shopID string, action string, entityType string, entityID string, detail string) {
	if shopID == "" {
		shopID = s.defaultShopID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ShopID:        shopID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[service] WARN: audit log write for %s %s failed: %v", action, entityID, err)
	}
}
