package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"goldbook/backend/internal/domain"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInvoice  = errors.New("invalid invoice")
	ErrInvalidInput    = errors.New("invalid input")
	ErrStockConflict   = errors.New("stock item unavailable")
	ErrNegativeBalance = errors.New("loyalty balance would go negative")
)

// InsufficientPointsError is returned when a redemption request exceeds the
// customer's live balance. It carries the concrete amounts so callers can
// surface them verbatim.
type InsufficientPointsError struct {
	Requested int64
	Available int64
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient loyalty points: requested %d, available %d", e.Requested, e.Available)
}

// ProcedureResult is the structured outcome of an atomic invoice procedure.
// A transport-level nil error with Success == false is still a failure.
type ProcedureResult struct {
	Success bool
	Error   string
}

type InvoiceCreateArgs struct {
	ShopID         string
	CustomerID     string
	Snapshot       domain.CustomerSnapshot
	Items          []domain.InvoiceItem
	Subtotal       float64
	Discount       float64
	CGST           float64
	SGST           float64
	GrandTotal     float64
	Status         string
	PointsEarned   int64
	PointsRedeemed int64
}

type InvoiceUpdateArgs struct {
	InvoiceID  string
	ShopID     string
	Snapshot   domain.CustomerSnapshot
	Items      []domain.InvoiceItem
	Subtotal   float64
	Discount   float64
	CGST       float64
	SGST       float64
	GrandTotal float64
}

// InvoiceProcedure is the atomic invoice command surface: each operation
// applies all of its writes (invoice, items, stock marking, initial loyalty
// application) as one unit or none.
type InvoiceProcedure interface {
	CreateInvoice(ctx context.Context, args InvoiceCreateArgs) (string, error)
	UpdateInvoice(ctx context.Context, args InvoiceUpdateArgs) (ProcedureResult, error)
	CancelInvoice(ctx context.Context, shopID string, invoiceID string) (ProcedureResult, error)
}

type Repository interface {
	UpsertCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	FindCustomerByPhone(ctx context.Context, shopID string, phone string) (*domain.Customer, error)
	InsertCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	UpdateCustomerProfile(ctx context.Context, customer domain.Customer) error
	GetCustomer(ctx context.Context, shopID string, customerID string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, shopID string, limit int) ([]domain.Customer, error)
	GetLoyaltyBalance(ctx context.Context, customerID string) (int64, error)

	IncrementPoints(ctx context.Context, shopID string, customerID string, points int64, reason string, invoiceID string) error
	DecrementPoints(ctx context.Context, shopID string, customerID string, points int64, reason string, invoiceID string) error
	ListLedgerEntries(ctx context.Context, shopID string, customerID string, limit int) ([]domain.LoyaltyLedgerEntry, error)

	GetLoyaltySettings(ctx context.Context, shopID string) (*domain.LoyaltySettings, error)
	SaveLoyaltySettings(ctx context.Context, settings domain.LoyaltySettings) (*domain.LoyaltySettings, error)

	GetInvoice(ctx context.Context, shopID string, invoiceID string) (*domain.Invoice, error)
	ListInvoices(ctx context.Context, shopID string, status string, limit int) ([]domain.Invoice, error)
	SetInvoiceStatus(ctx context.Context, shopID string, invoiceID string, status string) error
	DeleteInvoice(ctx context.Context, shopID string, invoiceID string) error

	CreateInventoryItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error)
	GetInventoryItemByTag(ctx context.Context, shopID string, tagNo string) (*domain.InventoryItem, error)
	ListInventoryItems(ctx context.Context, shopID string, status string, limit int) ([]domain.InventoryItem, error)
	ListInventoryByInvoice(ctx context.Context, invoiceID string) ([]domain.InventoryItem, error)
	ReleaseInventoryForInvoice(ctx context.Context, shopID string, invoiceID string) (int, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, shopID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
