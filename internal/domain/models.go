package domain

import "time"

// CustomerSnapshot is the copy of customer contact fields captured on an
// invoice at creation time. It never changes when the customer record does.
type CustomerSnapshot struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
}

type Customer struct {
	ID            string    `json:"id"`
	ShopID        string    `json:"shop_id"`
	Name          string    `json:"name"`
	Phone         string    `json:"phone"`
	Address       string    `json:"address"`
	State         string    `json:"state"`
	Pincode       string    `json:"pincode"`
	LoyaltyPoints int64     `json:"loyalty_points"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Invoice struct {
	ID                    string           `json:"id"`
	ShopID                string           `json:"shop_id"`
	CustomerID            string           `json:"customer_id,omitempty"`
	Customer              CustomerSnapshot `json:"customer"`
	Subtotal              float64          `json:"subtotal"`
	Discount              float64          `json:"discount"`
	CGST                  float64          `json:"cgst"`
	SGST                  float64          `json:"sgst"`
	GrandTotal            float64          `json:"grand_total"`
	Status                string           `json:"status"`
	LoyaltyPointsEarned   int64            `json:"loyalty_points_earned"`
	LoyaltyPointsRedeemed int64            `json:"loyalty_points_redeemed"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
	Items                 []InvoiceItem    `json:"items"`
}

type InvoiceItem struct {
	Name         string  `json:"name"`
	Metal        string  `json:"metal"`
	WeightGrams  float64 `json:"weight_grams"`
	Purity       string  `json:"purity"`
	RatePerGram  float64 `json:"rate_per_gram"`
	MakingCharge float64 `json:"making_charge"`
	Amount       float64 `json:"amount"`
	StockItemID  string  `json:"stock_item_id,omitempty"`
}

type InventoryItem struct {
	ID            string     `json:"id"`
	ShopID        string     `json:"shop_id"`
	TagNo         string     `json:"tag_no"`
	Name          string     `json:"name"`
	Metal         string     `json:"metal"`
	WeightGrams   float64    `json:"weight_grams"`
	Purity        string     `json:"purity"`
	Status        string     `json:"status"`
	SoldInvoiceID string     `json:"sold_invoice_id,omitempty"`
	SoldAt        *time.Time `json:"sold_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type LoyaltySettings struct {
	ShopID          string  `json:"shop_id"`
	Enabled         bool    `json:"enabled"`
	Mode            string  `json:"mode"`
	FlatPointsRatio float64 `json:"flat_points_ratio"`
	PercentageBack  float64 `json:"percentage_back"`
}

type LoyaltyLedgerEntry struct {
	ID           string    `json:"id"`
	ShopID       string    `json:"shop_id"`
	CustomerID   string    `json:"customer_id"`
	InvoiceID    string    `json:"invoice_id,omitempty"`
	PointsChange int64     `json:"points_change"`
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"created_at"`
}

type InvoiceItemInput struct {
	Name         string  `json:"name"`
	Metal        string  `json:"metal"`
	WeightGrams  float64 `json:"weight_grams"`
	Purity       string  `json:"purity"`
	RatePerGram  float64 `json:"rate_per_gram"`
	MakingCharge float64 `json:"making_charge"`
	StockItemID  string  `json:"stock_item_id,omitempty"`
}

type InvoiceCreateRequest struct {
	ShopID         string             `json:"shop_id"`
	Customer       CustomerSnapshot   `json:"customer"`
	Items          []InvoiceItemInput `json:"items"`
	Discount       float64            `json:"discount"`
	GSTRatePercent float64            `json:"gst_rate_percent"`
	Status         string             `json:"status"`
	RedeemPoints   int64              `json:"redeem_points"`
}

type InvoiceCreateResponse struct {
	InvoiceID      string  `json:"invoice_id"`
	GrandTotal     float64 `json:"grand_total"`
	PointsEarned   int64   `json:"points_earned"`
	PointsRedeemed int64   `json:"points_redeemed"`
	CustomerID     string  `json:"customer_id,omitempty"`
}

// InvoiceUpdateRequest is a partial update: nil fields are left untouched,
// a non-nil Items slice replaces the invoice's item set.
type InvoiceUpdateRequest struct {
	Name     *string            `json:"name,omitempty"`
	Phone    *string            `json:"phone,omitempty"`
	Address  *string            `json:"address,omitempty"`
	State    *string            `json:"state,omitempty"`
	Pincode  *string            `json:"pincode,omitempty"`
	Discount *float64           `json:"discount,omitempty"`
	Items    []InvoiceItemInput `json:"items,omitempty"`
}

type InvoiceStatusRequest struct {
	Status string `json:"status"`
}

type InventoryCreateRequest struct {
	ShopID      string  `json:"shop_id"`
	TagNo       string  `json:"tag_no"`
	Name        string  `json:"name"`
	Metal       string  `json:"metal"`
	WeightGrams float64 `json:"weight_grams"`
	Purity      string  `json:"purity"`
}

type CustomerLedgerResponse struct {
	Customer       Customer             `json:"customer"`
	Entries        []LoyaltyLedgerEntry `json:"entries"`
	PointsIssued   int64                `json:"points_issued"`
	PointsRedeemed int64                `json:"points_redeemed"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ShopID      string `json:"shop_id"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
	ShopID   string
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ShopID        string    `json:"shop_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	InvoiceStatusDue       = "due"
	InvoiceStatusPaid      = "paid"
	InvoiceStatusCancelled = "cancelled"
)

const (
	StockStatusInStock  = "IN_STOCK"
	StockStatusReserved = "RESERVED"
	StockStatusSold     = "SOLD"
)

const (
	LoyaltyModeFlat       = "flat"
	LoyaltyModePercentage = "percentage"
)
