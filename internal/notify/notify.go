// Package notify fans out data-changed signals so dashboard and insight
// views know to refresh after invoice, customer, or stock mutations.
package notify

import "context"

const (
	ScopeInvoices  = "invoices"
	ScopeDashboard = "dashboard"
	ScopeInsights  = "insights"
)

type Notifier interface {
	DataChanged(ctx context.Context, shopID string, scopes ...string)
}

type Noop struct{}

func (Noop) DataChanged(_ context.Context, _ string, _ ...string) {}
