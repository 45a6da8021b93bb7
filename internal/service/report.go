package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"shopledger/backend/internal/cache"
	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

const dashboardCacheKey = "reports:dashboard"

// dropDashboard discards the cached dashboard after a write that changes its
// numbers. A failed drop only delays freshness until the TTL expires.
func dropDashboard(ctx context.Context, c cache.DashboardCache, component string) {
	if err := c.Invalidate(ctx, dashboardCacheKey); err != nil {
		log.Printf("[%s] WARN: dashboard cache invalidation failed: %v", component, err)
	}
}

// Reports answers the read-only aggregate questions: top-N rankings, expiry
// lookahead, stock valuations and windowed sales totals. Every number is
// derived from active ledger lines at query time; refunded lines never count.
type Reports struct {
	repo     store.Repository
	cache    cache.DashboardCache
	cacheTTL time.Duration
}

func NewReports(repo store.Repository, dashCache cache.DashboardCache, cacheTTL time.Duration) *Reports {
	if dashCache == nil {
		dashCache = cache.NoopDashboardCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Reports{repo: repo, cache: dashCache, cacheTTL: cacheTTL}
}

func clampPaging(skip, limit int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if limit < 1 || limit > 200 {
		limit = 20
	}
	return skip, limit
}

func (r *Reports) MostIssued(ctx context.Context, window domain.ReportWindow, skip, limit int) ([]domain.ItemAggregate, error) {
	skip, limit = clampPaging(skip, limit)
	return r.repo.MostIssued(ctx, window, skip, limit)
}

func (r *Reports) MostProfitable(ctx context.Context, window domain.ReportWindow, skip, limit int) ([]domain.ItemAggregate, error) {
	skip, limit = clampPaging(skip, limit)
	return r.repo.MostProfitable(ctx, window, skip, limit)
}

func (r *Reports) MostRefunded(ctx context.Context, window domain.ReportWindow, skip, limit int) ([]domain.ItemAggregate, error) {
	skip, limit = clampPaging(skip, limit)
	return r.repo.MostRefunded(ctx, window, skip, limit)
}

// ExpiringSoon lists non-deleted items whose expiry date falls within the
// next days, soonest first. Already-expired items are included; they need the
// most attention.
func (r *Reports) ExpiringSoon(ctx context.Context, days int, skip, limit int) ([]domain.StockItem, error) {
	if days < 1 {
		days = 30
	}
	skip, limit = clampPaging(skip, limit)

	horizon := time.Now().UTC().AddDate(0, 0, days)
	window := domain.ReportWindow{To: &horizon}
	return r.repo.ExpiringSoon(ctx, window, skip, limit)
}

func (r *Reports) TotalStockValue(ctx context.Context, window domain.ReportWindow) (decimalResult, error) {
	total, err := r.repo.TotalStockValue(ctx, window)
	if err != nil {
		return decimalResult{}, err
	}
	return decimalResult{Total: total.StringFixed(2)}, nil
}

// ExpectedReturn prices the remaining stock at selling price: the revenue if
// every unit on hand sold today.
func (r *Reports) ExpectedReturn(ctx context.Context) (decimalResult, error) {
	total, err := r.repo.ExpectedReturn(ctx)
	if err != nil {
		return decimalResult{}, err
	}
	return decimalResult{Total: total.StringFixed(2)}, nil
}

func (r *Reports) SalesTotal(ctx context.Context, window domain.ReportWindow, paymentTypes []string) (decimalResult, error) {
	for _, pt := range paymentTypes {
		if !domain.IsSupportedPaymentType(pt) {
			return decimalResult{}, fmt.Errorf("%w: unsupported payment type %q", store.ErrValidation, pt)
		}
	}
	total, err := r.repo.SalesTotal(ctx, window, paymentTypes)
	if err != nil {
		return decimalResult{}, err
	}
	return decimalResult{Total: total.StringFixed(2)}, nil
}

type decimalResult struct {
	Total string `json:"total"`
}

// Dashboard assembles the summary most dashboards poll for. The result is
// cached briefly; a stale entry only delays the dashboard, never the ledger.
func (r *Reports) Dashboard(ctx context.Context) (domain.DashboardSummary, error) {
	if cached, hit, err := r.cache.Get(ctx, dashboardCacheKey); err == nil && hit {
		return *cached, nil
	} else if err != nil {
		log.Printf("[reports] WARN: dashboard cache read failed: %v", err)
	}

	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	dayWindow := domain.ReportWindow{From: &dayStart, To: &now}
	monthWindow := domain.ReportWindow{From: &monthStart, To: &now}

	summary := domain.DashboardSummary{GeneratedAt: now}

	var err error
	if summary.TotalStockValue, err = r.repo.TotalStockValue(ctx, domain.ReportWindow{}); err != nil {
		return domain.DashboardSummary{}, err
	}
	if summary.ExpectedReturn, err = r.repo.ExpectedReturn(ctx); err != nil {
		return domain.DashboardSummary{}, err
	}
	if summary.DailySales, err = r.repo.SalesTotal(ctx, dayWindow, nil); err != nil {
		return domain.DashboardSummary{}, err
	}
	if summary.MonthlySales, err = r.repo.SalesTotal(ctx, monthWindow, nil); err != nil {
		return domain.DashboardSummary{}, err
	}
	if summary.DailyExpenses, err = r.repo.ExpensesTotal(ctx, dayWindow); err != nil {
		return domain.DashboardSummary{}, err
	}
	if summary.MonthlyExpenses, err = r.repo.ExpensesTotal(ctx, monthWindow); err != nil {
		return domain.DashboardSummary{}, err
	}

	summary.DailyByPayment = make([]domain.PaymentTotal, 0, len(domain.SupportedPaymentTypes))
	for _, pt := range domain.SupportedPaymentTypes {
		total, err := r.repo.SalesTotal(ctx, dayWindow, []string{pt})
		if err != nil {
			return domain.DashboardSummary{}, err
		}
		summary.DailyByPayment = append(summary.DailyByPayment, domain.PaymentTotal{PaymentType: pt, Total: total})
	}

	if err := r.cache.Set(ctx, dashboardCacheKey, &summary, r.cacheTTL); err != nil {
		log.Printf("[reports] WARN: dashboard cache write failed: %v", err)
	}

	return summary, nil
}
