package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"shopledger/backend/internal/cache"
	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

// Expenses records operating costs outside the stock ledger and summarizes
// them against sales for the daily and monthly net figures.
type Expenses struct {
	repo  store.Repository
	cache cache.DashboardCache
}

func NewExpenses(repo store.Repository, dashCache cache.DashboardCache) *Expenses {
	if dashCache == nil {
		dashCache = cache.NoopDashboardCache{}
	}
	return &Expenses{repo: repo, cache: dashCache}
}

func (e *Expenses) CreateExpense(ctx context.Context, req domain.ExpenseCreateRequest) (domain.Expense, error) {
	actor, _ := ActorFromContext(ctx)

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Expense{}, fmt.Errorf("%w: name is required", store.ErrValidation)
	}
	if !req.Price.IsPositive() {
		return domain.Expense{}, fmt.Errorf("%w: price must be positive", store.ErrValidation)
	}

	expense := domain.Expense{
		Name:        req.Name,
		Price:       req.Price.Round(2),
		Description: strings.TrimSpace(req.Description),
		CreatedByID: actor.ID,
	}

	created, err := e.repo.CreateExpense(ctx, expense)
	if err != nil {
		return domain.Expense{}, err
	}
	dropDashboard(ctx, e.cache, "expense")
	return *created, nil
}

func (e *Expenses) GetExpense(ctx context.Context, id uuid.UUID) (domain.Expense, error) {
	expense, err := e.repo.GetExpense(ctx, id)
	if err != nil {
		return domain.Expense{}, err
	}
	return *expense, nil
}

func (e *Expenses) ListExpenses(ctx context.Context, query domain.ExpenseListQuery) ([]domain.Expense, error) {
	if query.Limit < 1 || query.Limit > 500 {
		query.Limit = 100
	}
	if query.Skip < 0 {
		query.Skip = 0
	}
	return e.repo.ListExpenses(ctx, query)
}

func (e *Expenses) DeleteExpense(ctx context.Context, id uuid.UUID) error {
	if err := e.repo.DeleteExpense(ctx, id); err != nil {
		return err
	}
	dropDashboard(ctx, e.cache, "expense")
	return nil
}

// Summary reports sales minus expenses for the current day and month.
func (e *Expenses) Summary(ctx context.Context) (domain.ExpenseSummary, error) {
	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	dayWindow := domain.ReportWindow{From: &dayStart, To: &now}
	monthWindow := domain.ReportWindow{From: &monthStart, To: &now}

	dailySales, err := e.repo.SalesTotal(ctx, dayWindow, nil)
	if err != nil {
		return domain.ExpenseSummary{}, err
	}
	monthlySales, err := e.repo.SalesTotal(ctx, monthWindow, nil)
	if err != nil {
		return domain.ExpenseSummary{}, err
	}
	dailyExpenses, err := e.repo.ExpensesTotal(ctx, dayWindow)
	if err != nil {
		return domain.ExpenseSummary{}, err
	}
	monthlyExpenses, err := e.repo.ExpensesTotal(ctx, monthWindow)
	if err != nil {
		return domain.ExpenseSummary{}, err
	}

	return domain.ExpenseSummary{
		DailyNet:   dailySales.Sub(dailyExpenses).Round(2),
		MonthlyNet: monthlySales.Sub(monthlyExpenses).Round(2),
	}, nil
}
