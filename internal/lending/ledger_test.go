package lending

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestApplyPayment(t *testing.T) {
	f := newFixture(t, WithLoanIDSource(func() int64 { return 5555 }))
	ctx := context.Background()
	customer := f.register(t, 100_000)
	other := f.register(t, 100_000)

	out, err := f.svc.CreateLoan(ctx, domain.LoanRequest{
		CustomerID: customer.ID, Amount: 100_000, InterestRate: 12, Tenure: 2,
	})
	require.NoError(t, err)
	installment := out.MonthlyInstallment
	require.Equal(t, int64(51_000), installment)

	t.Run("wrong amount leaves state unchanged", func(t *testing.T) {
		_, err := f.svc.ApplyPayment(ctx, customer.ID, 5555, installment+1)
		assert.Equal(t, domain.KindValidation, domain.KindOf(err))

		loan, err := f.repo.GetLoan(ctx, 5555)
		require.NoError(t, err)
		assert.Equal(t, 0, loan.InstallmentsPaid)
	})

	t.Run("non positive amount", func(t *testing.T) {
		_, err := f.svc.ApplyPayment(ctx, customer.ID, 5555, 0)
		assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	})

	t.Run("mismatched pair is not found", func(t *testing.T) {
		_, err := f.svc.ApplyPayment(ctx, other.ID, 5555, installment)
		assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

		_, err = f.svc.ApplyPayment(ctx, 404, 5555, installment)
		assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

		_, err = f.svc.ApplyPayment(ctx, customer.ID, 404, installment)
		assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	})

	t.Run("increments by exactly one", func(t *testing.T) {
		loan, err := f.svc.ApplyPayment(ctx, customer.ID, 5555, installment)
		require.NoError(t, err)
		assert.Equal(t, 1, loan.InstallmentsPaid)

		stored, err := f.repo.GetLoan(ctx, 5555)
		require.NoError(t, err)
		assert.Equal(t, 1, stored.InstallmentsPaid)
		assert.Equal(t, installment, stored.MonthlyInstallment)
	})

	t.Run("fully repaid loan rejects payments", func(t *testing.T) {
		loan, err := f.svc.ApplyPayment(ctx, customer.ID, 5555, installment)
		require.NoError(t, err)
		assert.True(t, loan.FullyRepaid())

		_, err = f.svc.ApplyPayment(ctx, customer.ID, 5555, installment)
		assert.Equal(t, domain.KindValidation, domain.KindOf(err))

		stored, err := f.repo.GetLoan(ctx, 5555)
		require.NoError(t, err)
		assert.Equal(t, 2, stored.InstallmentsPaid)
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.payments.WithLabelValues("applied")))
}

func TestConcurrentPaymentsNeverDoubleCount(t *testing.T) {
	f := newFixture(t, WithLoanIDSource(func() int64 { return 6000 }))
	ctx := context.Background()
	customer := f.register(t, 200_000)

	out, err := f.svc.CreateLoan(ctx, domain.LoanRequest{
		CustomerID: customer.ID, Amount: 120_000, InterestRate: 0, Tenure: 24,
	})
	require.NoError(t, err)

	const payers = 6
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for range payers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.ApplyPayment(ctx, customer.ID, out.LoanID, out.MonthlyInstallment); err == nil {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	loan, err := f.repo.GetLoan(ctx, out.LoanID)
	require.NoError(t, err)
	assert.Equal(t, applied, loan.InstallmentsPaid)
	assert.Positive(t, applied)
}

func TestGetStatement(t *testing.T) {
	ids := []int64{7002, 7001}
	next := 0
	f := newFixture(t, WithLoanIDSource(func() int64 {
		id := ids[next%len(ids)]
		next++
		return id
	}))
	ctx := context.Background()
	customer := f.register(t, 100_000)
	other := f.register(t, 100_000)

	for _, amount := range []int64{60_000, 24_000} {
		_, err := f.svc.CreateLoan(ctx, domain.LoanRequest{
			CustomerID: customer.ID, Amount: amount, InterestRate: 0, Tenure: 12,
		})
		require.NoError(t, err)
	}

	first, err := f.svc.GetStatement(ctx, customer.ID, 7001)
	require.NoError(t, err)
	require.Len(t, first, 2)

	assert.Equal(t, int64(7001), first[0].LoanID)
	assert.Equal(t, int64(24_000), first[0].Principal)
	assert.Equal(t, int64(2_000), first[0].MonthlyInstallment)
	assert.Equal(t, 12, first[0].RepaymentsLeft)
	assert.Equal(t, int64(7002), first[1].LoanID)

	t.Run("idempotent", func(t *testing.T) {
		second, err := f.svc.GetStatement(ctx, customer.ID, 7002)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("cached until a payment", func(t *testing.T) {
		cached, err := f.cache.Get(ctx, cache.StatementKey(customer.ID))
		require.NoError(t, err)
		assert.NotNil(t, cached)

		_, err = f.svc.ApplyPayment(ctx, customer.ID, 7001, 2_000)
		require.NoError(t, err)

		cached, err = f.cache.Get(ctx, cache.StatementKey(customer.ID))
		require.NoError(t, err)
		assert.Nil(t, cached)

		lines, err := f.svc.GetStatement(ctx, customer.ID, 7001)
		require.NoError(t, err)
		assert.Equal(t, int64(2_000), lines[0].AmountPaid)
		assert.Equal(t, 11, lines[0].RepaymentsLeft)
	})

	t.Run("mismatched pair", func(t *testing.T) {
		_, err := f.svc.GetStatement(ctx, other.ID, 7001)
		assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	})
}

func TestGetLoanAndEvents(t *testing.T) {
	f := newFixture(t, WithLoanIDSource(func() int64 { return 9100 }))
	ctx := context.Background()
	customer := f.register(t, 100_000)

	_, err := f.svc.CreateLoan(ctx, domain.LoanRequest{
		CustomerID: customer.ID, Amount: 50_000, InterestRate: 14, Tenure: 10,
	})
	require.NoError(t, err)

	details, err := f.svc.GetLoan(ctx, 9100)
	require.NoError(t, err)
	assert.Equal(t, customer.Profile(), details.Customer)
	assert.Equal(t, int64(50_000), details.Amount)
	assert.Equal(t, 14.0, details.InterestRate)
	assert.Equal(t, 10, details.Tenure)
	assert.True(t, details.EndDate.Equal(time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)), "end date %v", details.EndDate)

	_, err = f.svc.GetLoan(ctx, 1)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	_, err = f.svc.GetLoan(ctx, -1)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	events, err := f.svc.ListLoanEvents(ctx, 9100)
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)

	_, err = f.svc.ListLoanEvents(ctx, 1)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}
