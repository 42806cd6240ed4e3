package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApprovedLimitFor(t *testing.T) {
	tests := []struct {
		income int64
		want   int64
	}{
		{income: 0, want: 3_600_000},
		{income: 49_999, want: 3_600_000},
		{income: 50_000, want: 3_600_000},
		{income: 60_000, want: 3_600_000},
		{income: 100_000, want: 3_600_000},
		{income: 149_999, want: 3_600_000},
		{income: 150_000, want: 7_200_000},
		{income: 249_999, want: 7_200_000},
		{income: 250_000, want: 10_800_000},
		{income: 1_000_000, want: 36_000_000},
	}

	for _, tt := range tests {
		got := ApprovedLimitFor(tt.income)
		assert.Equalf(t, tt.want, got, "income %d", tt.income)
		if tt.income >= LowIncomeThreshold {
			assert.Zerof(t, got%LimitRoundingUnit, "limit for income %d is not a multiple of 100,000", tt.income)
		}
	}
}

func TestLoanRecordDerivedAmounts(t *testing.T) {
	loan := &LoanRecord{Tenure: 12, MonthlyInstallment: 9333, InstallmentsPaid: 4}

	assert.Equal(t, 8, loan.RemainingInstallments())
	assert.Equal(t, int64(4*9333), loan.AmountPaid())
	assert.Equal(t, int64(8*9333), loan.Outstanding())
	assert.False(t, loan.FullyRepaid())

	loan.InstallmentsPaid = 12
	assert.True(t, loan.FullyRepaid())
}

func TestLoanRequestValidate(t *testing.T) {
	valid := LoanRequest{CustomerID: 1, Amount: 100000, InterestRate: 10, Tenure: 12}
	assert.NoError(t, valid.Validate())

	zeroRate := valid
	zeroRate.InterestRate = 0
	assert.NoError(t, zeroRate.Validate())

	for name, mutate := range map[string]func(*LoanRequest){
		"missing customer": func(r *LoanRequest) { r.CustomerID = 0 },
		"zero amount":      func(r *LoanRequest) { r.Amount = 0 },
		"negative rate":    func(r *LoanRequest) { r.InterestRate = -1 },
		"zero tenure":      func(r *LoanRequest) { r.Tenure = 0 },
	} {
		req := valid
		mutate(&req)
		err := req.Validate()
		assert.Errorf(t, err, name)
		assert.Equalf(t, KindValidation, KindOf(err), name)
	}
}
