package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEligibilityJSONKeepsZeroRate(t *testing.T) {
	data, err := json.Marshal(Eligibility{
		CustomerID:         1,
		Approved:           true,
		Tenure:             12,
		MonthlyInstallment: 8333,
	})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Contains(t, fields, "interest_rate")
	assert.Contains(t, fields, "corrected_interest_rate")
	assert.Equal(t, 0.0, fields["corrected_interest_rate"])
}

func TestWireTypesUseSnakeCase(t *testing.T) {
	assessment, err := json.Marshal(CreditAssessment{})
	require.NoError(t, err)
	for _, key := range []string{"outstanding_exposure", "requested_rate", "corrected_rate", "monthly_installment"} {
		assert.Contains(t, string(assessment), `"`+key+`"`)
	}

	event, err := json.Marshal(LoanEvent{})
	require.NoError(t, err)
	for _, key := range []string{"loan_id", "customer_id", "installments_paid", "occurred_at"} {
		assert.Contains(t, string(event), `"`+key+`"`)
	}
}
