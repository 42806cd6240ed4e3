package domain

import "time"

// Approved limit derivation constants.
const (
	LowIncomeThreshold    int64 = 50_000
	LowIncomeLimit        int64 = 3_600_000
	LimitRoundingUnit     int64 = 100_000
	LimitIncomeMultiplier int64 = 36
)

// Customer is a registered borrower. Customers are immutable once created.
type Customer struct {
	ID            int64     `json:"customer_id"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	Age           int       `json:"age"`
	MonthlyIncome int64     `json:"monthly_income"`
	PhoneNumber   string    `json:"phone_number"`
	ApprovedLimit int64     `json:"approved_limit"`
	CreatedAt     time.Time `json:"created_at"`
}

// CustomerProfile is the public subset of a customer joined onto loan views.
type CustomerProfile struct {
	ID          int64  `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
	Age         int    `json:"age"`
}

// Profile returns the public profile of the customer.
func (c *Customer) Profile() CustomerProfile {
	return CustomerProfile{
		ID:          c.ID,
		FirstName:   c.FirstName,
		LastName:    c.LastName,
		PhoneNumber: c.PhoneNumber,
		Age:         c.Age,
	}
}

// ApprovedLimitFor derives the approved credit limit from monthly income.
// Incomes below 50,000 get a fixed 3,600,000; otherwise the limit is
// 36 x income rounded half-up to the nearest 100,000.
func ApprovedLimitFor(monthlyIncome int64) int64 {
	if monthlyIncome < LowIncomeThreshold {
		return LowIncomeLimit
	}
	units := (monthlyIncome + LimitRoundingUnit/2) / LimitRoundingUnit
	return LimitIncomeMultiplier * units * LimitRoundingUnit
}

// RegisterCustomerRequest carries the fields needed to register a customer.
type RegisterCustomerRequest struct {
	FirstName     string `json:"first_name" validate:"required"`
	LastName      string `json:"last_name" validate:"required"`
	Age           int    `json:"age" validate:"required,gt=0"`
	MonthlyIncome int64  `json:"monthly_income" validate:"required,gt=0"`
	PhoneNumber   string `json:"phone_number" validate:"required"`
}
