package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// rowError reports a CSV row that could not be parsed.
type rowError struct {
	Line int
	Err  error
}

func (e rowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// columns maps normalized header names to their index.
type columns map[string]int

// normalizeHeader folds "Monthly Repayment (EMI)" and "monthly_repayment" to
// the same key.
func normalizeHeader(h string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(h)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			underscore = false
		case !underscore && b.Len() > 0:
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

func readHeader(r *csv.Reader) (columns, error) {
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	cols := make(columns, len(header))
	for i, h := range header {
		cols[normalizeHeader(h)] = i
	}
	return cols, nil
}

// lookup returns the index of the first name present.
func (c columns) lookup(names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := c[n]; ok {
			return i, true
		}
	}
	return 0, false
}

func (c columns) require(names ...string) (int, error) {
	i, ok := c.lookup(names...)
	if !ok {
		return 0, fmt.Errorf("missing column %q", names[0])
	}
	return i, nil
}

type customerColumns struct {
	id, firstName, lastName, age, phone, income, limit int
	hasAge, hasLimit                                   bool
}

type loanColumns struct {
	customerID, loanID, amount, tenure, rate, installment, paid, start, end int
}

// readCustomers parses a customer_data CSV. Malformed rows are returned as
// row errors and skipped.
func readCustomers(in io.Reader) ([]*domain.Customer, []rowError, error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1

	cols, err := readHeader(r)
	if err != nil {
		return nil, nil, err
	}

	var cc customerColumns
	for _, f := range []struct {
		dst   *int
		names []string
	}{
		{&cc.id, []string{"customer_id"}},
		{&cc.firstName, []string{"first_name"}},
		{&cc.lastName, []string{"last_name"}},
		{&cc.phone, []string{"phone_number"}},
		{&cc.income, []string{"monthly_salary", "monthly_income"}},
	} {
		if *f.dst, err = cols.require(f.names...); err != nil {
			return nil, nil, err
		}
	}
	cc.age, cc.hasAge = cols.lookup("age")
	cc.limit, cc.hasLimit = cols.lookup("approved_limit")

	var (
		out     []*domain.Customer
		rejects []rowError
	)
	for line := 2; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rejects = append(rejects, rowError{Line: line, Err: err})
			continue
		}

		c, err := parseCustomer(record, cc)
		if err != nil {
			rejects = append(rejects, rowError{Line: line, Err: err})
			continue
		}
		out = append(out, c)
	}
	return out, rejects, nil
}

func parseCustomer(record []string, cc customerColumns) (*domain.Customer, error) {
	field := fieldReader{record: record}

	c := &domain.Customer{
		ID:            field.integer(cc.id, "customer_id"),
		FirstName:     field.str(cc.firstName),
		LastName:      field.str(cc.lastName),
		PhoneNumber:   field.str(cc.phone),
		MonthlyIncome: field.integer(cc.income, "monthly_salary"),
	}
	if cc.hasAge {
		c.Age = int(field.integer(cc.age, "age"))
	}
	if cc.hasLimit {
		c.ApprovedLimit = field.integer(cc.limit, "approved_limit")
	}
	if field.err != nil {
		return nil, field.err
	}

	if c.ID <= 0 {
		return nil, errors.New("customer_id must be positive")
	}
	if c.ApprovedLimit <= 0 {
		c.ApprovedLimit = domain.ApprovedLimitFor(c.MonthlyIncome)
	}
	return c, nil
}

// readLoans parses a loan_data CSV. Malformed rows are returned as row errors
// and skipped.
func readLoans(in io.Reader) ([]*domain.LoanRecord, []rowError, error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1

	cols, err := readHeader(r)
	if err != nil {
		return nil, nil, err
	}

	var lc loanColumns
	for _, f := range []struct {
		dst   *int
		names []string
	}{
		{&lc.customerID, []string{"customer_id"}},
		{&lc.loanID, []string{"loan_id"}},
		{&lc.amount, []string{"loan_amount"}},
		{&lc.tenure, []string{"tenure"}},
		{&lc.rate, []string{"interest_rate"}},
		{&lc.installment, []string{"monthly_repayment", "monthly_repayment_emi", "monthly_payment", "monthly_installment"}},
		{&lc.paid, []string{"emis_paid_on_time"}},
		{&lc.start, []string{"date_of_approval", "start_date"}},
		{&lc.end, []string{"end_date"}},
	} {
		if *f.dst, err = cols.require(f.names...); err != nil {
			return nil, nil, err
		}
	}

	var (
		out     []*domain.LoanRecord
		rejects []rowError
	)
	for line := 2; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rejects = append(rejects, rowError{Line: line, Err: err})
			continue
		}

		loan, err := parseLoan(record, lc)
		if err != nil {
			rejects = append(rejects, rowError{Line: line, Err: err})
			continue
		}
		out = append(out, loan)
	}
	return out, rejects, nil
}

func parseLoan(record []string, lc loanColumns) (*domain.LoanRecord, error) {
	field := fieldReader{record: record}

	loan := &domain.LoanRecord{
		CustomerID:         field.integer(lc.customerID, "customer_id"),
		ID:                 field.integer(lc.loanID, "loan_id"),
		Amount:             field.integer(lc.amount, "loan_amount"),
		Tenure:             int(field.integer(lc.tenure, "tenure")),
		InterestRate:       field.float(lc.rate, "interest_rate"),
		MonthlyInstallment: field.integer(lc.installment, "monthly_repayment"),
		InstallmentsPaid:   int(field.integer(lc.paid, "emis_paid_on_time")),
		StartDate:          field.date(lc.start, "date_of_approval"),
		EndDate:            field.date(lc.end, "end_date"),
	}
	if field.err != nil {
		return nil, field.err
	}

	switch {
	case loan.ID <= 0 || loan.CustomerID <= 0:
		return nil, errors.New("loan_id and customer_id must be positive")
	case loan.Tenure <= 0:
		return nil, errors.New("tenure must be positive")
	case loan.InstallmentsPaid < 0:
		return nil, errors.New("emis_paid_on_time must not be negative")
	}

	// Historical data can record more installments than the tenure.
	loan.InstallmentsPaid = min(loan.InstallmentsPaid, loan.Tenure)
	return loan, nil
}

// fieldReader parses record fields and keeps the first error.
type fieldReader struct {
	record []string
	err    error
}

func (f *fieldReader) str(i int) string {
	if i >= len(f.record) {
		if f.err == nil {
			f.err = fmt.Errorf("row has %d fields, want more than %d", len(f.record), i)
		}
		return ""
	}
	return strings.TrimSpace(f.record[i])
}

// integer accepts integral values written as floats ("120000.0") and rounds
// fractional amounts to the nearest unit.
func (f *fieldReader) integer(i int, name string) int64 {
	s := f.str(i)
	if f.err != nil {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		f.err = fmt.Errorf("%s: invalid number %q", name, s)
		return 0
	}
	return int64(math.Round(v))
}

func (f *fieldReader) float(i int, name string) float64 {
	s := f.str(i)
	if f.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		f.err = fmt.Errorf("%s: invalid number %q", name, s)
		return 0
	}
	return v
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2/1/2006",
	"02-01-2006",
}

func (f *fieldReader) date(i int, name string) time.Time {
	s := f.str(i)
	if f.err != nil {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	f.err = fmt.Errorf("%s: invalid date %q", name, s)
	return time.Time{}
}
