// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = domain.ErrRecordNotFound
	ErrInvalidInput = domain.ErrInvalidInput
)

const customerSequence = "customer_id"

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// CreateCustomer stores a new customer and assigns the next id from the
// customer sequence. Both happen in one transaction.
func (r *SQLRepository) CreateCustomer(ctx context.Context, c *domain.Customer) error {
	if c == nil {
		return fmt.Errorf("%w: customer is required", ErrInvalidInput)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx,
		r.rebind(`UPDATE sequences SET value = value + 1 WHERE name = ? RETURNING value`),
		customerSequence,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to allocate customer id: %w", err)
	}

	c.ID = id
	if err := r.insertCustomer(ctx, tx, c); err != nil {
		return err
	}

	return tx.Commit()
}

// ImportCustomer stores a customer with a caller-chosen id, as read from
// historical data. The sequence is moved past the imported id.
func (r *SQLRepository) ImportCustomer(ctx context.Context, c *domain.Customer) error {
	if c == nil || c.ID <= 0 {
		return fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := r.insertCustomer(ctx, tx, c); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		r.rebind(`UPDATE sequences SET value = ? WHERE name = ? AND value < ?`),
		c.ID, customerSequence, c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to advance customer sequence: %w", err)
	}

	return tx.Commit()
}

func (r *SQLRepository) insertCustomer(ctx context.Context, tx *sql.Tx, c *domain.Customer) error {
	query := `
		INSERT INTO customers (
			id, first_name, last_name, age, monthly_income,
			phone_number, approved_limit, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := tx.ExecContext(ctx, r.rebind(query),
		c.ID, c.FirstName, c.LastName, c.Age, c.MonthlyIncome,
		c.PhoneNumber, c.ApprovedLimit, c.CreatedAt.UTC(),
	)
	return r.mapWriteError(err, "customer", c.ID)
}

// GetCustomer retrieves a customer by id.
func (r *SQLRepository) GetCustomer(ctx context.Context, customerID int64) (*domain.Customer, error) {
	query := `
		SELECT id, first_name, last_name, age, monthly_income,
			   phone_number, approved_limit, created_at
		FROM customers
		WHERE id = ?
	`

	var c domain.Customer
	err := r.db.QueryRowContext(ctx, r.rebind(query), customerID).Scan(
		&c.ID, &c.FirstName, &c.LastName, &c.Age, &c.MonthlyIncome,
		&c.PhoneNumber, &c.ApprovedLimit, &c.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// CountCustomers returns the number of stored customers.
func (r *SQLRepository) CountCustomers(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM customers`).Scan(&count)
	return count, err
}

// CreateLoan inserts a new loan. A taken id returns ErrDuplicateKey.
func (r *SQLRepository) CreateLoan(ctx context.Context, loan *domain.LoanRecord) error {
	if loan == nil || loan.ID <= 0 {
		return fmt.Errorf("%w: loan id is required", ErrInvalidInput)
	}
	if loan.InstallmentsPaid != 0 {
		return fmt.Errorf("%w: new loans start with no installments paid", ErrInvalidInput)
	}
	return r.insertLoan(ctx, loan)
}

// ImportLoan inserts a historical loan with its recorded repayment count.
func (r *SQLRepository) ImportLoan(ctx context.Context, loan *domain.LoanRecord) error {
	if loan == nil || loan.ID <= 0 {
		return fmt.Errorf("%w: loan id is required", ErrInvalidInput)
	}
	return r.insertLoan(ctx, loan)
}

func (r *SQLRepository) insertLoan(ctx context.Context, loan *domain.LoanRecord) error {
	query := `
		INSERT INTO loans (
			id, customer_id, amount, tenure, interest_rate,
			monthly_installment, installments_paid, start_date, end_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		loan.ID, loan.CustomerID, loan.Amount, loan.Tenure, loan.InterestRate,
		loan.MonthlyInstallment, loan.InstallmentsPaid,
		loan.StartDate.UTC(), loan.EndDate.UTC(),
	)
	return r.mapWriteError(err, "loan", loan.ID)
}

const loanColumns = `
	id, customer_id, amount, tenure, interest_rate,
	monthly_installment, installments_paid, start_date, end_date
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (*domain.LoanRecord, error) {
	var l domain.LoanRecord
	if err := row.Scan(
		&l.ID, &l.CustomerID, &l.Amount, &l.Tenure, &l.InterestRate,
		&l.MonthlyInstallment, &l.InstallmentsPaid, &l.StartDate, &l.EndDate,
	); err != nil {
		return nil, err
	}
	l.StartDate = l.StartDate.UTC()
	l.EndDate = l.EndDate.UTC()
	return &l, nil
}

// GetLoan retrieves a loan by id.
func (r *SQLRepository) GetLoan(ctx context.Context, loanID int64) (*domain.LoanRecord, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = ?`

	loan, err := scanLoan(r.db.QueryRowContext(ctx, r.rebind(query), loanID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// ListLoansByCustomer returns every loan of a customer ordered by loan id.
func (r *SQLRepository) ListLoansByCustomer(ctx context.Context, customerID int64) ([]*domain.LoanRecord, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE customer_id = ? ORDER BY id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loans []*domain.LoanRecord
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}

	return loans, rows.Err()
}

// LoanIDExists reports whether a loan id is taken.
func (r *SQLRepository) LoanIDExists(ctx context.Context, loanID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT EXISTS (SELECT 1 FROM loans WHERE id = ?)`), loanID,
	).Scan(&exists)
	return exists, err
}

// FirstFreeLoanID returns the lowest unused id in [lo, hi]. ok is false when
// the range is full.
func (r *SQLRepository) FirstFreeLoanID(ctx context.Context, lo, hi int64) (int64, bool, error) {
	if lo > hi {
		return 0, false, fmt.Errorf("%w: empty id range [%d, %d]", ErrInvalidInput, lo, hi)
	}

	// Either lo itself is free, or the answer is one past a taken id whose
	// successor is free.
	query := `
		SELECT CASE
			WHEN NOT EXISTS (SELECT 1 FROM loans WHERE id = ?) THEN CAST(? AS BIGINT)
			ELSE (
				SELECT MIN(l.id + 1) FROM loans l
				WHERE l.id >= ? AND l.id < ?
				  AND NOT EXISTS (SELECT 1 FROM loans n WHERE n.id = l.id + 1)
			)
		END
	`

	var id sql.NullInt64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), lo, lo, lo, hi).Scan(&id); err != nil {
		return 0, false, err
	}
	if !id.Valid {
		return 0, false, nil
	}
	return id.Int64, true, nil
}

// MaxLoanID returns the highest loan id in use, or 0 without loans.
func (r *SQLRepository) MaxLoanID(ctx context.Context) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM loans`).Scan(&id)
	return id, err
}

// IncrementInstallmentsPaid records one payment if the stored count still
// equals expected and the loan is not fully repaid.
func (r *SQLRepository) IncrementInstallmentsPaid(ctx context.Context, loanID int64, expected int) error {
	query := `
		UPDATE loans
		SET installments_paid = installments_paid + 1
		WHERE id = ? AND installments_paid = ? AND installments_paid < tenure
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), loanID, expected)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: loan %d", domain.ErrStaleWrite, loanID)
	}

	return nil
}

// SaveLoanEvent appends an event to the journal. Saving the same event id
// twice is a no-op, so redelivered messages are harmless.
func (r *SQLRepository) SaveLoanEvent(ctx context.Context, event *domain.LoanEvent) error {
	if event == nil || event.ID == "" {
		return fmt.Errorf("%w: event id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO loan_events (
			id, type, loan_id, customer_id, amount, installments_paid, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		event.ID, event.Type, event.LoanID, event.CustomerID,
		event.Amount, event.InstallmentsPaid, event.OccurredAt.UTC(),
	)
	return err
}

// ListLoanEvents returns the journal of a loan in order of occurrence.
func (r *SQLRepository) ListLoanEvents(ctx context.Context, loanID int64) ([]*domain.LoanEvent, error) {
	query := `
		SELECT id, type, loan_id, customer_id, amount, installments_paid, occurred_at
		FROM loan_events
		WHERE loan_id = ?
		ORDER BY occurred_at, installments_paid
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), loanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.LoanEvent
	for rows.Next() {
		var e domain.LoanEvent
		if err := rows.Scan(
			&e.ID, &e.Type, &e.LoanID, &e.CustomerID,
			&e.Amount, &e.InstallmentsPaid, &e.OccurredAt,
		); err != nil {
			return nil, err
		}
		e.OccurredAt = e.OccurredAt.UTC()
		events = append(events, &e)
	}

	return events, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// mapWriteError turns driver-specific key violations into ErrDuplicateKey.
func (r *SQLRepository) mapWriteError(err error, entity string, id int64) error {
	if err == nil {
		return nil
	}
	if isSQLiteDuplicate(err) || isPostgresDuplicate(err) {
		return fmt.Errorf("%w: %s %d", domain.ErrDuplicateKey, entity, id)
	}
	return fmt.Errorf("failed to insert %s %d: %w", entity, id, err)
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

var _ domain.Repository = (*SQLRepository)(nil)
