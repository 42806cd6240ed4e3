// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Customer operations
	CreateCustomer(ctx context.Context, c *Customer) error
	ImportCustomer(ctx context.Context, c *Customer) error
	GetCustomer(ctx context.Context, customerID int64) (*Customer, error)
	CountCustomers(ctx context.Context) (int64, error)

	// Loan operations
	CreateLoan(ctx context.Context, loan *LoanRecord) error
	ImportLoan(ctx context.Context, loan *LoanRecord) error
	GetLoan(ctx context.Context, loanID int64) (*LoanRecord, error)
	ListLoansByCustomer(ctx context.Context, customerID int64) ([]*LoanRecord, error)

	// Loan id allocation helpers
	LoanIDExists(ctx context.Context, loanID int64) (bool, error)
	FirstFreeLoanID(ctx context.Context, lo, hi int64) (int64, bool, error)
	MaxLoanID(ctx context.Context) (int64, error)

	// IncrementInstallmentsPaid moves the paid count from expected to
	// expected+1. It returns ErrStaleWrite if the stored count differs.
	IncrementInstallmentsPaid(ctx context.Context, loanID int64, expected int) error

	// Loan journal
	SaveLoanEvent(ctx context.Context, event *LoanEvent) error
	ListLoanEvents(ctx context.Context, loanID int64) ([]*LoanEvent, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
