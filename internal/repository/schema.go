package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaCustomers = `
CREATE TABLE IF NOT EXISTS customers (
    id BIGINT PRIMARY KEY,
    first_name TEXT NOT NULL,
    last_name TEXT NOT NULL,
    age INTEGER NOT NULL,
    monthly_income BIGINT NOT NULL,
    phone_number TEXT NOT NULL,
    approved_limit BIGINT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_customers_phone ON customers(phone_number);
`

// schemaSequences holds named counters. Customer ids are allocated by
// incrementing the customer_id row inside a transaction.
const schemaSequences = `
CREATE TABLE IF NOT EXISTS sequences (
    name TEXT PRIMARY KEY,
    value BIGINT NOT NULL
);

INSERT INTO sequences (name, value) VALUES ('customer_id', 0)
ON CONFLICT (name) DO NOTHING;
`

const schemaLoans = `
CREATE TABLE IF NOT EXISTS loans (
    id BIGINT PRIMARY KEY,
    customer_id BIGINT NOT NULL REFERENCES customers(id),
    amount BIGINT NOT NULL,
    tenure INTEGER NOT NULL,
    interest_rate DOUBLE PRECISION NOT NULL,
    monthly_installment BIGINT NOT NULL,
    installments_paid INTEGER NOT NULL DEFAULT 0,
    start_date TIMESTAMP NOT NULL,
    end_date TIMESTAMP NOT NULL,
    CHECK (installments_paid >= 0 AND installments_paid <= tenure)
);

CREATE INDEX IF NOT EXISTS idx_loans_customer ON loans(customer_id);
`

// schemaLoanEvents is the append-only loan journal written by the worker.
const schemaLoanEvents = `
CREATE TABLE IF NOT EXISTS loan_events (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    loan_id BIGINT NOT NULL,
    customer_id BIGINT NOT NULL,
    amount BIGINT NOT NULL,
    installments_paid INTEGER NOT NULL,
    occurred_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_loan_events_loan ON loan_events(loan_id, occurred_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCustomers,
		schemaSequences,
		schemaLoans,
		schemaLoanEvents,
	}
}
