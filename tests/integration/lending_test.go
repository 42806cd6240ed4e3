//go:build integration

// Package integration runs end-to-end tests against a running Kestrel server.
//
// The tests walk the lending lifecycle over HTTP:
//
//	register customer -> check eligibility -> create loan -> pay -> statement
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// The server must run with its journal worker (the default), since the tests
// wait for loan events to appear. Every run registers fresh customers, so the
// tests can be repeated against the same database.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{BaseURL: baseURL}
}

// ============================================================================
// API Request/Response Types (matching Kestrel's API contract)
// ============================================================================

type RegisterRequest struct {
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Age           int    `json:"age"`
	MonthlyIncome int64  `json:"monthly_income"`
	PhoneNumber   string `json:"phone_number"`
}

type Customer struct {
	ID            int64 `json:"customer_id"`
	ApprovedLimit int64 `json:"approved_limit"`
}

type LoanRequest struct {
	CustomerID   int64   `json:"customer_id"`
	LoanAmount   int64   `json:"loan_amount"`
	InterestRate float64 `json:"interest_rate"`
	Tenure       int     `json:"tenure"`
}

type EligibilityResponse struct {
	CustomerID            int64   `json:"customer_id"`
	Approved              bool    `json:"approval"`
	InterestRate          float64 `json:"interest_rate"`
	CorrectedInterestRate float64 `json:"corrected_interest_rate"`
	Tenure                int     `json:"tenure"`
	MonthlyInstallment    int64   `json:"monthly_installment"`
	Message               string  `json:"message"`
}

type LoanOutcome struct {
	CustomerID         int64  `json:"customer_id"`
	LoanID             int64  `json:"loan_id"`
	Approved           bool   `json:"loan_approved"`
	Message            string `json:"message"`
	MonthlyInstallment int64  `json:"monthly_installment"`
}

type LoanRecord struct {
	ID                 int64 `json:"loan_id"`
	InstallmentsPaid   int   `json:"emis_paid_on_time"`
	Tenure             int   `json:"tenure"`
	MonthlyInstallment int64 `json:"monthly_installment"`
}

type StatementLine struct {
	LoanID         int64 `json:"loan_id"`
	AmountPaid     int64 `json:"amount_paid"`
	RepaymentsLeft int   `json:"repayments_left"`
}

type LoanEvent struct {
	ID               string `json:"id"`
	Type             string `json:"type"`
	InstallmentsPaid int    `json:"installments_paid"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

var client = &http.Client{Timeout: 10 * time.Second}

// call sends a JSON request and decodes a JSON response into out when the
// status matches want.
func call(t *testing.T, method, path string, body any, want int, out any) {
	t.Helper()
	config := getTestConfig()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, config.BaseURL+path, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	if resp.StatusCode != want {
		t.Fatalf("%s %s: expected status %d, got %d: %s", method, path, want, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
		}
	}
}

func register(t *testing.T, income int64) Customer {
	t.Helper()
	var c Customer
	call(t, http.MethodPost, "/customer/register", RegisterRequest{
		FirstName:     "Integration",
		LastName:      "Tester",
		Age:           40,
		MonthlyIncome: income,
		PhoneNumber:   "5550100",
	}, http.StatusOK, &c)
	return c
}

func TestMain(m *testing.M) {
	config := getTestConfig()
	resp, err := client.Get(config.BaseURL + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "kestrel not reachable at %s: %v\n", config.BaseURL, err)
		os.Exit(1)
	}
	resp.Body.Close()
	os.Exit(m.Run())
}

// ============================================================================
// SCENARIO 1: Full loan lifecycle
// ============================================================================

func TestLoanLifecycle(t *testing.T) {
	customer := register(t, 100_000)
	if customer.ApprovedLimit != 3_600_000 {
		t.Fatalf("Expected approved limit 3600000, got %d", customer.ApprovedLimit)
	}

	req := LoanRequest{CustomerID: customer.ID, LoanAmount: 100_000, InterestRate: 8, Tenure: 12}

	var eligibility EligibilityResponse
	call(t, http.MethodPost, "/loan/check-eligibility", req, http.StatusOK, &eligibility)
	if !eligibility.Approved || eligibility.MonthlyInstallment != 9000 {
		t.Fatalf("Expected approval with installment 9000, got %+v", eligibility)
	}

	var outcome LoanOutcome
	call(t, http.MethodPost, "/loan/create-loan", req, http.StatusOK, &outcome)
	if !outcome.Approved || outcome.LoanID == 0 {
		t.Fatalf("Expected created loan, got %+v", outcome)
	}

	paymentPath := fmt.Sprintf("/loan/make-payment/%d/%d", customer.ID, outcome.LoanID)
	call(t, http.MethodPut, paymentPath, map[string]int64{"payment_amount": 8999}, http.StatusBadRequest, nil)

	var loan LoanRecord
	call(t, http.MethodPut, paymentPath, map[string]int64{"payment_amount": 9000}, http.StatusOK, &loan)
	if loan.InstallmentsPaid != 1 {
		t.Errorf("Expected 1 installment paid, got %d", loan.InstallmentsPaid)
	}

	var lines []StatementLine
	call(t, http.MethodGet, fmt.Sprintf("/loan/view-statement/%d/%d", customer.ID, outcome.LoanID), nil, http.StatusOK, &lines)
	if len(lines) != 1 || lines[0].AmountPaid != 9000 || lines[0].RepaymentsLeft != 11 {
		t.Errorf("Unexpected statement %+v", lines)
	}

	// The journal worker appends events asynchronously.
	deadline := time.Now().Add(5 * time.Second)
	var events []LoanEvent
	for time.Now().Before(deadline) {
		call(t, http.MethodGet, fmt.Sprintf("/loan/view-loan/%d/events", outcome.LoanID), nil, http.StatusOK, &events)
		if len(events) >= 2 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 journaled events, got %d", len(events))
	}
	if events[0].Type != "loan.created" || events[1].Type != "loan.payment_applied" {
		t.Errorf("Unexpected event types %s, %s", events[0].Type, events[1].Type)
	}
}

// ============================================================================
// SCENARIO 2: Declines answer 200 with approval false
// ============================================================================

func TestDeclinedOverLimit(t *testing.T) {
	customer := register(t, 20_000)

	req := LoanRequest{CustomerID: customer.ID, LoanAmount: 3_600_001, InterestRate: 10, Tenure: 24}

	var eligibility EligibilityResponse
	call(t, http.MethodPost, "/loan/check-eligibility", req, http.StatusOK, &eligibility)
	if eligibility.Approved || eligibility.Message == "" {
		t.Errorf("Expected decline with message, got %+v", eligibility)
	}

	var outcome LoanOutcome
	call(t, http.MethodPost, "/loan/create-loan", req, http.StatusOK, &outcome)
	if outcome.Approved || outcome.LoanID != 0 {
		t.Errorf("Expected no loan, got %+v", outcome)
	}
}

// ============================================================================
// SCENARIO 3: A loan is only visible through its owner
// ============================================================================

func TestForeignLoanIsNotFound(t *testing.T) {
	owner := register(t, 60_000)
	stranger := register(t, 60_000)

	var outcome LoanOutcome
	call(t, http.MethodPost, "/loan/create-loan",
		LoanRequest{CustomerID: owner.ID, LoanAmount: 50_000, InterestRate: 12, Tenure: 6},
		http.StatusOK, &outcome)

	call(t, http.MethodGet, fmt.Sprintf("/loan/view-statement/%d/%d", stranger.ID, outcome.LoanID), nil, http.StatusNotFound, nil)
	call(t, http.MethodPut, fmt.Sprintf("/loan/make-payment/%d/%d", stranger.ID, outcome.LoanID),
		map[string]int64{"payment_amount": outcome.MonthlyInstallment}, http.StatusNotFound, nil)
}

// ============================================================================
// SCENARIO 4: Concurrent payments never double count
// ============================================================================

func TestConcurrentPayments(t *testing.T) {
	customer := register(t, 200_000)

	var outcome LoanOutcome
	call(t, http.MethodPost, "/loan/create-loan",
		LoanRequest{CustomerID: customer.ID, LoanAmount: 120_000, InterestRate: 12, Tenure: 24},
		http.StatusOK, &outcome)

	path := fmt.Sprintf("/loan/make-payment/%d/%d", customer.ID, outcome.LoanID)
	body, _ := json.Marshal(map[string]int64{"payment_amount": outcome.MonthlyInstallment})

	const payers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for range payers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodPut, getTestConfig().BaseURL+path, bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			resp, err := client.Do(req)
			if err != nil {
				return
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	var lines []StatementLine
	call(t, http.MethodGet, fmt.Sprintf("/loan/view-statement/%d/%d", customer.ID, outcome.LoanID), nil, http.StatusOK, &lines)
	if len(lines) != 1 {
		t.Fatalf("Expected 1 statement line, got %d", len(lines))
	}
	if got := 24 - lines[0].RepaymentsLeft; got != applied {
		t.Errorf("Expected %d installments paid, statement shows %d", applied, got)
	}
}
