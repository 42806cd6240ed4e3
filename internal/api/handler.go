package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/lending"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	svc      *lending.Service
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	validate *validator.Validate
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(svc *lending.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		svc:      svc,
		repo:     repo,
		cache:    cache,
		bus:      bus,
		validate: validate,
		version:  version,
	}
}

// LoanRequestBody is the request body for eligibility checks and loan creation.
type LoanRequestBody struct {
	CustomerID   int64    `json:"customer_id" validate:"required,gt=0"`
	LoanAmount   int64    `json:"loan_amount" validate:"required,gt=0"`
	InterestRate *float64 `json:"interest_rate" validate:"required,gte=0"`
	Tenure       int      `json:"tenure" validate:"required,gt=0"`
}

func (b LoanRequestBody) toDomain() domain.LoanRequest {
	return domain.LoanRequest{
		CustomerID:   b.CustomerID,
		Amount:       b.LoanAmount,
		InterestRate: *b.InterestRate,
		Tenure:       b.Tenure,
	}
}

// PaymentRequest is the request body for PUT /loan/make-payment.
type PaymentRequest struct {
	PaymentAmount int64 `json:"payment_amount" validate:"required,gt=0"`
}

// EligibilityResponse is the response for POST /loan/check-eligibility.
type EligibilityResponse struct {
	*domain.Eligibility
	Message string `json:"message,omitempty"`
}

// RegisterCustomer handles POST /customer/register.
func (h *Handler) RegisterCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterCustomerRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	customer, err := h.svc.RegisterCustomer(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, customer)
}

// GetCustomer handles GET /customer/{customer_id}.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	customerID, err := pathID(r, "customer_id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	customer, err := h.svc.GetCustomer(r.Context(), customerID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, customer)
}

// CheckEligibility handles POST /loan/check-eligibility. A customer who is not
// eligible gets 200 with approval false and an explanation.
func (h *Handler) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	var body LoanRequestBody
	if err := h.decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	eligibility, err := h.svc.CheckEligibility(r.Context(), body.toDomain())
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := EligibilityResponse{Eligibility: eligibility}
	if !eligibility.Approved {
		resp.Message = lending.DeclineMessage
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateLoan handles POST /loan/create-loan.
func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var body LoanRequestBody
	if err := h.decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	outcome, err := h.svc.CreateLoan(r.Context(), body.toDomain())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

// ViewLoan handles GET /loan/view-loan/{loan_id}.
func (h *Handler) ViewLoan(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r, "loan_id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	details, err := h.svc.GetLoan(r.Context(), loanID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, details)
}

// ListLoanEvents handles GET /loan/view-loan/{loan_id}/events.
func (h *Handler) ListLoanEvents(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r, "loan_id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	events, err := h.svc.ListLoanEvents(r.Context(), loanID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, events)
}

// MakePayment handles PUT /loan/make-payment/{customer_id}/{loan_id}.
func (h *Handler) MakePayment(w http.ResponseWriter, r *http.Request) {
	customerID, err := pathID(r, "customer_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	loanID, err := pathID(r, "loan_id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req PaymentRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	loan, err := h.svc.ApplyPayment(r.Context(), customerID, loanID, req.PaymentAmount)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, loan)
}

// ViewStatement handles GET /loan/view-statement/{customer_id}/{loan_id}.
func (h *Handler) ViewStatement(w http.ResponseWriter, r *http.Request) {
	customerID, err := pathID(r, "customer_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	loanID, err := pathID(r, "loan_id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	lines, err := h.svc.GetStatement(r.Context(), customerID, loanID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, lines)
}

// Health returns the health status of the server.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic. The store is
// the one dependency every operation needs.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			slog.Warn("readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// decode reads a JSON body into dst and validates its tags.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.Validationf("invalid JSON request body")
	}

	if err := h.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return domain.Validationf("invalid request")
		}
		msgs := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			msgs = append(msgs, fieldMessage(fe))
		}
		return domain.Validationf("%s", strings.Join(msgs, "; "))
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Validationf("%s must be a positive integer", name)
	}
	return id, nil
}

// writeError maps a domain error kind onto a status code. Internal errors are
// logged and answered generically.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.KindValidation:
		status = http.StatusBadRequest
	case domain.KindNotFound:
		status = http.StatusNotFound
	default:
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
	}

	writeJSON(w, status, map[string]string{
		"error": domain.PublicMessage(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
