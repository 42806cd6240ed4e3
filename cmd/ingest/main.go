// Ingest bulk-loads historical customers and loans into the Kestrel store.
//
// Usage:
//
//	go run ./cmd/ingest -customers customer_data.csv -loans loan_data.csv
//
// Customers are written before loans so every loan finds its owner. Rows whose
// id already exists are counted as duplicates and left untouched.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// Store is the part of the repository the importer writes through.
type Store interface {
	ImportCustomer(ctx context.Context, c *domain.Customer) error
	ImportLoan(ctx context.Context, loan *domain.LoanRecord) error
}

// Summary counts the outcome of one import.
type Summary struct {
	Imported   int64
	Duplicates int64
	Failed     int64
	Rejected   int
}

func main() {
	configPath := flag.String("config", os.Getenv("KESTREL_CONFIG"), "path to a config file")
	customersPath := flag.String("customers", "", "path to customer_data.csv")
	loansPath := flag.String("loans", "", "path to loan_data.csv")
	workers := flag.Int("workers", 8, "number of concurrent writers")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if *customersPath == "" && *loansPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: ingest -customers customer_data.csv -loans loan_data.csv")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	imp := &Importer{store: repo, workers: *workers}
	start := time.Now()

	if *customersPath != "" {
		s, err := imp.importFile(ctx, *customersPath, imp.Customers)
		if err != nil {
			slog.Error("customer import failed", "path", *customersPath, "error", err)
			os.Exit(1)
		}
		logSummary("customers", s)
	}

	if *loansPath != "" {
		s, err := imp.importFile(ctx, *loansPath, imp.Loans)
		if err != nil {
			slog.Error("loan import failed", "path", *loansPath, "error", err)
			os.Exit(1)
		}
		logSummary("loans", s)
	}

	slog.Info("ingest complete", "duration_ms", time.Since(start).Milliseconds())
}

func logSummary(kind string, s Summary) {
	slog.Info("import finished",
		"kind", kind,
		"imported", s.Imported,
		"duplicates", s.Duplicates,
		"failed", s.Failed,
		"rejected_rows", s.Rejected,
	)
}

// Importer writes parsed rows through a bounded pool of workers.
type Importer struct {
	store   Store
	workers int
}

func (imp *Importer) importFile(ctx context.Context, path string, run func(context.Context, io.Reader) (Summary, error)) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, err
	}
	defer f.Close()
	return run(ctx, f)
}

// Customers imports a customer_data CSV.
func (imp *Importer) Customers(ctx context.Context, in io.Reader) (Summary, error) {
	customers, rejects, err := readCustomers(in)
	if err != nil {
		return Summary{}, err
	}
	logRejects(rejects)

	s := runPool(ctx, imp.workers, customers, func(ctx context.Context, c *domain.Customer) error {
		return imp.store.ImportCustomer(ctx, c)
	})
	s.Rejected = len(rejects)
	return s, nil
}

// Loans imports a loan_data CSV.
func (imp *Importer) Loans(ctx context.Context, in io.Reader) (Summary, error) {
	loans, rejects, err := readLoans(in)
	if err != nil {
		return Summary{}, err
	}
	logRejects(rejects)

	s := runPool(ctx, imp.workers, loans, func(ctx context.Context, l *domain.LoanRecord) error {
		return imp.store.ImportLoan(ctx, l)
	})
	s.Rejected = len(rejects)
	return s, nil
}

func logRejects(rejects []rowError) {
	for _, r := range rejects {
		slog.Warn("skipping malformed row", "line", r.Line, "error", r.Err)
	}
}

// runPool feeds items to workers until the input is drained or ctx is done.
func runPool[T any](ctx context.Context, workers int, items []T, write func(context.Context, T) error) Summary {
	var (
		s    Summary
		wg   sync.WaitGroup
		work = make(chan T, 100)
	)

	for range max(workers, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				err := write(ctx, item)
				switch {
				case err == nil:
					atomic.AddInt64(&s.Imported, 1)
				case errors.Is(err, domain.ErrDuplicateKey):
					atomic.AddInt64(&s.Duplicates, 1)
				default:
					atomic.AddInt64(&s.Failed, 1)
					slog.Warn("failed to import row", "error", err)
				}
			}
		}()
	}

feed:
	for _, item := range items {
		select {
		case work <- item:
		case <-ctx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()

	return s
}
