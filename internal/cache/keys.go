package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CustomerKey is the cache key of a customer record.
func CustomerKey(customerID int64) string {
	return "customer:" + strconv.FormatInt(customerID, 10)
}

// StatementKey is the cache key of a customer's loan statement.
func StatementKey(customerID int64) string {
	return "statement:" + strconv.FormatInt(customerID, 10)
}

type byteStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

func getCustomer(ctx context.Context, s byteStore, customerID int64) (*domain.Customer, error) {
	data, err := s.Get(ctx, CustomerKey(customerID))
	if err != nil || data == nil {
		return nil, err
	}

	var c domain.Customer
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func setCustomer(ctx context.Context, s byteStore, c *domain.Customer, ttl time.Duration) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.Set(ctx, CustomerKey(c.ID), data, ttl)
}
