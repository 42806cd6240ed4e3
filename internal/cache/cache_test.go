package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, StatementKey(7), []byte("[]"), time.Minute)

		err := cache.Delete(ctx, StatementKey(7))
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, StatementKey(7))
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, "expiring", []byte("temp"), 10*time.Millisecond)

		// Should be available immediately
		val, _ := cache.Get(ctx, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		// Wait for expiration
		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		_, _ = smallCache.Get(ctx, "a")

		// Add 'd' - should evict 'b' (oldest accessed)
		_ = smallCache.Set(ctx, "d", []byte("4"), time.Minute)

		// 'b' should be evicted
		val, _ := smallCache.Get(ctx, "b")
		if val != nil {
			t.Error("expected 'b' to be evicted")
		}

		// 'a' should still be there
		val, _ = smallCache.Get(ctx, "a")
		if val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("IncrementCounter", func(t *testing.T) {
		window := 100 * time.Millisecond

		count1, err := cache.IncrementCounter(ctx, "ratelimit:10.0.0.1", window)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if count1 != 1 {
			t.Errorf("expected count 1, got %d", count1)
		}

		count2, _ := cache.IncrementCounter(ctx, "ratelimit:10.0.0.1", window)
		if count2 != 2 {
			t.Errorf("expected count 2, got %d", count2)
		}

		other, _ := cache.IncrementCounter(ctx, "ratelimit:10.0.0.2", window)
		if other != 1 {
			t.Errorf("expected separate counter per key, got %d", other)
		}

		// Wait for window to expire
		time.Sleep(150 * time.Millisecond)

		count3, _ := cache.IncrementCounter(ctx, "ratelimit:10.0.0.1", window)
		if count3 != 1 {
			t.Errorf("expected count 1 after window reset, got %d", count3)
		}
	})

	t.Run("CounterSweep", func(t *testing.T) {
		small := NewLRUCache(2)
		_, _ = small.IncrementCounter(ctx, "a", time.Millisecond)
		_, _ = small.IncrementCounter(ctx, "b", time.Millisecond)
		time.Sleep(5 * time.Millisecond)

		_, _ = small.IncrementCounter(ctx, "c", time.Minute)
		if len(small.counters) != 1 {
			t.Errorf("expected expired counters to be swept, got %d", len(small.counters))
		}
	})

	t.Run("CustomerCache", func(t *testing.T) {
		customer := &domain.Customer{
			ID:            42,
			FirstName:     "Tunde",
			LastName:      "Bello",
			Age:           35,
			MonthlyIncome: 120000,
			PhoneNumber:   "5550142",
			ApprovedLimit: 3600000,
		}

		err := cache.SetCustomer(ctx, customer, time.Minute)
		if err != nil {
			t.Fatalf("SetCustomer failed: %v", err)
		}

		retrieved, err := cache.GetCustomer(ctx, 42)
		if err != nil {
			t.Fatalf("GetCustomer failed: %v", err)
		}
		if retrieved == nil {
			t.Fatal("expected cached customer")
		}
		if retrieved.FirstName != customer.FirstName {
			t.Errorf("expected FirstName %s, got %s", customer.FirstName, retrieved.FirstName)
		}
		if retrieved.ApprovedLimit != customer.ApprovedLimit {
			t.Errorf("expected ApprovedLimit %d, got %d", customer.ApprovedLimit, retrieved.ApprovedLimit)
		}

		missing, err := cache.GetCustomer(ctx, 43)
		if err != nil || missing != nil {
			t.Errorf("expected nil, nil on miss, got %v, %v", missing, err)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, "k", []byte("v"), time.Minute)

		err := testCache.Close()
		if err != nil {
			t.Errorf("Close failed: %v", err)
		}

		// Cache should be empty after close
		val, _ := testCache.Get(ctx, "k")
		if val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestKeys(t *testing.T) {
	if got := CustomerKey(12); got != "customer:12" {
		t.Errorf("CustomerKey(12) = %q", got)
	}
	if got := StatementKey(12); got != "statement:12" {
		t.Errorf("StatementKey(12) = %q", got)
	}

	if !localEligible(CustomerKey(1)) {
		t.Error("expected customer keys to be served from L1")
	}
	if localEligible(StatementKey(1)) {
		t.Error("expected statement keys to bypass L1")
	}
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type:         "memory",
			LocalMaxSize: 100,
		}

		cache, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		_, ok := cache.(*LRUCache)
		if !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type: "memcached",
		}

		_, err := New(cfg)
		if err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
