package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/wysh3/perplexity-mcp-zerver-sub001/internal/config"
)

func TestHostLimiterEnforcesDelayPerHost(t *testing.T) {
	cfg := config.CrawlConfig{PerHostDelay: config.DurationFrom(50 * time.Millisecond)}
	limiter := NewHostLimiter(cfg)
	ctx := context.Background()

	start := time.Now()
	if err := limiter.Wait(ctx, "example.com"); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	if err := limiter.Wait(ctx, "example.com"); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("second request to same host not delayed, elapsed %v", elapsed)
	}
}

func TestHostLimiterHostsAreIndependent(t *testing.T) {
	cfg := config.CrawlConfig{PerHostDelay: config.DurationFrom(200 * time.Millisecond)}
	limiter := NewHostLimiter(cfg)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "a.example.com"); err != nil {
		t.Fatalf("wait: %v", err)
	}
	start := time.Now()
	if err := limiter.Wait(ctx, "b.example.com"); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("different host was delayed %v", elapsed)
	}
}

func TestHostLimiterRespectsContextCancellation(t *testing.T) {
	cfg := config.CrawlConfig{PerHostDelay: config.DurationFrom(time.Hour)}
	limiter := NewHostLimiter(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	if err := limiter.Wait(ctx, "example.com"); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	cancel()
	if err := limiter.Wait(ctx, "example.com"); err == nil {
		t.Fatal("cancelled context should abort the wait")
	}
}

func TestHostLimiterDisabledIsFree(t *testing.T) {
	limiter := NewHostLimiter(config.CrawlConfig{})

	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := limiter.Wait(context.Background(), "example.com"); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("disabled limiter should not block, elapsed %v", elapsed)
	}
}
