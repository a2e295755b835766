package reputation

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/opensource-security/kestrel/internal/cache"
	"github.com/opensource-security/kestrel/internal/domain"
	"github.com/opensource-security/kestrel/internal/repository"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProvider(t *testing.T) {
	// Create temp database
	tmpFile, err := os.CreateTemp("", "reputation-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	lruCache := cache.NewLRUCache(100)
	defer lruCache.Close()

	provider := NewProvider(repo, lruCache, quietLogger())

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("UnknownAddress", func(t *testing.T) {
		score := provider.Score(ctx, tenantID, "192.0.2.50")
		if score != UnknownScore {
			t.Errorf("expected unknown score %v, got %v", UnknownScore, score)
		}
	})

	t.Run("EmptyAddress", func(t *testing.T) {
		score := provider.Score(ctx, tenantID, "")
		if score != UnknownScore {
			t.Errorf("expected unknown score %v, got %v", UnknownScore, score)
		}
	})

	t.Run("RecordAndScore", func(t *testing.T) {
		err := provider.Record(ctx, tenantID, &domain.Reputation{
			IP:     "203.0.113.7",
			Score:  0.15,
			Source: "feed",
		})
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}

		score := provider.Score(ctx, tenantID, "203.0.113.7")
		if score != 0.15 {
			t.Errorf("expected score 0.15, got %v", score)
		}
	})

	t.Run("CachedAfterFirstLookup", func(t *testing.T) {
		// Second read must be served from cache: mutate the stored row
		// directly and check the stale value is still returned.
		if err := repo.SaveReputation(ctx, tenantID, &domain.Reputation{
			IP: "203.0.113.7", Score: 0.9, Source: "feed", UpdatedAt: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("SaveReputation failed: %v", err)
		}

		score := provider.Score(ctx, tenantID, "203.0.113.7")
		if score != 0.15 {
			t.Errorf("expected cached score 0.15, got %v", score)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		score := provider.Score(ctx, "other-tenant", "203.0.113.7")
		if score != UnknownScore {
			t.Errorf("expected unknown score for different tenant, got %v", score)
		}
	})

	t.Run("RecordValidation", func(t *testing.T) {
		if err := provider.Record(ctx, tenantID, &domain.Reputation{Score: 0.5}); err == nil {
			t.Error("expected error for missing address")
		}
		if err := provider.Record(ctx, tenantID, &domain.Reputation{IP: "198.51.100.1", Score: 1.5}); err == nil {
			t.Error("expected error for out-of-range score")
		}
	})

	t.Run("UploadConcurrency", func(t *testing.T) {
		count, err := provider.UploadConcurrency(ctx, tenantID, "203.0.113.7", time.Minute)
		if err != nil {
			t.Fatalf("UploadConcurrency failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected count 1, got %d", count)
		}

		count, _ = provider.UploadConcurrency(ctx, tenantID, "203.0.113.7", time.Minute)
		if count != 2 {
			t.Errorf("expected count 2, got %d", count)
		}

		if _, err := provider.UploadConcurrency(ctx, tenantID, "", time.Minute); err == nil {
			t.Error("expected error for empty address")
		}
	})
}

func TestInject(t *testing.T) {
	provider := NewProvider(nil, nil, quietLogger())
	ctx := context.Background()

	t.Run("CallerValueWins", func(t *testing.T) {
		feats := map[string]any{"ip_reputation": 0.9}
		out := provider.Inject(ctx, "tenant-001", "203.0.113.7", feats)
		if out["ip_reputation"] != 0.9 {
			t.Errorf("caller-supplied value must win, got %v", out["ip_reputation"])
		}
	})

	t.Run("InjectsWhenAbsent", func(t *testing.T) {
		out := provider.Inject(ctx, "tenant-001", "203.0.113.7", map[string]any{})
		if out["ip_reputation"] != UnknownScore {
			t.Errorf("expected injected score %v, got %v", UnknownScore, out["ip_reputation"])
		}
	})

	t.Run("NilMapping", func(t *testing.T) {
		out := provider.Inject(ctx, "tenant-001", "203.0.113.7", nil)
		if out == nil || out["ip_reputation"] != UnknownScore {
			t.Errorf("expected mapping with injected score, got %v", out)
		}
	})

	t.Run("NoAddress", func(t *testing.T) {
		out := provider.Inject(ctx, "tenant-001", "", map[string]any{"file_size": 1.0})
		if _, present := out["ip_reputation"]; present {
			t.Error("must not inject without a client address")
		}
	})
}

func TestNoBackends(t *testing.T) {
	provider := NewProvider(nil, nil, quietLogger())

	ctx := context.Background()
	if score := provider.Score(ctx, "tenant", "203.0.113.7"); score != UnknownScore {
		t.Errorf("expected unknown score with no backends, got %v", score)
	}

	if _, err := provider.UploadConcurrency(ctx, "tenant", "203.0.113.7", time.Minute); err == nil {
		t.Error("expected error with no cache")
	}
}
