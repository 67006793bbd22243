package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authguard/clock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var storeEpoch = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type storeFactory func(t *testing.T, clk clock.Clock) Store

func newMiniredisStore(t *testing.T, clk clock.Clock) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return NewRedisStore(rdb, "rt", clk), mr
}

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T, clk clock.Clock) Store { return NewMemoryStore(clk) },
		"redis": func(t *testing.T, clk clock.Clock) Store {
			s, _ := newMiniredisStore(t, clk)
			return s
		},
	}
}

func TestStoreRotationInvariant(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clk := clock.NewFake(storeEpoch)
			s := factory(t, clk)

			if _, err := s.Issue(ctx, "acct-1", "t1", storeEpoch.Add(time.Hour)); err != nil {
				t.Fatalf("issue t1: %v", err)
			}
			tok2, err := s.Issue(ctx, "acct-1", "t2", storeEpoch.Add(time.Hour))
			if err != nil {
				t.Fatalf("issue t2: %v", err)
			}
			if tok2.TokenHash != HashToken("t2") || tok2.AccountID != "acct-1" || tok2.ID == "" {
				t.Fatalf("unexpected stored token %+v", tok2)
			}

			if _, ok, err := s.GetValid(ctx, "t1"); err != nil || ok {
				t.Fatalf("expected t1 rotated out, ok=%v err=%v", ok, err)
			}
			got, ok, err := s.GetValid(ctx, "t2")
			if err != nil || !ok {
				t.Fatalf("expected t2 valid, ok=%v err=%v", ok, err)
			}
			if got.AccountID != "acct-1" || got.Revoked {
				t.Fatalf("unexpected token %+v", got)
			}
		})
	}
}

func TestStoreRevoke(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t, clock.NewFake(storeEpoch))

			if _, err := s.Issue(ctx, "acct-1", "t1", storeEpoch.Add(time.Hour)); err != nil {
				t.Fatalf("issue: %v", err)
			}
			if ok, err := s.Revoke(ctx, "t1"); err != nil || !ok {
				t.Fatalf("expected first revoke to succeed, ok=%v err=%v", ok, err)
			}
			if ok, err := s.Revoke(ctx, "t1"); err != nil || ok {
				t.Fatalf("expected second revoke to report false, ok=%v err=%v", ok, err)
			}
			if ok, err := s.Revoke(ctx, "missing"); err != nil || ok {
				t.Fatalf("expected unknown revoke to report false, ok=%v err=%v", ok, err)
			}
			if _, ok, err := s.GetValid(ctx, "t1"); err != nil || ok {
				t.Fatalf("expected revoked token invalid, ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestStoreRevokeAllForAccount(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t, clock.NewFake(storeEpoch))

			if _, err := s.Issue(ctx, "a", "ta", storeEpoch.Add(time.Hour)); err != nil {
				t.Fatalf("issue: %v", err)
			}
			if _, err := s.Issue(ctx, "b", "tb", storeEpoch.Add(time.Hour)); err != nil {
				t.Fatalf("issue: %v", err)
			}

			n, err := s.RevokeAllForAccount(ctx, "a")
			if err != nil || n != 1 {
				t.Fatalf("expected 1 revoked, got %d err=%v", n, err)
			}
			if n, _ := s.RevokeAllForAccount(ctx, "a"); n != 0 {
				t.Fatalf("expected idempotent revoke-all, got %d", n)
			}
			if _, ok, _ := s.GetValid(ctx, "tb"); !ok {
				t.Fatal("other account token must stay valid")
			}
		})
	}
}

func TestStoreExpiryAndSweep(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clk := clock.NewFake(storeEpoch)
			s := factory(t, clk)

			if _, err := s.Issue(ctx, "a", "t1", storeEpoch.Add(time.Hour)); err != nil {
				t.Fatalf("issue: %v", err)
			}
			if _, err := s.Issue(ctx, "a", "t2", storeEpoch.Add(time.Hour)); err != nil {
				t.Fatalf("issue: %v", err)
			}
			if _, err := s.Issue(ctx, "b", "t3", storeEpoch.Add(48*time.Hour)); err != nil {
				t.Fatalf("issue: %v", err)
			}

			clk.Advance(2 * time.Hour)
			if _, ok, _ := s.GetValid(ctx, "t2"); ok {
				t.Fatal("expected expired token to be invalid")
			}
			if ok, _ := s.Revoke(ctx, "t2"); ok {
				t.Fatal("expected revoke of expired token to report false")
			}

			removed, err := s.SweepExpired(ctx)
			if err != nil {
				t.Fatalf("sweep: %v", err)
			}
			if removed != 2 {
				t.Fatalf("expected 2 swept, got %d", removed)
			}
			if _, ok, _ := s.GetValid(ctx, "t3"); !ok {
				t.Fatal("unexpired token must survive sweep")
			}
			if removed, _ := s.SweepExpired(ctx); removed != 0 {
				t.Fatalf("expected empty second sweep, got %d", removed)
			}
		})
	}
}

func TestStoreConcurrentIssueLeavesOneValid(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t, clock.NewFake(storeEpoch))

			const workers = 24
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					if _, err := s.Issue(ctx, "acct", fmt.Sprintf("tok-%d", i), storeEpoch.Add(time.Hour)); err != nil {
						t.Errorf("issue %d: %v", i, err)
					}
				}(i)
			}
			wg.Wait()

			valid := 0
			for i := 0; i < workers; i++ {
				if _, ok, _ := s.GetValid(ctx, fmt.Sprintf("tok-%d", i)); ok {
					valid++
				}
			}
			if valid != 1 {
				t.Fatalf("expected exactly one valid token, got %d", valid)
			}
		})
	}
}

func TestStoreRotate(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clk := clock.NewFake(storeEpoch)
			s := factory(t, clk)
			exp := storeEpoch.Add(time.Hour)

			if _, err := s.Issue(ctx, "acct-1", "t1", exp); err != nil {
				t.Fatalf("issue: %v", err)
			}
			if _, ok, err := s.Rotate(ctx, "t1", "acct-2", "stolen", exp); err != nil || ok {
				t.Fatalf("rotate under another account must fail, ok=%v err=%v", ok, err)
			}
			if _, ok, _ := s.GetValid(ctx, "stolen"); ok {
				t.Fatal("failed rotation must not store the new token")
			}

			tok, ok, err := s.Rotate(ctx, "t1", "acct-1", "t2", exp)
			if err != nil || !ok {
				t.Fatalf("rotate: ok=%v err=%v", ok, err)
			}
			if tok.TokenHash != HashToken("t2") || tok.AccountID != "acct-1" {
				t.Fatalf("unexpected rotated token %+v", tok)
			}
			if _, ok, _ := s.GetValid(ctx, "t1"); ok {
				t.Fatal("redeemed token must be revoked")
			}
			if _, ok, _ := s.GetValid(ctx, "t2"); !ok {
				t.Fatal("new token must be valid")
			}

			if _, ok, err := s.Rotate(ctx, "t1", "acct-1", "t3", exp); err != nil || ok {
				t.Fatalf("second redemption must fail, ok=%v err=%v", ok, err)
			}
			if _, ok, _ := s.GetValid(ctx, "t2"); !ok {
				t.Fatal("failed redemption must leave the current token alone")
			}
			if _, ok, _ := s.Rotate(ctx, "never-issued", "acct-1", "t4", exp); ok {
				t.Fatal("unknown token must not rotate")
			}

			clk.Advance(2 * time.Hour)
			if _, ok, _ := s.Rotate(ctx, "t2", "acct-1", "t5", exp.Add(2*time.Hour)); ok {
				t.Fatal("expired token must not rotate")
			}
		})
	}
}

func TestStoreConcurrentRotateRedeemsOnce(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t, clock.NewFake(storeEpoch))
			if _, err := s.Issue(ctx, "acct", "seed", storeEpoch.Add(time.Hour)); err != nil {
				t.Fatalf("issue: %v", err)
			}

			const workers = 16
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				winners []string
			)
			start := make(chan struct{})
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					next := fmt.Sprintf("next-%d", i)
					_, ok, err := s.Rotate(ctx, "seed", "acct", next, storeEpoch.Add(time.Hour))
					if err != nil {
						t.Errorf("rotate %d: %v", i, err)
						return
					}
					if ok {
						mu.Lock()
						winners = append(winners, next)
						mu.Unlock()
					}
				}(i)
			}
			close(start)
			wg.Wait()

			if len(winners) != 1 {
				t.Fatalf("expected exactly one redemption, got %d", len(winners))
			}
			if _, ok, _ := s.GetValid(ctx, winners[0]); !ok {
				t.Fatal("winning token must be valid")
			}
		})
	}
}

func TestMemoryStoreHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryStore(nil)
	if _, err := s.Issue(ctx, "a", "t", time.Now().Add(time.Hour)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRedisStoreNeverStoresRawToken(t *testing.T) {
	s, mr := newMiniredisStore(t, clock.NewFake(storeEpoch))
	if _, err := s.Issue(context.Background(), "a", "super-secret-token", storeEpoch.Add(time.Hour)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	for _, key := range mr.Keys() {
		if strings.Contains(key, "super-secret-token") {
			t.Fatalf("raw token leaked into key %q", key)
		}
	}
	if !mr.Exists("rt:t:" + HashToken("super-secret-token")) {
		t.Fatal("expected hashed token key")
	}
	if ttl := mr.TTL("rt:t:" + HashToken("super-secret-token")); ttl != time.Hour {
		t.Fatalf("expected key ttl of 1h, got %v", ttl)
	}
}

func TestRedisStoreWrapsBackendErrors(t *testing.T) {
	s, mr := newMiniredisStore(t, clock.NewFake(storeEpoch))
	mr.Close()

	ctx := context.Background()
	if _, err := s.Issue(ctx, "a", "t", storeEpoch.Add(time.Hour)); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage from Issue, got %v", err)
	}
	if _, _, err := s.GetValid(ctx, "t"); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage from GetValid, got %v", err)
	}
	if _, err := s.SweepExpired(ctx); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage from SweepExpired, got %v", err)
	}
}
