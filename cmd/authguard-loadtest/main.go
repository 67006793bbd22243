// Command authguard-loadtest drives login, refresh and pre-check traffic
// through a Coordinator backed by Redis and reports latency percentiles.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"math"
	mrand "math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authguard"
	"github.com/MrEthical07/authguard/blocklist"
	"github.com/MrEthical07/authguard/password"
	"github.com/MrEthical07/authguard/refresh"
)

const loadPassword = "load-test-password-123"

type accountState struct {
	identifier string
	refresh    string
	mu         sync.Mutex
}

func main() {
	var (
		accounts    = flag.Int("accounts", 1000, "number of accounts to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "ag", "redis key prefix")
		configPath  = flag.String("config", "", "optional TOML config; rate limits are raised for the run")
		bcryptCost  = flag.Int("bcrypt-cost", 4, "bcrypt cost for seeded accounts")
	)
	flag.Parse()

	if *accounts <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "accounts, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  *redis.Client
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewClient(&redis.Options{Addr: addr})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewClient(&redis.Options{Addr: addr})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	hasher, err := password.NewBcrypt(*bcryptCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bcrypt: %v\n", err)
		os.Exit(1)
	}

	identities := authguard.NewMemoryIdentities(hasher)
	states := make([]accountState, *accounts)
	fmt.Printf("seeding %d accounts...\n", *accounts)
	startSeed := time.Now()
	for i := range states {
		identifier := fmt.Sprintf("user-%d@load.test", i)
		if _, err := identities.Register(identifier, loadPassword); err != nil {
			fmt.Fprintf(os.Stderr, "register failed: %v\n", err)
			os.Exit(1)
		}
		states[i].identifier = identifier
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	coord, err := authguard.New().
		WithConfig(cfg).
		WithPasswordHasher(hasher).
		WithIdentityProvider(identities).
		WithRefreshStore(refresh.NewRedisStore(client, *prefix+":refresh", nil)).
		WithIPBlocker(blocklist.NewRedisBlocklist(client, *prefix+":block")).
		WithMetricsEnabled(true).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build: %v\n", err)
		os.Exit(1)
	}
	defer coord.Close()

	loginStats := runLoginPhase(ctx, coord, states, *ops, *concurrency)
	refreshStats := runRefreshPhase(ctx, coord, states, *ops, *concurrency)
	precheckStats := runPreCheckPhase(ctx, coord, states, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("refresh", refreshStats)
	printStats("precheck", precheckStats)

	snap := coord.MetricsSnapshot()
	fmt.Printf("counters: login_success=%d refresh_success=%d reuse_detected=%d precheck_denied=%d\n",
		snap.Counters[authguard.MetricLoginSuccess],
		snap.Counters[authguard.MetricRefreshSuccess],
		snap.Counters[authguard.MetricRefreshReuseDetected],
		snap.Counters[authguard.MetricPreCheckRateLimited]+snap.Counters[authguard.MetricPreCheckIPBlocked],
	)
}

func loadConfig(path string) (authguard.Config, error) {
	var cfg authguard.Config
	if path != "" {
		loaded, err := authguard.LoadConfigFile(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	} else {
		cfg = authguard.DefaultConfig()
		cfg.JWT.SigningMethod = "hs256"
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return cfg, err
		}
		cfg.JWT.PrivateKey = secret
	}

	// Every worker hammers a handful of addresses; keep the limiter out of the way.
	cfg.RateLimit.MinuteLimit = math.MaxInt32
	cfg.RateLimit.WindowLimit = math.MaxInt32
	cfg.Lockout.Enabled = false
	return cfg, cfg.Validate()
}

func workerIP(worker int) string {
	return fmt.Sprintf("10.%d.%d.%d", (worker>>16)&0xFF, (worker>>8)&0xFF, worker&0xFF)
}

func runLoginPhase(ctx context.Context, coord *authguard.Coordinator, states []accountState, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, 7919, func(worker int, r *mrand.Rand) error {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		defer state.mu.Unlock()

		res, err := coord.Login(ctx, authguard.LoginRequest{
			Identifier: state.identifier,
			Password:   loadPassword,
			IP:         workerIP(worker),
		})
		if err != nil {
			return err
		}
		state.refresh = res.Tokens.RefreshToken
		return nil
	})
}

func runRefreshPhase(ctx context.Context, coord *authguard.Coordinator, states []accountState, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, 6151, func(worker int, r *mrand.Rand) error {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		defer state.mu.Unlock()

		if state.refresh == "" {
			return nil
		}
		pair, err := coord.Refresh(ctx, state.refresh, workerIP(worker))
		if err != nil {
			return err
		}
		state.refresh = pair.RefreshToken
		return nil
	})
}

func runPreCheckPhase(ctx context.Context, coord *authguard.Coordinator, states []accountState, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, 104729, func(worker int, r *mrand.Rand) error {
		state := &states[r.Intn(len(states))]
		d, err := coord.PreCheck(ctx, workerIP(worker), state.identifier)
		if err != nil {
			return err
		}
		if !d.Allowed {
			return d.Err()
		}
		return nil
	})
}

func runPhase(ops, concurrency int, seed int64, op func(worker int, r *mrand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(worker, r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
