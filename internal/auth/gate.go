// Package auth authenticates inbound calls by API key and enforces per-key
// rate limits.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/bull/docsearch-mcp/internal/storage"
)

// KeyStore is what the gate needs from the store of record.
type KeyStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) (*storage.APIKey, error)
	TouchAPIKey(ctx context.Context, id string, at time.Time) error
}

// Options tunes a Gate. Zero values fall back to the defaults below.
type Options struct {
	BcryptCost       int
	DefaultRateLimit int // Requests per hour for keys stored without a budget
	LimiterCacheSize int
	TouchTimeout     time.Duration
	Now              func() time.Time
	Logger           *slog.Logger
}

const (
	DefaultRateLimit        = 1000
	DefaultLimiterCacheSize = 4096
	DefaultTouchTimeout     = 2 * time.Second
)

// Gate validates raw API keys. It is safe for concurrent use.
type Gate struct {
	keys         KeyStore
	limiter      *Limiter
	dummyHash    []byte
	defaultLimit int
	touchTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger
	touches      sync.WaitGroup
}

func NewGate(keys KeyStore, opts Options) (*Gate, error) {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.DefaultRateLimit == 0 {
		opts.DefaultRateLimit = DefaultRateLimit
	}
	if opts.LimiterCacheSize <= 0 {
		opts.LimiterCacheSize = DefaultLimiterCacheSize
	}
	if opts.TouchTimeout <= 0 {
		opts.TouchTimeout = DefaultTouchTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	limiter, err := NewLimiter(opts.LimiterCacheSize)
	if err != nil {
		return nil, err
	}
	// Compared against when no key matches the prefix, so unknown prefixes
	// cost one bcrypt comparison like known ones.
	dummy, err := GenerateKey(opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}
	return &Gate{
		keys:         keys,
		limiter:      limiter,
		dummyHash:    []byte(dummy.Hash),
		defaultLimit: opts.DefaultRateLimit,
		touchTimeout: opts.TouchTimeout,
		now:          opts.Now,
		logger:       opts.Logger,
	}, nil
}

// Authenticate returns the key record for a valid raw key. Every credential
// failure is ErrUnauthenticated; an exhausted budget is a *RateLimitError.
// Other errors mean the store could not be consulted.
func (g *Gate) Authenticate(ctx context.Context, raw string) (*storage.APIKey, error) {
	prefix, ok := ParseKey(raw)
	if !ok {
		return nil, ErrUnauthenticated
	}

	key, err := g.keys.GetAPIKeyByPrefix(ctx, prefix)
	if errors.Is(err, storage.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(g.dummyHash, []byte(raw))
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("lookup api key: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(raw)) != nil {
		return nil, ErrUnauthenticated
	}
	now := g.now()
	if !key.ValidAt(now) {
		g.logger.Debug("Rejected inactive API key", "key_id", key.ID, "status", key.Status)
		return nil, ErrUnauthenticated
	}

	budget := key.RateLimit
	if budget <= 0 {
		budget = g.defaultLimit
	}
	if ok, wait := g.limiter.Allow(key.ID, budget, now); !ok {
		return nil, &RateLimitError{RetryAfter: wait}
	}

	g.touch(key.ID, now)
	return key, nil
}

// touch records last use without holding up the request.
func (g *Gate) touch(id string, at time.Time) {
	g.touches.Add(1)
	go func() {
		defer g.touches.Done()
		ctx, cancel := context.WithTimeout(context.Background(), g.touchTimeout)
		defer cancel()
		if err := g.keys.TouchAPIKey(ctx, id, at); err != nil {
			g.logger.Warn("Failed to record API key use", "key_id", id, "error", err)
		}
	}()
}

// Wait blocks until pending last-used updates have finished.
func (g *Gate) Wait() {
	g.touches.Wait()
}
