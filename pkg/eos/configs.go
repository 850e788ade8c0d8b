package eos

import (
	"fmt"
	"strings"
	"time"
)

// CacheMode governs whether a cache store is shared process-wide, per factory, or per service instance.
type CacheMode int

const (
	// SharedCache uses a single process-wide store.
	SharedCache CacheMode = iota
	// FactoryScopedCache uses one store per factory (or the externally supplied one).
	FactoryScopedCache
	// InstanceScopedCache gives every service instance its own store.
	InstanceScopedCache
)

const (
	defaultSlidingExpiration = 5 * time.Minute
	defaultThreads           = 1
)

func (cm CacheMode) String() string {
	switch cm {
	case SharedCache:
		return "Shared"
	case FactoryScopedCache:
		return "FactoryScoped"
	case InstanceScopedCache:
		return "InstanceScoped"
	default:
		return fmt.Sprintf("CacheMode(%d)", int(cm))
	}
}

// MarshalText lets config files carry the mode by name.
func (cm CacheMode) MarshalText() ([]byte, error) {
	return []byte(cm.String()), nil
}

// UnmarshalText parses a mode name, case-insensitively.
func (cm *CacheMode) UnmarshalText(text []byte) error {

	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "shared", "global":
		*cm = SharedCache
	case "factoryscoped", "private":
		*cm = FactoryScopedCache
	case "instancescoped", "privateperinstance":
		*cm = InstanceScopedCache
	default:
		return fmt.Errorf("%w: unknown cache mode %q", ErrInvalidConfiguration, string(text))
	}

	return nil
}

// CachingOptions is supplied to AddCaching. A nil value selects the defaults.
type CachingOptions struct {
	Mode CacheMode
	// Offset is the absolute lifetime of an entry, zero disables it.
	Offset time.Duration
	// SlidingExpiration evicts entries not read within the window, zero disables it.
	SlidingExpiration time.Duration
	// Store is only honoured with FactoryScopedCache.
	Store       Store
	Compression bool
}

// TransactionOptions is supplied to AddTransactions.
type TransactionOptions struct{}

// ConcurrencyOptions is supplied to AddConcurrency. A nil value selects the defaults.
type ConcurrencyOptions struct {
	// DefaultThreads is the number of raw connections per service when none is requested.
	DefaultThreads  int
	HoldAppForAsync bool
}

// Config is the locked configuration aggregate produced by EnhancedServiceBuilder.
type Config struct {
	descriptor   string
	caching      *CachingConfig
	transactions *TransactionConfig
	concurrency  *ConcurrencyConfig
	locked       bool
}

// Descriptor returns the target descriptor.
func (c *Config) Descriptor() string { return c.descriptor }

// IsCachingEnabled reports whether AddCaching was called.
func (c *Config) IsCachingEnabled() bool { return c.caching != nil }

// Caching returns the caching sub-config or nil.
func (c *Config) Caching() *CachingConfig { return c.caching }

// IsTransactionsEnabled reports whether AddTransactions was called.
func (c *Config) IsTransactionsEnabled() bool { return c.transactions != nil }

// Transactions returns the transaction sub-config or nil.
func (c *Config) Transactions() *TransactionConfig { return c.transactions }

// IsConcurrencyEnabled reports whether AddConcurrency was called.
func (c *Config) IsConcurrencyEnabled() bool { return c.concurrency != nil }

// Concurrency returns the concurrency sub-config or nil.
func (c *Config) Concurrency() *ConcurrencyConfig { return c.concurrency }

// IsLocked reports whether the config has been finalised.
func (c *Config) IsLocked() bool { return c.locked }

// String renders the config with credentials redacted.
func (c *Config) String() string {
	return fmt.Sprintf("Config{descriptor: %q, caching: %t, transactions: %t, concurrency: %t, locked: %t}",
		RedactDescriptor(c.descriptor), c.IsCachingEnabled(), c.IsTransactionsEnabled(), c.IsConcurrencyEnabled(), c.locked)
}

func (c *Config) mutate(fn func()) error {

	if c.locked {
		return ErrConfigLocked
	}

	fn()
	return nil
}

func (c *Config) lock() {

	if c.caching != nil {
		c.caching.locked = true
	}

	if c.transactions != nil {
		c.transactions.locked = true
	}

	if c.concurrency != nil {
		c.concurrency.locked = true
	}

	c.locked = true
}

// CachingConfig is the caching sub-config.
type CachingConfig struct {
	mode              CacheMode
	offset            time.Duration
	slidingExpiration time.Duration
	store             Store
	compression       bool
	locked            bool
}

func newCachingConfig(options *CachingOptions) (*CachingConfig, error) {

	if options == nil {
		return &CachingConfig{mode: SharedCache, slidingExpiration: defaultSlidingExpiration}, nil
	}

	switch options.Mode {
	case SharedCache, FactoryScopedCache, InstanceScopedCache:
	default:
		return nil, fmt.Errorf("%w: unknown cache mode %s", ErrInvalidConfiguration, options.Mode)
	}

	if options.Offset < 0 || options.SlidingExpiration < 0 {
		return nil, fmt.Errorf("%w: cache expiration can't be negative", ErrInvalidConfiguration)
	}

	if options.Store != nil && options.Mode != FactoryScopedCache {
		return nil, fmt.Errorf("%w: a cache store can only be supplied with %s mode", ErrInvalidConfiguration, FactoryScopedCache)
	}

	return &CachingConfig{
		mode:              options.Mode,
		offset:            options.Offset,
		slidingExpiration: options.SlidingExpiration,
		store:             options.Store,
		compression:       options.Compression,
	}, nil
}

// Mode returns the cache scope mode.
func (cc *CachingConfig) Mode() CacheMode { return cc.mode }

// Offset returns the absolute entry lifetime.
func (cc *CachingConfig) Offset() time.Duration { return cc.offset }

// SlidingExpiration returns the sliding expiration window.
func (cc *CachingConfig) SlidingExpiration() time.Duration { return cc.slidingExpiration }

// Store returns the externally supplied store, if any.
func (cc *CachingConfig) Store() Store { return cc.store }

// Compression reports whether cached values are zstd compressed.
func (cc *CachingConfig) Compression() bool { return cc.compression }

// IsLocked reports whether the sub-config has been finalised.
func (cc *CachingConfig) IsLocked() bool { return cc.locked }

// ExpirationPolicy returns the eviction policy for entries.
func (cc *CachingConfig) ExpirationPolicy() ExpirationPolicy {
	return ExpirationPolicy{Offset: cc.offset, SlidingExpiration: cc.slidingExpiration}
}

// TransactionConfig marks transaction scoping as enabled.
type TransactionConfig struct {
	locked bool
}

// IsLocked reports whether the sub-config has been finalised.
func (tc *TransactionConfig) IsLocked() bool { return tc.locked }

// ConcurrencyConfig is the concurrency sub-config.
type ConcurrencyConfig struct {
	defaultThreads  int
	holdAppForAsync bool
	locked          bool
}

func newConcurrencyConfig(options *ConcurrencyOptions) (*ConcurrencyConfig, error) {

	if options == nil {
		return &ConcurrencyConfig{defaultThreads: defaultThreads}, nil
	}

	threads := options.DefaultThreads
	if threads == 0 {
		threads = defaultThreads
	}

	if threads < 0 {
		return nil, fmt.Errorf("%w: default threads can't be negative", ErrInvalidConfiguration)
	}

	return &ConcurrencyConfig{defaultThreads: threads, holdAppForAsync: options.HoldAppForAsync}, nil
}

// DefaultThreads returns the number of raw connections per service when none is requested.
func (cc *ConcurrencyConfig) DefaultThreads() int { return cc.defaultThreads }

// IsAsyncAppHold reports whether outstanding async work is awaited before shutdown.
func (cc *ConcurrencyConfig) IsAsyncAppHold() bool { return cc.holdAppForAsync }

// IsLocked reports whether the sub-config has been finalised.
func (cc *ConcurrencyConfig) IsLocked() bool { return cc.locked }

// Seasoning is the file representation of a service configuration and its pool.
type Seasoning struct {
	ConnectionString    string                `json:"ConnectionString" yaml:"ConnectionString" toml:"ConnectionString"`
	CachingConfig       *CachingSeasoning     `json:"CachingConfig" yaml:"CachingConfig" toml:"CachingConfig"`
	TransactionsEnabled bool                  `json:"TransactionsEnabled" yaml:"TransactionsEnabled" toml:"TransactionsEnabled"`
	ConcurrencyConfig   *ConcurrencySeasoning `json:"ConcurrencyConfig" yaml:"ConcurrencyConfig" toml:"ConcurrencyConfig"`
	PoolConfig          *PoolConfig           `json:"PoolConfig" yaml:"PoolConfig" toml:"PoolConfig"`
}

// CachingSeasoning represents caching settings in a config file.
type CachingSeasoning struct {
	Enabled                  bool      `json:"Enabled" yaml:"Enabled" toml:"Enabled"`
	Mode                     CacheMode `json:"Mode" yaml:"Mode" toml:"Mode"`
	OffsetSeconds            uint32    `json:"OffsetSeconds" yaml:"OffsetSeconds" toml:"OffsetSeconds"`
	SlidingExpirationSeconds uint32    `json:"SlidingExpirationSeconds" yaml:"SlidingExpirationSeconds" toml:"SlidingExpirationSeconds"`
	Compression              bool      `json:"Compression" yaml:"Compression" toml:"Compression"`
}

// ConcurrencySeasoning represents concurrency settings in a config file.
type ConcurrencySeasoning struct {
	Enabled         bool `json:"Enabled" yaml:"Enabled" toml:"Enabled"`
	DefaultThreads  int  `json:"DefaultThreads" yaml:"DefaultThreads" toml:"DefaultThreads"`
	HoldAppForAsync bool `json:"HoldAppForAsync" yaml:"HoldAppForAsync" toml:"HoldAppForAsync"`
}

// PoolConfig represents settings for creating a ServicePool.
// AcquireTimeout is in seconds, zero blocks indefinitely.
type PoolConfig struct {
	Capacity       int    `json:"Capacity" yaml:"Capacity" toml:"Capacity"`
	Threads        int    `json:"Threads" yaml:"Threads" toml:"Threads"`
	AcquireTimeout uint32 `json:"AcquireTimeout" yaml:"AcquireTimeout" toml:"AcquireTimeout"`
}
