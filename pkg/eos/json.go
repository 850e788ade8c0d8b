package eos

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pelletier/go-toml/v2"
)

// ConvertJSONFileToSeasoning opens a file.json and converts to Seasoning.
func ConvertJSONFileToSeasoning(fileNamePath string) (*Seasoning, error) {

	byteValue, err := os.ReadFile(fileNamePath)
	if err != nil {
		return nil, err
	}

	seasoning := &Seasoning{}
	var json = jsoniter.ConfigFastest
	err = json.Unmarshal(byteValue, seasoning)

	return seasoning, err
}

// ConvertTOMLFileToSeasoning opens a file.toml and converts to Seasoning.
func ConvertTOMLFileToSeasoning(fileNamePath string) (*Seasoning, error) {

	byteValue, err := os.ReadFile(fileNamePath)
	if err != nil {
		return nil, err
	}

	seasoning := &Seasoning{}
	err = toml.Unmarshal(byteValue, seasoning)

	return seasoning, err
}

// LoadSeasoning reads a .json or .toml seasoning file, chosen by extension.
func LoadSeasoning(fileNamePath string) (*Seasoning, error) {

	switch strings.ToLower(filepath.Ext(fileNamePath)) {
	case ".json":
		return ConvertJSONFileToSeasoning(fileNamePath)
	case ".toml":
		return ConvertTOMLFileToSeasoning(fileNamePath)
	default:
		return nil, fmt.Errorf("%w: unsupported seasoning file %q", ErrInvalidConfiguration, fileNamePath)
	}
}

// Build replays the seasoning through an EnhancedServiceBuilder and returns the locked Config.
// The first rejected setting fails the build.
func (s *Seasoning) Build() (*Config, error) {

	builder := NewBuilder()
	if err := builder.Initialise(s.ConnectionString).Err(); err != nil {
		return nil, err
	}

	if s.CachingConfig != nil && s.CachingConfig.Enabled {
		err := builder.AddCaching(&CachingOptions{
			Mode:              s.CachingConfig.Mode,
			Offset:            time.Duration(s.CachingConfig.OffsetSeconds) * time.Second,
			SlidingExpiration: time.Duration(s.CachingConfig.SlidingExpirationSeconds) * time.Second,
			Compression:       s.CachingConfig.Compression,
		}).Err()
		if err != nil {
			return nil, err
		}
	}

	if s.TransactionsEnabled {
		if err := builder.AddTransactions(nil).Err(); err != nil {
			return nil, err
		}
	}

	if s.ConcurrencyConfig != nil && s.ConcurrencyConfig.Enabled {
		err := builder.AddConcurrency(&ConcurrencyOptions{
			DefaultThreads:  s.ConcurrencyConfig.DefaultThreads,
			HoldAppForAsync: s.ConcurrencyConfig.HoldAppForAsync,
		}).Err()
		if err != nil {
			return nil, err
		}
	}

	return builder.Finalise().GetBuild()
}

// NewServicePoolFromSeasoning builds the Config, factory and pool a seasoning describes.
// Pool options passed by the caller override the file's PoolConfig.
func NewServicePoolFromSeasoning[T Service](
	seasoning *Seasoning,
	serviceType ServiceType[T],
	broker *ConnectionBroker,
	opts ...PoolOption) (*ServicePool[T], error) {

	if seasoning == nil {
		return nil, fmt.Errorf("%w: seasoning is required", ErrInvalidConfiguration)
	}

	config, err := seasoning.Build()
	if err != nil {
		return nil, err
	}

	options := &poolOptions{}
	for _, opt := range opts {
		opt(options)
	}

	factory, err := NewServiceFactory(config, serviceType, broker, WithFactoryLogger(options.logger))
	if err != nil {
		return nil, err
	}

	capacity := 1
	var poolOpts []PoolOption
	if seasoning.PoolConfig != nil {
		if seasoning.PoolConfig.Capacity != 0 {
			capacity = seasoning.PoolConfig.Capacity
		}

		poolOpts = append(poolOpts,
			WithPoolThreads(seasoning.PoolConfig.Threads),
			WithAcquireTimeout(time.Duration(seasoning.PoolConfig.AcquireTimeout)*time.Second))
	}

	return NewServicePool(factory, capacity, append(poolOpts, opts...)...)
}
