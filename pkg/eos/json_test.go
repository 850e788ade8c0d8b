package eos_test

import (
	"context"
	"testing"
	"time"

	"github.com/houseofcat/enhancedservice/pkg/eos"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadJSONSeasoning(t *testing.T) {

	fileNamePath := "testdata/seasoning.json"
	assert.FileExists(t, fileNamePath)

	seasoning, err := eos.ConvertJSONFileToSeasoning(fileNamePath)
	require.NoError(t, err)
	assert.NotEqual(t, "", seasoning.ConnectionString, "ConnectionString should not be blank.")
	require.NotNil(t, seasoning.CachingConfig)
	assert.Equal(t, eos.FactoryScopedCache, seasoning.CachingConfig.Mode)
	require.NotNil(t, seasoning.PoolConfig)
	assert.Equal(t, 4, seasoning.PoolConfig.Capacity)

	config, err := seasoning.Build()
	require.NoError(t, err)
	assert.True(t, config.IsLocked())
	assert.Equal(t, 2*time.Minute, config.Caching().Offset())
	assert.Equal(t, 30*time.Second, config.Caching().SlidingExpiration())
	assert.True(t, config.Caching().Compression())
	assert.True(t, config.IsTransactionsEnabled())
	assert.Equal(t, 2, config.Concurrency().DefaultThreads())
	assert.True(t, config.Concurrency().IsAsyncAppHold())
}

func TestReadTOMLSeasoning(t *testing.T) {

	seasoning, err := eos.LoadSeasoning("testdata/seasoning.toml")
	require.NoError(t, err)

	config, err := seasoning.Build()
	require.NoError(t, err)
	assert.Equal(t, eos.InstanceScopedCache, config.Caching().Mode())
	assert.Equal(t, time.Minute, config.Caching().SlidingExpiration())
	assert.False(t, config.IsTransactionsEnabled())
	assert.False(t, config.IsConcurrencyEnabled())
}

func TestLoadSeasoningUnknownExtension(t *testing.T) {

	_, err := eos.LoadSeasoning("testdata/seasoning.yaml")
	assert.ErrorIs(t, err, eos.ErrInvalidConfiguration)
}

func TestSeasoningBuildRejectsBadDescriptor(t *testing.T) {

	seasoning, err := eos.LoadSeasoning("testdata/badseasoning.json")
	require.NoError(t, err)

	_, err = seasoning.Build()
	assert.ErrorIs(t, err, eos.ErrDescriptorFormat)
}

func TestNewServicePoolFromSeasoning(t *testing.T) {

	seasoning, err := eos.LoadSeasoning("testdata/seasoning.toml")
	require.NoError(t, err)

	dialer := newFakeDialer()
	pool, err := eos.NewServicePoolFromSeasoning(seasoning, eos.StandardService, eos.NewConnectionBroker(dialer.Dial))
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Stats().Capacity)

	svc, err := pool.GetService(0)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.ConnectionCount())

	require.NoError(t, pool.ReleaseService(svc))
	require.NoError(t, pool.Close(context.Background()))
}

func TestNewServicePoolFromSeasoningCapabilityMismatch(t *testing.T) {

	seasoning, err := eos.LoadSeasoning("testdata/seasoning.json")
	require.NoError(t, err)

	_, err = eos.NewServicePoolFromSeasoning(seasoning, eos.StandardService, eos.NewConnectionBroker(newFakeDialer().Dial))
	assert.ErrorIs(t, err, eos.ErrUnsupported)

	pool, err := eos.NewServicePoolFromSeasoning(seasoning, eos.AsyncService, eos.NewConnectionBroker(newFakeDialer().Dial))
	require.NoError(t, err)
	assert.Equal(t, 4, pool.Stats().Capacity)
	require.NoError(t, pool.Close(context.Background()))
}
