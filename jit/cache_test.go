package jit

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(n byte) CacheKey {
	return CacheKey{Hash: common.BytesToHash([]byte{n}), Profile: ProfileCancun}
}

func TestCacheAddGet(t *testing.T) {
	c, err := NewCodeCache(4, nil)
	require.NoError(t, err)

	code := &CompiledCode{CodeLen: 10}
	c.Add(key(1), code)

	got, ok := c.Get(key(1))
	require.True(t, ok)
	assert.Same(t, code, got)

	_, ok = c.Get(key(2))
	assert.False(t, ok)

	_, ok = c.Get(CacheKey{Hash: key(1).Hash, Profile: ProfilePrague})
	assert.False(t, ok, "profiles must not share entries")
}

func TestCacheCapacityEvictionFiresCallback(t *testing.T) {
	var evicted []CacheKey
	c, err := NewCodeCache(2, func(k CacheKey, _ *CompiledCode) {
		evicted = append(evicted, k)
	})
	require.NoError(t, err)

	c.Add(key(1), &CompiledCode{})
	c.Add(key(2), &CompiledCode{})
	c.Add(key(3), &CompiledCode{})

	require.Len(t, evicted, 1)
	assert.Equal(t, key(1), evicted[0])
	assert.Equal(t, 2, c.Len())
}

func TestCacheInvalidateFiresCallback(t *testing.T) {
	var evicted []CacheKey
	c, err := NewCodeCache(4, func(k CacheKey, _ *CompiledCode) {
		evicted = append(evicted, k)
	})
	require.NoError(t, err)

	c.Add(key(1), &CompiledCode{})
	assert.True(t, c.Invalidate(key(1)))
	assert.False(t, c.Invalidate(key(1)))

	require.Len(t, evicted, 1)
	_, ok := c.Get(key(1))
	assert.False(t, ok)
}

func TestCacheRecency(t *testing.T) {
	c, err := NewCodeCache(2, nil)
	require.NoError(t, err)

	c.Add(key(1), &CompiledCode{})
	c.Add(key(2), &CompiledCode{})
	c.Get(key(1))
	c.Add(key(3), &CompiledCode{})

	_, ok := c.Get(key(1))
	assert.True(t, ok, "recently used entry must survive")
	_, ok = c.Get(key(2))
	assert.False(t, ok)
}
