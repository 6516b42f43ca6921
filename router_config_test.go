package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutersConfig(t *testing.T) {
	t.Run("Valid configuration", func(t *testing.T) {
		cfg, err := NewRoutersConfig(
			RouterConfig{Name: "uniswap_v2", ChainID: 1, Address: testRouterAddr},
			RouterConfig{Name: "quickswap", ChainID: 137, Address: testRouterAddr},
		)
		require.NoError(t, err)

		router, ok := cfg.DefaultRouter(1)
		require.True(t, ok)
		assert.Equal(t, "uniswap_v2", router.Name)

		_, ok = cfg.DefaultRouter(42161)
		assert.False(t, ok)
	})

	t.Run("Invalid router name", func(t *testing.T) {
		_, err := NewRoutersConfig(RouterConfig{Name: "Uniswap-V2", ChainID: 1, Address: testRouterAddr})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid")
	})

	t.Run("Missing chain id", func(t *testing.T) {
		_, err := NewRoutersConfig(RouterConfig{Name: "uniswap_v2", Address: testRouterAddr})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "chain_id is required")
	})

	t.Run("Invalid address", func(t *testing.T) {
		_, err := NewRoutersConfig(RouterConfig{Name: "uniswap_v2", ChainID: 1, Address: "0x123"})
		require.Error(t, err)
	})

	t.Run("Duplicate chain", func(t *testing.T) {
		_, err := NewRoutersConfig(
			RouterConfig{Name: "uniswap_v2", ChainID: 1, Address: testRouterAddr},
			RouterConfig{Name: "sushiswap", ChainID: 1, Address: testRouterAddr},
		)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already has router")
	})

	t.Run("Disabled routers are skipped", func(t *testing.T) {
		cfg, err := NewRoutersConfig(
			RouterConfig{Name: "uniswap_v2", ChainID: 1, Address: testRouterAddr, Disabled: true},
		)
		require.NoError(t, err)

		_, ok := cfg.DefaultRouter(1)
		assert.False(t, ok)
	})
}

func TestLoadRouters(t *testing.T) {
	t.Run("Loads from yaml", func(t *testing.T) {
		dir := t.TempDir()
		yaml := `routers:
  - name: uniswap_v2
    chain_id: 1
    address: "` + testRouterAddr + `"
  - name: quickswap
    chain_id: 137
    address: "` + testRouterAddr + `"
    disabled: true
`
		require.NoError(t, os.WriteFile(filepath.Join(dir, "routers.yaml"), []byte(yaml), 0o644))

		cfg, err := LoadRouters(dir)
		require.NoError(t, err)

		_, ok := cfg.DefaultRouter(1)
		assert.True(t, ok)
		_, ok = cfg.DefaultRouter(137)
		assert.False(t, ok)
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := LoadRouters(t.TempDir())
		require.Error(t, err)
	})

	t.Run("Invalid entry fails load", func(t *testing.T) {
		dir := t.TempDir()
		yaml := `routers:
  - name: uniswap_v2
    chain_id: 1
    address: "nope"
`
		require.NoError(t, os.WriteFile(filepath.Join(dir, "routers.yaml"), []byte(yaml), 0o644))

		_, err := LoadRouters(dir)
		require.Error(t, err)
	})
}
