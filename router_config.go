package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

const routersFileName = "routers.yaml"

var routerNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_]+[a-z0-9]$`)

// RoutersConfig is the root configuration for per-chain swap routers.
// Swaps are only ever encoded against routers listed here.
type RoutersConfig struct {
	Routers []RouterConfig `yaml:"routers"`

	byChain map[uint64]RouterConfig
}

// RouterConfig describes one known swap router deployment.
type RouterConfig struct {
	// Name is the router identifier (e.g., "uniswap_v2", "quickswap")
	Name string `yaml:"name"`
	// ChainID is the chain the router is deployed on
	ChainID uint64 `yaml:"chain_id"`
	// Address is the router contract address
	Address string `yaml:"address"`
	// Disabled removes the router from the allowlist without deleting it
	Disabled bool `yaml:"disabled"`
}

// LoadRouters loads and validates the router allowlist from
// <configDirPath>/routers.yaml.
func LoadRouters(configDirPath string) (*RoutersConfig, error) {
	routersPath := filepath.Join(configDirPath, routersFileName)
	f, err := os.Open(routersPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg RoutersConfig
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.verifyVariables(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewRoutersConfig builds an in-memory allowlist, used by tests and by
// embedders that do not load from disk.
func NewRoutersConfig(routers ...RouterConfig) (*RoutersConfig, error) {
	cfg := &RoutersConfig{Routers: routers}
	if err := cfg.verifyVariables(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *RoutersConfig) verifyVariables() error {
	c.byChain = make(map[uint64]RouterConfig, len(c.Routers))
	for _, r := range c.Routers {
		if r.Disabled {
			continue
		}
		if !routerNameRegex.MatchString(r.Name) {
			return fmt.Errorf("router name %q is invalid", r.Name)
		}
		if r.ChainID == 0 {
			return fmt.Errorf("router %s: chain_id is required", r.Name)
		}
		if !common.IsHexAddress(r.Address) {
			return fmt.Errorf("router %s: address %q is invalid", r.Name, r.Address)
		}
		if prev, ok := c.byChain[r.ChainID]; ok {
			return fmt.Errorf("router %s: chain %d already has router %s", r.Name, r.ChainID, prev.Name)
		}
		c.byChain[r.ChainID] = r
	}
	return nil
}

// DefaultRouter returns the configured router for a chain.
func (c *RoutersConfig) DefaultRouter(chainID uint64) (RouterConfig, bool) {
	r, ok := c.byChain[chainID]
	return r, ok
}
