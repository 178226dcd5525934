package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ChainPreset holds the per-chain contract addresses and naming the
// execution core needs: the AMM router/factory pair and the wrapped
// base-currency token used as swap path anchor.
type ChainPreset struct {
	ChainID        int64  `yaml:"chain_id"`
	Name           string `yaml:"name"`
	Router         string `yaml:"router"`
	Factory        string `yaml:"factory"`
	WrappedBase    string `yaml:"wrapped_base"`
	BaseSymbol     string `yaml:"base_symbol"`
	AggregatorSlug string `yaml:"aggregator_slug"` // chain id string used by the aggregator API
}

type presetFile struct {
	Chains []ChainPreset `yaml:"chains"`
}

// builtinPresets covers the chains this core ships support for.
var builtinPresets = []ChainPreset{
	{
		ChainID:        56,
		Name:           "bsc",
		Router:         "0x10ed43c718714eb63d5aa57b78b54704e256024e",
		Factory:        "0xca143ce32fe78f1f7019d7d551a6402fc5350c73",
		WrappedBase:    "0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c",
		BaseSymbol:     "BNB",
		AggregatorSlug: "bsc",
	},
	{
		ChainID:        1,
		Name:           "ethereum",
		Router:         "0x7a250d5630b4cf539739df2c5dacb4c659f2488d",
		Factory:        "0x5c69bee701ef814a2b6a3edd4b1652cb9cc5aa6f",
		WrappedBase:    "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
		BaseSymbol:     "ETH",
		AggregatorSlug: "ethereum",
	},
}

// LoadPresets reads chain presets from a YAML file. Entries override
// built-ins with the same chain id; built-ins remain available otherwise.
func LoadPresets(path string) ([]ChainPreset, error) {
	presets := make([]ChainPreset, len(builtinPresets))
	copy(presets, builtinPresets)

	if path == "" {
		return presets, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chain presets: %w", err)
	}
	var f presetFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse chain presets: %w", err)
	}

	for _, p := range f.Chains {
		replaced := false
		for i := range presets {
			if presets[i].ChainID == p.ChainID {
				presets[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			presets = append(presets, p)
		}
	}
	return presets, nil
}

// PresetFor returns the preset matching chainID.
func PresetFor(presets []ChainPreset, chainID int64) (ChainPreset, error) {
	for _, p := range presets {
		if p.ChainID == chainID {
			return p, nil
		}
	}
	return ChainPreset{}, fmt.Errorf("no chain preset for chain id %d", chainID)
}
