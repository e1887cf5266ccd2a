package web3

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Default string                     `yaml:"default" toml:"default"`
	Chains  map[string]ChainDefinition `yaml:"chains" toml:"chains"`
}

// ChainDefinition describes a single chain endpoint definition.
type ChainDefinition struct {
	Type        string `yaml:"type" toml:"type"`
	RPCURL      string `yaml:"rpc_url" toml:"rpc_url"`
	ChainID     int64  `yaml:"chain_id" toml:"chain_id"`
	Description string `yaml:"description" toml:"description"`
}

// LoadChainDefinitions parses the file containing chain metadata. Files
// ending in .toml are decoded as TOML, everything else as YAML. Values of
// the form ${VAR} are expanded from the environment.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return ParseChainDefinitionsTOML(content)
	}
	return ParseChainDefinitions(content)
}

// ParseChainDefinitions decodes chain definitions from YAML content.
func ParseChainDefinitions(content []byte) (ChainDefinitions, error) {
	var defs ChainDefinitions
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(content))), &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}

// ParseChainDefinitionsTOML decodes chain definitions from TOML content.
func ParseChainDefinitionsTOML(content []byte) (ChainDefinitions, error) {
	var defs ChainDefinitions
	if err := toml.Unmarshal([]byte(os.ExpandEnv(string(content))), &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}
