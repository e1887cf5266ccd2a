package web3

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadChainDefinitionsExpandsEnv(t *testing.T) {
	t.Setenv("TEST_RPC_KEY", "secret")
	path := filepath.Join(t.TempDir(), "chains.yaml")
	content := `
default: sepolia
chains:
  sepolia:
    rpc_url: https://rpc.example/${TEST_RPC_KEY}
    chain_id: 11155111
    description: testnet
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	defs, err := LoadChainDefinitions(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	chain := defs.Chains["sepolia"]
	if defs.Default != "sepolia" || chain.RPCURL != "https://rpc.example/secret" || chain.ChainID != 11155111 {
		t.Fatalf("unexpected definitions %+v", defs)
	}
}

func TestLoadChainDefinitionsEmptyPath(t *testing.T) {
	defs, err := LoadChainDefinitions("")
	if err != nil || defs.Chains == nil || len(defs.Chains) != 0 {
		t.Fatalf("expected empty definitions, got %+v %v", defs, err)
	}
}

func TestLoadChainDefinitionsTOML(t *testing.T) {
	t.Setenv("TEST_RPC_KEY", "secret")
	path := filepath.Join(t.TempDir(), "chains.toml")
	content := `
default = "base"

[chains.base]
rpc_url = "https://base.example/${TEST_RPC_KEY}"
chain_id = 8453

[chains.devnet]
rpc_url = "http://127.0.0.1:8545"
chain_id = 1337
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	defs, err := LoadChainDefinitions(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if defs.Default != "base" || len(defs.Chains) != 2 {
		t.Fatalf("unexpected definitions %+v", defs)
	}
	if defs.Chains["base"].RPCURL != "https://base.example/secret" || defs.Chains["devnet"].ChainID != 1337 {
		t.Fatalf("unexpected chains %+v", defs.Chains)
	}
}

func TestLoadShippedChainCatalogue(t *testing.T) {
	t.Setenv("SEPOLIA_RPC_URL", "https://sepolia.example")
	t.Setenv("BASE_SEPOLIA_RPC_URL", "https://base-sepolia.example")

	defs, err := LoadChainDefinitions("../../configs/chains.toml")
	if err != nil {
		t.Fatalf("load chains: %v", err)
	}
	if defs.Default != "sepolia" || len(defs.Chains) != 2 {
		t.Fatalf("unexpected definitions: %+v", defs)
	}
	if got := defs.Chains["sepolia"]; got.RPCURL != "https://sepolia.example" || got.ChainID != 11155111 {
		t.Fatalf("unexpected sepolia entry: %+v", got)
	}
}
