package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"IntentLayer-Lite/internal/config"
	"IntentLayer-Lite/internal/web3"
	"IntentLayer-Lite/internal/web3/ethereum"
	"IntentLayer-Lite/pkg/logger"
)

// ErrNoEndpoints 表示没有任何链配置了 RPC 端点，调用方应进入只编译模式。
var ErrNoEndpoints = errors.New("未配置任何链的 RPC 端点")

// Registry manages a set of chain clients keyed by human readable names.
type Registry struct {
	defaultChain string
	clients      map[string]web3.Client
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, cfg config.Web3Config) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	log := logger.Named("web3")
	clients := make(map[string]web3.Client)
	for name, chain := range defs.Chains {
		name = strings.ToLower(strings.TrimSpace(name))
		if strings.TrimSpace(chain.RPCURL) == "" {
			log.Warn("链未配置 rpc_url，已跳过", "chain", name)
			continue
		}
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		switch chainType {
		case "evm":
			client, err := ethereum.NewClient(ctx, ethereum.Config{
				Name:    name,
				RPCURL:  chain.RPCURL,
				ChainID: chain.ChainID,
				Notes:   chain.Description,
			})
			if err != nil {
				closeAll(clients)
				return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
			}
			clients[name] = client
		default:
			closeAll(clients)
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
	}

	defaultChain := strings.ToLower(strings.TrimSpace(cfg.DefaultChain))
	if defaultChain == "" {
		defaultChain = strings.ToLower(strings.TrimSpace(defs.Default))
	}

	if len(clients) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		name := defaultChain
		if name == "" {
			name = "default"
		}
		client, err := ethereum.NewClient(ctx, ethereum.Config{Name: name, RPCURL: cfg.RPCURL})
		if err != nil {
			return nil, err
		}
		clients[name] = client
	}

	if len(clients) == 0 {
		return nil, ErrNoEndpoints
	}
	return NewStaticRegistry(defaultChain, clients)
}

// NewStaticRegistry builds a registry from ready clients. An empty default
// selects the alphabetically first chain.
func NewStaticRegistry(defaultChain string, clients map[string]web3.Client) (*Registry, error) {
	if len(clients) == 0 {
		return nil, errors.New("未配置任何链客户端")
	}
	normalized := make(map[string]web3.Client, len(clients))
	for name, client := range clients {
		normalized[strings.ToLower(strings.TrimSpace(name))] = client
	}
	r := &Registry{clients: normalized}
	if defaultChain == "" {
		defaultChain = r.Chains()[0]
	}
	defaultChain = strings.ToLower(strings.TrimSpace(defaultChain))
	if _, ok := normalized[defaultChain]; !ok {
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}
	r.defaultChain = defaultChain
	return r, nil
}

// DefaultChain returns the name of the default chain.
func (r *Registry) DefaultChain() string {
	if r == nil {
		return ""
	}
	return r.defaultChain
}

// Resolve implements web3.Resolver.
func (r *Registry) Resolve(network string) (web3.Client, string, error) {
	if r == nil {
		return nil, "", errors.New("未初始化的链客户端注册表")
	}
	name := strings.ToLower(strings.TrimSpace(network))
	if name == "" {
		name = r.defaultChain
	}
	client, ok := r.clients[name]
	if !ok {
		return nil, name, fmt.Errorf("链 %s 未在注册表中", name)
	}
	return client, name, nil
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[strings.ToLower(strings.TrimSpace(name))]
	return client, ok
}

// Snapshots queries every chain; failures are reported per chain.
func (r *Registry) Snapshots(ctx context.Context) map[string]any {
	out := make(map[string]any, len(r.clients))
	for _, name := range r.Chains() {
		snapshot, err := r.clients[name].FetchChainSnapshot(ctx)
		if err != nil {
			out[name] = map[string]string{"error": err.Error()}
			continue
		}
		out[name] = snapshot
	}
	return out
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	closeAll(r.clients)
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func closeAll(clients map[string]web3.Client) {
	for name, client := range clients {
		if client != nil {
			client.Close()
		}
		delete(clients, name)
	}
}

var _ web3.Resolver = (*Registry)(nil)
