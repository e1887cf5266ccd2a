package adapter

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	xerrors "IntentLayer-Lite/internal/errors"
	"IntentLayer-Lite/internal/intent"
)

// Catalog 对应 configs/adapters.yaml 的结构。
type Catalog struct {
	Adapters []Definition `yaml:"adapters"`
}

// Registry 按名称管理适配器。
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry 创建注册表并注册给定适配器。
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// LoadCatalog 读取 YAML 目录，内置转账适配器始终可用。
func LoadCatalog(path string) (*Registry, error) {
	registry, err := NewRegistry(TransferAdapter{})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		return registry, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取适配器配置失败: %w", err)
	}
	catalog, err := ParseCatalog(content)
	if err != nil {
		return nil, err
	}
	for _, def := range catalog.Adapters {
		a, err := NewABIAdapter(def)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(a); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// ParseCatalog 解析 YAML 内容。
func ParseCatalog(content []byte) (Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(content, &catalog); err != nil {
		return Catalog{}, xerrors.Wrap(CodeAdapterConfig, err, "解析适配器配置失败")
	}
	return catalog, nil
}

// Register 注册适配器，名称大小写不敏感且不可重复。
func (r *Registry) Register(a Adapter) error {
	if a == nil {
		return xerrors.New(CodeAdapterConfig, "adapter is nil")
	}
	name := strings.ToLower(strings.TrimSpace(a.Name()))
	if name == "" {
		return xerrors.New(CodeAdapterConfig, "adapter name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[name]; exists {
		return configError(name, "registered twice")
	}
	r.adapters[name] = a
	return nil
}

// Get 按名称查找适配器。
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(name))]
	return a, ok
}

// Names 返回排序后的适配器名称。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select 按名称顺序返回第一个支持该类型、网络且被 allow 接受的适配器。
func (r *Registry) Select(t intent.Type, network string, allow func(Adapter) bool) (Adapter, error) {
	for _, name := range r.Names() {
		a, ok := r.Get(name)
		if !ok || !a.Supports(t) {
			continue
		}
		if aware, ok := a.(NetworkAware); ok && network != "" && !aware.SupportsNetwork(network) {
			continue
		}
		if allow != nil && !allow(a) {
			continue
		}
		return a, nil
	}
	return nil, xerrors.New(CodeAdapterNotFound, fmt.Sprintf("no adapter supports %s intents under this mandate", t))
}
