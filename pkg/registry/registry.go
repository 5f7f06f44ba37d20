package registry

import (
	"go-micro.dev/v5/registry"
)

// ServiceConfig 服务配置
type ServiceConfig struct {
	Name     string            // 服务名称
	Version  string            // 服务版本
	NodeID   string            // 节点ID
	Address  string            // 服务地址
	Metadata map[string]string // 节点元数据
}

// BuildService 构建服务注册信息
func BuildService(cfg *ServiceConfig) *registry.Service {
	meta := make(map[string]string, len(cfg.Metadata))
	for k, v := range cfg.Metadata {
		meta[k] = v
	}
	return &registry.Service{
		Name:    cfg.Name,
		Version: cfg.Version,
		Nodes: []*registry.Node{
			{
				Id:       cfg.NodeID,
				Address:  cfg.Address,
				Metadata: meta,
			},
		},
	}
}

// ServiceBuilder 服务构建器
type ServiceBuilder struct {
	config *ServiceConfig
}

// NewServiceBuilder 创建服务构建器
func NewServiceBuilder(name, version string) *ServiceBuilder {
	return &ServiceBuilder{
		config: &ServiceConfig{
			Name:     name,
			Version:  version,
			Metadata: make(map[string]string),
		},
	}
}

// WithNodeID 设置节点ID
func (b *ServiceBuilder) WithNodeID(nodeID string) *ServiceBuilder {
	b.config.NodeID = nodeID
	return b
}

// WithAddress 设置服务地址
func (b *ServiceBuilder) WithAddress(addr string) *ServiceBuilder {
	b.config.Address = addr
	return b
}

// WithMetadata 设置节点元数据
func (b *ServiceBuilder) WithMetadata(key, value string) *ServiceBuilder {
	b.config.Metadata[key] = value
	return b
}

// Build 构建服务
func (b *ServiceBuilder) Build() *registry.Service {
	// 如果没有设置NodeID，使用服务名+"-1"
	if b.config.NodeID == "" {
		b.config.NodeID = b.config.Name + "-1"
	}
	return BuildService(b.config)
}

// mergeNodes 按节点ID合并，后者覆盖前者
func mergeNodes(dst *registry.Service, nodes []*registry.Node) {
	for _, n := range nodes {
		replaced := false
		for i, existing := range dst.Nodes {
			if existing.Id == n.Id {
				dst.Nodes[i] = n
				replaced = true
				break
			}
		}
		if !replaced {
			dst.Nodes = append(dst.Nodes, n)
		}
	}
}
