package lifecycle

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/adminmgmt/pkg/broadcast"
	"github.com/adminmgmt/pkg/logger"
	"go.uber.org/zap"
)

// Event 生命周期事件类型
type Event string

const (
	EventStarting Event = "starting" // 服务启动中
	EventStarted  Event = "started"  // 服务已启动
	EventReady    Event = "ready"    // 服务就绪（可接收请求）
	EventStopping Event = "stopping" // 服务停止中
	EventStopped  Event = "stopped"  // 服务已停止
)

const lifecycleTopic = "service:lifecycle"

// EventMessage 生命周期消息
type EventMessage struct {
	Service   string    `json:"service"` // 服务名称
	NodeID    string    `json:"node_id"` // 节点ID
	Event     Event     `json:"event"`   // 事件类型
	Timestamp time.Time `json:"timestamp"`
}

// EventHandler 生命周期事件处理器
type EventHandler func(msg *EventMessage)

// Manager 生命周期事件管理器，通过广播器在实例间传播
type Manager struct {
	service  string
	nodeID   string
	bus      *broadcast.Broadcaster
	handlers map[Event][]EventHandler
	mu       sync.RWMutex
}

// NewManager 创建生命周期管理器，bus 为空时事件只在本地分发
func NewManager(service, nodeID string, bus *broadcast.Broadcaster) *Manager {
	m := &Manager{
		service:  service,
		nodeID:   nodeID,
		bus:      bus,
		handlers: make(map[Event][]EventHandler),
	}
	if bus != nil {
		bus.Subscribe(lifecycleTopic, m.handleMessage)
	}
	return m
}

// OnEvent 监听特定生命周期事件
func (m *Manager) OnEvent(event Event, handler EventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], handler)
}

// Emit 发布生命周期事件，发布失败只记录日志
func (m *Manager) Emit(ctx context.Context, event Event) {
	msg := &EventMessage{
		Service:   m.service,
		NodeID:    m.nodeID,
		Event:     event,
		Timestamp: time.Now(),
	}

	if m.bus == nil {
		m.dispatch(msg)
		return
	}
	if err := m.bus.Publish(ctx, lifecycleTopic, msg); err != nil {
		logger.Warn("发布生命周期事件失败", zap.String("event", string(event)), zap.Error(err))
	}
}

// handleMessage 处理广播的生命周期消息
func (m *Manager) handleMessage(b *broadcast.Message) {
	var msg EventMessage
	if err := json.Unmarshal(b.Payload, &msg); err != nil {
		logger.Warn("解析生命周期消息失败", zap.Error(err))
		return
	}
	m.dispatch(&msg)
}

func (m *Manager) dispatch(msg *EventMessage) {
	m.mu.RLock()
	handlers := m.handlers[msg.Event]
	m.mu.RUnlock()

	for _, handler := range handlers {
		handler(msg)
	}
}
