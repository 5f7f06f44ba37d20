package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/adminmgmt/pkg/database"
	"github.com/adminmgmt/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Message 广播消息
type Message struct {
	Topic     string          `json:"topic"`
	Service   string          `json:"service"` // 发送者服务名
	NodeID    string          `json:"node_id"` // 发送者节点ID
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// FromSelf 是否由本节点发出
func (m *Message) FromSelf(nodeID string) bool {
	return m.NodeID == nodeID
}

// Handler 消息处理器
type Handler func(msg *Message)

// Publisher 发布接口
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Broadcaster 基于 Redis Pub/Sub 的跨实例广播器
type Broadcaster struct {
	service     string
	nodeID      string
	store       *database.Store
	subscribers map[string][]Handler
	mu          sync.RWMutex
	pubsub      *redis.PubSub
	done        chan struct{}
}

// New 创建广播器
func New(store *database.Store, service, nodeID string) *Broadcaster {
	return &Broadcaster{
		service:     service,
		nodeID:      nodeID,
		store:       store,
		subscribers: make(map[string][]Handler),
	}
}

// NodeID 本节点ID
func (b *Broadcaster) NodeID() string {
	return b.nodeID
}

// Subscribe 订阅 topic，需在 Start 之前调用
func (b *Broadcaster) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], handler)
}

// Publish 广播到所有实例
func (b *Broadcaster) Publish(ctx context.Context, topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	data, err := json.Marshal(&Message{
		Topic:     topic,
		Service:   b.service,
		NodeID:    b.nodeID,
		Payload:   raw,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return b.store.Publish(ctx, topic, data)
}

// Start 订阅已注册的 topic 并开始监听
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.RLock()
	channels := make([]string, 0, len(b.subscribers))
	for topic := range b.subscribers {
		channels = append(channels, b.store.Key(topic))
	}
	b.mu.RUnlock()

	if len(channels) == 0 {
		return nil
	}

	b.pubsub = b.store.Client().Subscribe(ctx, channels...)
	// 等待订阅确认
	if _, err := b.pubsub.Receive(ctx); err != nil {
		_ = b.pubsub.Close()
		b.pubsub = nil
		return fmt.Errorf("subscribe broadcast channels: %w", err)
	}

	b.done = make(chan struct{})
	go b.listen(b.pubsub.Channel(), b.done)

	logger.Info("广播监听已启动",
		zap.String("service", b.service),
		zap.String("node_id", b.nodeID),
		zap.Strings("channels", channels),
	)
	return nil
}

// listen 监听广播消息
func (b *Broadcaster) listen(ch <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for msg := range ch {
		b.handleMessage(msg.Payload)
	}
}

// handleMessage 分发消息
func (b *Broadcaster) handleMessage(payload string) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		logger.Warn("解析广播消息失败", zap.Error(err))
		return
	}

	b.mu.RLock()
	handlers := b.subscribers[msg.Topic]
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(&msg)
	}
}

// Stop 停止监听
func (b *Broadcaster) Stop() error {
	if b.pubsub == nil {
		return nil
	}
	err := b.pubsub.Close()
	<-b.done
	b.pubsub = nil
	return err
}
