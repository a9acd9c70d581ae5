package journal

import (
	"context"
	"errors"
	"sync"
)

// Memory 使用 channel 保存事件，缓冲区满时丢弃最旧的事件。
type Memory struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// NewMemory 创建一个内存事件队列。
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 256
	}
	return &Memory{ch: make(chan Event, size)}
}

// Publish 写入事件，不会阻塞调用方。
func (m *Memory) Publish(ctx context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("事件队列已关闭")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for {
		select {
		case m.ch <- event:
			return nil
		default:
		}
		select {
		case <-m.ch:
		default:
		}
	}
}

// Consume 依次把事件交给 handler，直到 ctx 取消或队列关闭。
func (m *Memory) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-m.ch:
			if !ok {
				return nil
			}
			if err := handler(ctx, event); err != nil {
				return err
			}
		}
	}
}

// Close 关闭队列。
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		close(m.ch)
		m.closed = true
	}
	return nil
}
