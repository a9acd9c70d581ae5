package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "CronCat-Agent/internal/errors"
)

// RedisConfig 描述 Redis 事件列表的连接参数。
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	Key       string
	MaxLen    int64
	BlockWait time.Duration
}

// Redis 使用 Redis list 保存事件：LPUSH 写入、BRPOP 读取。
type Redis struct {
	client *redis.Client
	key    string
	maxLen int64
	wait   time.Duration
}

// NewRedis 创建 Redis 事件后端。
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeConfig, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(CodeJournalUnavailable, err, "连接 Redis 失败")
	}
	return newRedisWithClient(client, cfg), nil
}

func newRedisWithClient(client *redis.Client, cfg RedisConfig) *Redis {
	key := cfg.Key
	if key == "" {
		key = "croncat:events"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &Redis{client: client, key: key, maxLen: maxLen, wait: wait}
}

// Publish 写入事件并把列表裁剪到 MaxLen。
func (r *Redis) Publish(ctx context.Context, event Event) error {
	payload, err := Encode(event)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key, payload)
	pipe.LTrim(ctx, r.key, 0, r.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return xerrors.Wrap(CodeJournalUnavailable, err, "Redis 写入事件失败")
	}
	return nil
}

// Consume 通过 BRPOP 读取事件。无法解析的条目会被跳过。
func (r *Redis) Consume(ctx context.Context, handler Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		values, err := r.client.BRPop(ctx, r.wait, r.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return xerrors.Wrap(CodeJournalUnavailable, err, "Redis 读取事件失败")
		}
		if len(values) != 2 {
			continue
		}
		event, err := Decode([]byte(values[1]))
		if err != nil {
			continue
		}
		if err := handler(ctx, event); err != nil {
			return fmt.Errorf("处理事件 %s 失败: %w", event.ID, err)
		}
	}
}

// Close 关闭 Redis 连接。
func (r *Redis) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
