package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"job-agent-go/internal/constants"

	appconfig "job-agent-go/internal/config"

	"github.com/redis/go-redis/extra/redisotel/v9" // Redis OpenTelemetry钩子包
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key is not found in Redis.
// It wraps the underlying redis.Nil error for abstraction.
var ErrNotFound = redis.Nil

// Redis wraps the Redis client
type Redis struct {
	Client *redis.Client
	config *appconfig.RedisConfig
}

// NewRedisAdapter creates a new Redis client connection
func NewRedisAdapter(cfg *appconfig.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	opt := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		// 连接池设置
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		// 超时设置
		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,

		// 重试设置
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: time.Duration(cfg.MinRetryBackoffMS) * time.Millisecond,
		MaxRetryBackoff: time.Duration(cfg.MaxRetryBackoffMS) * time.Millisecond,

		// 连接生命周期
		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute,
		ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute,
	}

	client := redis.NewClient(opt)

	// 添加OpenTelemetry钩子, 记录所有Redis操作
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return &Redis{
		Client: client,
		config: cfg,
	}, nil
}

// Close closes the Redis client connection
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping checks the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// MarkMessageSeen 将入站信号的message_id加入快速去重集合并刷新过期时间。
// 该集合只是快速路径：权威去重始终由 outcome_events.message_id 的唯一约束保证，
// Redis失效不会影响正确性。
func (r *Redis) MarkMessageSeen(ctx context.Context, messageID string) error {
	if messageID == "" {
		return fmt.Errorf("messageID 不能为空")
	}
	pipe := r.Client.Pipeline()
	pipe.SAdd(ctx, constants.KeySeenMessageSet, messageID)
	pipe.Expire(ctx, constants.KeySeenMessageSet, constants.SeenMessageExpire)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入信号去重集合失败: %w", err)
	}
	return nil
}

// CheckMessageSeen 检查message_id是否已在快速去重集合中。
func (r *Redis) CheckMessageSeen(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, fmt.Errorf("messageID 不能为空")
	}
	return r.Client.SIsMember(ctx, constants.KeySeenMessageSet, messageID).Result()
}

// SetJobScore 缓存岗位的LLM评分结果(JSON)。
func (r *Redis) SetJobScore(ctx context.Context, jobID string, score any, expire time.Duration) error {
	if jobID == "" {
		return fmt.Errorf("jobID 不能为空")
	}
	data, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("序列化评分结果失败: %w", err)
	}
	key := fmt.Sprintf(constants.KeyJobScore, jobID)
	return r.Client.Set(ctx, key, data, expire).Err()
}

// GetJobScore 从缓存获取岗位评分结果，未命中时返回 ErrNotFound。
func (r *Redis) GetJobScore(ctx context.Context, jobID string, dest any) error {
	if jobID == "" {
		return fmt.Errorf("jobID 不能为空")
	}
	key := fmt.Sprintf(constants.KeyJobScore, jobID)
	data, err := r.Client.Get(ctx, key).Bytes()
	if err != nil {
		return err // redis.Nil 即 ErrNotFound
	}
	return json.Unmarshal(data, dest)
}
