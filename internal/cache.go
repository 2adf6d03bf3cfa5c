package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionCache 進行中對局的短暫快取
//
// 系統設計考量：
//
//  1. 為什麼快取對局狀態？
//     - 進程崩潰時記憶體中的對局全部蒸發，快照是事後排查的依據
//     - 帶 TTL 的快照會自動過期，不需要清理孤兒資料
//     - 本設計不從快取恢復對局（重連/恢復不在範圍內）
//
//  2. 為什麼是盡力而為（best-effort）？
//     - 快取失敗不能影響對局進行：寫入失敗記日誌後繼續
//     - Redis 故障時對局照常，只是少了快照
//
//  3. TTL 策略：
//     - 每次寫入刷新過期時間（預設 1 小時）
//     - 對局正常結束時主動清除，TTL 只兜底異常路徑
type SessionCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewSessionCache 創建對局快取
//
// client 為 nil 時快取停用，所有操作為 no-op。
func NewSessionCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *SessionCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SessionCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// cacheKey 快取鍵：game:<對局ID>
func cacheKey(sessionID string) string {
	return fmt.Sprintf("game:%s", sessionID)
}

// Put 寫入對局快照（盡力而為）
//
// 失敗只記日誌，不中斷呼叫方。不持有任何對局或註冊表的鎖。
func (c *SessionCache) Put(ctx context.Context, session *Session) {
	if c.client == nil {
		return
	}

	data, err := json.Marshal(session.Dump())
	if err != nil {
		c.logger.Error("序列化對局快照失敗",
			"game_id", session.ID,
			"error", err)
		return
	}

	if err := c.client.Set(ctx, cacheKey(session.ID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("寫入對局快取失敗",
			"game_id", session.ID,
			"error", err)
	}
}

// Evict 清除對局快照（盡力而為）
func (c *SessionCache) Evict(ctx context.Context, sessionID string) {
	if c.client == nil {
		return
	}

	if err := c.client.Del(ctx, cacheKey(sessionID)).Err(); err != nil {
		c.logger.Warn("清除對局快取失敗",
			"game_id", sessionID,
			"error", err)
	}
}

// Get 讀取對局快照
//
// 本設計不從快照恢復對局；此方法供測試與維運排查使用。
// 快照不存在返回 (nil, nil)。
func (c *SessionCache) Get(ctx context.Context, sessionID string) (*SessionDump, error) {
	if c.client == nil {
		return nil, nil
	}

	data, err := c.client.Get(ctx, cacheKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("讀取對局快取: %w", err)
	}

	var dump SessionDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, fmt.Errorf("解析對局快照: %w", err)
	}
	return &dump, nil
}
