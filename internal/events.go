package internal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// MatchEvent 對局生命週期事件
//
// Subject 命名：{prefix}.{game_id}.{started|finished}，
// 同一對局的事件順序一致，下游（數據分析、通知）按需訂閱。
type MatchEvent struct {
	GameID    string         `json:"game_id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// MatchEvents 對局事件發佈介面
//
// 發佈是盡力而為：事件丟失不影響對局與持久化主流程。
type MatchEvents interface {
	Started(session *Session)
	Finished(result *MatchResult)
	Close()
}

// NopMatchEvents 停用事件發佈時的空實作
type NopMatchEvents struct{}

func (NopMatchEvents) Started(*Session)      {}
func (NopMatchEvents) Finished(*MatchResult) {}
func (NopMatchEvents) Close()                {}

// NATSMatchEvents 以 NATS 發佈對局事件
type NATSMatchEvents struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSMatchEvents 連接 NATS 並創建發佈器
func NewNATSMatchEvents(url, prefix string, logger *slog.Logger) (*NATSMatchEvents, error) {
	conn, err := nats.Connect(url,
		nats.Name("tetris-battle"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}

	return &NATSMatchEvents{
		conn:   conn,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Started 發佈對局開始事件
func (e *NATSMatchEvents) Started(session *Session) {
	ids := session.PlayerIDs()
	e.publish(session.ID, "started", map[string]any{
		"player_ids": []string{ids[0], ids[1]},
	})
}

// Finished 發佈對局結束事件
func (e *NATSMatchEvents) Finished(result *MatchResult) {
	e.publish(result.GameID, "finished", map[string]any{
		"winner_name":      result.WinnerName,
		"duration_seconds": result.DurationSeconds,
		"players":          result.Players,
	})
}

// publish 序列化並發佈（失敗只記日誌）
func (e *NATSMatchEvents) publish(gameID, eventType string, data map[string]any) {
	event := &MatchEvent{
		GameID:    gameID,
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		e.logger.Error("序列化對局事件失敗", "game_id", gameID, "error", err)
		return
	}

	subject := fmt.Sprintf("%s.%s.%s", e.prefix, gameID, eventType)
	if err := e.conn.Publish(subject, payload); err != nil {
		e.logger.Warn("發佈對局事件失敗",
			"subject", subject,
			"error", err)
	}
}

// Close 關閉 NATS 連接
func (e *NATSMatchEvents) Close() {
	if e.conn != nil {
		e.conn.Close()
	}
}
