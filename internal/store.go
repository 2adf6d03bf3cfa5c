package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MatchResult 終局的持久化記錄（每場對局恰好寫入一次）
type MatchResult struct {
	GameID          string        `json:"game_id"`
	Players         []MatchPlayer `json:"players"`
	WinnerName      string        `json:"winner_name"`
	DurationSeconds int           `json:"duration_seconds"`
	CreatedAt       time.Time     `json:"created_at"`
}

// MatchPlayer 對局參與者的最終成績
type MatchPlayer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// RankingEntry 排行榜單筆記錄
type RankingEntry struct {
	PlayerName   string `json:"player_name"`
	TotalWins    int    `json:"total_wins"`
	HighestScore int    `json:"highest_score"`
}

// Store 持久化層（PostgreSQL）
//
// 系統設計考量：
//
//  1. 寫一次的戰績：match_results 以 game_id 唯一約束，
//     ON CONFLICT DO NOTHING 讓重試天然冪等。
//
//  2. 排行榜 upsert：player_rankings 以玩家名唯一，
//     勝場用加法、最高分用 GREATEST——分數只升不降。
//     「同一場對局至多觸發一次」由終局轉換的恰好一次保證，
//     upsert 本身只保證鍵唯一。
//
//  3. 失敗語義：戰績寫入失敗要讓呼叫方知道（靜默丟失戰績
//     對維運不可見），但絕不回滾已完成的記憶體終局轉換。
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore 創建持久化層
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// SaveResult 寫入終局戰績（以 game_id 冪等）
func (s *Store) SaveResult(ctx context.Context, result *MatchResult) error {
	players, err := json.Marshal(result.Players)
	if err != nil {
		return fmt.Errorf("序列化參賽者: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO match_results (game_id, players, winner_name, duration_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (game_id) DO NOTHING`,
		result.GameID, players, result.WinnerName, result.DurationSeconds, result.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("寫入對局戰績: %w", err)
	}
	return nil
}

// UpsertRanking 更新玩家排名
//
// 勝者勝場 +1；所有參與者的最高分取歷史與本場的較大值，絕不下降。
func (s *Store) UpsertRanking(ctx context.Context, playerName string, won bool, score int) error {
	winsDelta := 0
	if won {
		winsDelta = 1
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO player_rankings (player_name, total_wins, highest_score)
		VALUES ($1, $2, $3)
		ON CONFLICT (player_name) DO UPDATE SET
			total_wins    = player_rankings.total_wins + $2,
			highest_score = GREATEST(player_rankings.highest_score, EXCLUDED.highest_score),
			updated_at    = now()`,
		playerName, winsDelta, score,
	)
	if err != nil {
		return fmt.Errorf("更新玩家排名: %w", err)
	}
	return nil
}

// TopRankings 排行榜前 N 名（勝場降序，再按最高分降序）
func (s *Store) TopRankings(ctx context.Context, limit int) ([]RankingEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT player_name, total_wins, highest_score
		FROM player_rankings
		ORDER BY total_wins DESC, highest_score DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("查詢排行榜: %w", err)
	}
	defer rows.Close()

	var entries []RankingEntry
	for rows.Next() {
		var e RankingEntry
		if err := rows.Scan(&e.PlayerName, &e.TotalWins, &e.HighestScore); err != nil {
			return nil, fmt.Errorf("讀取排行榜記錄: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍歷排行榜: %w", err)
	}
	return entries, nil
}
