package internal

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// 系統設計問題：
//   如何把配對、對局、廣播、持久化編排成三個對外入口
//   （JoinGame / SendAction / GetRanking），並保持各層職責單一？
//
// 控制流：
//   join → 進佇列或配對 → 註冊表創建對局 → 每個動作經門面進入對局 →
//   狀態變更觸發廣播 → 終局時呼叫持久化、對局移出註冊表與快取。
//
// 併發紀律：
//   持久化（快取、資料庫、事件）都是 I/O，一律在等待槽鎖與
//   註冊表鎖之外執行；終局收尾在獨立 goroutine，不阻塞動作路徑。

// ResultStore 終局持久化介面（*Store 為生產實作）
type ResultStore interface {
	SaveResult(ctx context.Context, result *MatchResult) error
	UpsertRanking(ctx context.Context, playerName string, won bool, score int) error
	TopRankings(ctx context.Context, limit int) ([]RankingEntry, error)
}

// 排行榜查詢固定返回前 10 名
const rankingLimit = 10

// persistTimeout 終局持久化的單次 I/O 上限
const persistTimeout = 5 * time.Second

// Service 對局服務門面
//
// 依賴全部在 main 構造後按引用傳入（無套件級狀態），
// 各依賴可獨立替換以便測試。
type Service struct {
	matchmaker *Matchmaker
	registry   *Registry
	cache      *SessionCache
	store      ResultStore
	events     MatchEvents
	logger     *slog.Logger
}

// NewService 創建服務門面
func NewService(
	matchmaker *Matchmaker,
	registry *Registry,
	cache *SessionCache,
	store ResultStore,
	events MatchEvents,
	logger *slog.Logger,
) *Service {
	return &Service{
		matchmaker: matchmaker,
		registry:   registry,
		cache:      cache,
		store:      store,
		events:     events,
		logger:     logger,
	}
}

// Join 玩家加入配對
//
// out 是該玩家的長連接輸出通道，從進入佇列起一直用到對局結束或
// 客戶端取消。配對成功時創建並註冊對局、寫入快取快照、發佈開始
// 事件，並向雙方廣播 PLAYING 狀態。
func (svc *Service) Join(player PlayerInfo, out *Outbound) error {
	pair := svc.matchmaker.Join(player, out)
	if pair == nil {
		return nil // 等待對手，WAITING 通知已推送
	}

	session := pair.Session
	if err := svc.registry.Register(session, pair.Outs); err != nil {
		return err
	}

	// 快取與事件是 I/O，不在配對路徑上同步等待
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		svc.cache.Put(ctx, session)
		svc.events.Started(session)
	}()

	svc.registry.Broadcast(session.ID)
	return nil
}

// Leave 玩家離開（客戶端取消或斷線）
//
// 還在等待槽 → 清空槽位；已在對局中 → 棄權，對手獲勝，
// 走正常終局流程並通知對手。out 用於精確匹配等待槽佔用
// （同身份重連時不誤清新連接）。
func (svc *Service) Leave(playerID string, out *Outbound) {
	if svc.matchmaker.Cancel(playerID, out) {
		return
	}

	session := svc.registry.FindByPlayer(playerID)
	if session == nil {
		return
	}
	if session.Forfeit(playerID) {
		svc.logger.Info("玩家斷線，對局判負",
			"game_id", session.ID,
			"player_id", playerID)
		svc.finishSession(session)
	}
}

// SendAction 套用玩家動作（即發即忘語義）
//
// 對局不存在或玩家不合法都是 no-op：記日誌、返回哨兵錯誤，
// 呼叫方（HTTP/WS 層）照常回 ack，不向客戶端暴露動作級錯誤。
func (svc *Service) SendAction(gameID, playerID string, action Action) error {
	session, err := svc.registry.Get(gameID)
	if err != nil {
		svc.logger.Debug("動作引用未知對局", "game_id", gameID, "action", action.String())
		return err
	}

	finished, err := session.Apply(playerID, action)
	if err != nil {
		if errors.Is(err, ErrInvalidPlayer) || errors.Is(err, ErrSessionOver) {
			svc.logger.Debug("動作被忽略",
				"game_id", gameID,
				"player_id", playerID,
				"reason", err)
		}
		return err
	}

	if finished {
		svc.finishSession(session)
		return nil
	}

	// 快照刷新是盡力而為，不阻塞動作路徑
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		svc.cache.Put(ctx, session)
	}()

	svc.registry.Broadcast(gameID)
	return nil
}

// Rankings 排行榜前 10 名（勝場降序，再按最高分降序）
func (svc *Service) Rankings(ctx context.Context) ([]RankingEntry, error) {
	return svc.store.TopRankings(ctx, rankingLimit)
}

// Stats 服務統計
func (svc *Service) Stats() map[string]any {
	return map[string]any{
		"active_sessions": svc.registry.Count(),
		"waiting_player":  svc.matchmaker.Waiting(),
	}
}

// finishSession 終局收尾（恰好一次）
//
// 順序：移出註冊表（之後的動作都是 SessionNotFound）→ 終局廣播 →
// 關閉雙方通道 → 持久化移交後台 goroutine。
// 持久化失敗不回滾已完成的記憶體狀態轉換。
func (svc *Service) finishSession(session *Session) {
	session.OnceFinished(func() {
		outs := svc.registry.Deregister(session.ID)
		if outs != nil {
			svc.registry.BroadcastFinal(session, outs)
			for _, out := range outs {
				out.Close()
			}
		}

		go svc.persistResult(session)
	})
}

// persistResult 終局持久化（後台執行）
//
// 快取清除失敗只記日誌；戰績寫入失敗以 Error 級別上報
// （靜默丟失戰績與排名對維運不可見，必須可觀察）。
func (svc *Service) persistResult(session *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	svc.cache.Evict(ctx, session.ID)

	result := session.Result()
	if err := svc.store.SaveResult(ctx, result); err != nil {
		svc.logger.Error("寫入對局戰績失敗",
			"game_id", result.GameID,
			"error", err)
	}

	for _, p := range result.Players {
		won := p.Name == result.WinnerName
		if err := svc.store.UpsertRanking(ctx, p.Name, won, p.Score); err != nil {
			svc.logger.Error("更新玩家排名失敗",
				"game_id", result.GameID,
				"player_name", p.Name,
				"error", err)
		}
	}

	svc.events.Finished(result)

	svc.logger.Info("對局結束",
		"game_id", result.GameID,
		"winner", result.WinnerName,
		"duration_seconds", result.DurationSeconds)
}
