package internal

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// 系統設計問題：
//   如何把陸續到來的客戶端兩兩配成對局，且在並發加入下不重複、不遺漏？
//
// 核心挑戰：
//   1. 單一等待槽：全進程最多一個待配對玩家，兩個同時加入的請求
//      不能都認為「自己是配對的那一個」
//   2. 重複加入：同一身份重複 join 不能和自己配對
//   3. 取消語義：只有槽位佔用者本人能清空槽位
//   4. 等待上限：玩家不能無限期掛在等待槽裡
//
// 設計方案：
//   ✅ 互斥鎖 - 「讀槽、決定配對或等待、清空或寫入」整段為臨界區
//   ✅ 顯式物件 - Matchmaker 在 main 構造、按引用傳遞，無套件級狀態
//   ✅ 逾時計時器 - 槽位佔用附帶到期清理

// waitingEntry 等待槽的佔用者
type waitingEntry struct {
	player PlayerInfo
	out    *Outbound
	timer  *time.Timer
}

// Pair 配對結果：新對局與兩位玩家的輸出通道
type Pair struct {
	Session *Session
	Outs    map[string]*Outbound // playerID -> 輸出通道
}

// Matchmaker 配對佇列
//
// 不變量：等待槽絕不同時持有兩個不同身份；
// 槽位只被「配對成功」或「佔用者本人取消/逾時」清空。
type Matchmaker struct {
	mu          sync.Mutex
	waiting     *waitingEntry // nil = 槽位空
	waitTimeout time.Duration
	logger      *slog.Logger
}

// NewMatchmaker 創建配對佇列
//
// waitTimeout <= 0 表示不限制等待時間。
func NewMatchmaker(waitTimeout time.Duration, logger *slog.Logger) *Matchmaker {
	return &Matchmaker{
		waitTimeout: waitTimeout,
		logger:      logger,
	}
}

// Join 玩家加入配對
//
// 槽位為空、或佔用者就是同一身份重複請求 → 寫入槽位並推送
// WAITING_FOR_OPPONENT，返回 nil（表示等待中）。
// 槽位被不同身份佔用 → 原子地取出佔用者為玩家一、呼叫者為玩家二，
// 清空槽位並創建對局。
//
// 整段「讀槽、決定、清空或寫入」持鎖執行：兩個並發 Join 不可能
// 都走到配對分支，也不會留下不一致的槽位。
func (m *Matchmaker) Join(player PlayerInfo, out *Outbound) *Pair {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.waiting == nil || m.waiting.player.ID == player.ID {
		// 同一身份重複加入：替換佔用並關閉舊通道
		if m.waiting != nil {
			if m.waiting.timer != nil {
				m.waiting.timer.Stop()
			}
			if m.waiting.out != out {
				m.waiting.out.Close()
			}
		}

		entry := &waitingEntry{player: player, out: out}
		if m.waitTimeout > 0 {
			id := player.ID
			entry.timer = time.AfterFunc(m.waitTimeout, func() {
				m.expire(id)
			})
		}
		m.waiting = entry

		m.pushWaiting(out)
		m.logger.Info("玩家進入等待槽",
			"player_id", player.ID,
			"player_name", player.Name)
		return nil
	}

	// 配對：取出佔用者，清空槽位
	first := m.waiting
	if first.timer != nil {
		first.timer.Stop()
	}
	m.waiting = nil

	session := NewSession(first.player, player)
	m.logger.Info("配對成功",
		"game_id", session.ID,
		"player1", first.player.Name,
		"player2", player.Name)

	return &Pair{
		Session: session,
		Outs: map[string]*Outbound{
			first.player.ID: first.out,
			player.ID:       out,
		},
	}
}

// Cancel 清空槽位（僅當佔用者為該身份時）
//
// 非佔用者呼叫為 no-op。已在對局中的玩家由對局的棄權流程處理。
// out 非 nil 時要求通道也一致：同一身份重連後，舊連接的斷線
// 清理不會誤清新連接的佔用。
func (m *Matchmaker) Cancel(playerID string, out *Outbound) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.waiting == nil || m.waiting.player.ID != playerID {
		return false
	}
	if out != nil && m.waiting.out != out {
		return false
	}

	if m.waiting.timer != nil {
		m.waiting.timer.Stop()
	}
	m.waiting = nil

	m.logger.Info("玩家取消配對", "player_id", playerID)
	return true
}

// Waiting 當前佔用者 ID（空槽返回 ""，測試與統計用）
func (m *Matchmaker) Waiting() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.waiting == nil {
		return ""
	}
	return m.waiting.player.ID
}

// expire 等待逾時：清空槽位並關閉該玩家的輸出通道
func (m *Matchmaker) expire(playerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.waiting == nil || m.waiting.player.ID != playerID {
		return
	}

	out := m.waiting.out
	m.waiting = nil
	out.Close()

	m.logger.Info("等待配對逾時", "player_id", playerID)
}

// pushWaiting 推送 WAITING_FOR_OPPONENT 通知
func (m *Matchmaker) pushWaiting(out *Outbound) {
	msg, err := json.Marshal(&SessionStatus{Status: StatusWaitingForOpponent})
	if err != nil {
		m.logger.Error("序列化等待通知失敗", "error", err)
		return
	}
	out.Send(msg)
}
