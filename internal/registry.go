package internal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// 系統設計問題：
//   如何維護「對局 ID → 對局狀態 + 兩條輸出通道」的共享映射，
//   並把每次狀態變更扇出給兩位玩家？
//
// 核心挑戰：
//   1. 並發讀寫：創建時插入、動作時讀取、終局時移除，彼此不能競態
//   2. 死通道：對端斷線後的寫入不能讓廣播崩潰，也不能拖累另一位玩家
//   3. 資訊隔離：推送給每位玩家的視圖不同（不洩漏對手的下一個方塊）
//
// 設計方案：
//   ✅ RWMutex - 廣播讀多，註冊/移除寫少
//   ✅ 顯式通道狀態 - Outbound 自帶開/關標記，寫入前檢查而非探測
//   ✅ 每玩家視角序列化 - Snapshot(viewerID) 產生各自的消息

// Outbound 單一玩家的輸出通道
//
// 帶緩衝的異步推送：廣播方非阻塞寫入，連接層消費並寫到網路。
// closed 由連接自身的關閉/錯誤通知設置，寫入前顯式檢查，
// 不做「連接是否還活著」的動態探測。
type Outbound struct {
	ch        chan []byte
	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// NewOutbound 創建輸出通道（緩衝 buffer 條消息）
func NewOutbound(buffer int) *Outbound {
	return &Outbound{ch: make(chan []byte, buffer)}
}

// Send 非阻塞推送
//
// 通道已關閉或緩衝已滿都返回 false，由呼叫方決定是否記錄；
// 任何情況下都不會 panic、不會阻塞。
func (o *Outbound) Send(msg []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return false
	}
	select {
	case o.ch <- msg:
		return true
	default:
		return false
	}
}

// Close 標記關閉並關閉底層通道（可重複呼叫）
func (o *Outbound) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.closeOnce.Do(func() {
		close(o.ch)
	})
}

// Closed 通道是否已關閉
func (o *Outbound) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Ch 消費端（連接的 writePump）讀取用
func (o *Outbound) Ch() <-chan []byte {
	return o.ch
}

// registeredSession 註冊表中的一筆對局
type registeredSession struct {
	session *Session
	outs    map[string]*Outbound // playerID -> 輸出通道
}

// Registry 活躍對局註冊表
//
// 對局存在於註冊表中 iff 狀態為 PLAYING；
// 在 PLAYING → GAME_OVER 轉換時恰好移除一次。
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*registeredSession
	logger   *slog.Logger
}

// NewRegistry 創建註冊表
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*registeredSession),
		logger:   logger,
	}
}

// Register 註冊對局（每對局恰好一次）
func (r *Registry) Register(session *Session, outs map[string]*Outbound) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; exists {
		return fmt.Errorf("對局已註冊: %s", session.ID)
	}
	r.sessions[session.ID] = &registeredSession{session: session, outs: outs}
	return nil
}

// Get 查找對局
func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return entry.session, nil
}

// Broadcast 將對局狀態扇出給兩位玩家
//
// 對局不在註冊表時為 no-op（呼叫方可能與終局移除競態，屬正常）。
// 每位玩家收到以自己視角序列化的消息；寫入失敗（斷線、緩衝滿）
// 只影響該玩家的本次推送，對局照常進行。
func (r *Registry) Broadcast(sessionID string) {
	r.mu.RLock()
	entry, exists := r.sessions[sessionID]
	r.mu.RUnlock()

	if !exists {
		return
	}

	r.push(entry)
}

// BroadcastFinal 終局廣播：對局已（或即將）移出註冊表，直接推送
func (r *Registry) BroadcastFinal(session *Session, outs map[string]*Outbound) {
	r.push(&registeredSession{session: session, outs: outs})
}

// push 按玩家視角序列化並推送
func (r *Registry) push(entry *registeredSession) {
	for playerID, out := range entry.outs {
		msg, err := json.Marshal(entry.session.Snapshot(playerID))
		if err != nil {
			r.logger.Error("序列化對局狀態失敗",
				"game_id", entry.session.ID,
				"error", err)
			return
		}
		if !out.Send(msg) {
			// 死通道：跳過該玩家的後續推送，不影響對局
			r.logger.Warn("推送失敗，跳過該玩家",
				"game_id", entry.session.ID,
				"player_id", playerID)
		}
	}
}

// Deregister 移除對局，返回其輸出通道供終局廣播使用
//
// 與終局轉換同步呼叫恰好一次；移除後的對局不再接受任何動作。
func (r *Registry) Deregister(sessionID string) map[string]*Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.sessions[sessionID]
	if !exists {
		return nil
	}
	delete(r.sessions, sessionID)

	r.logger.Info("對局移出註冊表", "game_id", sessionID)
	return entry.outs
}

// FindByPlayer 查找玩家所在的對局（斷線棄權流程用）
func (r *Registry) FindByPlayer(playerID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entry := range r.sessions {
		for _, p := range entry.session.PlayerIDs() {
			if p == playerID {
				return entry.session
			}
		}
	}
	return nil
}

// Count 活躍對局數
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll 關閉所有輸出通道（服務關閉用）
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, entry := range r.sessions {
		for _, out := range entry.outs {
			out.Close()
		}
		delete(r.sessions, id)
	}
}
