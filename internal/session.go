package internal

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// 系統設計問題：
//   如何讓一場對戰的權威狀態在兩個玩家的並發操作下保持一致？
//
// 核心挑戰：
//   1. 狀態機：對局有嚴格的生命週期（WAITING → PLAYING → GAME_OVER，單向）
//   2. 並發控制：兩個玩家的動作可能同時到達，必須線性化
//   3. 終局判定：每次鎖定後都要檢查 top-out，且終局轉換只能發生一次
//   4. 規則一致：移動、旋轉、下落都必須經過同一套碰撞檢查
//
// 設計方案：
//   ✅ 有限狀態機 - 狀態轉換單調，不可回退
//   ✅ RWMutex - 動作寫鎖互斥，快照讀鎖並發
//   ✅ 封閉動作列舉 - 每種動作一個顯式處理分支
//   ✅ 純函數碰撞/鎖定 - 規則集中在 piece.go，不散落在各動作內

// SessionStatusCode 對局狀態碼（與推送協議一致）
type SessionStatusCode int

const (
	StatusWaitingForOpponent SessionStatusCode = 0 // 等待對手（佇列中，尚無對局）
	StatusPlaying            SessionStatusCode = 1 // 對局進行中
	StatusGameOver           SessionStatusCode = 2 // 對局結束（終態）
)

// Action 玩家動作（封閉列舉）
//
// 線上編碼 0-4 與客戶端協議一致；每個變體在 Apply 中有顯式處理分支。
type Action int

const (
	ActionMoveLeft  Action = 0
	ActionMoveRight Action = 1
	ActionRotate    Action = 2
	ActionSoftDrop  Action = 3
	ActionHardDrop  Action = 4
)

// String 動作名稱（日誌用）
func (a Action) String() string {
	switch a {
	case ActionMoveLeft:
		return "MOVE_LEFT"
	case ActionMoveRight:
		return "MOVE_RIGHT"
	case ActionRotate:
		return "ROTATE"
	case ActionSoftDrop:
		return "SOFT_DROP"
	case ActionHardDrop:
		return "HARD_DROP"
	default:
		return "UNKNOWN"
	}
}

// ParseAction 解析線上動作編碼
func ParseAction(code int) (Action, error) {
	if code < int(ActionMoveLeft) || code > int(ActionHardDrop) {
		return 0, ErrUnknownAction
	}
	return Action(code), nil
}

// 錯誤分類（見錯誤處理設計）
var (
	// ErrSessionNotFound 動作引用了不存在或已結束的對局
	ErrSessionNotFound = errors.New("對局不存在")
	// ErrSessionOver 對局已結束，不再接受動作
	ErrSessionOver = errors.New("對局已結束")
	// ErrInvalidPlayer 玩家不屬於該對局
	ErrInvalidPlayer = errors.New("玩家不在對局中")
	// ErrUnknownAction 未知的動作編碼
	ErrUnknownAction = errors.New("未知的動作類型")
)

// 計分規則
//
// 每次鎖定固定 +10，另按單次消除行數加成：
// 1 行 100、2 行 300、3 行 500、4 行（Tetris）800。
// 分數單調不減。
const lockScore = 10

var lineClearScores = [5]int{0, 100, 300, 500, 800}

// PlayerInfo 玩家身份（客戶端自報）
type PlayerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PlayerState 對局內的玩家狀態
//
// 隨對局創建、隨對局銷毀。棋盤由該玩家獨佔，只有鎖定事件寫入。
// 任何時刻都恰好持有一個當前方塊與一個下一個方塊。
type PlayerState struct {
	Info       PlayerInfo
	Board      Board
	Score      int
	Current    *Piece
	Next       *Piece
	Terminated bool
}

// Session 一場對局的權威狀態
//
// 系統設計考量：
//
//  1. 狀態轉換單調：WAITING → PLAYING → GAME_OVER，絕不回退。
//     WAITING 不由 Session 表示（由 Matchmaker 的等待槽表示）；
//     Session 一經創建即為 PLAYING。
//
//  2. 並發控制：兩個玩家的 SendAction 可能同時到達。
//     同一對局內的動作必須線性化（寫鎖），跨對局不需要全局排序。
//     快照（廣播序列化）使用讀鎖，可與其他快照並發。
//
//  3. 終局只發生一次：PLAYING → GAME_OVER 的轉換點同時觸發
//     持久化與註冊表移除，由 finishOnce 保證恰好一次。
type Session struct {
	ID         string
	Status     SessionStatusCode
	Players    [2]*PlayerState
	StartedAt  time.Time
	WinnerName string

	mu         sync.RWMutex
	finishOnce sync.Once
}

// NewSession 配對成功後創建對局
//
// 分配新對局 ID，為兩位玩家各生成當前與下一個方塊，記錄開始時間。
func NewSession(p1, p2 PlayerInfo) *Session {
	newPlayer := func(info PlayerInfo) *PlayerState {
		return &PlayerState{
			Info:    info,
			Board:   NewBoard(),
			Current: RandomPiece(),
			Next:    RandomPiece(),
		}
	}

	return &Session{
		ID:        uuid.NewString(),
		Status:    StatusPlaying,
		Players:   [2]*PlayerState{newPlayer(p1), newPlayer(p2)},
		StartedAt: time.Now(),
	}
}

// player 按 ID 查找玩家（呼叫方需持有鎖）
func (s *Session) player(playerID string) *PlayerState {
	for _, p := range s.Players {
		if p.Info.ID == playerID {
			return p
		}
	}
	return nil
}

// opponent 對手（呼叫方需持有鎖）
func (s *Session) opponent(playerID string) *PlayerState {
	for _, p := range s.Players {
		if p.Info.ID != playerID {
			return p
		}
	}
	return nil
}

// Apply 套用玩家動作
//
// 流程：驗證 → 動作處理 → 一步重力 → （鎖定時）消行計分、換方塊、
// 終局檢查。返回對局是否在本次動作中結束。
//
// 驗證失敗不改變任何狀態：
//   - 對局非 PLAYING → ErrSessionOver
//   - playerID 不屬於對局 → ErrInvalidPlayer
//
// 碰撞規則：
//   - 左右移動、旋轉若與牆壁或已鎖定格衝突，動作被拒絕，方塊位置不變
//   - 軟降 +1，硬降一路下落到碰撞為止並立即鎖定
//   - 動作處理後（硬降除外）套用一步重力；重力受阻即鎖定
func (s *Session) Apply(playerID string, action Action) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status != StatusPlaying {
		return false, ErrSessionOver
	}

	p := s.player(playerID)
	if p == nil {
		return false, ErrInvalidPlayer
	}

	locked := false
	switch action {
	case ActionMoveLeft:
		if !p.Board.Collides(p.Current, -1, 0) {
			p.Current.X--
		}
	case ActionMoveRight:
		if !p.Board.Collides(p.Current, 1, 0) {
			p.Current.X++
		}
	case ActionRotate:
		// 旋轉產生副本，碰撞則棄用（revert）
		if rotated := p.Current.Rotate(); !p.Board.Collides(rotated, 0, 0) {
			p.Current = rotated
		}
	case ActionSoftDrop:
		locked = s.gravityStep(p)
	case ActionHardDrop:
		for !p.Board.Collides(p.Current, 0, 1) {
			p.Current.Y++
		}
		s.lockPiece(p)
		locked = true
	default:
		return false, ErrUnknownAction
	}

	// 每個動作後固定一步重力（硬降已鎖定則略過）
	if !locked {
		s.gravityStep(p)
	}

	return s.Status == StatusGameOver, nil
}

// gravityStep 一步重力；受阻則在最後合法位置鎖定，返回是否鎖定
func (s *Session) gravityStep(p *PlayerState) bool {
	if !p.Board.Collides(p.Current, 0, 1) {
		p.Current.Y++
		return false
	}
	s.lockPiece(p)
	return true
}

// lockPiece 鎖定當前方塊並推進狀態（呼叫方需持有寫鎖）
//
// 鎖定 → 消行計分 → 晉升下一個方塊 → top-out 檢查。
// 終局條件是 top-out：新方塊的出生格已被佔據，與分數無關。
func (s *Session) lockPiece(p *PlayerState) {
	p.Board.Lock(p.Current)
	rows := p.Board.ClearFullRows()
	p.Score += lockScore + lineClearScores[rows]

	p.Current = p.Next
	p.Next = RandomPiece()

	if p.Board.Collides(p.Current, 0, 0) {
		p.Terminated = true
		s.finish(s.opponent(p.Info.ID))
	}
}

// Forfeit 玩家棄權（對局中斷線）
//
// 將該玩家標記為終止，對手獲勝，走正常終局流程。
// 返回對局是否因此結束（已結束的對局為 no-op）。
func (s *Session) Forfeit(playerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status != StatusPlaying {
		return false
	}
	p := s.player(playerID)
	if p == nil {
		return false
	}

	p.Terminated = true
	s.finish(s.opponent(playerID))
	return true
}

// finish PLAYING → GAME_OVER 終局轉換（呼叫方需持有寫鎖）
func (s *Session) finish(winner *PlayerState) {
	s.Status = StatusGameOver
	if winner != nil {
		s.WinnerName = winner.Info.Name
	}
}

// OnceFinished 終局後續流程的恰好一次保證
//
// 持久化與註冊表移除掛在這裡，重複呼叫不會重複執行。
func (s *Session) OnceFinished(fn func()) {
	s.finishOnce.Do(fn)
}

// SessionStatus 推送給客戶端的對局狀態消息
type SessionStatus struct {
	Status       SessionStatusCode `json:"status"`
	GameID       string            `json:"game_id,omitempty"`
	PlayerStates []PlayerStateView `json:"player_states,omitempty"`
	WinnerName   string            `json:"winner_name,omitempty"`
}

// PlayerStateView 單一玩家在推送消息中的視圖
type PlayerStateView struct {
	PlayerInfo    PlayerInfo `json:"player_info"`
	Board         BoardView  `json:"board"`
	Score         int        `json:"score"`
	NextPieceType PieceType  `json:"next_piece_type,omitempty"`
}

// BoardView 棋盤的攤平序列化（cells 長度 = width * height）
type BoardView struct {
	Width  int   `json:"width"`
	Height int   `json:"height"`
	Cells  []int `json:"cells"`
}

// Snapshot 以某位玩家的視角序列化對局狀態
//
// 自己的視圖包含下一個方塊類型；對手的視圖只包含公開資訊
// （棋盤、名字、分數），不洩漏對手的下一個方塊。
func (s *Session) Snapshot(viewerID string) *SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := &SessionStatus{
		Status:     s.Status,
		GameID:     s.ID,
		WinnerName: s.WinnerName,
	}

	// 自己在前，對手在後，客戶端按順序渲染
	ordered := make([]*PlayerState, 0, 2)
	if self := s.player(viewerID); self != nil {
		ordered = append(ordered, self)
	}
	for _, p := range s.Players {
		if p.Info.ID != viewerID {
			ordered = append(ordered, p)
		}
	}

	for _, p := range ordered {
		view := PlayerStateView{
			PlayerInfo: p.Info,
			Board: BoardView{
				Width:  BoardWidth,
				Height: BoardHeight,
				Cells:  p.Board.Flatten(),
			},
			Score: p.Score,
		}
		if p.Info.ID == viewerID {
			view.NextPieceType = p.Next.Type
		}
		status.PlayerStates = append(status.PlayerStates, view)
	}

	return status
}

// SessionDump 完整對局狀態（快取快照用，含雙方的方塊資訊）
type SessionDump struct {
	GameID     string            `json:"game_id"`
	Status     SessionStatusCode `json:"status"`
	StartedAt  time.Time         `json:"started_at"`
	WinnerName string            `json:"winner_name,omitempty"`
	Players    []PlayerDump      `json:"players"`
}

// PlayerDump 玩家完整狀態
type PlayerDump struct {
	Info        PlayerInfo `json:"player_info"`
	Cells       []int      `json:"cells"`
	Score       int        `json:"score"`
	CurrentType PieceType  `json:"current_piece_type"`
	NextType    PieceType  `json:"next_piece_type"`
	Terminated  bool       `json:"terminated"`
}

// Dump 匯出完整狀態（與玩家視角無關）
func (s *Session) Dump() *SessionDump {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dump := &SessionDump{
		GameID:     s.ID,
		Status:     s.Status,
		StartedAt:  s.StartedAt,
		WinnerName: s.WinnerName,
	}
	for _, p := range s.Players {
		dump.Players = append(dump.Players, PlayerDump{
			Info:        p.Info,
			Cells:       p.Board.Flatten(),
			Score:       p.Score,
			CurrentType: p.Current.Type,
			NextType:    p.Next.Type,
			Terminated:  p.Terminated,
		})
	}
	return dump
}

// Result 組裝終局的持久化記錄
//
// 只在 GAME_OVER 後有意義；對局時長以秒計。
func (s *Session) Result() *MatchResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := &MatchResult{
		GameID:          s.ID,
		WinnerName:      s.WinnerName,
		DurationSeconds: int(time.Since(s.StartedAt).Seconds()),
		CreatedAt:       time.Now(),
	}
	for _, p := range s.Players {
		result.Players = append(result.Players, MatchPlayer{
			ID:    p.Info.ID,
			Name:  p.Info.Name,
			Score: p.Score,
		})
	}
	return result
}

// PlayerIDs 對局的兩位玩家 ID
func (s *Session) PlayerIDs() [2]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return [2]string{s.Players[0].Info.ID, s.Players[1].Info.ID}
}

// PlayerScore 玩家當前分數（測試用）
func (s *Session) PlayerScore(playerID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p := s.player(playerID); p != nil {
		return p.Score
	}
	return 0
}
