package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何把「加入對局」做成一條長連接：請求進來後持續推送狀態，
//   直到對局結束或客戶端斷開？
//
// 核心挑戰：
//   1. 實時推送：對手的每個動作都要立即反映到己方畫面
//   2. 斷線語義：等待中斷線 → 清空槽位；對局中斷線 → 棄權判負
//   3. 心跳機制：檢測死連接（網絡異常、客戶端崩潰）
//   4. 慢客戶端：單個消費不動的連接不能拖住對局推進
//
// 設計方案：
//   ✅ WebSocket - 全雙工通信（低延遲、服務器推送）
//   ✅ Outbound 通道 - 緩衝異步發送，滿了丟幀不阻塞
//   ✅ Ping/Pong 心跳 - 檢測死連接（54s/60s）
//   ✅ 讀寫分離 - readPump 收動作，writePump 推狀態

const (
	// writeWait 單次寫入的期限
	writeWait = 10 * time.Second

	// pongWait 讀取端超時：這段時間內沒有任何消息（含 Pong）就斷開
	pongWait = 60 * time.Second

	// pingPeriod Ping 間隔，必須小於 pongWait
	// 54 秒避開常見代理的 60 秒閾值，留 6 秒余量
	pingPeriod = 54 * time.Second

	// outboundBuffer 每連接的推送緩衝
	outboundBuffer = 256
)

// WebSocketHub WebSocket 接入層
//
// 連接生命週期與配對/對局綁定：連接建立即加入配對，
// 連接斷開即取消等待或棄權。連接本身不在 Hub 中集中登記——
// 輸出通道已由等待槽或註冊表持有，Hub 只負責升級與讀寫泵。
type WebSocketHub struct {
	svc      *Service
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHub 創建 WebSocket 接入層
func NewWebSocketHub(svc *Service, logger *slog.Logger) *WebSocketHub {
	return &WebSocketHub{
		svc:    svc,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// actionMessage 客戶端經 WebSocket 發送的動作
type actionMessage struct {
	Type   string `json:"type"`
	GameID string `json:"game_id"`
	Action int    `json:"action"`
}

// ServeWS 處理加入對局的長連接
//
// 查詢參數攜帶玩家身份（player_id / player_name）。升級成功後
// 立即加入配對：等待中會先收到 WAITING_FOR_OPPONENT，配對成功
// 後收到 PLAYING，之後每個狀態變更都經此連接推送。
func (hub *WebSocketHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("player_id")
	playerName := r.URL.Query().Get("player_name")
	if playerID == "" || playerName == "" {
		http.Error(w, "缺少玩家身份", http.StatusBadRequest)
		return
	}

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	player := PlayerInfo{ID: playerID, Name: playerName}
	out := NewOutbound(outboundBuffer)

	hub.logger.Info("WebSocket 連接建立",
		"player_id", playerID,
		"player_name", playerName)

	// 先啟動寫泵再加入配對：配對路徑推送的 WAITING/PLAYING
	// 通知才有人消費
	go hub.writePump(conn, out)

	if err := hub.svc.Join(player, out); err != nil {
		hub.logger.Error("加入配對失敗", "player_id", playerID, "error", err)
		out.Close()
		return
	}

	// 讀泵在請求 goroutine 內跑到連接結束
	hub.readPump(conn, player, out)
}

// readPump 讀取客戶端消息
//
// 心跳（讀取端）：60 秒內沒有任何消息（包括 Pong）就視為死連接。
// 收到 Pong 重置期限，配合 writePump 的 54 秒 Ping 形成持續心跳。
// 退出時統一走斷線清理：關閉輸出通道、取消等待或棄權。
func (hub *WebSocketHub) readPump(conn *websocket.Conn, player PlayerInfo, out *Outbound) {
	defer func() {
		out.Close()
		hub.svc.Leave(player.ID, out)
		conn.Close()
		hub.logger.Info("WebSocket 連接關閉", "player_id", player.ID)
	}()

	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		hub.logger.Error("設置讀取期限失敗", "error", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				hub.logger.Error("WebSocket 讀取錯誤",
					"player_id", player.ID,
					"error", err)
			}
			return
		}

		if messageType == websocket.TextMessage {
			hub.handleMessage(player, out, message)
		}
	}
}

// writePump 推送消息到客戶端
//
// 心跳（發送端）：每 54 秒發一個 Ping，客戶端自動回 Pong，
// readPump 收到後延長讀取期限。
// 輸出通道關閉（對局結束、等待逾時、被新連接替換）時發送
// 關閉幀後退出，readPump 隨之收到關閉錯誤並做清理。
func (hub *WebSocketHub) writePump(conn *websocket.Conn, out *Outbound) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-out.Ch():
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// 通道已關閉，優雅關閉連接
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送隊列中的消息
			n := len(out.Ch())
			for i := 0; i < n; i++ {
				queued, ok := <-out.Ch()
				if !ok {
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 處理客戶端消息
//
// 動作消息即發即忘：非法動作、未知對局都只記日誌，
// 不向客戶端回傳動作級錯誤——下一次狀態推送就是回饋。
func (hub *WebSocketHub) handleMessage(player PlayerInfo, out *Outbound, message []byte) {
	var msg actionMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		hub.logger.Debug("解析客戶端消息失敗",
			"player_id", player.ID,
			"error", err)
		return
	}

	switch msg.Type {
	case "action":
		action, err := ParseAction(msg.Action)
		if err != nil {
			hub.logger.Debug("未知動作代碼",
				"player_id", player.ID,
				"action", msg.Action)
			return
		}
		_ = hub.svc.SendAction(msg.GameID, player.ID, action)
	case "ping":
		// 應用層心跳（瀏覽器外客戶端用）
		if response, err := json.Marshal(map[string]string{"type": "pong"}); err == nil {
			out.Send(response)
		}
	default:
		hub.logger.Debug("收到未知消息類型",
			"type", msg.Type,
			"player_id", player.ID)
	}
}
