package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Handler HTTP 請求處理器
//
// 動作走 HTTP 時是即發即忘：請求格式合法就回 202，
// 動作本身成不成立由下一次 WebSocket 狀態推送體現。
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{
		svc:    svc,
		logger: logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	// 對局 API
	mux.HandleFunc("POST /api/v1/games/{game_id}/actions", wrap(h.sendAction))
	mux.HandleFunc("GET /api/v1/rankings", wrap(h.rankings))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	return mux
}

// 請求結構
type sendActionRequest struct {
	PlayerID string `json:"player_id"`
	Action   int    `json:"action"`
}

// sendAction 提交玩家動作
func (h *Handler) sendAction(w http.ResponseWriter, r *http.Request) {
	gameID := r.PathValue("game_id")

	var req sendActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "無效的請求格式", http.StatusBadRequest)
		return
	}

	if req.PlayerID == "" {
		h.errorResponse(w, "玩家ID為必填", http.StatusBadRequest)
		return
	}

	action, err := ParseAction(req.Action)
	if err != nil {
		h.errorResponse(w, "未知的動作代碼", http.StatusBadRequest)
		return
	}

	// 未知對局、非法玩家都不回錯誤：動作語義是即發即忘，
	// 狀態回饋只走推送通道
	_ = h.svc.SendAction(gameID, req.PlayerID, action)

	h.jsonResponse(w, map[string]any{
		"accepted": true,
	}, http.StatusAccepted)
}

// rankings 排行榜前 10 名
func (h *Handler) rankings(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Rankings(r.Context())
	if err != nil {
		h.logger.Error("查詢排行榜失敗", "error", err)
		h.errorResponse(w, "查詢排行榜失敗", http.StatusInternalServerError)
		return
	}

	if entries == nil {
		entries = []RankingEntry{}
	}

	h.jsonResponse(w, map[string]any{
		"rankings": entries,
	}, http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, h.svc.Stats(), http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
