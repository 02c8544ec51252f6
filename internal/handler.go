package internal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Handler HTTP 請求處理器
//
// 薄的 CRUD 外層：玩家臨時列與最佳紀錄的增刪改查直通存儲，
// 不經過會話（會話只在回合結算時讀寫紀錄）。
type Handler struct {
	store   *Store
	session *Session
	hub     *WebSocketHub
	logger  *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(store *Store, session *Session, hub *WebSocketHub, logger *slog.Logger) *Handler {
	return &Handler{
		store:   store,
		session: session,
		hub:     hub,
		logger:  logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	// 玩家存儲 API（回合內臨時列）
	mux.HandleFunc("POST /api/v1/players", wrap(h.createPlayer))
	mux.HandleFunc("GET /api/v1/players/all", wrap(h.listPlayers))
	mux.HandleFunc("GET /api/v1/players/{id}", wrap(h.getPlayer))
	mux.HandleFunc("PUT /api/v1/players/{id}", wrap(h.updatePlayer))
	mux.HandleFunc("DELETE /api/v1/players/all", wrap(h.clearPlayers))
	mux.HandleFunc("DELETE /api/v1/players/{id}", wrap(h.deletePlayer))

	// 最佳紀錄 API
	mux.HandleFunc("POST /api/v1/records", wrap(h.createRecord))
	mux.HandleFunc("GET /api/v1/records/all", wrap(h.listRecords))
	mux.HandleFunc("GET /api/v1/records/{id}", wrap(h.getRecord))
	mux.HandleFunc("PUT /api/v1/records/{id}", wrap(h.updateRecord))
	mux.HandleFunc("DELETE /api/v1/records/all", wrap(h.clearRecords))
	mux.HandleFunc("DELETE /api/v1/records/{id}", wrap(h.deleteRecord))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	return mux
}

// 請求結構
type createPlayerRequest struct {
	Username string `json:"username"`
	Score    int    `json:"score"`
}

type updatePlayerRequest struct {
	Username string `json:"username,omitempty"`
	Score    *int   `json:"score,omitempty"`
}

type createRecordRequest struct {
	Username string `json:"username"`
	Score    int    `json:"score"`
}

type updateRecordRequest struct {
	Username string `json:"username,omitempty"`
	Score    *int   `json:"score,omitempty"`
}

// pathID 解析路徑中的主鍵
func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil
}

// storeStatus 把存儲錯誤映射為 HTTP 狀態碼
func storeStatus(err error) int {
	switch {
	case errors.Is(err, ErrPlayerNotFound), errors.Is(err, ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateUsername):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// createPlayer 創建玩家列
func (h *Handler) createPlayer(w http.ResponseWriter, r *http.Request) {
	var req createPlayerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "無效的請求格式", http.StatusBadRequest)
		return
	}
	if req.Username == "" {
		h.errorResponse(w, "玩家名稱不能為空", http.StatusBadRequest)
		return
	}

	player, err := h.store.CreatePlayer(req.Username, req.Score)
	if err != nil {
		h.errorResponse(w, err.Error(), storeStatus(err))
		return
	}
	h.jsonResponse(w, player, http.StatusCreated)
}

// listPlayers 列出所有玩家列
func (h *Handler) listPlayers(w http.ResponseWriter, r *http.Request) {
	players, err := h.store.FindPlayers()
	if err != nil {
		h.errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, players, http.StatusOK)
}

// getPlayer 獲取單一玩家列
func (h *Handler) getPlayer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.errorResponse(w, "無效的 ID", http.StatusBadRequest)
		return
	}

	player, err := h.store.FindPlayer(id)
	if err != nil {
		h.errorResponse(w, err.Error(), storeStatus(err))
		return
	}
	h.jsonResponse(w, player, http.StatusOK)
}

// updatePlayer 更新玩家列
func (h *Handler) updatePlayer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.errorResponse(w, "無效的 ID", http.StatusBadRequest)
		return
	}

	var req updatePlayerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "無效的請求格式", http.StatusBadRequest)
		return
	}

	player, err := h.store.UpdatePlayer(id, req.Username, req.Score)
	if err != nil {
		h.errorResponse(w, err.Error(), storeStatus(err))
		return
	}
	h.jsonResponse(w, player, http.StatusOK)
}

// deletePlayer 刪除玩家列
func (h *Handler) deletePlayer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.errorResponse(w, "無效的 ID", http.StatusBadRequest)
		return
	}

	player, err := h.store.RemovePlayer(id)
	if err != nil {
		h.errorResponse(w, err.Error(), storeStatus(err))
		return
	}
	h.jsonResponse(w, player, http.StatusOK)
}

// clearPlayers 整批清除玩家列
func (h *Handler) clearPlayers(w http.ResponseWriter, r *http.Request) {
	players, err := h.store.ClearPlayers()
	if err != nil {
		h.errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, players, http.StatusOK)
}

// createRecord 創建紀錄列
func (h *Handler) createRecord(w http.ResponseWriter, r *http.Request) {
	var req createRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "無效的請求格式", http.StatusBadRequest)
		return
	}
	if req.Username == "" {
		h.errorResponse(w, "玩家名稱不能為空", http.StatusBadRequest)
		return
	}

	record, err := h.store.CreateRecord(req.Username, req.Score)
	if err != nil {
		h.errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, record, http.StatusCreated)
}

// listRecords 列出所有紀錄列
func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.Records()
	if err != nil {
		h.errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, records, http.StatusOK)
}

// getRecord 獲取單一紀錄列
func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.errorResponse(w, "無效的 ID", http.StatusBadRequest)
		return
	}

	record, err := h.store.FindRecord(id)
	if err != nil {
		h.errorResponse(w, err.Error(), storeStatus(err))
		return
	}
	h.jsonResponse(w, record, http.StatusOK)
}

// updateRecord 更新紀錄列
func (h *Handler) updateRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.errorResponse(w, "無效的 ID", http.StatusBadRequest)
		return
	}

	var req updateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "無效的請求格式", http.StatusBadRequest)
		return
	}

	record, err := h.store.UpdateRecord(id, req.Username, req.Score)
	if err != nil {
		h.errorResponse(w, err.Error(), storeStatus(err))
		return
	}
	h.jsonResponse(w, record, http.StatusOK)
}

// deleteRecord 刪除紀錄列
func (h *Handler) deleteRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.errorResponse(w, "無效的 ID", http.StatusBadRequest)
		return
	}

	record, err := h.store.RemoveRecord(id)
	if err != nil {
		h.errorResponse(w, err.Error(), storeStatus(err))
		return
	}
	h.jsonResponse(w, record, http.StatusOK)
}

// clearRecords 整批清除紀錄列
func (h *Handler) clearRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ClearRecords()
	if err != nil {
		h.errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, records, http.StatusOK)
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
	stats := h.session.Stats()
	if h.hub != nil {
		stats["connections"] = h.hub.ConnectionCount()
	}
	h.jsonResponse(w, stats, http.StatusOK)
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
			if rec := recover(); rec != nil {
				h.logger.Error("處理器 panic",
					"panic", rec,
					"method", r.Method,
					"path", r.URL.Path)
				h.errorResponse(w, "內部服務器錯誤", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

// responseWriter 包裝 http.ResponseWriter 以記錄狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
