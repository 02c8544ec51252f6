package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何把競技場的狀態變更即時推送給所有玩家？
//
// 核心挑戰：
//   1. 實時通信：等待室、倒數、場面快照都要立即推送
//   2. 連接管理：斷線即等同玩家離開遊戲（觸發暫停/寬限機制）
//   3. 心跳機制：檢測死連接（網絡異常、客戶端崩潰）
//   4. 並發廣播：同時向所有客戶端發送消息，慢客戶端不能拖累全場
//
// 設計方案：
//   ✅ WebSocket - 全雙工通信（低延遲、服務器推送）
//   ✅ Hub 模式 - 集中管理所有連接，實現核心的 Emitter 契約
//   ✅ Ping/Pong 心跳 - 檢測死連接（54s/60s）
//   ✅ 緩衝 channel - 異步發送（不阻塞會話調度路徑）

// 消息信封：雙向都是 {event, data}
type inboundMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type outboundMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// 入站事件的負載
type joinRequest struct {
	Username string `json:"username"`
	Color    string `json:"color"`
}

type moveRequest struct {
	Direction string `json:"direction"`
}

// WebSocketHub 單一競技場的連接中心
//
// 連接以服務端分配的 connID 為鍵；同一個 connID 也是會話中的
// 玩家 ID（連接控制代碼即玩家身份，斷線即離場）。
type WebSocketHub struct {
	session  *Session
	logger   *slog.Logger
	upgrader websocket.Upgrader

	connections map[string]*Connection // connID -> Connection
	mu          sync.RWMutex
}

// Connection WebSocket 連接
type Connection struct {
	ID        string
	Conn      *websocket.Conn
	Send      chan []byte
	Hub       *WebSocketHub
	LastPing  time.Time
	mu        sync.Mutex
	closeOnce sync.Once // 確保 channel 只關閉一次
}

// NewWebSocketHub 創建 WebSocket Hub
func NewWebSocketHub(logger *slog.Logger) *WebSocketHub {
	return &WebSocketHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections: make(map[string]*Connection),
	}
}

// Bind 綁定會話（Hub 與 Session 互相引用，構造後綁定一次）
func (hub *WebSocketHub) Bind(session *Session) {
	hub.session = session
}

// ServeWS 處理 WebSocket 連接
func (hub *WebSocketHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	connection := &Connection{
		ID:       uuid.NewString(),
		Conn:     conn,
		Send:     make(chan []byte, 256),
		Hub:      hub,
		LastPing: time.Now(),
	}

	hub.register(connection)

	go connection.writePump()
	go connection.readPump()

	hub.logger.Info("WebSocket 連接建立", "conn_id", connection.ID)
}

// register 註冊連接
func (hub *WebSocketHub) register(conn *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.connections[conn.ID] = conn
}

// unregister 取消註冊連接
func (hub *WebSocketHub) unregister(conn *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if actual, exists := hub.connections[conn.ID]; exists && actual == conn {
		delete(hub.connections, conn.ID)
		conn.closeOnce.Do(func() {
			close(conn.Send)
		})
	}
}

// EmitToAll 廣播事件給所有連接（實現 Emitter）
func (hub *WebSocketHub) EmitToAll(event string, data any) {
	message, err := json.Marshal(outboundMessage{Event: event, Data: data})
	if err != nil {
		hub.logger.Error("序列化事件失敗", "event", event, "error", err)
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for _, conn := range hub.connections {
		select {
		case conn.Send <- message:
		default:
			// 連接緩衝區滿了，丟棄這一包（at-most-once、盡力而為）
			hub.logger.Warn("連接緩衝區滿", "conn_id", conn.ID, "event", event)
		}
	}
}

// EmitToOne 單發事件給指定連接（實現 Emitter）
func (hub *WebSocketHub) EmitToOne(connID string, event string, data any) {
	message, err := json.Marshal(outboundMessage{Event: event, Data: data})
	if err != nil {
		hub.logger.Error("序列化事件失敗", "event", event, "error", err)
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	if conn, exists := hub.connections[connID]; exists {
		select {
		case conn.Send <- message:
		default:
			hub.logger.Warn("連接緩衝區滿", "conn_id", connID, "event", event)
		}
	}
}

// ConnectionCount 獲取連接數
func (hub *WebSocketHub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.connections)
}

// Stop 停止 WebSocket Hub
func (hub *WebSocketHub) Stop() {
	hub.mu.Lock()
	for _, conn := range hub.connections {
		conn.closeOnce.Do(func() {
			close(conn.Send)
		})
		conn.Conn.Close()
	}
	hub.connections = make(map[string]*Connection)
	hub.mu.Unlock()

	hub.logger.Info("WebSocket Hub 已停止")
}

// readPump 讀取客戶端消息
//
// 心跳讀取端：60 秒內沒有任何消息（包括 Pong）就關閉連接，
// 配合 writePump 的 54 秒 Ping（留 6 秒余量）。
// 讀取循環退出（無論原因）即視為傳輸層斷線，走會話的離場路徑。
func (c *Connection) readPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
		// 傳輸層斷線信號：等同 quit
		c.Hub.session.Disconnect(c.ID)
	}()

	if err := c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		c.Hub.logger.Error("設置讀取期限失敗", "error", err)
	}

	c.Conn.SetPongHandler(func(string) error {
		if err := c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			c.Hub.logger.Error("設置讀取期限失敗", "error", err)
		}
		c.mu.Lock()
		c.LastPing = time.Now()
		c.mu.Unlock()
		return nil
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Error("WebSocket 讀取錯誤", "error", err, "conn_id", c.ID)
			}
			break
		}

		if messageType == websocket.TextMessage {
			c.handleMessage(message)
		}
	}
}

// writePump 寫入消息到客戶端
//
// 心跳發送端：54 秒 Ping，避開常見的 60 秒代理超時。
// 業務事件經由緩衝 channel 異步送出，會話調度路徑不會
// 被慢客戶端阻塞。
func (c *Connection) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道，優雅關閉連接
				deadline := time.Now().Add(time.Second)
				if err := c.Conn.SetWriteDeadline(deadline); err == nil {
					_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				}
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送隊列中的消息
			n := len(c.Send)
			for i := 0; i < n; i++ {
				if err := c.Conn.WriteMessage(websocket.TextMessage, <-c.Send); err != nil {
					c.Hub.logger.Error("發送消息失敗", "error", err)
					return
				}
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 把入站事件分發到會話的序列化調度路徑
func (c *Connection) handleMessage(message []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.Hub.logger.Error("解析客戶端消息失敗", "error", err, "conn_id", c.ID)
		return
	}

	session := c.Hub.session
	if session == nil {
		return
	}

	switch msg.Event {
	case "join":
		var req joinRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			c.Hub.logger.Error("解析 join 負載失敗", "error", err, "conn_id", c.ID)
			return
		}
		// 入場拒絕已經以事件形式回報給請求者，這裡不再處理
		_ = session.Join(c.ID, req.Username, req.Color)

	case "move":
		var req moveRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			c.Hub.logger.Error("解析 move 負載失敗", "error", err, "conn_id", c.ID)
			return
		}
		session.Move(c.ID, Direction(req.Direction))

	case "pauseGame":
		session.Pause(c.ID)

	case "resumeGame":
		session.Resume(c.ID)

	case "quit":
		// quit 是斷線的別名
		session.Disconnect(c.ID)

	case "ping":
		response, _ := json.Marshal(outboundMessage{Event: "pong"})
		select {
		case c.Send <- response:
		default:
		}

	default:
		c.Hub.logger.Debug("收到未知消息類型", "event", msg.Event, "conn_id", c.ID)
	}
}
