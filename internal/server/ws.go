package server

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"rokuga/internal/recording"
)

// upgrader はWebSocketへのアップグレード設定
// ダッシュボードは別オリジンで動くためオリジンチェックは行わない
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// telemetryHub は接続中のWebSocketクライアントへテレメトリーを配信する
type telemetryHub struct {
	controller *recording.Controller

	mu      sync.Mutex
	clients map[*websocket.Conn]bool

	// 状態変化時の即時配信用
	notifyCh chan struct{}
}

// newTelemetryHub は新しいtelemetryHubを作成する
func newTelemetryHub(controller *recording.Controller) *telemetryHub {
	return &telemetryHub{
		controller: controller,
		clients:    make(map[*websocket.Conn]bool),
		notifyCh:   make(chan struct{}, 1),
	}
}

// notify は状態変化を配信ループに通知する
// 配信ループが追いついていない場合は重複通知を畳む
func (h *telemetryHub) notify() {
	select {
	case h.notifyCh <- struct{}{}:
	default:
	}
}

// run はテレメトリーの定期配信ループを実行する
// 1秒周期と状態変化通知の両方で全クライアントに配信する
func (h *telemetryHub) run(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.broadcast()
		case <-h.notifyCh:
			h.broadcast()
		}
	}
}

// broadcast は現在のテレメトリーを全クライアントに送信する
// 送信に失敗したクライアントは切断されたとみなして除去する
func (h *telemetryHub) broadcast() {
	telemetry := h.controller.Telemetry()

	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(telemetry); err != nil {
			delete(h.clients, conn)
			_ = conn.Close()
		}
	}
}

// closeAll は全クライアントを切断する
func (h *telemetryHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		_ = conn.Close()
	}
	h.clients = make(map[*websocket.Conn]bool)
}

// register は接続直後の状態を送ってからクライアントを配信対象に追加する
// 初回送信をロック内で行うことで、配信ループとの同時書き込みを防ぐ
// (gorilla/websocketは1接続への並行書き込みを許していない)
func (h *telemetryHub) register(conn *websocket.Conn) error {
	telemetry := h.controller.Telemetry()

	h.mu.Lock()
	defer h.mu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(telemetry); err != nil {
		return err
	}

	h.clients[conn] = true
	return nil
}

// unregister はクライアントを配信対象から除去する
func (h *telemetryHub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[conn] {
		delete(h.clients, conn)
		_ = conn.Close()
	}
}

// handleWebSocket はWebSocketテレメトリーエンドポイントの実装
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocketへのアップグレードに失敗: %v", err)
		return
	}

	// 初回送信と登録は1つのロック内で行われる
	if err := s.hub.register(conn); err != nil {
		_ = conn.Close()
		return
	}

	// クライアントからの受信は読み捨てる (切断検知のため読み続ける)
	go func() {
		defer s.hub.unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
