// Package ws はキュー状態のリアルタイム配信機能を提供します。
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 配信専用のエンドポイントのため Origin 検証は CORS 層に委ねる
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub は購読クライアントの登録とブロードキャストを管理します。
// 遅延したクライアントは切り離され、他の購読者への配信には影響しません。
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	clients    map[*client]struct{}
	logger     *log.Logger
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub は Hub を初期化します。
func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, sendBufferSize),
		clients:    make(map[*client]struct{}),
		logger:     logger,
	}
}

// Run はイベントループを開始します。ctx のキャンセルで全接続を閉じて停止します。
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
		case c := <-h.unregister:
			h.drop(c)
		case message := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// 送信バッファが詰まった購読者は切り離す
					h.drop(c)
				}
			}
		}
	}
}

// Publish はペイロードをJSONに変換して全購読者へ配信します。
// 購読者がいない場合やマーシャル失敗時は何もしません。
func (h *Hub) Publish(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		if h.logger != nil {
			h.logger.Printf("failed to marshal broadcast payload: %v", err)
		}
		return
	}
	select {
	case h.broadcast <- data:
	default:
		if h.logger != nil {
			h.logger.Printf("broadcast channel is full, dropping update")
		}
	}
}

// Handler は WebSocket 購読エンドポイントのハンドラーを返します。
// 接続直後に snapshot の返すキュー全体を送信し、以降は配信を中継します。
func (h *Hub) Handler(snapshot func(ctx context.Context) (any, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			if h.logger != nil {
				h.logger.Printf("websocket upgrade failed: %v", err)
			}
			return
		}

		cl := &client{
			hub:  h,
			conn: conn,
			send: make(chan []byte, sendBufferSize),
		}

		if snapshot != nil {
			payload, err := snapshot(c.Request.Context())
			if err != nil {
				if h.logger != nil {
					h.logger.Printf("failed to build queue snapshot: %v", err)
				}
			} else if data, err := json.Marshal(payload); err == nil {
				cl.send <- data
			}
		}

		h.register <- cl
		go cl.writePump()
		go cl.readPump()
	}
}

func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	c.conn.Close()
}

// writePump は配信メッセージの送出と定期的なpingを担当します。
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump はクライアントからの受信を読み捨てつつ切断を検知します。
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
