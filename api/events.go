package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"nft_marketplace/internal/chain"
	"nft_marketplace/internal/marketplace"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	clientBuffer = 64
)

// EventMessage is the JSON frame pushed to event stream clients.
type EventMessage struct {
	Kind    marketplace.EventKind `json:"kind"`
	TxID    string                `json:"tx_id"`
	Seller  string                `json:"seller,omitempty"`
	Buyer   string                `json:"buyer,omitempty"`
	NFT     chain.Address         `json:"nft"`
	TokenID uint64                `json:"token_id"`
	Price   *Amount               `json:"price,omitempty"`
}

func newEventMessage(e marketplace.Event) EventMessage {
	msg := EventMessage{
		Kind:    e.Kind,
		TxID:    e.TxID,
		NFT:     e.NFT,
		TokenID: e.TokenID,
	}
	if !e.Seller.IsZero() {
		msg.Seller = e.Seller.String()
	}
	if !e.Buyer.IsZero() {
		msg.Buyer = e.Buyer.String()
	}
	if e.Price != nil {
		price := newAmount(e.Price)
		msg.Price = &price
	}
	return msg
}

type wsClient struct {
	conn *websocket.Conn
	send chan EventMessage
}

// eventHub pushes committed marketplace events to websocket clients. A client
// that cannot keep up is disconnected rather than slowing down transactions.
type eventHub struct {
	upgrader    websocket.Upgrader
	unsubscribe func()
	logger      *zap.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

func newEventHub(bus *marketplace.EventBus, logger *zap.Logger) *eventHub {
	h := &eventHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: map[*wsClient]struct{}{},
		logger:  logger,
	}
	h.unsubscribe = bus.Subscribe(h.broadcast)
	return h
}

func (h *eventHub) broadcast(e marketplace.Event) {
	msg := newEventMessage(e)

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			h.logger.Warn("event stream client too slow, disconnecting",
				zap.String("remote", client.conn.RemoteAddr().String()))
			h.removeLocked(client)
		}
	}
}

func (h *eventHub) handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &wsClient{conn: conn, send: make(chan EventMessage, clientBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("event stream client connected", zap.String("remote", conn.RemoteAddr().String()))

	go h.writeLoop(client)
	h.readLoop(client)
}

// readLoop discards client frames and detects disconnects.
func (h *eventHub) readLoop(client *wsClient) {
	defer h.remove(client)

	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *eventHub) writeLoop(client *wsClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteJSON(msg); err != nil {
				h.logger.Debug("event stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *eventHub) remove(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client)
}

func (h *eventHub) removeLocked(client *wsClient) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
}

func (h *eventHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *eventHub) close() {
	h.unsubscribe()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for client := range h.clients {
		h.removeLocked(client)
	}
}
