package live

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512

	// Буфер исходящих сообщений клиента. Запись в канал не блокирует
	// рассылку: медленный клиент теряет сообщения, а не тормозит остальных.
	sendBufferSize = 256
)

// Message - конверт исходящего сообщения.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Типы сообщений, которые рассылает координатор.
const (
	MsgMatchList         = "MATCH_LIST"
	MsgMatchSnapshot     = "MATCH_SNAPSHOT"
	MsgMatchCreated      = "MATCH_CREATED"
	MsgMatchUpdated      = "MATCH_UPDATED"
	MsgMatchEntryUpdated = "MATCH_ENTRY_UPDATED"
	MsgMatchRemoved      = "MATCH_REMOVED"
)

// Client - одно WebSocket-подключение с его областью подписки.
// Доставкой занимается WritePump: он единственный читает send, поэтому
// порядок сообщений для одного клиента совпадает с порядком Broadcast.
type Client struct {
	ID   uuid.UUID
	View View
	Conn *websocket.Conn

	hub  *Hub
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// Hub - реестр подключённых клиентов. Единственная разделяемая изменяемая
// структура ядра: вся работа с ней идёт через Register/Unregister/Broadcast.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*Client
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]*Client),
		logger:  logger,
	}
}

// NewClient создаёт клиента с новым идентификатором подключения.
// Клиент ещё не зарегистрирован в реестре.
func (h *Hub) NewClient(view View, conn *websocket.Conn) *Client {
	return &Client{
		ID:   uuid.New(),
		View: view,
		Conn: conn,
		hub:  h,
		send: make(chan []byte, sendBufferSize),
	}
}

// Register добавляет клиента в реестр. Повторная регистрация того же
// идентификатора - no-op.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; ok {
		return
	}
	h.clients[c.ID] = c
	h.logger.Debug("client registered",
		slog.String("client_id", c.ID.String()),
		slog.Int("total_clients", len(h.clients)))
}

// Unregister удаляет клиента из реестра и закрывает его канал отправки.
// Безопасен для уже удалённого идентификатора.
func (h *Hub) Unregister(id uuid.UUID) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.close()
	h.logger.Debug("client unregistered",
		slog.String("client_id", id.String()),
		slog.Int("total_clients", total))
}

// Broadcast отправляет сообщение всем клиентам с совпадающей областью
// подписки. Список получателей снимается под RLock, сама доставка идёт без
// блокировки реестра, поэтому Register/Unregister во время рассылки безопасны.
// Вызов не ждёт доставки: запись уходит в буфер клиента, дальше её забирает
// его WritePump.
func (h *Hub) Broadcast(view View, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message",
			slog.String("type", msg.Type), slog.Any("error", err))
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.View == view {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(data)
	}
}

// ClientCount возвращает число зарегистрированных клиентов.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send ставит одно сообщение в очередь конкретному клиенту, минуя рассылку.
// Используется для начального снимка состояния сразу после подключения.
func (c *Client) Send(msg Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	return c.enqueue(data)
}

func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		// Буфер полон: сообщение для этого клиента теряется,
		// остальных это не касается.
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.send)
		c.closed = true
	}
}

// ReadPump читает входящий поток до разрыва соединения. Входящие сообщения
// игнорируются, задача цикла - заметить отключение и снять клиента с учёта.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c.ID)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket read error",
					slog.String("client_id", c.ID.String()), slog.Any("error", err))
			}
			return
		}
	}
}

// WritePump доставляет клиенту сообщения из его буфера в порядке постановки
// и поддерживает соединение пингами. Ошибка записи завершает цикл, ReadPump
// после закрытия соединения выполнит Unregister.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.hub.logger.Debug("websocket write error",
					slog.String("client_id", c.ID.String()), slog.Any("error", err))
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
