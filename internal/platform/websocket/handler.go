package websocket

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	sendBuffer   = 64
	maxFrameSize = 4096
)

// ClientMessage is a subscription change sent by a client.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

type Handler struct {
	hub      *Hub
	prefixes []string
	upgrader gorillawebsocket.Upgrader
}

// NewHandler accepts subscriptions only to topics that extend one of
// prefixes; no prefixes allows any topic. origins lists allowed Origin
// headers, where "*" or an empty list allows any.
func NewHandler(hub *Hub, origins []string, prefixes ...string) *Handler {
	return &Handler{
		hub:      hub,
		prefixes: prefixes,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins),
		},
	}
}

func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.ToLower(strings.TrimSpace(o))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || len(allowed) == 0 || allowed["*"] || allowed[strings.ToLower(origin)]
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", h.HandleConnect)
}

func (h *Handler) permitted(topic string) bool {
	if len(h.prefixes) == 0 {
		return topic != ""
	}
	for _, p := range h.prefixes {
		if len(topic) > len(p) && strings.HasPrefix(topic, p) {
			return true
		}
	}
	return false
}

func (h *Handler) filter(topics []string) []string {
	var out []string
	for _, t := range topics {
		if t = strings.TrimSpace(t); h.permitted(t) {
			out = append(out, t)
		}
	}
	return out
}

// ProcessMessage applies a subscribe or unsubscribe request. Unknown actions
// are ignored.
func (h *Handler) ProcessMessage(c *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.hub.Subscribe(c, h.filter(msg.Topics))
	case "unsubscribe":
		h.hub.Unsubscribe(c, msg.Topics)
	}
}

// HandleConnect upgrades the request and subscribes the client to the
// comma separated ?topics= it is permitted to see.
func (h *Handler) HandleConnect(c echo.Context) error {
	var initial []string
	if q := c.QueryParam("topics"); q != "" {
		initial = h.filter(strings.Split(q, ","))
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := NewClient(uuid.NewString(), sendBuffer)
	h.hub.Register(client, initial...)
	h.hub.logger.Debug().Str("client_id", client.ID).Strs("topics", initial).Msg("websocket client connected")

	go h.write(client, conn)
	go h.read(client, conn)
	return nil
}

func (h *Handler) read(client *Client, conn *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(maxFrameSize)
	extend := func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) }
	_ = extend("")
	conn.SetPongHandler(extend)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if json.Unmarshal(frame, &msg) == nil {
			h.ProcessMessage(client, msg)
		}
	}
}

func (h *Handler) write(client *Client, conn *gorillawebsocket.Conn) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		conn.Close()
	}()

	send := func(kind int, payload []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(kind, payload)
	}
	for {
		select {
		case msg, ok := <-client.Send:
			if !ok {
				_ = send(gorillawebsocket.CloseMessage, nil)
				return
			}
			if err := send(gorillawebsocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := send(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
