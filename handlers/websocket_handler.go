package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/volleylive/scoreboard/live"
	"github.com/volleylive/scoreboard/services"
)

type WebSocketHandler struct {
	hub          *live.Hub
	matchService services.MatchService
	upgrader     websocket.Upgrader
	logger       *slog.Logger
}

func NewWebSocketHandler(hub *live.Hub, matchService services.MatchService, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:          hub,
		matchService: matchService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowedOrigins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(allowedOrigins))
	allowAll := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}
	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		// Запросы без Origin (не браузерные) пропускаем.
		return origin == "" || allowed[origin]
	}
}

// ServeGlobalWs подписывает соединение на общий список матчей.
// Сразу после подключения клиент получает текущий снимок списка.
func (h *WebSocketHandler) ServeGlobalWs(w http.ResponseWriter, r *http.Request) {
	matches, err := h.matchService.ListMatches(r.Context())
	if err != nil {
		serverErrorResponse(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade сам отвечает клиенту HTTP-ошибкой, здесь только лог.
		h.logger.Debug("websocket upgrade failed", slog.Any("error", err))
		return
	}

	client := h.hub.NewClient(live.GlobalView(), conn)
	client.Send(live.Message{Type: live.MsgMatchList, Payload: matches})
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

// ServeMatchWs подписывает соединение на один матч. Несуществующий матч -
// 404 ещё до апгрейда соединения.
func (h *WebSocketHandler) ServeMatchWs(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, err)
		return
	}

	match, err := h.matchService.GetMatch(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrMatchNotFound) {
			notFoundResponse(w)
			return
		}
		serverErrorResponse(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", slog.Int("match_id", id), slog.Any("error", err))
		return
	}

	client := h.hub.NewClient(live.MatchView(id), conn)
	client.Send(live.Message{Type: live.MsgMatchSnapshot, Payload: match})
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
