package ws

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// AuthorizeFunc reports whether r may follow userID's feed. An empty userID
// asks for every athlete's events.
type AuthorizeFunc func(r *http.Request, userID string) bool

// Handler upgrades /ws requests and subscribes them to the broadcaster.
// The athlete is chosen with the "user" query parameter.
type Handler struct {
	broadcaster    *Broadcaster
	authorize      AuthorizeFunc
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	log            *slog.Logger
}

func NewHandler(b *Broadcaster, allowedOrigins []string, authorize AuthorizeFunc, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		broadcaster:    b,
		authorize:      authorize,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		log:            log,
	}

	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		h.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			h.allowedHosts[parsed.Host] = true
		}
	}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user"))
	if h.authorize != nil && !h.authorize(r, userID) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: h.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade error", "error", err)
		return
	}

	c, err := h.broadcaster.AddClient(r.Context(), conn, userID)
	if err != nil {
		if errors.Is(err, ErrTooManyConnections) {
			msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
			_ = conn.WriteMessage(websocket.CloseMessage, msg)
		}
		conn.Close()
		h.log.Warn("ws client rejected", "remote", r.RemoteAddr, "error", err)
		return
	}
	h.log.Info("ws client connected", "remote", r.RemoteAddr, "user", userID)

	go func() {
		defer func() {
			h.broadcaster.RemoveClient(c)
			h.log.Info("ws client disconnected", "remote", r.RemoteAddr, "user", userID)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(h.allowedOrigins) > 0 {
		if h.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return h.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}
