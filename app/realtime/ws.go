package realtime

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/leadrelay/app/services"
	"github.com/amirphl/leadrelay/utils"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 4096
)

// TokenVerifier validates bearer tokens
type TokenVerifier interface {
	ValidateToken(token string) (*services.TokenClaims, error)
}

// PartitionAccess returns an error when orgID may not view partitionID
type PartitionAccess func(ctx context.Context, orgID, partitionID uint) error

// WSConfig configures the WebSocket listener
type WSConfig struct {
	Addr           string
	AllowedOrigins []string
	PingInterval   time.Duration
}

// WSServer serves partition event streams over WebSocket on its own listener
type WSServer struct {
	hub      *Hub
	verifier TokenVerifier
	access   PartitionAccess
	cfg      WSConfig
	upgrader websocket.Upgrader
	logger   *log.Logger
	server   *http.Server
}

func NewWSServer(hub *Hub, verifier TokenVerifier, access PartitionAccess, cfg WSConfig, logger *log.Logger) *WSServer {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &WSServer{hub: hub, verifier: verifier, access: access, cfg: cfg, logger: logger}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the HTTP handler serving /ws/partitions/{id}
func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/partitions/{id}", s.serve)
	return mux
}

// Start listens in the background
func (s *WSServer) Start() {
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		s.logger.Printf("realtime: websocket listening on %s", s.cfg.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("realtime: websocket server stopped err=%v", err)
		}
	}()
}

// Shutdown stops accepting connections. Open streams end when the hub closes them.
func (s *WSServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *WSServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (s *WSServer) serve(w http.ResponseWriter, r *http.Request) {
	partitionID, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || partitionID == 0 {
		http.Error(w, "invalid partition id", http.StatusBadRequest)
		return
	}

	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	claims, err := s.verifier.ValidateToken(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.access != nil {
		if err := s.access(r.Context(), claims.OrgID, uint(partitionID)); err != nil {
			http.Error(w, "partition not found", http.StatusNotFound)
			return
		}
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = r.Header.Get(utils.SessionIDHeader)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("realtime: websocket upgrade failed err=%v", err)
		return
	}

	sub := s.hub.Subscribe(uint(partitionID), sessionID)
	go s.readPump(conn, sub)
	s.writePump(conn, sub)
}

// readPump only handles control frames; any read error ends the subscription
func (s *WSServer) readPump(conn *websocket.Conn, sub *Subscription) {
	defer sub.Close()

	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(2 * s.cfg.PingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * s.cfg.PingInterval))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Printf("realtime: websocket read error session_id=%s err=%v", sub.SessionID, err)
			}
			return
		}
	}
}

func (s *WSServer) writePump(conn *websocket.Conn, sub *Subscription) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		sub.Close()
		_ = conn.Close()
	}()

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(map[string]any{"type": "ready", "sessionId": sub.SessionID, "partitionId": sub.PartitionID}); err != nil {
		return
	}

	for {
		select {
		case evt, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
