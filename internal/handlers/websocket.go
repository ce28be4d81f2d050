package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/stockcheck/internal/common"
	"github.com/ternarybob/stockcheck/internal/interfaces"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// Message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// StatusUpdate is sent to each client on connect
type StatusUpdate struct {
	Service          string `json:"service"`
	Version          string `json:"version"`
	ServerInstanceID string `json:"serverInstanceId"` // Unique ID per server startup - clients clear state on change
}

// StockProgressUpdate is the stock_progress message pushed to clients
type StockProgressUpdate struct {
	RunID      string  `json:"run_id"`
	Checked    int     `json:"checked"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// progressState tracks one run's progress stream. Events arrive
// asynchronously, so anything not newer than lastChecked is stale.
type progressState struct {
	limiter     *rate.Limiter
	lastChecked int
	done        bool
}

type WebSocketHandler struct {
	logger           arbor.ILogger
	clients          map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	eventService     interfaces.EventService
	progressInterval time.Duration
	progressMu       sync.Mutex
	progress         map[string]*progressState
	serverInstanceID string
}

func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]*sync.Mutex),
		eventService:     eventService,
		progress:         make(map[string]*progressState),
		serverInstanceID: uuid.New().String(),
	}

	if config != nil && config.ProgressThrottle != "" {
		if d, err := time.ParseDuration(config.ProgressThrottle); err == nil {
			h.progressInterval = d
		} else {
			logger.Warn().
				Err(err).
				Str("interval", config.ProgressThrottle).
				Msg("Failed to parse progress throttle interval - throttler disabled")
		}
	}

	logger.Info().
		Str("server_instance_id", h.serverInstanceID).
		Dur("progress_throttle", h.progressInterval).
		Msg("WebSocket handler initialized")

	if eventService != nil {
		h.SubscribeToStockEvents()
	}

	return h
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	mutex := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = mutex
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", clientCount)

	h.send(conn, mutex, WSMessage{
		Type: "status",
		Payload: StatusUpdate{
			Service:          "stockcheck",
			Version:          common.GetVersion(),
			ServerInstanceID: h.serverInstanceID,
		},
	})

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		clientCount := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", clientCount)
	}()

	// Read messages from client (keep connection alive)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a message to every connected client
func (h *WebSocketHandler) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn, mutex := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, mutex)
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		if err := h.write(conn, mutexes[i], data); err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send message to client")
		}
	}
}

func (h *WebSocketHandler) send(conn *websocket.Conn, mutex *sync.Mutex, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}
	if err := h.write(conn, mutex, data); err != nil {
		h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send message to client")
	}
}

func (h *WebSocketHandler) write(conn *websocket.Conn, mutex *sync.Mutex, data []byte) error {
	mutex.Lock()
	defer mutex.Unlock()
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// SubscribeToStockEvents forwards stock and collection events to clients
func (h *WebSocketHandler) SubscribeToStockEvents() {
	h.eventService.Subscribe(interfaces.EventStockStarted, func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(map[string]interface{})
		if !ok {
			h.logger.Warn().Msg("Invalid stock started event payload type")
			return nil
		}
		h.startProgress(getString(payload, "run_id"))
		h.Broadcast(WSMessage{Type: string(interfaces.EventStockStarted), Payload: payload})
		return nil
	})

	h.eventService.Subscribe(interfaces.EventStockProgress, func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(map[string]interface{})
		if !ok {
			h.logger.Warn().Msg("Invalid stock progress event payload type")
			return nil
		}

		update := StockProgressUpdate{
			RunID:   getString(payload, "run_id"),
			Checked: getInt(payload, "checked"),
			Total:   getInt(payload, "total"),
		}
		if !h.admitProgress(update) {
			return nil
		}
		if update.Total > 0 {
			update.Percentage = float64(update.Checked) / float64(update.Total) * 100
		}

		h.Broadcast(WSMessage{Type: string(interfaces.EventStockProgress), Payload: update})
		return nil
	})

	h.eventService.Subscribe(interfaces.EventStockComplete, func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(map[string]interface{})
		if !ok {
			h.logger.Warn().Msg("Invalid stock complete event payload type")
			return nil
		}
		h.finishProgress(getString(payload, "run_id"))
		h.Broadcast(WSMessage{Type: string(interfaces.EventStockComplete), Payload: payload})
		return nil
	})

	h.eventService.Subscribe(interfaces.EventCollectionUpdated, func(ctx context.Context, event interfaces.Event) error {
		h.Broadcast(WSMessage{Type: string(interfaces.EventCollectionUpdated), Payload: event.Payload})
		return nil
	})
}

// startProgress begins tracking a run and forgets finished ones
func (h *WebSocketHandler) startProgress(runID string) {
	h.progressMu.Lock()
	defer h.progressMu.Unlock()

	for id, state := range h.progress {
		if state.done {
			delete(h.progress, id)
		}
	}
	h.progress[runID] = h.newProgressState()
}

func (h *WebSocketHandler) finishProgress(runID string) {
	h.progressMu.Lock()
	defer h.progressMu.Unlock()

	state, ok := h.progress[runID]
	if !ok {
		state = h.newProgressState()
		h.progress[runID] = state
	}
	state.done = true
}

// admitProgress drops stale and throttled updates and anything but the final
// update once the run completed. The update that reaches total is always
// delivered.
func (h *WebSocketHandler) admitProgress(update StockProgressUpdate) bool {
	h.progressMu.Lock()
	defer h.progressMu.Unlock()

	state, ok := h.progress[update.RunID]
	if !ok {
		state = h.newProgressState()
		h.progress[update.RunID] = state
	}
	if update.Checked <= state.lastChecked {
		return false
	}
	// Handlers run concurrently, so the final update may land after completion.
	final := update.Checked >= update.Total
	if state.done && !final {
		return false
	}
	state.lastChecked = update.Checked

	if final {
		return true
	}
	return state.limiter == nil || state.limiter.Allow()
}

func (h *WebSocketHandler) newProgressState() *progressState {
	state := &progressState{}
	if h.progressInterval > 0 {
		state.limiter = rate.NewLimiter(rate.Every(h.progressInterval), 1)
	}
	return state
}

// Helper functions for safe type conversion from map[string]interface{}
func getString(m map[string]interface{}, key string) string {
	if val, ok := m[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func getInt(m map[string]interface{}, key string) int {
	if val, ok := m[key]; ok {
		switch v := val.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
