package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/kintsugi-app/server/domain/repositories"
	"github.com/kintsugi-app/server/internal/saga"
	"github.com/kintsugi-app/server/internal/saga/turn"
	"github.com/kintsugi-app/server/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	// Audio chunk size for assistant playback.
	playbackChunkSize = 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub maintains the set of active clients, grouped into per-session rooms,
// and relays session store events to room members.
type Hub struct {
	clients map[*Client]struct{}

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	mu          sync.RWMutex
	rooms       map[string]map[*Client]struct{}
	roomCancels map[string]func()

	store   *usecase.SessionStore
	voice   *usecase.VoiceIO
	runner  *saga.Runner
	turnDef saga.Definition

	validator *MessageValidator
	logger    *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(store *usecase.SessionStore, voice *usecase.VoiceIO, logger *zap.Logger) *Hub {
	return &Hub{
		clients:     make(map[*Client]struct{}),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		rooms:       make(map[string]map[*Client]struct{}),
		roomCancels: make(map[string]func()),
		store:       store,
		voice:       voice,
		runner:      saga.NewRunner(logger),
		turnDef:     turn.NewDefinition(voice, store),
		validator:   NewMessageValidator(),
		logger:      logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			h.logger.Info("Client registered", zap.String("participantID", client.participantID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.removeFromRoomLocked(client)
				close(client.done)
			}
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("participantID", client.participantID))
		}
	}
}

// joinRoom attaches a client to a session room, starting the store event
// relay when the room opens.
func (h *Hub) joinRoom(client *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeFromRoomLocked(client)

	if h.rooms[sessionID] == nil {
		h.rooms[sessionID] = make(map[*Client]struct{})
		events, cancel := h.store.Subscribe(sessionID)
		h.roomCancels[sessionID] = cancel
		go h.relayEvents(sessionID, events)
	}
	h.rooms[sessionID][client] = struct{}{}
	client.mutex.Lock()
	client.sessionID = sessionID
	client.mutex.Unlock()
}

// removeFromRoomLocked detaches a client from its room, closing the room
// when it empties. Callers must hold h.mu.
func (h *Hub) removeFromRoomLocked(client *Client) {
	if client.sessionID == "" {
		return
	}
	room, ok := h.rooms[client.sessionID]
	if ok {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, client.sessionID)
			if cancel, ok := h.roomCancels[client.sessionID]; ok {
				cancel()
				delete(h.roomCancels, client.sessionID)
			}
		}
	}
	client.mutex.Lock()
	client.sessionID = ""
	client.mutex.Unlock()
}

// relayEvents forwards store events to every room member until the
// subscription closes.
func (h *Hub) relayEvents(sessionID string, events <-chan usecase.StoreEvent) {
	for event := range events {
		payload, err := json.Marshal(map[string]interface{}{
			"type":  MessageTypeSessionEvent,
			"event": event,
		})
		if err != nil {
			h.logger.Error("Failed to marshal session event", zap.Error(err))
			continue
		}
		h.broadcastRoom(sessionID, WriteData{Type: websocket.TextMessage, Payload: payload})
	}
}

// broadcastRoom sends a frame to every client in a session room.
func (h *Hub) broadcastRoom(sessionID string, data WriteData) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[sessionID] {
		select {
		case client.send <- data:
		default:
			// Slow client, drop the frame rather than block the hub
		}
	}
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// VoiceSession tracks one open capture window between listening_start and
// listening_end.
type VoiceSession struct {
	config     repositories.AudioConfig
	buffer     []byte
	chunkCount int
	startedAt  time.Time
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	// Closed by the hub on unregister. Voice-turn goroutines outlive the
	// pumps, so outbound sends select against done instead of relying on
	// the channel staying open.
	done chan struct{}

	participantID string

	logger *zap.Logger

	mutex     sync.Mutex
	sessionID string
	voice     *VoiceSession

	// playbackCancel stops the previous assistant playback when a new one
	// starts.
	playbackCancel context.CancelFunc
}

// HandleWebSocketWithAuth handles websocket requests with a pre-authenticated
// participant ID.
func HandleWebSocketWithAuth(hub *Hub, c echo.Context, participantID string, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:           hub,
		conn:          conn,
		send:          make(chan WriteData, 256),
		done:          make(chan struct{}),
		participantID: participantID,
		logger:        logger,
	}

	client.hub.register <- client

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			c.processBinaryAudioChunk(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processMessage processes incoming control messages
func (c *Client) processMessage(message []byte) {
	parsed, err := c.hub.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Rejected message", zap.Error(err))
		c.sendError("invalid_message", err.Error())
		return
	}

	switch msg := parsed.(type) {
	case *JoinSessionMessage:
		c.handleJoinSession(msg)
	case *BaseMessage:
		switch msg.Type {
		case MessageTypeLeaveSession:
			c.handleLeaveSession()
		case MessageTypeListeningEnd:
			c.handleListeningEnd()
		}
	case *ListeningStartMessage:
		c.handleListeningStart(msg)
	case *UtteranceMessage:
		c.handleUtterance(msg)
	case *PingMessage:
		c.sendJSON(CreatePongMessage(msg.Data))
	}
}

// processBinaryAudioChunk buffers captured audio for the open voice session
func (c *Client) processBinaryAudioChunk(data []byte) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.voice == nil {
		c.logger.Warn("Received audio chunk with no capture window open",
			zap.String("participantID", c.participantID))
		return
	}

	c.voice.buffer = append(c.voice.buffer, data...)
	c.voice.chunkCount++

	c.logger.Debug("Buffered audio chunk",
		zap.String("sessionID", c.sessionID),
		zap.Int("totalChunks", c.voice.chunkCount),
		zap.Int("totalBytes", len(c.voice.buffer)))
}

// handleJoinSession attaches the connection to a session the participant
// belongs to
func (c *Client) handleJoinSession(msg *JoinSessionMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := c.hub.store.GetSession(ctx, msg.SessionID)
	if err != nil {
		c.logger.Warn("Join failed",
			zap.String("participantID", c.participantID),
			zap.String("sessionID", msg.SessionID),
			zap.Error(err))
		c.sendError("session_not_found", "session not found")
		return
	}
	if !session.HasParticipant(c.participantID) {
		c.sendError("not_a_participant", "participant has not joined this session")
		return
	}

	c.hub.joinRoom(c, session.ID)

	c.sendJSON(map[string]interface{}{
		"type":       MessageTypeJoined,
		"session_id": session.ID,
		"phase":      session.CurrentPhase,
		"status":     session.Status,
		"timestamp":  time.Now().Format(time.RFC3339),
	})
}

func (c *Client) handleLeaveSession() {
	c.hub.mu.Lock()
	c.hub.removeFromRoomLocked(c)
	c.hub.mu.Unlock()
}

// handleListeningStart opens a voice capture window. A second start while
// one is open is rejected.
func (c *Client) handleListeningStart(msg *ListeningStartMessage) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.sessionID == "" {
		c.sendError("no_session", "join a session before speaking")
		return
	}
	if c.voice != nil {
		c.sendError("already_listening", "a capture window is already open")
		return
	}

	config := repositories.AudioConfig{
		SampleRate: 16000,
		Language:   "en-US",
		Encoding:   "LINEAR16",
	}
	if msg.SampleRate > 0 {
		config.SampleRate = msg.SampleRate
	}
	if msg.Language != "" {
		config.Language = msg.Language
	}
	if msg.Encoding != "" {
		config.Encoding = msg.Encoding
	}

	c.voice = &VoiceSession{
		config:    config,
		startedAt: time.Now(),
	}

	c.logger.Info("Capture window opened",
		zap.String("participantID", c.participantID),
		zap.String("sessionID", c.sessionID))

	c.sendJSON(map[string]interface{}{
		"type":       MessageTypeListeningStart,
		"session_id": c.sessionID,
		"timestamp":  c.voice.startedAt.Unix(),
	})
}

// handleListeningEnd closes the capture window and runs the voice turn. An
// end with no window open acknowledges with a null transcript instead of
// erroring.
func (c *Client) handleListeningEnd() {
	c.mutex.Lock()
	voice := c.voice
	c.voice = nil
	sessionID := c.sessionID
	c.mutex.Unlock()

	if voice == nil || len(voice.buffer) == 0 {
		c.sendJSON(map[string]interface{}{
			"type":       MessageTypeListeningEnd,
			"session_id": sessionID,
			"transcript": nil,
		})
		return
	}

	c.sendJSON(map[string]interface{}{
		"type":        MessageTypeListeningEnd,
		"session_id":  sessionID,
		"duration_ms": time.Since(voice.startedAt).Milliseconds(),
	})

	go c.runVoiceTurn(sessionID, voice)
}

// runVoiceTurn drives the captured audio through the turn pipeline and plays
// the assistant reply back.
func (c *Client) runVoiceTurn(sessionID string, voice *VoiceSession) {
	ctx := context.Background()

	data := saga.Data{
		turn.KeySessionID:   sessionID,
		turn.KeyAudioData:   voice.buffer,
		turn.KeyAudioConfig: voice.config,
	}
	if _, err := c.hub.runner.Run(ctx, c.hub.turnDef, data); err != nil {
		c.logger.Error("Voice turn failed",
			zap.String("participantID", c.participantID),
			zap.String("sessionID", sessionID),
			zap.Error(err))
		c.sendError("turn_failed", "could not process the captured audio")
		return
	}

	outcome := data[turn.KeyOutcome].(*usecase.SubmitOutcome)
	reply := data[turn.KeyReply].(usecase.SpokenReply)
	transcription := data[turn.KeyTranscript].(repositories.Transcription)

	c.sendJSON(map[string]interface{}{
		"type":       MessageTypeTranscript,
		"session_id": sessionID,
		"transcript": transcription,
		"turn":       outcome.UserTurn,
	})

	c.playReply(sessionID, outcome, reply)
}

// playReply streams the synthesized reply. Starting a new playback cancels
// the previous one.
func (c *Client) playReply(sessionID string, outcome *usecase.SubmitOutcome, reply usecase.SpokenReply) {
	c.mutex.Lock()
	if c.playbackCancel != nil {
		c.playbackCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.playbackCancel = cancel
	c.mutex.Unlock()

	c.sendJSON(map[string]interface{}{
		"type":        MessageTypeSpeakingStart,
		"session_id":  sessionID,
		"turn":        outcome.AssistantTurn,
		"provider":    reply.Provider,
		"duration_ms": reply.DurationMs,
	})

	for offset := 0; offset < len(reply.Audio); offset += playbackChunkSize {
		end := offset + playbackChunkSize
		if end > len(reply.Audio) {
			end = len(reply.Audio)
		}
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case c.send <- WriteData{Type: websocket.BinaryMessage, Payload: reply.Audio[offset:end]}:
		}
	}

	c.sendJSON(map[string]interface{}{
		"type":       MessageTypeSpeakingEnd,
		"session_id": sessionID,
		"timestamp":  time.Now().Unix(),
	})
}

// handleUtterance submits a typed message. The turn and reply reach the
// client through the session event relay.
func (c *Client) handleUtterance(msg *UtteranceMessage) {
	c.mutex.Lock()
	sessionID := c.sessionID
	c.mutex.Unlock()

	if sessionID == "" {
		c.sendError("no_session", "join a session before speaking")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if _, err := c.hub.store.SubmitUtterance(ctx, sessionID, msg.Text); err != nil {
		c.logger.Error("Utterance failed",
			zap.String("participantID", c.participantID),
			zap.String("sessionID", sessionID),
			zap.Error(err))
		c.sendError("turn_failed", "could not process the utterance")
	}
}

func (c *Client) sendJSON(payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("Failed to marshal outbound message", zap.Error(err))
		return
	}
	select {
	case <-c.done:
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: data}:
	default:
		c.logger.Warn("Dropped outbound message, send buffer full",
			zap.String("participantID", c.participantID))
	}
}

func (c *Client) sendError(code, message string) {
	c.sendJSON(CreateErrorMessage(code, message))
}
