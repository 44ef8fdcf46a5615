package api

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/kintsugi-app/server/domain/entities"
	"github.com/kintsugi-app/server/domain/repositories"
	"github.com/kintsugi-app/server/internal/auth"
	"github.com/kintsugi-app/server/internal/websocket"
	"github.com/kintsugi-app/server/usecase"
)

const participantIDKey = "participant_id"

// Handlers bundles the services the REST surface depends on.
type Handlers struct {
	store        *usecase.SessionStore
	conflict     *usecase.ConflictAnalyzer
	analyzer     repositories.EmotionAnalyzer
	participants repositories.ParticipantRepository
	issuer       *auth.TokenIssuer
	hub          *websocket.Hub
	logger       *zap.Logger
}

// NewHandlers creates the REST handler set.
func NewHandlers(
	store *usecase.SessionStore,
	conflict *usecase.ConflictAnalyzer,
	analyzer repositories.EmotionAnalyzer,
	participants repositories.ParticipantRepository,
	issuer *auth.TokenIssuer,
	hub *websocket.Hub,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		store:        store,
		conflict:     conflict,
		analyzer:     analyzer,
		participants: participants,
		issuer:       issuer,
		hub:          hub,
		logger:       logger,
	}
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, h *Handlers) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "kintsugi-server",
		})
	})

	v1 := e.Group("/api/v1")

	// Participant APIs
	v1.POST("/participants/register", h.participantRegister)
	v1.POST("/participants/auth", h.participantAuth)

	// Everything below requires a participant token.
	authed := v1.Group("", h.requireParticipant)

	// Session APIs
	authed.POST("/sessions", h.createSession)
	authed.GET("/sessions", h.listSessions)
	authed.GET("/sessions/:id", h.getSession)
	authed.POST("/sessions/:id/join", h.joinSession)
	authed.POST("/sessions/:id/start", h.startSession)
	authed.PATCH("/sessions/:id/phase", h.advancePhase)
	authed.PATCH("/sessions/:id/status", h.updateStatus)
	authed.GET("/sessions/:id/messages", h.getMessages)
	authed.POST("/sessions/:id/messages", h.submitMessage)

	// Conversation APIs
	authed.POST("/conversations/udine-response", h.udineResponse)
	authed.POST("/conversations/analyze-conflict", h.analyzeConflict)

	// Emotion APIs
	authed.POST("/emotions/analyze", h.analyzeEmotion)

	// WebSocket endpoint with JWT validation
	e.GET("/ws", h.websocketWithAuth)
}

// requireParticipant validates the Bearer token and stashes the participant
// ID in the request context.
func (h *Handlers) requireParticipant(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c)
		if token == "" {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "missing_token",
				Message: "JWT token is required in Authorization header",
			})
		}

		claims, err := h.issuer.ValidateToken(token)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_token",
				Message: "Invalid or expired JWT token",
			})
		}
		if claims.ParticipantID == "" {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_token_claims",
				Message: "Participant ID not found in token",
			})
		}

		c.Set(participantIDKey, claims.ParticipantID)
		return next(c)
	}
}

func (h *Handlers) participantRegister(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if req.Email == "" || req.Secret == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Email and secret are required",
		})
	}

	participant := &repositories.Participant{
		DisplayName: req.DisplayName,
		Email:       req.Email,
	}
	if err := h.participants.Create(c.Request().Context(), participant, req.Secret); err != nil {
		h.logger.Warn("Participant registration failed",
			zap.String("email", req.Email),
			zap.Error(err))
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "registration_failed",
			Message: err.Error(),
		})
	}

	return c.JSON(http.StatusCreated, participant)
}

func (h *Handlers) participantAuth(c echo.Context) error {
	var req AuthRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if req.Email == "" || req.Secret == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Email and secret are required",
		})
	}

	participant, err := h.participants.ValidateCredentials(req.Email, req.Secret)
	if err != nil {
		h.logger.Warn("Participant authentication failed",
			zap.String("email", req.Email),
			zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid credentials",
		})
	}

	token, err := h.issuer.GenerateParticipantToken(participant.ID)
	if err != nil {
		h.logger.Error("Failed to generate participant token",
			zap.String("participantID", participant.ID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	return c.JSON(http.StatusOK, AuthResponse{
		Token:         token,
		ExpiresAt:     time.Now().Add(7 * 24 * time.Hour),
		ParticipantID: participant.ID,
	})
}

func (h *Handlers) createSession(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if req.Mode == "" {
		req.Mode = entities.SessionModeSolo
	}

	session, err := h.store.CreateSession(c.Request().Context(), req.Title, req.Mode, participantID(c))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, session)
}

func (h *Handlers) listSessions(c echo.Context) error {
	sessions, err := h.store.ListSessions(c.Request().Context(), participantID(c))
	if err != nil {
		return h.writeError(c, err)
	}
	if sessions == nil {
		sessions = []*entities.Session{}
	}
	return c.JSON(http.StatusOK, sessions)
}

func (h *Handlers) getSession(c echo.Context) error {
	session, err := h.store.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	if !session.HasParticipant(participantID(c)) {
		return c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "not_a_participant",
			Message: "Participant has not joined this session",
		})
	}
	return c.JSON(http.StatusOK, session)
}

func (h *Handlers) joinSession(c echo.Context) error {
	session, err := h.store.JoinSession(c.Request().Context(), c.Param("id"), participantID(c))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

func (h *Handlers) startSession(c echo.Context) error {
	session, err := h.store.StartSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

func (h *Handlers) advancePhase(c echo.Context) error {
	var req AdvancePhaseRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if req.Trigger == "" {
		req.Trigger = entities.TriggerManual
	}

	session, err := h.store.AdvancePhase(c.Request().Context(), c.Param("id"), req.Phase, req.Trigger)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

func (h *Handlers) updateStatus(c echo.Context) error {
	var req UpdateStatusRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	var session *entities.Session
	var err error
	switch req.Status {
	case entities.SessionStatusCompleted:
		session, err = h.store.CompleteSession(c.Request().Context(), c.Param("id"))
	case entities.SessionStatusCancelled:
		session, err = h.store.CancelSession(c.Request().Context(), c.Param("id"))
	default:
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_status",
			Message: "Status must be completed or cancelled",
		})
	}
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

func (h *Handlers) getMessages(c echo.Context) error {
	session, err := h.store.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	if !session.HasParticipant(participantID(c)) {
		return c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "not_a_participant",
			Message: "Participant has not joined this session",
		})
	}
	turns := session.Turns
	if turns == nil {
		turns = []entities.ConversationTurn{}
	}
	return c.JSON(http.StatusOK, MessagesResponse{SessionID: session.ID, Turns: turns})
}

func (h *Handlers) submitMessage(c echo.Context) error {
	var req SubmitMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if strings.TrimSpace(req.Text) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Text is required",
		})
	}

	outcome, err := h.store.SubmitUtterance(c.Request().Context(), c.Param("id"), req.Text)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, outcome)
}

// udineResponse is the session-independent form of submitMessage, mirroring
// the client contract that addresses the mediator directly.
func (h *Handlers) udineResponse(c echo.Context) error {
	var req UdineResponseRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if req.SessionID == "" || strings.TrimSpace(req.Message) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Session ID and message are required",
		})
	}

	outcome, err := h.store.SubmitUtterance(c.Request().Context(), req.SessionID, req.Message)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, outcome)
}

func (h *Handlers) analyzeConflict(c echo.Context) error {
	var req AnalyzeConflictRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if req.SessionID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Session ID is required",
		})
	}

	session, err := h.store.GetSession(c.Request().Context(), req.SessionID)
	if err != nil {
		return h.writeError(c, err)
	}

	analysis, err := h.conflict.Analyze(c.Request().Context(), session.ID, session.Turns)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, analysis)
}

func (h *Handlers) analyzeEmotion(c echo.Context) error {
	var req AnalyzeEmotionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if req.Text == "" && req.AudioData == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Text or audio data is required",
		})
	}

	input := repositories.AnalysisInput{
		SessionID: req.SessionID,
		Modality:  repositories.AnalysisModality(req.Modality),
		Text:      req.Text,
	}
	if input.Modality == "" {
		input.Modality = repositories.ModalityText
	}
	if req.AudioData != "" {
		audio, err := base64.StdEncoding.DecodeString(req.AudioData)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_audio",
				Message: "Audio data must be base64 encoded",
			})
		}
		input.AudioData = audio
		if req.Modality == "" {
			input.Modality = repositories.ModalityVoice
		}
	}

	record, err := h.analyzer.Analyze(c.Request().Context(), input)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, record)
}

// websocketWithAuth handles WebSocket connections with JWT authentication
func (h *Handlers) websocketWithAuth(c echo.Context) error {
	token := bearerToken(c)
	if token == "" {
		// Browser websocket clients cannot set headers.
		token = c.QueryParam("token")
	}
	if token == "" {
		h.logger.Warn("WebSocket connection rejected: missing token")
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "missing_token",
			Message: "JWT token is required",
		})
	}

	claims, err := h.issuer.ValidateToken(token)
	if err != nil {
		h.logger.Warn("WebSocket connection rejected: invalid token", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired JWT token",
		})
	}
	if claims.ParticipantID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_token_claims",
			Message: "Participant ID not found in token",
		})
	}

	h.logger.Info("WebSocket connection authenticated",
		zap.String("participantID", claims.ParticipantID))

	return websocket.HandleWebSocketWithAuth(h.hub, c, claims.ParticipantID, h.logger)
}

// writeError maps domain errors onto HTTP statuses.
func (h *Handlers) writeError(c echo.Context, err error) error {
	var illegal *entities.IllegalTransitionError
	var mediation *entities.MediationServiceError
	var unavailable *entities.AnalysisUnavailableError
	var persistence *entities.PersistenceError

	switch {
	case errors.As(err, &illegal):
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "illegal_transition",
			Message: err.Error(),
		})
	case errors.Is(err, entities.ErrInvalidState):
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "invalid_state",
			Message: err.Error(),
		})
	case errors.Is(err, entities.ErrSubmissionInFlight):
		return c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Error:   "submission_in_flight",
			Message: err.Error(),
		})
	case errors.As(err, &mediation):
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "mediation_unavailable",
			Message: err.Error(),
		})
	case errors.As(err, &unavailable):
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "analysis_unavailable",
			Message: err.Error(),
		})
	case errors.As(err, &persistence):
		h.logger.Error("Persistence failure", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "persistence_failure",
			Message: "Storage operation failed",
		})
	case strings.Contains(err.Error(), "not found"):
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: err.Error(),
		})
	default:
		h.logger.Error("Unhandled error", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
	}
}

func participantID(c echo.Context) string {
	id, _ := c.Get(participantIDKey).(string)
	return id
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return header[7:]
	}
	return ""
}
