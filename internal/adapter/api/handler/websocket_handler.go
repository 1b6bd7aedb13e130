package handler

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"lokapasar/internal/domain/repository"
	"lokapasar/internal/infrastructure/firebase"
	"lokapasar/internal/infrastructure/realtime"
	"lokapasar/pkg/errors"
	"lokapasar/pkg/logger"
)

type WebSocketHandler struct {
	dispatcher *realtime.Dispatcher
	authClient *firebase.FirebaseAuthClient
	userRepo   repository.UserRepository
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // You should restrict this in production
	},
}

func NewWebSocketHandler(dispatcher *realtime.Dispatcher, authClient *firebase.FirebaseAuthClient, userRepo repository.UserRepository) *WebSocketHandler {
	return &WebSocketHandler{
		dispatcher: dispatcher,
		authClient: authClient,
		userRepo:   userRepo,
	}
}

// HandleWebSocket authenticates the upgrade request and hands the connection
// to the realtime dispatcher. The token can come from the "token" query param
// (browser WebSocket clients cannot set headers) or a Bearer header.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	token := extractToken(c)
	if token == "" {
		return errors.Unauthorized("Authentication token is required", nil)
	}

	identity, err := h.authClient.VerifyToken(c.Request().Context(), token)
	if err != nil {
		return err
	}

	user, err := h.userRepo.GetByID(c.Request().Context(), identity.UID)
	if err != nil {
		return errors.Unauthorized("Unknown user", err)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("websocket: upgrade failed for %s: %v", identity.UID, err)
		return errors.Internal("Failed to upgrade connection", err)
	}

	username := user.Username
	if username == "" {
		username = identity.Name
	}

	client := &realtime.Client{
		ConnID:   uuid.New().String(),
		UserID:   identity.UID,
		Username: username,
		Conn:     conn,
		Send:     make(chan []byte, 256),
	}

	h.dispatcher.Connect(client)

	return nil
}

func extractToken(c echo.Context) string {
	if token := c.QueryParam("token"); token != "" {
		return token
	}
	authHeader := c.Request().Header.Get("Authorization")
	parts := strings.Split(authHeader, " ")
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}
