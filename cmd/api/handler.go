package api

import (
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"mailflow-backend/internal/mailbox/domain"
	"mailflow-backend/internal/mailbox/repository"
	"mailflow-backend/internal/mailbox/usecase"
	"mailflow-backend/internal/notification"
	"mailflow-backend/internal/realtime"
	"mailflow-backend/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Handler struct {
	accountRepo  repository.AccountRepository
	sendRepo     repository.ScheduledSendRepository
	tokenRepo    repository.DeviceTokenRepository
	watchManager *usecase.WatchManager
	notifService *notification.Service
	hub          *realtime.Hub
	config       *config.Config
	upgrader     websocket.Upgrader
}

func NewHandler(
	accountRepo repository.AccountRepository,
	sendRepo repository.ScheduledSendRepository,
	tokenRepo repository.DeviceTokenRepository,
	watchManager *usecase.WatchManager,
	notifService *notification.Service,
	hub *realtime.Hub,
	cfg *config.Config,
) *Handler {
	return &Handler{
		accountRepo:  accountRepo,
		sendRepo:     sendRepo,
		tokenRepo:    tokenRepo,
		watchManager: watchManager,
		notifService: notifService,
		hub:          hub,
		config:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients authenticate with the bearer token, not the
			// Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) Start(addr string) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	// CORS middleware
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	SetupRoutes(r, h)

	return r.Run(addr)
}

// pubsubPushEnvelope is the JSON body Google Pub/Sub posts to a push
// endpoint. The inner data field carries the base64-encoded notification.
type pubsubPushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// HandleWebhook receives a Pub/Sub push delivery. It acknowledges with 200
// immediately and hands the payload to the notification service on a
// separate goroutine; slow resolution must never cause provider-side
// redelivery storms.
func (h *Handler) HandleWebhook(c *gin.Context) {
	if h.notifService == nil {
		c.Status(http.StatusOK)
		return
	}

	var envelope pubsubPushEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		// Malformed push bodies are acknowledged too: redelivering them
		// cannot make them parse.
		log.Printf("[Webhook] Malformed push envelope: %v", err)
		c.Status(http.StatusOK)
		return
	}

	payload, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		log.Printf("[Webhook] Failed to decode push data: %v", err)
		c.Status(http.StatusOK)
		return
	}

	c.Status(http.StatusOK)
	go h.notifService.HandleWebhook(payload)
}

// HandleRealtime upgrades the authenticated request to a websocket and
// registers it for new-message fan-out.
func (h *Handler) HandleRealtime(c *gin.Context) {
	userID := c.GetString("userID")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[Realtime] Websocket upgrade failed: %v", err)
		return
	}

	client := realtime.NewClient(h.hub, conn)
	h.hub.Register(userID, client)

	go client.WritePump()
	go client.ReadPump()
}

// EstablishWatch starts (or restarts) push notifications for an account.
func (h *Handler) EstablishWatch(c *gin.Context) {
	account, ok := h.loadOwnedAccount(c)
	if !ok {
		return
	}

	if err := h.watchManager.EstablishWatch(c.Request.Context(), account); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.accountRepo.FindByID(account.ID)
	if err != nil || updated == nil {
		updated = account
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id":   updated.ID,
		"watch_expiry": updated.WatchExpiry,
	})
}

// CancelWatch stops push notifications and marks the account disconnected.
func (h *Handler) CancelWatch(c *gin.Context) {
	account, ok := h.loadOwnedAccount(c)
	if !ok {
		return
	}

	if err := h.watchManager.Cancel(c.Request.Context(), account); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"account_id": account.ID, "disconnected": true})
}

type createSendRequest struct {
	AccountID string    `json:"account_id" binding:"required"`
	To        []string  `json:"to" binding:"required"`
	Cc        []string  `json:"cc"`
	Bcc       []string  `json:"bcc"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	SendAt    time.Time `json:"send_at" binding:"required"`
}

// CreateScheduledSend queues a message for deferred delivery.
func (h *Handler) CreateScheduledSend(c *gin.Context) {
	userID := c.GetString("userID")

	var req createSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.accountRepo.FindByID(req.AccountID)
	if err != nil || account == nil || account.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}

	send := &domain.ScheduledSend{
		ID:           uuid.New().String(),
		UserID:       userID,
		AccountID:    req.AccountID,
		ToAddresses:  strings.Join(req.To, ", "),
		CcAddresses:  strings.Join(req.Cc, ", "),
		BccAddresses: strings.Join(req.Bcc, ", "),
		Subject:      req.Subject,
		Body:         req.Body,
		SendAt:       req.SendAt,
		Status:       domain.SendPending,
	}
	if err := h.sendRepo.Create(send); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to schedule send"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": send.ID, "send_at": send.SendAt, "status": "pending"})
}

// CancelScheduledSend aborts a pending send. A send already picked up for
// delivery cannot be recalled.
func (h *Handler) CancelScheduledSend(c *gin.Context) {
	userID := c.GetString("userID")
	id := c.Param("id")

	send, err := h.sendRepo.FindByID(id)
	if err != nil || send == nil || send.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "scheduled send not found"})
		return
	}

	if err := h.sendRepo.Cancel(id); err != nil {
		if errors.Is(err, repository.ErrNotCancellable) {
			c.JSON(http.StatusConflict, gin.H{"error": "send already processing or completed"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel send"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "status": "cancelled"})
}

type registerTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// RegisterDeviceToken stores an FCM token for the authenticated user.
func (h *Handler) RegisterDeviceToken(c *gin.Context) {
	userID := c.GetString("userID")

	var req registerTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.tokenRepo.Save(userID, req.Token); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"registered": true})
}

// UnregisterDeviceToken removes an FCM token.
func (h *Handler) UnregisterDeviceToken(c *gin.Context) {
	token := c.Param("token")
	if err := h.tokenRepo.DeleteToken(token); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unregister token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unregistered": true})
}

func (h *Handler) loadOwnedAccount(c *gin.Context) (*domain.MailboxAccount, bool) {
	userID := c.GetString("userID")
	id := c.Param("id")

	account, err := h.accountRepo.FindByID(id)
	if err != nil || account == nil || account.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return nil, false
	}
	return account, true
}
