package fcm

import (
	"context"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// TokenStore resolves device tokens for a user and discards tokens FCM
// rejects.
type TokenStore interface {
	GetTokensByUserID(userID string) ([]string, error)
	DeleteToken(token string) error
}

// Client wraps Firebase Cloud Messaging functionality
type Client struct {
	messagingClient *messaging.Client
	tokens          TokenStore
}

// NewClient creates a new FCM client using the provided credentials file
func NewClient(credentialsFile string, tokens TokenStore) (*Client, error) {
	ctx := context.Background()

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	messagingClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}

	log.Println("[FCM] Client initialized successfully")
	return &Client{
		messagingClient: messagingClient,
		tokens:          tokens,
	}, nil
}

// NotificationData contains the data to send in a push notification
type NotificationData struct {
	Title string
	Body  string
	Data  map[string]string // Custom data payload
}

// SendToUser delivers a notification to every registered device of a user.
// Tokens FCM rejects are removed from the store.
func (c *Client) SendToUser(ctx context.Context, userID string, notification NotificationData) error {
	tokens, err := c.tokens.GetTokensByUserID(userID)
	if err != nil {
		return fmt.Errorf("failed to load tokens for user %s: %w", userID, err)
	}
	if len(tokens) == 0 {
		return nil
	}

	failed, err := c.SendToDevices(ctx, tokens, notification)
	if err != nil {
		return err
	}

	for _, token := range failed {
		if delErr := c.tokens.DeleteToken(token); delErr != nil {
			log.Printf("[FCM] Failed to delete stale token: %v", delErr)
		}
	}
	return nil
}

// SendToDevices sends a push notification to multiple device tokens
// Returns a list of tokens that failed to receive the notification
func (c *Client) SendToDevices(ctx context.Context, tokens []string, notification NotificationData) ([]string, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	message := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: notification.Title,
			Body:  notification.Body,
		},
		Data: notification.Data,
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: notification.Title,
				Body:  notification.Body,
				Icon:  "/icon-192.svg",
			},
		},
	}

	response, err := c.messagingClient.SendEachForMulticast(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("failed to send FCM multicast message: %w", err)
	}

	log.Printf("[FCM] Multicast sent: %d success, %d failures", response.SuccessCount, response.FailureCount)

	// Collect failed tokens
	var failedTokens []string
	for i, resp := range response.Responses {
		if !resp.Success {
			failedTokens = append(failedTokens, tokens[i])
		}
	}

	return failedTokens, nil
}
