package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"mailflow-backend/internal/mailbox/domain"
	"mailflow-backend/internal/mailbox/usecase"
	"mailflow-backend/internal/realtime"
	"mailflow-backend/pkg/fcm"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// PushNotification is the payload Gmail publishes to the Pub/Sub topic.
type PushNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// Service consumes provider push notifications and drives them through
// resolution, ingestion and fan-out. The Pub/Sub message is acked before
// processing finishes; a dropped event is recovered by the reconciliation
// backstop, while a slow handler would cause provider-side retry storms.
type Service struct {
	pubsubClient *pubsub.Client
	resolver     *usecase.HistoryResolver
	pipeline     *usecase.IngestionPipeline
	hub          *realtime.Hub
	fcmClient    *fcm.Client
	projectID    string
	topicName    string
	subName      string
}

func NewService(projectID, topicName string, resolver *usecase.HistoryResolver, pipeline *usecase.IngestionPipeline, hub *realtime.Hub, fcmClient *fcm.Client, credentialsFile string) (*Service, error) {
	ctx := context.Background()

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	return &Service{
		pubsubClient: client,
		resolver:     resolver,
		pipeline:     pipeline,
		hub:          hub,
		fcmClient:    fcmClient,
		projectID:    projectID,
		topicName:    topicName,
		subName:      topicName + "-sub", // Convention: topic-sub
	}, nil
}

// Start ensures the subscription exists and blocks receiving messages until
// ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	log.Printf("[PubSub] Starting notification service with topic: %s, subscription: %s", s.topicName, s.subName)

	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		log.Printf("[PubSub] Error checking subscription existence: %v", err)
		return
	}

	if !exists {
		topic := s.pubsubClient.Topic(s.topicName)
		topicExists, err := topic.Exists(ctx)
		if err != nil {
			log.Printf("[PubSub] Error checking topic existence: %v", err)
			return
		}
		if !topicExists {
			log.Printf("[PubSub] Topic %s does not exist, cannot create subscription", s.topicName)
			return
		}

		sub, err = s.pubsubClient.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: 10 * time.Second,
		})
		if err != nil {
			log.Printf("[PubSub] Failed to create subscription: %v", err)
			return
		}
		log.Printf("[PubSub] Created subscription: %s", s.subName)
	}

	log.Printf("[PubSub] Listening for messages on subscription: %s", s.subName)
	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		// Ack immediately; the backstop covers anything lost after this.
		msg.Ack()
		s.handlePayload(msg.Data)
	})
	if err != nil {
		log.Printf("[PubSub] Error receiving messages: %v", err)
	}
}

// HandleWebhook processes an HTTP-delivered push payload. The caller (gin
// handler) has already responded to the provider; processing runs on the
// caller's goroutine, which is expected to be detached from the request.
func (s *Service) HandleWebhook(payload []byte) {
	s.handlePayload(payload)
}

func (s *Service) handlePayload(data []byte) {
	var n PushNotification
	if err := json.Unmarshal(data, &n); err != nil {
		log.Printf("[PubSub] Failed to unmarshal notification: %v", err)
		return
	}
	if n.EmailAddress == "" {
		return
	}

	event := domain.InboundChangeEvent{
		EmailAddress: n.EmailAddress,
		Cursor:       fmt.Sprintf("%d", n.HistoryID),
		ReceivedAt:   time.Now(),
	}

	ctx := context.Background()
	ids, account, err := s.resolver.Resolve(ctx, event)
	if err != nil {
		log.Printf("[PubSub] Resolution failed for %s: %v", n.EmailAddress, err)
		return
	}
	if account == nil {
		// Unregistered or stale webhook; not an error.
		return
	}
	if len(ids) == 0 {
		return
	}

	ingested := s.pipeline.Ingest(ctx, account, ids)
	if len(ingested) == 0 {
		return
	}

	messageIDs := make([]string, len(ingested))
	for i, m := range ingested {
		messageIDs[i] = m.ProviderMessageID
	}

	if s.hub != nil {
		s.hub.Broadcast(account.UserID, realtime.NewMessagesEvent{
			AccountEmail: account.Email,
			MessageIDs:   messageIDs,
		})
	}

	s.pushToDevices(account, ingested)
}

// pushToDevices sends an FCM notification describing the newest message.
// Device push is a convenience layer on top of the websocket fan-out.
func (s *Service) pushToDevices(account *domain.MailboxAccount, ingested []*domain.CanonicalMessage) {
	if s.fcmClient == nil {
		return
	}

	go func() {
		latest := ingested[len(ingested)-1]
		title := fmt.Sprintf("New mail from %s", latest.FromAddress)
		body := latest.Subject
		if body == "" {
			body = "(no subject)"
		}
		if len(ingested) > 1 {
			body = fmt.Sprintf("%s (+%d more)", body, len(ingested)-1)
		}

		err := s.fcmClient.SendToUser(context.Background(), account.UserID, fcm.NotificationData{
			Title: title,
			Body:  body,
			Data: map[string]string{
				"type":         "new_messages",
				"accountEmail": account.Email,
				"messageId":    latest.ProviderMessageID,
			},
		})
		if err != nil {
			log.Printf("[FCM] Push failed for user %s: %v", account.UserID, err)
		}
	}()
}
