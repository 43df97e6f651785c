package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GmailGateway implements Gateway against the Gmail API.
type GmailGateway struct {
	clientID     string
	clientSecret string
	topicName    string
}

func NewGmailGateway(clientID, clientSecret, topicName string) *GmailGateway {
	return &GmailGateway{
		clientID:     clientID,
		clientSecret: clientSecret,
		topicName:    topicName,
	}
}

// notifyTokenSource wraps an oauth2 token source and invokes a callback when
// the access token changes, so refreshed tokens get persisted.
type notifyTokenSource struct {
	src      oauth2.TokenSource
	current  *oauth2.Token
	callback TokenUpdateFunc
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.callback != nil && s.current.AccessToken != t.AccessToken {
		s.current = t
		if err := s.callback(t.AccessToken, t.RefreshToken); err != nil {
			return nil, fmt.Errorf("failed to persist refreshed token: %w", err)
		}
	}
	return t, nil
}

func (g *GmailGateway) service(ctx context.Context, creds Credentials, onTokenRefresh TokenUpdateFunc) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    "Bearer",
	}

	// Only force refresh if we have a refresh token
	if creds.RefreshToken != "" {
		token.Expiry = time.Now()
	}

	config := &oauth2.Config{
		ClientID:     g.clientID,
		ClientSecret: g.clientSecret,
		Endpoint:     google.Endpoint,
	}

	wrappedSource := &notifyTokenSource{
		src:      config.TokenSource(ctx, token),
		current:  token,
		callback: onTokenRefresh,
	}

	client := oauth2.NewClient(ctx, wrappedSource)
	// oauth2.NewClient returns a client with no timeout; callers bound each
	// call with a context, this is the floor for anything that slips through.
	client.Timeout = 2 * time.Minute

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}

	return srv, nil
}

// classify maps Gmail API failures onto the gateway error taxonomy. The zero
// fallthrough keeps transient errors as-is for the caller's own backoff.
func classify(err error, staleOn404 bool) error {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*googleapi.Error); ok {
		switch apiErr.Code {
		case 401:
			return fmt.Errorf("%w: %v", ErrAuthExpired, err)
		case 403:
			return fmt.Errorf("%w: %v", ErrPermanent, err)
		case 404:
			if staleOn404 {
				return fmt.Errorf("%w: %v", ErrStaleCursor, err)
			}
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
	}
	if strings.Contains(err.Error(), "invalid_grant") {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	return err
}

func (g *GmailGateway) FetchMessage(ctx context.Context, creds Credentials, id string, onTokenRefresh TokenUpdateFunc) (*Message, error) {
	srv, err := g.service(ctx, creds, onTokenRefresh)
	if err != nil {
		return nil, err
	}

	msg, err := srv.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, classify(err, false)
	}

	return convertGmailMessage(msg), nil
}

func (g *GmailGateway) ListHistorySince(ctx context.Context, creds Credentials, cursor string, onTokenRefresh TokenUpdateFunc) ([]string, string, error) {
	srv, err := g.service(ctx, creds, onTokenRefresh)
	if err != nil {
		return nil, "", err
	}

	startID, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return nil, "", fmt.Errorf("%w: malformed cursor %q", ErrStaleCursor, cursor)
	}

	var added []string
	seen := make(map[string]struct{})
	latest := startID
	pageToken := ""

	for {
		call := srv.Users.History.List("me").
			StartHistoryId(startID).
			HistoryTypes("messageAdded").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			// Gmail reports an expired startHistoryId as 404.
			return nil, "", classify(err, true)
		}

		for _, h := range resp.History {
			if h.Id > latest {
				latest = h.Id
			}
			for _, ma := range h.MessagesAdded {
				if ma.Message == nil {
					continue
				}
				if _, dup := seen[ma.Message.Id]; dup {
					continue
				}
				seen[ma.Message.Id] = struct{}{}
				added = append(added, ma.Message.Id)
			}
		}

		if resp.HistoryId > latest {
			latest = resp.HistoryId
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	return added, strconv.FormatUint(latest, 10), nil
}

func (g *GmailGateway) ListRecent(ctx context.Context, creds Credentials, limit int, onTokenRefresh TokenUpdateFunc) ([]string, string, error) {
	srv, err := g.service(ctx, creds, onTokenRefresh)
	if err != nil {
		return nil, "", err
	}

	if limit <= 0 || limit > 500 {
		limit = 500 // Gmail API maximum
	}

	resp, err := srv.Users.Messages.List("me").
		LabelIds("INBOX").
		MaxResults(int64(limit)).
		Context(ctx).Do()
	if err != nil {
		return nil, "", classify(err, false)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}

	profile, err := srv.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return nil, "", classify(err, false)
	}

	return ids, strconv.FormatUint(profile.HistoryId, 10), nil
}

func (g *GmailGateway) EstablishWatch(ctx context.Context, creds Credentials, onTokenRefresh TokenUpdateFunc) (string, time.Time, error) {
	srv, err := g.service(ctx, creds, onTokenRefresh)
	if err != nil {
		return "", time.Time{}, err
	}

	// Stop any existing watch first; Gmail allows only one push client per
	// user. A failure here just means there was nothing to stop.
	_ = srv.Users.Stop("me").Do()

	req := &gmail.WatchRequest{
		TopicName: g.topicName,
		LabelIds:  []string{"INBOX"},
	}

	resp, err := srv.Users.Watch("me", req).Context(ctx).Do()
	if err != nil {
		return "", time.Time{}, classify(err, false)
	}

	cursor := strconv.FormatUint(resp.HistoryId, 10)
	expiry := time.UnixMilli(resp.Expiration)
	return cursor, expiry, nil
}

func (g *GmailGateway) RenewWatch(ctx context.Context, creds Credentials, onTokenRefresh TokenUpdateFunc) (string, time.Time, error) {
	// Gmail has no separate renew call; re-issuing watch extends the window.
	return g.EstablishWatch(ctx, creds, onTokenRefresh)
}

func (g *GmailGateway) CancelWatch(ctx context.Context, creds Credentials, onTokenRefresh TokenUpdateFunc) error {
	srv, err := g.service(ctx, creds, onTokenRefresh)
	if err != nil {
		return err
	}

	if err := srv.Users.Stop("me").Context(ctx).Do(); err != nil {
		return classify(err, false)
	}
	return nil
}

func (g *GmailGateway) SendMessage(ctx context.Context, creds Credentials, msg *OutgoingMessage, onTokenRefresh TokenUpdateFunc) error {
	srv, err := g.service(ctx, creds, onTokenRefresh)
	if err != nil {
		return err
	}

	var raw bytes.Buffer
	raw.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(msg.To, ", ")))
	if len(msg.Cc) > 0 {
		raw.WriteString(fmt.Sprintf("Cc: %s\r\n", strings.Join(msg.Cc, ", ")))
	}
	if len(msg.Bcc) > 0 {
		raw.WriteString(fmt.Sprintf("Bcc: %s\r\n", strings.Join(msg.Bcc, ", ")))
	}
	// Encode subject to handle non-ASCII characters (RFC 2047)
	encodedSubject := fmt.Sprintf("=?utf-8?B?%s?=", base64.StdEncoding.EncodeToString([]byte(msg.Subject)))
	raw.WriteString(fmt.Sprintf("Subject: %s\r\n", encodedSubject))
	raw.WriteString("MIME-Version: 1.0\r\n")
	raw.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	raw.WriteString(msg.Body)

	gmsg := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw.Bytes()),
	}

	if _, err := srv.Users.Messages.Send("me", gmsg).Context(ctx).Do(); err != nil {
		return classify(err, false)
	}
	return nil
}

// Helper functions

func convertGmailMessage(msg *gmail.Message) *Message {
	to := splitAddressHeader(getHeader(msg.Payload.Headers, "To"))
	cc := splitAddressHeader(getHeader(msg.Payload.Headers, "Cc"))
	body := getMessageBody(msg.Payload)

	return &Message{
		ProviderID: msg.Id,
		ThreadID:   msg.ThreadId,
		From:       getHeader(msg.Payload.Headers, "From"),
		To:         to,
		Cc:         cc,
		Subject:    getHeader(msg.Payload.Headers, "Subject"),
		Body:       body,
		ReceivedAt: time.Unix(msg.InternalDate/1000, 0),
	}
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if header.Name == name {
			return header.Value
		}
	}
	return ""
}

func splitAddressHeader(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getMessageBody(payload *gmail.MessagePart) string {
	// If the payload itself is the body
	if payload.Body != nil && payload.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(payload.Body.Data)
		if err == nil {
			return string(data)
		}
	}

	var htmlBody string
	var plainBody string

	var findBody func(parts []*gmail.MessagePart)
	findBody = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.MimeType == "text/html" {
				if part.Body != nil && part.Body.Data != "" {
					data, err := base64.URLEncoding.DecodeString(part.Body.Data)
					if err == nil {
						htmlBody = string(data)
					}
				}
			} else if part.MimeType == "text/plain" {
				if part.Body != nil && part.Body.Data != "" {
					data, err := base64.URLEncoding.DecodeString(part.Body.Data)
					if err == nil {
						plainBody = string(data)
					}
				}
			}

			if len(part.Parts) > 0 {
				findBody(part.Parts)
			}
		}
	}

	findBody(payload.Parts)

	if htmlBody != "" {
		return htmlBody
	}
	return plainBody
}
