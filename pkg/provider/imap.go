package provider

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
)

const imapDialTimeout = 30 * time.Second

// IMAPGateway implements Gateway against a plain IMAP server. IMAP has no
// push subscription, so watches are emulated with a fixed expiry window and
// delivery relies entirely on the reconciliation backstop.
type IMAPGateway struct {
	watchWindow time.Duration
}

func NewIMAPGateway(watchWindow time.Duration) *IMAPGateway {
	if watchWindow <= 0 {
		watchWindow = 24 * time.Hour
	}
	return &IMAPGateway{watchWindow: watchWindow}
}

// The IMAP cursor encodes "uidvalidity:uidnext". A UIDVALIDITY change means
// every stored UID is void, which maps onto the stale-cursor fallback.
func encodeIMAPCursor(validity, next uint32) string {
	return fmt.Sprintf("%d:%d", validity, next)
}

func decodeIMAPCursor(cursor string) (validity, next uint32, err error) {
	parts := strings.SplitN(cursor, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed imap cursor %q", cursor)
	}
	v, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, err
	}
	n, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, err
	}
	return uint32(v), uint32(n), nil
}

func (g *IMAPGateway) connect(ctx context.Context, creds Credentials) (*client.Client, error) {
	dialer := &net.Dialer{Timeout: imapDialTimeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	c, err := client.DialWithDialerTLS(dialer, creds.Host, nil)
	if err != nil {
		return nil, fmt.Errorf("imap dial failed: %w", err)
	}

	// Command-level timeout; without it a stalled server blocks the session
	// forever since the protocol library takes no context.
	c.Timeout = imapDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < c.Timeout {
			c.Timeout = remaining
		}
	}

	if err := c.Login(creds.Email, creds.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("%w: imap login: %v", ErrAuthExpired, err)
	}

	return c, nil
}

func (g *IMAPGateway) FetchMessage(ctx context.Context, creds Credentials, id string, onTokenRefresh TokenUpdateFunc) (*Message, error) {
	c, err := g.connect(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	if _, err := c.Select("INBOX", true); err != nil {
		return nil, fmt.Errorf("imap select failed: %w", err)
	}

	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: bad imap message id %q", ErrNotFound, id)
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uint32(uid))

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	if err := c.UidFetch(seqset, items, messages); err != nil {
		return nil, fmt.Errorf("imap fetch failed: %w", err)
	}

	msg := <-messages
	if msg == nil {
		return nil, fmt.Errorf("%w: uid %s", ErrNotFound, id)
	}

	return convertIMAPMessage(msg, section)
}

func (g *IMAPGateway) ListHistorySince(ctx context.Context, creds Credentials, cursor string, onTokenRefresh TokenUpdateFunc) ([]string, string, error) {
	validity, lastNext, err := decodeIMAPCursor(cursor)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrStaleCursor, err)
	}

	c, err := g.connect(ctx, creds)
	if err != nil {
		return nil, "", err
	}
	defer c.Logout()

	mbox, err := c.Select("INBOX", true)
	if err != nil {
		return nil, "", fmt.Errorf("imap select failed: %w", err)
	}

	if mbox.UidValidity != validity {
		return nil, "", fmt.Errorf("%w: uidvalidity changed %d -> %d", ErrStaleCursor, validity, mbox.UidValidity)
	}

	newCursor := encodeIMAPCursor(mbox.UidValidity, mbox.UidNext)
	if mbox.UidNext <= lastNext {
		return nil, newCursor, nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.Uid = new(imap.SeqSet)
	criteria.Uid.AddRange(lastNext, mbox.UidNext-1)

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, "", fmt.Errorf("imap search failed: %w", err)
	}

	ids := make([]string, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, strconv.FormatUint(uint64(uid), 10))
	}

	return ids, newCursor, nil
}

func (g *IMAPGateway) ListRecent(ctx context.Context, creds Credentials, limit int, onTokenRefresh TokenUpdateFunc) ([]string, string, error) {
	c, err := g.connect(ctx, creds)
	if err != nil {
		return nil, "", err
	}
	defer c.Logout()

	mbox, err := c.Select("INBOX", true)
	if err != nil {
		return nil, "", fmt.Errorf("imap select failed: %w", err)
	}

	if limit <= 0 {
		limit = 100
	}

	if mbox.Messages == 0 {
		return nil, encodeIMAPCursor(mbox.UidValidity, mbox.UidNext), nil
	}

	from := uint32(1)
	if mbox.Messages > uint32(limit) {
		from = mbox.Messages - uint32(limit) + 1
	}

	seqset := new(imap.SeqSet)
	seqset.AddRange(from, mbox.Messages)

	messages := make(chan *imap.Message, limit)
	if err := c.Fetch(seqset, []imap.FetchItem{imap.FetchUid}, messages); err != nil {
		return nil, "", fmt.Errorf("imap fetch failed: %w", err)
	}

	var ids []string
	for msg := range messages {
		ids = append(ids, strconv.FormatUint(uint64(msg.Uid), 10))
	}

	return ids, encodeIMAPCursor(mbox.UidValidity, mbox.UidNext), nil
}

func (g *IMAPGateway) EstablishWatch(ctx context.Context, creds Credentials, onTokenRefresh TokenUpdateFunc) (string, time.Time, error) {
	c, err := g.connect(ctx, creds)
	if err != nil {
		return "", time.Time{}, err
	}
	defer c.Logout()

	mbox, err := c.Select("INBOX", true)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("imap select failed: %w", err)
	}

	cursor := encodeIMAPCursor(mbox.UidValidity, mbox.UidNext)
	return cursor, time.Now().Add(g.watchWindow), nil
}

func (g *IMAPGateway) RenewWatch(ctx context.Context, creds Credentials, onTokenRefresh TokenUpdateFunc) (string, time.Time, error) {
	return g.EstablishWatch(ctx, creds, onTokenRefresh)
}

func (g *IMAPGateway) CancelWatch(ctx context.Context, creds Credentials, onTokenRefresh TokenUpdateFunc) error {
	// Nothing registered server-side for IMAP.
	return nil
}

func (g *IMAPGateway) SendMessage(ctx context.Context, creds Credentials, msg *OutgoingMessage, onTokenRefresh TokenUpdateFunc) error {
	return fmt.Errorf("%w: imap accounts deliver through their SMTP transport", ErrPermanent)
}

func convertIMAPMessage(msg *imap.Message, section *imap.BodySectionName) (*Message, error) {
	out := &Message{
		ProviderID: strconv.FormatUint(uint64(msg.Uid), 10),
		ReceivedAt: msg.InternalDate,
	}

	if msg.Envelope != nil {
		out.Subject = msg.Envelope.Subject
		out.From = formatIMAPAddresses(msg.Envelope.From)
		for _, a := range msg.Envelope.To {
			out.To = append(out.To, a.Address())
		}
		for _, a := range msg.Envelope.Cc {
			out.Cc = append(out.Cc, a.Address())
		}
		if msg.Envelope.MessageId != "" {
			out.ThreadID = msg.Envelope.MessageId
		}
	}

	body := msg.GetBody(section)
	if body == nil {
		return out, nil
	}

	mr, err := mail.CreateReader(body)
	if err != nil {
		// Keep the envelope even when the MIME structure is unreadable.
		return out, nil
	}

	var plain, html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		if h, ok := p.Header.(*mail.InlineHeader); ok {
			ct, _, _ := h.ContentType()
			data, readErr := io.ReadAll(p.Body)
			if readErr != nil {
				continue
			}
			switch ct {
			case "text/html":
				html = string(data)
			case "text/plain":
				plain = string(data)
			}
		}
	}

	if html != "" {
		out.Body = html
	} else {
		out.Body = plain
	}

	return out, nil
}

func formatIMAPAddresses(addrs []*imap.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a.PersonalName != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", a.PersonalName, a.Address()))
		} else {
			parts = append(parts, a.Address())
		}
	}
	return strings.Join(parts, ", ")
}
