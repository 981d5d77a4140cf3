// Package gmail wraps Google OAuth and the Gmail API for read-only
// mailbox access.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/bookeep/ingest/internal/resilience"
)

// isTransientAPIError treats rate limits and server errors as retryable.
// Auth failures (revoked tokens) are permanent and surface immediately.
func isTransientAPIError(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return resilience.IsTransientHTTPStatus(apiErr.Code)
	}
	return resilience.IsTransient(err)
}

// OAuth manages the Google consent flow for mailbox connections.
type OAuth struct {
	cfg *oauth2.Config
}

func NewOAuth(clientID, clientSecret, redirectURL string) *OAuth {
	return &OAuth{cfg: &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{gmailapi.GmailReadonlyScope},
		Endpoint:     google.Endpoint,
	}}
}

// AuthCodeURL returns the consent URL. Offline access with forced consent
// so Google issues a refresh token.
func (o *OAuth) AuthCodeURL(state string) string {
	return o.cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange trades an authorization code for tokens.
func (o *OAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := o.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, eris.Wrap(err, "gmail: exchange code")
	}
	return token, nil
}

// Mailbox is an authenticated Gmail connection for one account.
type Mailbox struct {
	svc           *gmailapi.Service
	source        oauth2.TokenSource
	initialAccess string
}

// Mailbox opens a connection with the stored token. Extra client options
// let tests point the service at a local server.
func (o *OAuth) Mailbox(ctx context.Context, token *oauth2.Token, opts ...option.ClientOption) (*Mailbox, error) {
	source := o.cfg.TokenSource(ctx, token)
	all := append([]option.ClientOption{option.WithTokenSource(source)}, opts...)
	svc, err := gmailapi.NewService(ctx, all...)
	if err != nil {
		return nil, eris.Wrap(err, "gmail: create service")
	}
	return &Mailbox{svc: svc, source: source, initialAccess: token.AccessToken}, nil
}

// NewMailbox wraps an existing service. Used by tests.
func NewMailbox(svc *gmailapi.Service) *Mailbox {
	return &Mailbox{svc: svc}
}

// RefreshedToken reports whether the token source minted a new access token
// during this session, so callers can re-encrypt and persist it.
func (m *Mailbox) RefreshedToken() (*oauth2.Token, bool) {
	if m.source == nil {
		return nil, false
	}
	token, err := m.source.Token()
	if err != nil || token.AccessToken == m.initialAccess {
		return nil, false
	}
	return token, true
}

// EmailAddress returns the address of the connected account.
func (m *Mailbox) EmailAddress(ctx context.Context) (string, error) {
	profile, err := m.svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return "", eris.Wrap(err, "gmail: get profile")
	}
	return profile.EmailAddress, nil
}

// ReceiptQuery matches messages with attachments or receipt-flavored
// subjects (English and Hebrew), bounded by a lower date.
func ReceiptQuery(after time.Time) string {
	q := "has:attachment OR subject:(receipt OR invoice OR קבלה OR חשבונית)"
	if !after.IsZero() {
		q = fmt.Sprintf("(%s) after:%s", q, after.Format("2006/01/02"))
	}
	return q
}

// Message is one search hit with its filtered attachments.
type Message struct {
	ID          string
	Subject     string
	From        string
	Date        string
	Attachments []Attachment
}

func (m Message) HasAttachments() bool { return len(m.Attachments) > 0 }

// Attachment is an image or PDF part of a message.
type Attachment struct {
	ID       string
	Filename string
	MimeType string
	Size     int64
}

// Search returns one page of matching messages with subject/from headers
// and image/PDF attachments resolved.
func (m *Mailbox) Search(ctx context.Context, query, pageToken string, pageSize int64) ([]Message, string, error) {
	call := m.svc.Users.Messages.List("me").Q(query).MaxResults(pageSize).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	list, err := call.Do()
	if err != nil {
		return nil, "", eris.Wrap(err, "gmail: list messages")
	}

	out := make([]Message, 0, len(list.Messages))
	for _, ref := range list.Messages {
		if ref.Id == "" {
			continue
		}
		detail, err := m.svc.Users.Messages.Get("me", ref.Id).Format("full").Context(ctx).Do()
		if err != nil {
			return nil, "", eris.Wrapf(err, "gmail: get message %s", ref.Id)
		}
		out = append(out, fromAPIMessage(detail))
	}
	return out, list.NextPageToken, nil
}

// DownloadAttachment fetches and decodes one attachment body, retrying
// transient API failures.
func (m *Mailbox) DownloadAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	cfg := resilience.DownloadRetryConfig()
	cfg.ShouldRetry = isTransientAPIError
	cfg.OnRetry = resilience.RetryLogger("gmail", "download attachment")

	body, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*gmailapi.MessagePartBody, error) {
		return m.svc.Users.Messages.Attachments.Get("me", messageID, attachmentID).Context(ctx).Do()
	})
	if err != nil {
		return nil, eris.Wrapf(err, "gmail: get attachment %s", attachmentID)
	}
	if body.Data == "" {
		return nil, eris.New("gmail: empty attachment body")
	}
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(body.Data, "="))
	if err != nil {
		return nil, eris.Wrap(err, "gmail: decode attachment")
	}
	return data, nil
}

func fromAPIMessage(msg *gmailapi.Message) Message {
	out := Message{ID: msg.Id, Subject: "(no subject)"}
	if msg.Payload == nil {
		return out
	}
	for _, h := range msg.Payload.Headers {
		switch h.Name {
		case "Subject":
			if h.Value != "" {
				out.Subject = h.Value
			}
		case "From":
			out.From = h.Value
		case "Date":
			out.Date = h.Value
		}
	}
	out.Attachments = collectAttachments(msg.Payload.Parts)
	return out
}

// collectAttachments walks message parts, keeping image and PDF files.
// Multipart messages nest parts arbitrarily deep.
func collectAttachments(parts []*gmailapi.MessagePart) []Attachment {
	var out []Attachment
	for _, p := range parts {
		if p == nil {
			continue
		}
		if p.Filename != "" && p.Body != nil && p.Body.AttachmentId != "" &&
			(strings.HasPrefix(p.MimeType, "image/") || p.MimeType == "application/pdf") {
			out = append(out, Attachment{
				ID:       p.Body.AttachmentId,
				Filename: p.Filename,
				MimeType: p.MimeType,
				Size:     p.Body.Size,
			})
		}
		out = append(out, collectAttachments(p.Parts)...)
	}
	return out
}
