// Package twilio covers the small slice of Twilio needed for inbound
// WhatsApp messages: authenticated media download and TwiML replies.
package twilio

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/bookeep/ingest/internal/resilience"
)

// maxMediaBytes caps a single media download. WhatsApp media tops out well
// below this.
const maxMediaBytes = 32 << 20

// Client downloads Twilio-hosted media.
type Client struct {
	accountSID string
	authToken  string
	http       *http.Client
}

func New(accountSID, authToken string) *Client {
	return &Client{
		accountSID: accountSID,
		authToken:  authToken,
		http:       &http.Client{Timeout: 30 * time.Second},
	}
}

type media struct {
	data        []byte
	contentType string
}

// DownloadMedia fetches a media URL from an inbound message webhook,
// retrying transient failures. Returns the body and the response
// content type.
func (c *Client) DownloadMedia(ctx context.Context, url string) ([]byte, string, error) {
	cfg := resilience.DownloadRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("twilio", "download media")

	m, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (media, error) {
		return c.fetchMedia(ctx, url)
	})
	if err != nil {
		return nil, "", err
	}
	return m.data, m.contentType, nil
}

func (c *Client) fetchMedia(ctx context.Context, url string) (media, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return media{}, eris.Wrap(err, "twilio: build media request")
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return media{}, eris.Wrap(err, "twilio: fetch media")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("twilio: media fetch returned %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return media{}, resilience.NewTransientError(err, resp.StatusCode)
		}
		return media{}, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return media{}, eris.Wrap(err, "twilio: read media body")
	}
	if len(data) > maxMediaBytes {
		return media{}, eris.New("twilio: media exceeds size limit")
	}
	return media{data: data, contentType: resp.Header.Get("Content-Type")}, nil
}

// TwiML renders a message reply document. An empty message yields an empty
// response, which acknowledges the webhook without replying.
func TwiML(message string) string {
	if message == "" {
		return `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
	}
	var sb strings.Builder
	_ = xml.EscapeText(&sb, []byte(message))
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><Response><Message>%s</Message></Response>`, sb.String())
}
