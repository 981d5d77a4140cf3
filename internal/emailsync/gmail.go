package emailsync

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/bookeep/ingest/pkg/gmail"
)

// GmailOpener opens Gmail mailboxes from stored tokens.
type GmailOpener struct {
	oauth *gmail.OAuth
}

func NewGmailOpener(oauth *gmail.OAuth) *GmailOpener {
	return &GmailOpener{oauth: oauth}
}

func (g *GmailOpener) Open(ctx context.Context, accessToken, refreshToken string) (MailSource, error) {
	return g.oauth.Mailbox(ctx, &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}
