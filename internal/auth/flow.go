package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/monoturn/monoturn/internal/config"
)

// Authenticator drives the authorization code flow for the upstream
// provider and keeps the resulting credentials on disk.
type Authenticator struct {
	oauth     *oauth2.Config
	tokenFile string
	port      int
}

// NewAuthenticator builds an authenticator from the oauth section of the
// configuration.
func NewAuthenticator(cfg *config.OAuthConfig) *Authenticator {
	a := &Authenticator{
		tokenFile: cfg.TokenFile,
		port:      cfg.CallbackPort,
	}
	a.oauth = &oauth2.Config{
		ClientID:    cfg.ClientID,
		RedirectURL: fmt.Sprintf("http://127.0.0.1:%d/oauth2callback", cfg.CallbackPort),
		Scopes:      cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.AuthURL,
			TokenURL: cfg.TokenURL,
		},
	}
	return a
}

// Login runs the full browser based authorization flow: start the loopback
// callback server, open the consent page, exchange the returned code with
// the PKCE verifier, and persist the token.
func (a *Authenticator) Login(ctx context.Context, noBrowser bool) (*TokenStorage, error) {
	pkce, err := GeneratePKCE()
	if err != nil {
		return nil, err
	}

	server := NewCallbackServer(a.port)
	if err = server.Start(); err != nil {
		return nil, fmt.Errorf("start callback server: %w", err)
	}
	defer func() {
		_ = server.Stop(ctx)
	}()

	state := uuid.NewString()
	authURL := a.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("code_challenge", pkce.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)

	if noBrowser {
		fmt.Printf("Please open this URL in your browser:\n\n%s\n", authURL)
	} else if errOpen := browser.OpenURL(authURL); errOpen != nil {
		log.Warnf("could not open browser: %v", errOpen)
		fmt.Printf("Please manually open this URL in your browser:\n\n%s\n", authURL)
	}

	result, err := server.WaitForCallback(5 * time.Minute)
	if err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, fmt.Errorf("authorization error: %s", result.Error)
	}
	if result.State != state {
		return nil, fmt.Errorf("state mismatch in authorization callback")
	}

	token, err := a.oauth.Exchange(ctx, result.Code,
		oauth2.SetAuthURLParam("code_verifier", pkce.CodeVerifier),
	)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	storage := &TokenStorage{}
	storage.FromToken(token)
	if a.tokenFile != "" {
		if err = storage.SaveTokenToFile(a.tokenFile); err != nil {
			return nil, err
		}
		log.Infof("credentials saved to %s", a.tokenFile)
	}
	return storage, nil
}

// Client returns an HTTP client that attaches and refreshes the stored
// token. Refreshed tokens are written back to the token file.
func (a *Authenticator) Client(ctx context.Context, storage *TokenStorage) *http.Client {
	source := a.oauth.TokenSource(ctx, storage.Token())
	return oauth2.NewClient(ctx, &persistingSource{
		inner:   source,
		storage: storage,
		file:    a.tokenFile,
	})
}

// persistingSource saves the token storage whenever the underlying source
// hands back a different access token.
type persistingSource struct {
	inner   oauth2.TokenSource
	storage *TokenStorage
	file    string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	token, err := p.inner.Token()
	if err != nil {
		return nil, err
	}
	if token.AccessToken != p.storage.AccessToken {
		p.storage.FromToken(token)
		if p.file != "" {
			if errSave := p.storage.SaveTokenToFile(p.file); errSave != nil {
				log.Warnf("could not persist refreshed token: %v", errSave)
			}
		}
	}
	return token, nil
}
