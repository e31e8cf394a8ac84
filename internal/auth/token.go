package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

// TokenStorage is the on-disk representation of upstream credentials.
type TokenStorage struct {
	Type         string `json:"type"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Expiry       string `json:"expiry,omitempty"`
	LastRefresh  string `json:"last_refresh,omitempty"`
}

// SaveTokenToFile writes the token storage as indented JSON, creating the
// parent directory if needed. The file is restricted to the current user.
func (ts *TokenStorage) SaveTokenToFile(authFilePath string) error {
	ts.Type = "upstream"
	ts.LastRefresh = time.Now().Format(time.RFC3339)

	if err := os.MkdirAll(filepath.Dir(authFilePath), 0700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}
	f, err := os.OpenFile(authFilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create token file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err = encoder.Encode(ts); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

// LoadTokenFromFile reads a previously saved token storage.
func LoadTokenFromFile(authFilePath string) (*TokenStorage, error) {
	data, err := os.ReadFile(authFilePath)
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	var ts TokenStorage
	if err = json.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	return &ts, nil
}

// Token converts the stored credentials to an oauth2 token. A malformed or
// absent expiry yields a zero expiry, which oauth2 treats as non-expiring.
func (ts *TokenStorage) Token() *oauth2.Token {
	var expiry time.Time
	if ts.Expiry != "" {
		expiry, _ = time.Parse(time.RFC3339, ts.Expiry)
	}
	return &oauth2.Token{
		AccessToken:  ts.AccessToken,
		RefreshToken: ts.RefreshToken,
		TokenType:    ts.TokenType,
		Expiry:       expiry,
	}
}

// FromToken copies an oauth2 token into the storage fields.
func (ts *TokenStorage) FromToken(token *oauth2.Token) {
	ts.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		ts.RefreshToken = token.RefreshToken
	}
	ts.TokenType = token.TokenType
	if !token.Expiry.IsZero() {
		ts.Expiry = token.Expiry.Format(time.RFC3339)
	}
}
