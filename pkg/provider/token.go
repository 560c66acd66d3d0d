package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/reviewpulse/platform/pkg/common/config"
	"github.com/reviewpulse/platform/pkg/common/logger"
	"github.com/reviewpulse/platform/pkg/common/models"
	"github.com/reviewpulse/platform/pkg/common/retry"
	"golang.org/x/oauth2"
)

// expirySkew forces a refresh when the stored token expires this soon.
const expirySkew = 60 * time.Second

// ConnectionStore persists refreshed credentials. Implemented by the
// reviews repository.
type ConnectionStore interface {
	SaveToken(ctx context.Context, connectionID, accessToken, tokenType, scope string, expiresAt time.Time) error
}

// TokenManager keeps each connection's access token valid, refreshing
// through the provider's OAuth endpoint when needed.
type TokenManager struct {
	oauth  *oauth2.Config
	store  ConnectionStore
	policy retry.Policy
	now    func() time.Time
}

func NewTokenManager(cfg *config.Config, store ConnectionStore, policy retry.Policy) *TokenManager {
	return &TokenManager{
		oauth: &oauth2.Config{
			ClientID:     cfg.ProviderClientID,
			ClientSecret: cfg.ProviderClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.ProviderTokenURL},
		},
		store:  store,
		policy: policy,
		now:    time.Now,
	}
}

// EnsureAccessToken returns a token valid for at least expirySkew,
// refreshing and persisting first when necessary. The refreshed token
// is written to storage before it is handed out, so a crash after
// refresh never strands a used-but-unpersisted token.
func (m *TokenManager) EnsureAccessToken(ctx context.Context, conn *models.Connection, force bool) (string, error) {
	if conn.RefreshToken == "" {
		return "", fmt.Errorf("%w: connection %s has no refresh token", ErrReauthRequired, conn.ID)
	}

	if !force && conn.AccessToken != "" && conn.ExpiresAt != nil &&
		conn.ExpiresAt.After(m.now().Add(expirySkew)) {
		return conn.AccessToken, nil
	}

	var token *oauth2.Token
	refreshErr := m.policy.Do(ctx, isTransientAuth, func() error {
		source := m.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: conn.RefreshToken})
		refreshed, err := source.Token()
		if err != nil {
			return classifyRefreshError(err)
		}
		token = refreshed
		return nil
	})
	if refreshErr != nil {
		return "", refreshErr
	}

	scope, _ := token.Extra("scope").(string)
	expiresAt := token.Expiry.UTC()

	saveErr := m.policy.Do(ctx, nil, func() error {
		return m.store.SaveToken(ctx, conn.ID, token.AccessToken, token.TokenType, scope, expiresAt)
	})
	if saveErr != nil {
		return "", fmt.Errorf("%w: persisting refreshed token: %v", ErrTransientAuth, saveErr)
	}

	conn.AccessToken = token.AccessToken
	conn.TokenType = token.TokenType
	if scope != "" {
		conn.Scope = scope
	}
	conn.ExpiresAt = &expiresAt

	logger.Log.WithFields(map[string]interface{}{
		"connection_id": conn.ID,
		"account_id":    conn.AccountID,
		"expires_at":    expiresAt,
	}).Debug("access token refreshed")

	return token.AccessToken, nil
}

// isTransientAuth keeps the refresh retry loop away from permanent
// invalid-grant failures.
func isTransientAuth(err error) bool {
	return !errors.Is(err, ErrReauthRequired)
}

// classifyRefreshError separates the permanent invalid-grant condition
// from everything else. invalid_grant means the user revoked access or
// the grant expired; only re-authorization fixes it.
func classifyRefreshError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "invalid_grant" {
			return fmt.Errorf("%w: %s", ErrReauthRequired, retrieveErr.ErrorCode)
		}
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: provider rejected client credentials", ErrReauthRequired)
		}
	}
	return fmt.Errorf("%w: %v", ErrTransientAuth, err)
}
