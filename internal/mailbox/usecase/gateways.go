package usecase

import (
	"fmt"

	"mailflow-backend/internal/mailbox/domain"
	"mailflow-backend/internal/mailbox/repository"
	"mailflow-backend/pkg/provider"
)

// Gateways selects the provider gateway implementation for an account.
type Gateways map[string]provider.Gateway

func (g Gateways) For(account *domain.MailboxAccount) (provider.Gateway, error) {
	gw, ok := g[account.Provider]
	if !ok {
		return nil, fmt.Errorf("no gateway registered for provider %q", account.Provider)
	}
	return gw, nil
}

func credentialsFor(account *domain.MailboxAccount) provider.Credentials {
	return provider.Credentials{
		Email:        account.Email,
		AccessToken:  account.AccessToken,
		RefreshToken: account.RefreshToken,
		Host:         account.IMAPHost,
		Password:     account.IMAPPassword,
	}
}

// tokenUpdateCallback persists tokens refreshed mid-call so the next call
// starts from the fresh access token.
func tokenUpdateCallback(accountRepo repository.AccountRepository, accountID string) provider.TokenUpdateFunc {
	return func(accessToken, refreshToken string) error {
		return accountRepo.SaveTokens(accountID, accessToken, refreshToken)
	}
}
