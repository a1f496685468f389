package secrets

import (
	"context"

	"github.com/tendant/simple-obo/pkg/downstream"
)

// Service reads secrets on behalf of a user. Token acquisition goes through
// the downstream caller so delegated tokens are cached and re-exchanged
// silently across requests.
type Service struct {
	caller *downstream.Client
	client *Client
	scope  string
}

// NewService creates a secret read service delegating for the given scope
func NewService(caller *downstream.Client, client *Client, scope string) *Service {
	return &Service{
		caller: caller,
		client: client,
		scope:  scope,
	}
}

// GetSecretForUser reads one secret by name on behalf of the user
// identified by userToken
func (s *Service) GetSecretForUser(ctx context.Context, userToken, name string) (*Secret, error) {
	token, err := s.caller.TokenForUser(ctx, userToken, []string{s.scope})
	if err != nil {
		return nil, err
	}
	return s.client.GetSecret(ctx, name, token.AccessToken)
}
