package oauth

import (
	"context"
	"crypto/subtle"
	"encoding/json"

	"github.com/go-oauth2/oauth2/v4"
	oautherrors "github.com/go-oauth2/oauth2/v4/errors"
	"github.com/go-oauth2/oauth2/v4/models"
	"gorm.io/datatypes"

	"github.com/bloveless/esp32-iot-desk/internal/store"
)

// TokenStore keeps authorization codes and tokens in their own tables.
// Removing a code or token revokes the row instead of deleting it.
type TokenStore struct {
	repo *store.Repository
}

func NewTokenStore(repo *store.Repository) *TokenStore {
	return &TokenStore{repo: repo}
}

var _ oauth2.TokenStore = (*TokenStore)(nil)

func (s *TokenStore) Create(ctx context.Context, info oauth2.TokenInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if code := info.GetCode(); code != "" {
		return s.repo.SaveAuthorizationCode(ctx, &store.OAuthAuthorizationCode{
			AuthorizationCode: code,
			ExpiresAt:         info.GetCodeCreateAt().Add(info.GetCodeExpiresIn()).UTC(),
			ClientID:          info.GetClientID(),
			UserID:            info.GetUserID(),
			RedirectURI:       info.GetRedirectURI(),
			Data:              datatypes.JSON(data),
		})
	}

	tok := &store.OAuthToken{
		AccessToken:          info.GetAccess(),
		AccessTokenExpiresAt: info.GetAccessCreateAt().Add(info.GetAccessExpiresIn()).UTC(),
		ClientID:             info.GetClientID(),
		RefreshToken:         info.GetRefresh(),
		UserID:               info.GetUserID(),
		Data:                 datatypes.JSON(data),
	}
	if tok.RefreshToken != "" && info.GetRefreshExpiresIn() > 0 {
		exp := info.GetRefreshCreateAt().Add(info.GetRefreshExpiresIn()).UTC()
		tok.RefreshTokenExpiresAt = &exp
	}
	return s.repo.SaveToken(ctx, tok)
}

func (s *TokenStore) RemoveByCode(ctx context.Context, code string) error {
	return s.repo.RevokeAuthorizationCode(ctx, code)
}

func (s *TokenStore) RemoveByAccess(ctx context.Context, access string) error {
	return s.repo.RevokeTokenByAccess(ctx, access)
}

func (s *TokenStore) RemoveByRefresh(ctx context.Context, refresh string) error {
	return s.repo.RevokeTokenByRefresh(ctx, refresh)
}

func (s *TokenStore) GetByCode(ctx context.Context, code string) (oauth2.TokenInfo, error) {
	c, err := s.repo.GetAuthorizationCode(ctx, code)
	if err != nil || c == nil {
		return nil, err
	}
	return decodeToken(c.Data)
}

func (s *TokenStore) GetByAccess(ctx context.Context, access string) (oauth2.TokenInfo, error) {
	t, err := s.repo.GetTokenByAccess(ctx, access)
	if err != nil || t == nil {
		return nil, err
	}
	return decodeToken(t.Data)
}

func (s *TokenStore) GetByRefresh(ctx context.Context, refresh string) (oauth2.TokenInfo, error) {
	t, err := s.repo.GetTokenByRefresh(ctx, refresh)
	if err != nil || t == nil {
		return nil, err
	}
	return decodeToken(t.Data)
}

func decodeToken(data []byte) (oauth2.TokenInfo, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var tm models.Token
	if err := json.Unmarshal(data, &tm); err != nil {
		return nil, err
	}
	return &tm, nil
}

// ClientStore exposes registered clients. The redirect URI is used as the
// client domain and must match the requested redirect_uri exactly.
type ClientStore struct {
	repo *store.Repository
}

func NewClientStore(repo *store.Repository) *ClientStore {
	return &ClientStore{repo: repo}
}

var _ oauth2.ClientStore = (*ClientStore)(nil)

func (s *ClientStore) GetByID(ctx context.Context, id string) (oauth2.ClientInfo, error) {
	c, err := s.repo.GetClient(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, oautherrors.ErrInvalidClient
	}
	return &confidentialClient{Client: &models.Client{ID: c.ClientID, Secret: c.ClientSecret, Domain: c.RedirectURI}}, nil
}

// confidentialClient makes the manager check the presented secret against
// the stored one, rejecting clients stored without a secret.
type confidentialClient struct {
	*models.Client
}

var _ oauth2.ClientPasswordVerifier = (*confidentialClient)(nil)

func (c *confidentialClient) VerifyPassword(secret string) bool {
	if c.Secret == "" || secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Secret), []byte(secret)) == 1
}
