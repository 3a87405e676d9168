package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"
)

// UpsertClient registers a client or replaces its secret and redirect URI.
func (r *Repository) UpsertClient(ctx context.Context, c *OAuthClient) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "client_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"client_secret", "redirect_uri", "updated_at"}),
	}).Create(c).Error
}

func (r *Repository) GetClient(ctx context.Context, clientID string) (*OAuthClient, error) {
	var c OAuthClient
	err := r.db.WithContext(ctx).Where("client_id = ?", clientID).First(&c).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) SaveAuthorizationCode(ctx context.Context, c *OAuthAuthorizationCode) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repository) GetAuthorizationCode(ctx context.Context, code string) (*OAuthAuthorizationCode, error) {
	var c OAuthAuthorizationCode
	err := r.db.WithContext(ctx).Where("authorization_code = ? AND revoked = ?", code, false).First(&c).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) RevokeAuthorizationCode(ctx context.Context, code string) error {
	return r.db.WithContext(ctx).Model(&OAuthAuthorizationCode{}).
		Where("authorization_code = ? AND revoked = ?", code, false).
		Update("revoked", true).Error
}

func (r *Repository) SaveToken(ctx context.Context, t *OAuthToken) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *Repository) GetTokenByAccess(ctx context.Context, access string) (*OAuthToken, error) {
	return r.getToken(ctx, "access_token = ? AND revoked = ?", access)
}

func (r *Repository) GetTokenByRefresh(ctx context.Context, refresh string) (*OAuthToken, error) {
	if refresh == "" {
		return nil, nil
	}
	return r.getToken(ctx, "refresh_token = ? AND revoked = ?", refresh)
}

func (r *Repository) getToken(ctx context.Context, where string, value string) (*OAuthToken, error) {
	var t OAuthToken
	err := r.db.WithContext(ctx).Where(where, value, false).First(&t).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Repository) RevokeTokenByAccess(ctx context.Context, access string) error {
	return r.db.WithContext(ctx).Model(&OAuthToken{}).
		Where("access_token = ?", access).
		Update("revoked", true).Error
}

func (r *Repository) RevokeTokenByRefresh(ctx context.Context, refresh string) error {
	if refresh == "" {
		return nil
	}
	return r.db.WithContext(ctx).Model(&OAuthToken{}).
		Where("refresh_token = ?", refresh).
		Update("revoked", true).Error
}

// RevokeTokensForUser revokes every live token of a user and reports how many
// were affected.
func (r *Repository) RevokeTokensForUser(ctx context.Context, userID string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&OAuthToken{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Update("revoked", true)
	return res.RowsAffected, res.Error
}

// PurgeExpired deletes authorization codes and tokens that can no longer be
// used: revoked ones, and expired ones that also have no usable refresh token.
func (r *Repository) PurgeExpired(ctx context.Context, now time.Time) (codes int64, tokens int64, err error) {
	res := r.db.WithContext(ctx).
		Where("revoked = ? OR expires_at < ?", true, now).
		Delete(&OAuthAuthorizationCode{})
	if res.Error != nil {
		return 0, 0, res.Error
	}
	codes = res.RowsAffected

	res = r.db.WithContext(ctx).
		Where("revoked = ?", true).
		Or("access_token_expires_at < ? AND (refresh_token = '' OR refresh_token IS NULL OR refresh_token_expires_at < ?)", now, now).
		Delete(&OAuthToken{})
	if res.Error != nil {
		return codes, 0, res.Error
	}
	return codes, res.RowsAffected, nil
}
