package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Device is a desk owned by exactly one user. CurrentHeight holds the last
// preset name applied to it and is nil until the first command.
type Device struct {
	ID            string    `gorm:"primaryKey" json:"id"`
	UserID        uuid.UUID `gorm:"type:uuid;index;not null" json:"user_id"`
	CurrentHeight *string   `json:"current_height"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type OAuthClient struct {
	ClientID     string    `gorm:"primaryKey" json:"client_id"`
	ClientSecret string    `json:"-"`
	RedirectURI  string    `gorm:"not null" json:"redirect_uri"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (OAuthClient) TableName() string { return "oauth_clients" }

type OAuthAuthorizationCode struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	AuthorizationCode string    `gorm:"uniqueIndex;not null"`
	ExpiresAt         time.Time `gorm:"index"`
	ClientID          string    `gorm:"index;not null"`
	UserID            string    `gorm:"type:uuid;index"`
	RedirectURI       string
	Revoked           bool           `gorm:"not null;default:false"`
	Data              datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt         time.Time
}

func (OAuthAuthorizationCode) TableName() string { return "oauth_authorization_codes" }

type OAuthToken struct {
	ID                    uuid.UUID `gorm:"type:uuid;primaryKey"`
	AccessToken           string    `gorm:"index;not null"`
	AccessTokenExpiresAt  time.Time `gorm:"index"`
	ClientID              string    `gorm:"index;not null"`
	RefreshToken          string    `gorm:"index"`
	RefreshTokenExpiresAt *time.Time
	UserID                string         `gorm:"type:uuid;index"`
	Revoked               bool           `gorm:"not null;default:false"`
	Data                  datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt             time.Time
}

func (OAuthToken) TableName() string { return "oauth_tokens" }
