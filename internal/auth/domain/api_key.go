package domain

import "time"

// UserAPIKey is an alternate bearer credential for a user, used by the
// browser extension and scripts. Users themselves live in the external
// identity provider.
type UserAPIKey struct {
	Key       string    `json:"key" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"index;not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (UserAPIKey) TableName() string {
	return "user_api_keys"
}

// APIKeyPrefix marks keys minted by this service.
const APIKeyPrefix = "mtx_"
