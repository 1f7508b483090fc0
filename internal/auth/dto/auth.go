package dto

import "time"

type APIKeyResponse struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

type APIKeyListResponse struct {
	Keys []APIKeyResponse `json:"keys"`
}
