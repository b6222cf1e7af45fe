package domain

import "time"

type DeviceToken struct {
	ID         string    `json:"id" dynamodbav:"device_token_id"`
	UserID     int64     `json:"user_id" dynamodbav:"user_id"`
	Token      string    `json:"token" dynamodbav:"token"`
	DeviceType string    `json:"device_type" dynamodbav:"device_type"`
	IsActive   bool      `json:"is_active" dynamodbav:"is_active"`
	CreatedAt  time.Time `json:"created_at" dynamodbav:"created_at"`
	LastUsedAt time.Time `json:"last_used_at" dynamodbav:"last_used_at"`
}

type RegisterTokenRequest struct {
	Token      string `json:"token" validate:"required,max=255"`
	DeviceType string `json:"device_type" validate:"omitempty,oneof=android ios web"`
}
