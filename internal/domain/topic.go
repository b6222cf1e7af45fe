package domain

import "time"

type Topic struct {
	ID          string    `json:"id" dynamodbav:"topic_id"`
	Name        string    `json:"name" dynamodbav:"name"`
	Description string    `json:"description" dynamodbav:"description"`
	Type        string    `json:"type" dynamodbav:"type"`
	IsActive    bool      `json:"is_active" dynamodbav:"is_active"`
	CreatedAt   time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

type CreateTopicRequest struct {
	Name        string `json:"name" validate:"required,topicname"`
	Description string `json:"description" validate:"max=200"`
	Type        string `json:"type" validate:"max=50"`
}
