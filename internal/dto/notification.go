package dto

import "github.com/noah-isme/sma-bulletin-api/internal/models"

// DispatchRequest captures POST /bulletins/:id/dispatch.
type DispatchRequest struct {
	Channels []models.Channel `json:"channels" validate:"required,min=1,dive,oneof=sms email whatsapp"`
	Language string           `json:"language" validate:"omitempty,max=16"`
}

// RetryTargetPayload names one failed (recipient, channel) pair.
type RetryTargetPayload struct {
	RecipientID string         `json:"recipient_id" validate:"required"`
	Channel     models.Channel `json:"channel" validate:"required,oneof=sms email whatsapp"`
}

// RetryRequest captures POST /bulletins/:id/retry.
type RetryRequest struct {
	Targets  []RetryTargetPayload `json:"targets" validate:"required,min=1,dive"`
	Language string               `json:"language" validate:"omitempty,max=16"`
}
