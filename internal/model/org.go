package model

import "time"

// Organization is the tenant boundary. All documents and email accounts
// are owned by exactly one organization.
type Organization struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Slug           string    `json:"slug"`
	Plan           string    `json:"plan"`
	WhatsAppNumber string    `json:"whatsapp_number,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
