package offers

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// WarningCount is the exact number of warnings every offer carries.
const WarningCount = 3

// Offer is a listed promotion with its usage instructions.
// InstructionsHTML is Instructions rendered from markdown.
type Offer struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Title            string    `json:"title"`
	SiteName         string    `json:"siteName"`
	Instructions     string    `json:"instructions"`
	InstructionsHTML string    `json:"instructions_html"`
	Warnings         []string  `json:"warnings"`
	Link             string    `json:"link"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// OfferModel is the Bun model for offers.
type OfferModel struct {
	bun.BaseModel `bun:"table:offers"`

	ID           uuid.UUID `bun:"id,pk,type:uuid"`
	UserID       string    `bun:"user_id,notnull"`
	Title        string    `bun:"title,notnull"`
	SiteName     string    `bun:"site_name"`
	Instructions string    `bun:"instructions,notnull"`
	Warnings     []string  `bun:"warnings,type:jsonb"`
	Link         string    `bun:"link"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
	UpdatedAt    time.Time `bun:"updated_at,notnull"`
}

func (m *OfferModel) toOffer() *Offer {
	warnings := make([]string, len(m.Warnings))
	copy(warnings, m.Warnings)
	return &Offer{
		ID:           m.ID.String(),
		UserID:       m.UserID,
		Title:        m.Title,
		SiteName:     m.SiteName,
		Instructions: m.Instructions,
		Warnings:     warnings,
		Link:         m.Link,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
