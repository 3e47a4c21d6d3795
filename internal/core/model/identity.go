package model

import (
	"time"

	"github.com/google/uuid"
)

// Identity is the opaque caller record. Only the two counters are written
// by this service.
type Identity struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	EdgesDiscovered int       `gorm:"not null;default:0" json:"edges_discovered"`
	TotalSearches   int       `gorm:"not null;default:0" json:"total_searches"`
	CreatedAt       time.Time `json:"created_at"`
	LastSeen        time.Time `json:"last_seen"`
}

func (Identity) TableName() string { return "users" }
