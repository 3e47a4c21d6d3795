package model

import (
	"time"

	"github.com/google/uuid"
)

// CachedEdge is a persisted cross-edge. Rows are immutable once written.
type CachedEdge struct {
	SourceID        int64      `gorm:"primaryKey;autoIncrement:false;check:chk_edge_order,source_id < target_id" json:"source_id"`
	TargetID        int64      `gorm:"primaryKey;autoIncrement:false" json:"target_id"`
	Score           float64    `gorm:"not null;index:idx_edge_score" json:"score"`
	ModelVersion    string     `gorm:"size:128;not null" json:"model_version"`
	CreatedByUserID *uuid.UUID `gorm:"type:uuid" json:"created_by_user_id,omitempty"`
	CreatedAt       time.Time  `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (CachedEdge) TableName() string { return "cached_edges" }

// Pair is an unordered article pair stored as (min, max).
type Pair struct {
	A, B int64
}

func CanonicalPair(a, b int64) Pair {
	if a > b {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

func (e CachedEdge) Pair() Pair {
	return CanonicalPair(e.SourceID, e.TargetID)
}

// TitledEdge is a cross-edge as returned to callers.
type TitledEdge struct {
	Source   string  `json:"source"`
	Target   string  `json:"target"`
	Score    float64 `json:"score"`
	SourceID int64   `json:"source_id"`
	TargetID int64   `json:"target_id"`
}
