package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paysync/pkg/enums"
)

// Family is the account entity whose plan a successful upgrade payment changes.
type Family struct {
	ID            uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Name          string           `gorm:"column:name;not null"`
	Plan          enums.FamilyPlan `gorm:"column:plan;type:varchar(16);not null;default:'FREE'"`
	PlanExpiresAt *time.Time       `gorm:"column:plan_expires_at"`
	CreatedAt     time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
