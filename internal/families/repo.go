package families

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/paysync/pkg/db/models"
	"github.com/angelmondragon/paysync/pkg/enums"
	pkgerrors "github.com/angelmondragon/paysync/pkg/errors"
)

// ErrFamilyNotFound is returned when an upgrade targets an unknown family.
var ErrFamilyNotFound = pkgerrors.New(pkgerrors.CodeNotFound, "family not found")

// Repository handles family persistence. It is the only writer of a family's plan.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to family operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create persists a new family row on the free plan unless a plan is set.
func (r *Repository) Create(ctx context.Context, family *models.Family) error {
	if family == nil {
		return fmt.Errorf("family is required")
	}
	if family.ID == uuid.Nil {
		family.ID = uuid.New()
	}
	if family.Plan == "" {
		family.Plan = enums.FamilyPlanFree
	}
	return r.db.WithContext(ctx).Create(family).Error
}

// FindByID loads a family by its UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Family, error) {
	var family models.Family
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&family).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFamilyNotFound
		}
		return nil, err
	}
	return &family, nil
}

// UpgradePlan sets the family plan and its expiry in a single update.
func (r *Repository) UpgradePlan(ctx context.Context, familyID uuid.UUID, plan enums.FamilyPlan, expiresAt time.Time) error {
	if !plan.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid family plan %q", plan))
	}
	res := r.db.WithContext(ctx).
		Model(&models.Family{}).
		Where("id = ?", familyID).
		Updates(map[string]any{
			"plan":            plan,
			"plan_expires_at": expiresAt.UTC(),
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "update family plan")
	}
	if res.RowsAffected == 0 {
		return ErrFamilyNotFound
	}
	return nil
}
