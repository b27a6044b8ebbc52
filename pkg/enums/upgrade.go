package enums

import (
	"fmt"
	"strings"
)

// UpgradeType names the business action a successful payment triggers.
type UpgradeType string

const (
	UpgradeTypePlanUpgrade UpgradeType = "plan_upgrade"
)

// IsValid reports whether the value is a recognized upgrade.
func (u UpgradeType) IsValid() bool {
	return u == UpgradeTypePlanUpgrade
}

// PlanType is the billing cadence carried in transaction metadata.
type PlanType string

const (
	PlanTypeMonthly PlanType = "monthly"
	PlanTypeYearly  PlanType = "yearly"
)

// ParsePlanType converts raw input into a PlanType, tolerating case and whitespace.
func ParsePlanType(value string) (PlanType, error) {
	switch PlanType(strings.ToLower(strings.TrimSpace(value))) {
	case PlanTypeMonthly:
		return PlanTypeMonthly, nil
	case PlanTypeYearly:
		return PlanTypeYearly, nil
	}
	return "", fmt.Errorf("invalid plan type %q", value)
}

// FamilyPlan is the entitlement tier stored on a family.
type FamilyPlan string

const (
	FamilyPlanFree FamilyPlan = "FREE"
	FamilyPlanPro  FamilyPlan = "PRO"
)

// IsValid reports whether the value is a known FamilyPlan.
func (p FamilyPlan) IsValid() bool {
	switch p {
	case FamilyPlanFree, FamilyPlanPro:
		return true
	}
	return false
}
