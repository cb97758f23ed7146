// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package access

import (
	"errors"
	"fmt"

	"github.com/jeranaias/lexguard/internal/store"
)

// =============================================================================
// CONDITIONS
// =============================================================================

// Condition kinds. The set is closed: a kind not listed here never holds.
const (
	// ConditionSameDepartment holds when the target department in the
	// request context equals the identity's department.
	ConditionSameDepartment = "same_department"

	// ConditionMinimumClearance holds when the identity's clearance
	// dominates the condition's level.
	ConditionMinimumClearance = "minimum_clearance"

	// ConditionSelf holds when the request targets the identity itself.
	ConditionSelf = "self"
)

// ErrUnknownCondition is returned when storing a condition of an
// unsupported kind.
var ErrUnknownCondition = errors.New("unknown condition kind")

// ConditionKinds lists every supported kind.
func ConditionKinds() []string {
	return []string{ConditionSameDepartment, ConditionMinimumClearance, ConditionSelf}
}

// Context carries request attributes that conditions are evaluated
// against.
type Context struct {
	// Department is the department that owns the target resource.
	Department string

	// TargetIdentityID is the identity the request acts on, if any.
	TargetIdentityID string
}

// evaluate is the single dispatch point for condition kinds.
func evaluate(c store.Condition, ident store.Identity, actx *Context) bool {
	switch c.Kind {
	case ConditionSameDepartment:
		return actx != nil && actx.Department != "" && actx.Department == ident.Department
	case ConditionMinimumClearance:
		return c.Clearance.Valid() && ident.Clearance.Valid() && ident.Clearance.Dominates(c.Clearance)
	case ConditionSelf:
		return actx != nil && actx.TargetIdentityID != "" && actx.TargetIdentityID == ident.ID
	default:
		return false
	}
}

// validateConditions rejects kinds evaluate does not understand.
func validateConditions(conds []store.Condition) error {
	for _, c := range conds {
		switch c.Kind {
		case ConditionSameDepartment, ConditionSelf:
		case ConditionMinimumClearance:
			if !c.Clearance.Valid() {
				return fmt.Errorf("%w: %s with clearance %d", ErrUnknownCondition, c.Kind, int(c.Clearance))
			}
		default:
			return fmt.Errorf("%w: %q", ErrUnknownCondition, c.Kind)
		}
	}
	return nil
}
