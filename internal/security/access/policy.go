// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package access

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/lexguard/internal/store"
)

// =============================================================================
// POLICY FILES
// =============================================================================

// PolicyFile is the YAML form of a set of role mappings:
//
//	roles:
//	  attorney:
//	    - permission: case.read
//	      conditions:
//	        - kind: same_department
//	    - permission: client.ssn.read
//	      conditions:
//	        - kind: minimum_clearance
//	          clearance: secret
type PolicyFile struct {
	Roles map[string][]PolicyRule `yaml:"roles"`
}

// PolicyRule is one permission of a role.
type PolicyRule struct {
	Permission string            `yaml:"permission"`
	Conditions []store.Condition `yaml:"conditions,omitempty"`
}

// ParsePolicy decodes and validates a policy document. The result is
// sorted by role, then permission.
func ParsePolicy(data []byte) ([]store.RolePermission, error) {
	var pf PolicyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}

	var out []store.RolePermission
	for role, rules := range pf.Roles {
		for _, r := range rules {
			if err := ValidatePermission(r.Permission); err != nil {
				return nil, fmt.Errorf("role %s: %w", role, err)
			}
			if err := validateConditions(r.Conditions); err != nil {
				return nil, fmt.Errorf("role %s permission %s: %w", role, r.Permission, err)
			}
			out = append(out, store.RolePermission{Role: role, Permission: r.Permission, Conditions: r.Conditions})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Role != out[j].Role {
			return out[i].Role < out[j].Role
		}
		return out[i].Permission < out[j].Permission
	})
	return out, nil
}

// LoadPolicyFile reads and parses a policy file.
func LoadPolicyFile(path string) ([]store.RolePermission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return ParsePolicy(data)
}

// ApplyPolicy stores every mapping through SetRolePermission, so each one
// is audited. It stops at the first failure and reports how many were
// applied.
func (a *Authorizer) ApplyPolicy(ctx context.Context, rps []store.RolePermission, actor string) (int, error) {
	for i, rp := range rps {
		if err := a.SetRolePermission(ctx, rp, actor); err != nil {
			return i, fmt.Errorf("apply %s:%s: %w", rp.Role, rp.Permission, err)
		}
	}
	return len(rps), nil
}
