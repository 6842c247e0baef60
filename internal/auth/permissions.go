package auth

import "context"

// Permission keys used by the workforce modules.
const (
	PermApproveTimesheet = "approve_timesheet"
	PermSubmitTimesheet  = "submit_timesheet"
	PermManageProjects   = "manage_projects"
	PermViewReports      = "view_reports"
	PermManageUsers      = "manage_users"
)

// BuiltinPermissions lists the keys known to this service. Roles may
// carry additional keys; evaluation does not restrict to this list.
var BuiltinPermissions = []string{
	PermApproveTimesheet,
	PermSubmitTimesheet,
	PermManageProjects,
	PermViewReports,
	PermManageUsers,
}

// MergePermissionSets unions role permission maps into an effective set.
// A permission is granted when any contributing set grants it; an
// explicit false in one role never overrides a grant from another.
// Most-permissive-wins is a deliberate policy, kept in one named
// function so the conflict rule stays visible and testable.
func MergePermissionSets(sets ...PermissionSet) PermissionSet {
	merged := make(PermissionSet)
	for _, set := range sets {
		for key, granted := range set {
			if granted {
				merged[key] = true
			}
		}
	}
	return merged
}

// Evaluator resolves effective permissions from active role assignments.
// No caching: every call reads fresh state, so a role change takes
// effect on the next check.
type Evaluator struct {
	roles RoleStore
}

// NewEvaluator wires the evaluator to its role persistence collaborator.
func NewEvaluator(roles RoleStore) *Evaluator {
	return &Evaluator{roles: roles}
}

// EffectivePermissions unions the permission maps of all active roles
// reached through the user's active assignments. A user with no active
// assignments gets an empty set (default deny).
func (e *Evaluator) EffectivePermissions(ctx context.Context, userID string) (PermissionSet, error) {
	sets, err := e.roles.PermissionSetsFor(ctx, userID)
	if err != nil {
		return nil, transientErr("load permission sets", err)
	}
	return MergePermissionSets(sets...), nil
}

// Authorize reports whether the user holds the permission. Absent keys
// deny.
func (e *Evaluator) Authorize(ctx context.Context, userID, permission string) (bool, error) {
	perms, err := e.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return perms[permission], nil
}
