// Package rbac is the role-permission matrix. Role inheritance and the
// per-role actions live in a casbin model; ownership scoping (own incident,
// own assignment) is layered on top in Go.
package rbac

import (
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/google/uuid"

	"github.com/neighborwatch/incident-server/internal/models"
)

type Action string

const (
	ActionIncidentCreate          Action = "incident:create"
	ActionIncidentRead            Action = "incident:read"
	ActionIncidentReadAssigned    Action = "incident:read_assigned"
	ActionIncidentAssign          Action = "incident:assign"
	ActionIncidentTransitionAny   Action = "incident:transition_any"
	ActionIncidentTransitionOwn   Action = "incident:transition_assigned"
	ActionCommentCreate           Action = "comment:create"
	ActionCommentInternal         Action = "comment:internal"
	ActionPhotoUpload             Action = "photo:upload"
	ActionNotificationRead        Action = "notification:read"
	ActionProfileUpdateSelf       Action = "profile:update_self"
	ActionFeedbackSubmit          Action = "feedback:submit"
	ActionFeedbackDecide          Action = "feedback:decide"
	ActionFeedbackReporterApprove Action = "feedback:reporter_approve"
	ActionUserManage              Action = "user:manage"
	ActionUserGrantSuperAdmin     Action = "user:grant_super_admin"
	ActionAuditRead               Action = "audit:read"
	ActionStatsAdmin              Action = "stats:admin"
)

const modelText = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

var grants = map[models.Role][]Action{
	models.RoleResident: {
		ActionIncidentCreate,
		ActionIncidentRead,
		ActionCommentCreate,
		ActionPhotoUpload,
		ActionNotificationRead,
		ActionProfileUpdateSelf,
		ActionFeedbackReporterApprove,
	},
	models.RoleSecurity: {
		ActionIncidentTransitionOwn,
		ActionIncidentReadAssigned,
		ActionFeedbackSubmit,
		ActionCommentInternal,
	},
	models.RoleAdmin: {
		ActionIncidentAssign,
		ActionIncidentTransitionAny,
		ActionFeedbackDecide,
		ActionUserManage,
		ActionAuditRead,
		ActionStatsAdmin,
	},
	models.RoleSuperAdmin: {
		ActionUserGrantSuperAdmin,
	},
}

// inheritance: child role -> parent role whose grants it also holds
var inheritance = [][2]models.Role{
	{models.RoleSecurity, models.RoleResident},
	{models.RoleAdmin, models.RoleSecurity},
	{models.RoleSuperAdmin, models.RoleAdmin},
}

// transitions security may trigger on incidents assigned to them
var securityEdges = map[models.IncidentStatus]models.IncidentStatus{
	models.StatusAssigned:   models.StatusInProgress,
	models.StatusInProgress: models.StatusFeedbackPending,
}

// Target identifies who owns the resource an action touches
type Target struct {
	ReporterID *uuid.UUID
	AssigneeID *uuid.UUID
}

// TargetOf builds a Target from an incident
func TargetOf(inc models.Incident) Target {
	return Target{ReporterID: inc.ReporterID, AssigneeID: inc.AssignedTo}
}

// Policy answers permission questions
type Policy struct {
	enforcer *casbin.SyncedEnforcer
}

// NewPolicy builds the enforcer and seeds the role grants
func NewPolicy() (*Policy, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("parse rbac model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}

	for role, actions := range grants {
		for _, a := range actions {
			obj, act := split(a)
			if _, err := e.AddPolicy(string(role), obj, act); err != nil {
				return nil, fmt.Errorf("add policy %s %s: %w", role, a, err)
			}
		}
	}
	for _, pair := range inheritance {
		if _, err := e.AddGroupingPolicy(string(pair[0]), string(pair[1])); err != nil {
			return nil, fmt.Errorf("add role inheritance %s: %w", pair[0], err)
		}
	}

	return &Policy{enforcer: e}, nil
}

// Can reports whether role holds action, ignoring ownership
func (p *Policy) Can(role models.Role, action Action) bool {
	if !role.Valid() {
		return false
	}
	obj, act := split(action)
	ok, err := p.enforcer.Enforce(string(role), obj, act)
	return err == nil && ok
}

// HasPermission reports whether actor may perform action on target.
// Inactive actors are denied everything.
func (p *Policy) HasPermission(actor models.Actor, action Action, target Target) bool {
	if !actor.IsActive {
		return false
	}
	if !p.Can(actor.Role, action) {
		return false
	}

	switch action {
	case ActionIncidentTransitionOwn, ActionFeedbackSubmit:
		return isUser(target.AssigneeID, actor.ID)
	case ActionFeedbackReporterApprove:
		return isUser(target.ReporterID, actor.ID)
	case ActionIncidentReadAssigned:
		return isUser(target.AssigneeID, actor.ID) || p.Can(actor.Role, ActionIncidentTransitionAny)
	}
	return true
}

// AllowTransition implements lifecycle.Authorizer
func (p *Policy) AllowTransition(actor models.Actor, inc models.Incident, target models.IncidentStatus) bool {
	if p.HasPermission(actor, ActionIncidentTransitionAny, TargetOf(inc)) {
		return true
	}
	if !p.HasPermission(actor, ActionIncidentTransitionOwn, TargetOf(inc)) {
		return false
	}
	next, ok := securityEdges[inc.Status]
	return ok && next == target
}

// CanSetRole checks an admin changing subject's role from current to next
func (p *Policy) CanSetRole(actor models.Actor, subjectID uuid.UUID, current, next models.Role) bool {
	if actor.ID == subjectID {
		return false
	}
	if !p.HasPermission(actor, ActionUserManage, Target{}) {
		return false
	}
	if current == models.RoleSuperAdmin || next == models.RoleSuperAdmin {
		return p.HasPermission(actor, ActionUserGrantSuperAdmin, Target{})
	}
	return true
}

func split(a Action) (string, string) {
	obj, act, _ := strings.Cut(string(a), ":")
	return obj, act
}

func isUser(id *uuid.UUID, user uuid.UUID) bool {
	return id != nil && *id == user
}
