// Package lifecycle holds the incident status transition table and the
// machine that applies a transition to an incident.
package lifecycle

import (
	"time"

	"github.com/neighborwatch/incident-server/internal/apperr"
	"github.com/neighborwatch/incident-server/internal/models"
)

var transitions = map[models.IncidentStatus][]models.IncidentStatus{
	models.StatusReported:          {models.StatusAssigned},
	models.StatusAssigned:          {models.StatusInProgress, models.StatusReported},
	models.StatusInProgress:        {models.StatusFeedbackPending, models.StatusAssigned},
	models.StatusFeedbackPending:   {models.StatusFeedbackSubmitted, models.StatusInProgress},
	models.StatusFeedbackSubmitted: {models.StatusFeedbackApproved, models.StatusFeedbackPending},
	models.StatusFeedbackApproved:  {models.StatusResolved},
	models.StatusResolved:          {models.StatusClosed, models.StatusAssigned},
	models.StatusClosed:            {},
}

// CanTransition reports whether the table has an edge from -> to
func CanTransition(from, to models.IncidentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStates returns the statuses reachable from from in one step
func NextStates(from models.IncidentStatus) []models.IncidentStatus {
	next := transitions[from]
	out := make([]models.IncidentStatus, len(next))
	copy(out, next)
	return out
}

// IsTerminal is true for statuses with no outbound edge
func IsTerminal(s models.IncidentStatus) bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// AssignmentConsistent checks that the assignee pointer is set exactly when
// the incident has left reported.
func AssignmentConsistent(inc models.Incident) bool {
	return (inc.AssignedTo == nil) == (inc.Status == models.StatusReported)
}

// Authorizer decides whether an actor may move an incident to target
type Authorizer interface {
	AllowTransition(actor models.Actor, inc models.Incident, target models.IncidentStatus) bool
}

// Machine applies transitions to incidents. It never mutates its input.
type Machine struct {
	auth Authorizer
}

// NewMachine creates a machine that consults auth for every transition
func NewMachine(auth Authorizer) *Machine {
	return &Machine{auth: auth}
}

// Transition validates and applies the move of inc to target on behalf of
// actor, returning the updated copy.
func (m *Machine) Transition(inc models.Incident, target models.IncidentStatus, actor models.Actor, now time.Time) (models.Incident, error) {
	if !target.Valid() {
		return models.Incident{}, apperr.Newf(apperr.KindValidation, "unknown status %q", target)
	}
	if !CanTransition(inc.Status, target) {
		return models.Incident{}, apperr.Newf(apperr.KindIllegalTransition,
			"cannot move incident from %s to %s", inc.Status, target)
	}
	if m.auth != nil && !m.auth.AllowTransition(actor, inc, target) {
		return models.Incident{}, apperr.Newf(apperr.KindForbidden,
			"role %s may not move incident from %s to %s", actor.Role, inc.Status, target)
	}

	out := inc.Clone()
	out.Status = target
	out.UpdatedAt = now

	switch target {
	case models.StatusAssigned:
		if out.AssignedTo == nil {
			return models.Incident{}, apperr.New(apperr.KindValidation, "an assignee is required to enter assigned")
		}
		out.AssignedAt = timePtr(now)
		out.ResolvedAt = nil
	case models.StatusReported:
		out.AssignedTo = nil
		out.AssignedBy = nil
		out.AssignedAt = nil
	case models.StatusResolved:
		out.ResolvedAt = timePtr(now)
	}

	return out, nil
}

// Allowed filters the table's next states down to those actor may trigger.
// Entering assigned from reported is excluded because it needs an assignee.
func (m *Machine) Allowed(inc models.Incident, actor models.Actor) []models.IncidentStatus {
	var out []models.IncidentStatus
	for _, next := range transitions[inc.Status] {
		if next == models.StatusAssigned && inc.AssignedTo == nil {
			continue
		}
		if m.auth != nil && !m.auth.AllowTransition(actor, inc, next) {
			continue
		}
		out = append(out, next)
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	return &t
}
