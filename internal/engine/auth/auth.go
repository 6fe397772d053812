package auth

import (
	"fmt"
	"sort"

	"inspectline/internal/config"
	"inspectline/internal/domain"
)

const (
	PermCaseRead                 = "case.read"
	PermCaseDecide               = "case.decide"
	PermMissionOrderRead         = "mission_order.read"
	PermMissionOrderReadAssigned = "mission_order.read_assigned"
	PermMissionOrderDraft        = "mission_order.draft"
	PermMissionOrderSubmit       = "mission_order.submit"
	PermMissionOrderEdit         = "mission_order.edit"
	PermMissionOrderReview       = "mission_order.review"
	PermAssignmentEdit           = "assignment.edit"
	PermIntakeSubmit             = "intake.submit"
	PermDirectorySearch          = "directory.search"
	PermEventsRead               = "events.read"
	PermActorRead                = "actor.read"
	PermActorManage              = "actor.manage"
	PermConfigManage             = "config.manage"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service answers RBAC questions from the rbac section of the workflow config.
type Service struct {
	Config *config.Config
}

func (s Service) Can(actor domain.Actor, perm string) bool {
	if actor.ID == "" {
		return false
	}
	return s.Config.HasPermission(string(actor.Role), perm)
}

// Require returns ForbiddenError unless actor holds perm.
func (s Service) Require(actor domain.Actor, perm string) error {
	if !s.Can(actor, perm) {
		return ForbiddenError{Permission: perm}
	}
	return nil
}

// RequireAny passes when actor holds at least one of perms.
func (s Service) RequireAny(actor domain.Actor, perms ...string) error {
	for _, p := range perms {
		if s.Can(actor, p) {
			return nil
		}
	}
	if len(perms) == 0 {
		return nil
	}
	return ForbiddenError{Permission: perms[0]}
}

func (s Service) ActorPermissions(actor domain.Actor) []string {
	perms := append([]string(nil), s.Config.Permissions(string(actor.Role))...)
	sort.Strings(perms)
	return perms
}
