package server

import (
	"fmt"
	"net/url"
	"strings"

	"inspectline/internal/domain"
)

const (
	ViewCases         = "cases"
	ViewMissionOrders = "mission_orders"
	ViewInspections   = "inspections"
	ViewIntake        = "intake"
	ViewEvents        = "events"
)

// View is what a dashboard shows: which list, filtered how.
type View struct {
	Name               string
	CaseStatus         *domain.CaseStatus
	MissionOrderStatus *domain.MissionOrderStatus
}

type roleViews struct {
	fallback string
	allowed  map[string]bool
}

var viewsByRole = map[domain.Role]roleViews{
	domain.RoleDirector:      {fallback: ViewCases, allowed: map[string]bool{ViewCases: true, ViewMissionOrders: true, ViewEvents: true}},
	domain.RoleHeadInspector: {fallback: ViewCases, allowed: map[string]bool{ViewCases: true, ViewMissionOrders: true}},
	domain.RoleInspector:     {fallback: ViewInspections, allowed: map[string]bool{ViewInspections: true}},
	domain.RoleReporter:      {fallback: ViewIntake, allowed: map[string]bool{ViewIntake: true}},
	domain.RoleAdmin:         {fallback: ViewEvents, allowed: map[string]bool{ViewEvents: true}},
}

// ResolveView picks the dashboard view for role from the request query
// (?view=...&status=...). Each role has a default view and status; a view the
// role cannot open is an error, never a silent fallback.
func ResolveView(role domain.Role, query url.Values) (View, error) {
	rv, ok := viewsByRole[role]
	if !ok {
		return View{}, fmt.Errorf("no dashboard for role %q", role)
	}
	name := strings.ToLower(strings.TrimSpace(query.Get("view")))
	name = strings.ReplaceAll(name, "-", "_")
	if name == "" {
		name = rv.fallback
	}
	if !rv.allowed[name] {
		return View{}, fmt.Errorf("view %q is not available to %s", name, role)
	}
	v := View{Name: name}
	status := strings.TrimSpace(query.Get("status"))

	switch name {
	case ViewCases:
		cs := domain.CaseSubmitted
		if role == domain.RoleHeadInspector {
			cs = domain.CaseApproved
		}
		if status == "all" {
			return v, nil
		}
		if status != "" {
			parsed, err := domain.ParseCaseStatus(status)
			if err != nil {
				return View{}, err
			}
			cs = parsed
		}
		v.CaseStatus = &cs
	case ViewMissionOrders:
		ms := domain.MissionOrderIssued
		if role == domain.RoleHeadInspector {
			ms = domain.MissionOrderDraft
		}
		if status == "all" {
			return v, nil
		}
		if status != "" {
			parsed, err := domain.ParseMissionOrderStatus(status)
			if err != nil {
				return View{}, err
			}
			ms = parsed
		}
		v.MissionOrderStatus = &ms
	case ViewInspections:
		ms := domain.MissionOrderForInspection
		v.MissionOrderStatus = &ms
	}
	return v, nil
}
