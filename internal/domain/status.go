package domain

import (
	"fmt"
	"strings"
)

type CaseStatus string

const (
	CaseSubmitted CaseStatus = "submitted"
	CaseApproved  CaseStatus = "approved"
	CaseDeclined  CaseStatus = "declined"
)

// ParseCaseStatus normalizes any stored or user-supplied spelling.
func ParseCaseStatus(s string) (CaseStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "submitted", "pending", "new":
		return CaseSubmitted, nil
	case "approved":
		return CaseApproved, nil
	case "declined":
		return CaseDeclined, nil
	}
	return "", fmt.Errorf("unknown case status %q", s)
}

func (s CaseStatus) Terminal() bool {
	return s == CaseApproved || s == CaseDeclined
}

type MissionOrderStatus string

const (
	MissionOrderDraft         MissionOrderStatus = "draft"
	MissionOrderIssued        MissionOrderStatus = "issued"
	MissionOrderForInspection MissionOrderStatus = "for inspection"
	MissionOrderCancelled     MissionOrderStatus = "cancelled"
)

func ParseMissionOrderStatus(s string) (MissionOrderStatus, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("_", " ", "-", " ").Replace(norm)
	switch norm {
	case "draft":
		return MissionOrderDraft, nil
	case "issued":
		return MissionOrderIssued, nil
	case "for inspection", "forinspection":
		return MissionOrderForInspection, nil
	case "cancelled", "canceled":
		return MissionOrderCancelled, nil
	}
	return "", fmt.Errorf("unknown mission order status %q", s)
}

// Editable reports whether body and staffing may still change.
func (s MissionOrderStatus) Editable() bool {
	return s == MissionOrderDraft || s == MissionOrderIssued
}

func ParseRole(s string) (Role, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch Role(norm) {
	case RoleDirector, RoleHeadInspector, RoleInspector, RoleReporter, RoleAdmin:
		return Role(norm), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}
