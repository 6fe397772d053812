package auth

import (
	"errors"
	"testing"

	"inspectline/internal/config"
	"inspectline/internal/domain"
)

func TestRequire(t *testing.T) {
	svc := Service{Config: config.Default("qc")}
	director := domain.Actor{ID: "dir-1", Role: domain.RoleDirector}
	inspector := domain.Actor{ID: "insp-1", Role: domain.RoleInspector}

	if err := svc.Require(director, PermCaseDecide); err != nil {
		t.Fatalf("director should decide cases: %v", err)
	}
	err := svc.Require(inspector, PermCaseDecide)
	var forbidden ForbiddenError
	if !errors.As(err, &forbidden) || forbidden.Permission != PermCaseDecide {
		t.Fatalf("expected forbidden case.decide, got %v", err)
	}
	if svc.Can(domain.Actor{Role: domain.RoleDirector}, PermCaseDecide) {
		t.Fatalf("anonymous actor must not hold permissions")
	}
	if err := svc.RequireAny(inspector, PermMissionOrderRead, PermMissionOrderReadAssigned); err != nil {
		t.Fatalf("inspector reads assigned orders: %v", err)
	}
}
