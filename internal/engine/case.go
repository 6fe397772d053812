package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"inspectline/internal/domain"
	"inspectline/internal/engine/auth"
	"inspectline/internal/events"
	"inspectline/internal/notify"
	"inspectline/internal/repo"
)

func ensureCaseTransition(from, to domain.CaseStatus) error {
	if from == domain.CaseSubmitted && (to == domain.CaseApproved || to == domain.CaseDeclined) {
		return nil
	}
	return invalidTransition("case", string(from), string(to))
}

// Decide approves or declines a submitted case. The status check and the
// audit write are one guarded UPDATE; a concurrent decision that lands first
// makes this one fail with ErrStaleState.
func (e Engine) Decide(ctx context.Context, caseID string, decision domain.CaseStatus, actor domain.Actor, comment string) (domain.Case, error) {
	if err := e.require(actor, auth.PermCaseDecide); err != nil {
		return domain.Case{}, err
	}
	if decision != domain.CaseApproved && decision != domain.CaseDeclined {
		return domain.Case{}, fmt.Errorf("%w: decision must be approved or declined, got %q", ErrInvalidTransition, decision)
	}
	c, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return domain.Case{}, err
	}
	if err := ensureCaseTransition(c.Status, decision); err != nil {
		return c, err
	}
	comment = strings.TrimSpace(comment)
	if decision == domain.CaseDeclined && comment == "" {
		return c, invalid("comment", "a declined case needs a comment", ErrMissingRationale)
	}
	at := e.timestamp()

	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()

	if err := e.Repo.DecideCaseTx(ctx, tx, caseID, decision, actor.ID, at, comment); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			if _, gerr := e.Repo.GetCaseTx(ctx, tx, caseID); errors.Is(gerr, repo.ErrNotFound) {
				return c, gerr
			}
			return c, ErrStaleState
		}
		return c, err
	}
	evtType := events.CaseApproved
	payload := events.EventPayload{"from": string(c.Status), "to": string(decision)}
	if decision == domain.CaseDeclined {
		evtType = events.CaseDeclined
		payload["comment"] = comment
	}
	if err := e.appendEvent(ctx, tx, evtType, "case", caseID, actor.ID, payload); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}

	updated, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return c, err
	}
	e.publish(ctx, "case", caseID, evtType)
	e.notify(ctx, decisionNotice(updated, evtType))
	return updated, nil
}

func decisionNotice(c domain.Case, evtType string) notify.Event {
	evt := notify.Event{Type: evtType, EntityKind: "case", EntityID: c.ID}
	if c.ReporterEmail != "" {
		evt.To = []string{c.ReporterEmail}
	}
	switch c.Status {
	case domain.CaseApproved:
		evt.Subject = "Your complaint has been approved"
		evt.Text = fmt.Sprintf("Your complaint about %s was approved and will be scheduled for inspection.", c.BusinessName)
	case domain.CaseDeclined:
		evt.Subject = "Your complaint has been declined"
		reason := ""
		if c.DeclineComment != nil {
			reason = *c.DeclineComment
		}
		evt.Text = fmt.Sprintf("Your complaint about %s was declined: %s", c.BusinessName, reason)
	}
	return evt
}

func (e Engine) GetCase(ctx context.Context, id string, actor domain.Actor) (domain.Case, error) {
	if err := e.require(actor, auth.PermCaseRead); err != nil {
		return domain.Case{}, err
	}
	return e.Repo.GetCase(ctx, id)
}

func (e Engine) ListCases(ctx context.Context, actor domain.Actor, f repo.CaseFilter) ([]domain.Case, error) {
	if err := e.require(actor, auth.PermCaseRead); err != nil {
		return nil, err
	}
	return e.Repo.ListCases(ctx, f)
}
