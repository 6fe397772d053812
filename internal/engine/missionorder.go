package engine

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"inspectline/internal/document"
	"inspectline/internal/domain"
	"inspectline/internal/engine/auth"
	"inspectline/internal/events"
	"inspectline/internal/notify"
	"inspectline/internal/repo"
)

const defaultMissionOrderTitle = "Mission Order"

func ensureMissionOrderTransition(from, to domain.MissionOrderStatus) error {
	switch from {
	case domain.MissionOrderDraft:
		if to == domain.MissionOrderIssued {
			return nil
		}
	case domain.MissionOrderIssued:
		if to == domain.MissionOrderForInspection || to == domain.MissionOrderCancelled {
			return nil
		}
	}
	return invalidTransition("mission order", string(from), string(to))
}

// StartMissionOrder returns the case's open mission order, creating a draft
// from the configured template when every earlier order was cancelled.
func (e Engine) StartMissionOrder(ctx context.Context, caseID string, actor domain.Actor, title string) (domain.MissionOrder, error) {
	if err := e.require(actor, auth.PermMissionOrderDraft); err != nil {
		return domain.MissionOrder{}, err
	}
	c, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return domain.MissionOrder{}, err
	}
	if c.Status != domain.CaseApproved {
		return domain.MissionOrder{}, fmt.Errorf("%w: case %s is %s", ErrCaseNotApproved, caseID, c.Status)
	}
	at := e.timestamp()

	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.MissionOrder{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.LockApprovedCaseTx(ctx, tx, caseID); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.MissionOrder{}, ErrCaseNotApproved
		}
		return domain.MissionOrder{}, err
	}
	existing, err := e.Repo.ActiveMissionOrderForCaseTx(ctx, tx, caseID)
	if err == nil {
		if err := tx.Commit(); err != nil {
			return domain.MissionOrder{}, err
		}
		return e.withInspectors(ctx, existing)
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.MissionOrder{}, err
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = e.Config.MissionOrder.DefaultTitle
	}
	if title == "" {
		title = defaultMissionOrderTitle
	}
	mo := domain.MissionOrder{
		ID:        uuid.NewString(),
		CaseID:    caseID,
		Title:     title,
		Body:      document.Resync(document.FromText(e.Config.MissionOrder.Template), caseFacts(c, nil)),
		Status:    domain.MissionOrderDraft,
		CreatedBy: actor.ID,
		CreatedAt: at,
		UpdatedAt: at,
	}
	if err := e.Repo.InsertMissionOrderTx(ctx, tx, mo); err != nil {
		return domain.MissionOrder{}, fmt.Errorf("insert mission order: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.MissionOrderCreated, "mission_order", mo.ID, actor.ID, events.EventPayload{
		"case_id": caseID,
		"title":   title,
	}); err != nil {
		return domain.MissionOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.MissionOrder{}, err
	}
	e.publish(ctx, "mission_order", mo.ID, events.MissionOrderCreated)
	mo.Inspectors = []domain.Assignment{}
	return mo, nil
}

// Submit issues a staffed draft for director review.
func (e Engine) Submit(ctx context.Context, moID string, actor domain.Actor) (domain.MissionOrder, error) {
	if err := e.require(actor, auth.PermMissionOrderSubmit); err != nil {
		return domain.MissionOrder{}, err
	}
	mo, err := e.transitionMissionOrder(ctx, actor, moID, domain.MissionOrderDraft, domain.MissionOrderIssued, "", true)
	if err != nil {
		return mo, err
	}
	e.notify(ctx, e.reviewNotice(ctx, mo))
	return mo, nil
}

// Approve moves an issued order to ForInspection. Staffing is re-checked in
// the same guarded UPDATE.
func (e Engine) Approve(ctx context.Context, moID string, actor domain.Actor) (domain.MissionOrder, error) {
	if err := e.require(actor, auth.PermMissionOrderReview); err != nil {
		return domain.MissionOrder{}, err
	}
	return e.transitionMissionOrder(ctx, actor, moID, domain.MissionOrderIssued, domain.MissionOrderForInspection, "", true)
}

// Reject cancels an issued order. The comment is mandatory.
func (e Engine) Reject(ctx context.Context, moID string, actor domain.Actor, comment string) (domain.MissionOrder, error) {
	if err := e.require(actor, auth.PermMissionOrderReview); err != nil {
		return domain.MissionOrder{}, err
	}
	return e.transitionMissionOrder(ctx, actor, moID, domain.MissionOrderIssued, domain.MissionOrderCancelled, comment, false)
}

func (e Engine) transitionMissionOrder(ctx context.Context, actor domain.Actor, moID string, from, to domain.MissionOrderStatus, comment string, requireStaff bool) (domain.MissionOrder, error) {
	mo, err := e.Repo.GetMissionOrder(ctx, moID)
	if err != nil {
		return domain.MissionOrder{}, err
	}
	if mo.Status != from {
		return mo, invalidTransition("mission order", string(mo.Status), string(to))
	}
	if err := ensureMissionOrderTransition(from, to); err != nil {
		return mo, err
	}
	comment = strings.TrimSpace(comment)
	if to == domain.MissionOrderCancelled && comment == "" {
		return mo, invalid("comment", "a cancelled mission order needs a comment", ErrMissingRationale)
	}
	if requireStaff {
		staff, err := e.Repo.ListAssignments(ctx, moID)
		if err != nil {
			return mo, err
		}
		if len(staff) == 0 {
			return mo, noInspectors()
		}
	}
	at := e.timestamp()

	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return mo, err
	}
	defer tx.Rollback()

	err = e.Repo.TransitionMissionOrderTx(ctx, tx, repo.MissionOrderTransition{
		ID:           moID,
		From:         from,
		To:           to,
		ActorID:      actor.ID,
		At:           at,
		Comment:      comment,
		RequireStaff: requireStaff,
	})
	if errors.Is(err, repo.ErrConflict) {
		return mo, e.diagnoseTransition(ctx, tx, moID, from, requireStaff)
	}
	if err != nil {
		return mo, err
	}
	evtType := missionOrderEvent(to)
	payload := events.EventPayload{"from": string(from), "to": string(to)}
	if comment != "" {
		payload["comment"] = comment
	}
	if err := e.appendEvent(ctx, tx, evtType, "mission_order", moID, actor.ID, payload); err != nil {
		return mo, err
	}
	if err := tx.Commit(); err != nil {
		return mo, err
	}
	e.publish(ctx, "mission_order", moID, evtType)
	updated, err := e.Repo.GetMissionOrder(ctx, moID)
	if err != nil {
		return mo, err
	}
	return e.withInspectors(ctx, updated)
}

// diagnoseTransition explains why a guarded transition matched no row.
func (e Engine) diagnoseTransition(ctx context.Context, tx *sqlx.Tx, moID string, from domain.MissionOrderStatus, requireStaff bool) error {
	cur, err := e.Repo.GetMissionOrderTx(ctx, tx, moID)
	if err != nil {
		return err
	}
	if cur.Status != from {
		return ErrStaleState
	}
	if requireStaff {
		n, err := e.Repo.CountAssignmentsTx(ctx, tx, moID)
		if err != nil {
			return err
		}
		if n == 0 {
			return noInspectors()
		}
	}
	return ErrStaleState
}

func noInspectors() error {
	return invalid("inspectors", "assign at least one inspector", ErrNoInspectorsAssigned)
}

func missionOrderEvent(to domain.MissionOrderStatus) string {
	switch to {
	case domain.MissionOrderIssued:
		return events.MissionOrderSubmitted
	case domain.MissionOrderForInspection:
		return events.MissionOrderApproved
	case domain.MissionOrderCancelled:
		return events.MissionOrderCancelled
	}
	return "mission_order.updated"
}

func (e Engine) reviewNotice(ctx context.Context, mo domain.MissionOrder) notify.Event {
	return notify.Event{
		Type:       events.MissionOrderSubmitted,
		EntityKind: "mission_order",
		EntityID:   mo.ID,
		To:         e.directorEmails(ctx),
		Subject:    "Mission order awaiting review: " + mo.Title,
		Text:       fmt.Sprintf("Mission order %q (%s) was submitted with %d inspector(s) and awaits your review.", mo.Title, mo.ID, len(mo.Inspectors)),
	}
}

func (e Engine) directorEmails(ctx context.Context) []string {
	seen := map[string]bool{}
	var out []string
	add := func(addr string) {
		addr = strings.TrimSpace(addr)
		if addr == "" || seen[strings.ToLower(addr)] {
			return
		}
		seen[strings.ToLower(addr)] = true
		out = append(out, addr)
	}
	if e.Config != nil {
		for _, addr := range e.Config.Notifications.DirectorEmails {
			add(addr)
		}
	}
	directors, err := e.Repo.ListActors(ctx, domain.RoleDirector)
	if err != nil {
		e.log().Warnw("list directors failed", "error", err)
	}
	for _, d := range directors {
		add(d.Email)
	}
	return out
}

// UpdateBody applies editor edits to the body and optionally retitles the
// order. Edits touching a locked field are refused; the locked fields are
// resynced afterwards.
func (e Engine) UpdateBody(ctx context.Context, moID string, actor domain.Actor, edits []document.Edit, title *string) (domain.MissionOrder, error) {
	if err := e.require(actor, auth.PermMissionOrderEdit); err != nil {
		return domain.MissionOrder{}, err
	}
	mo, err := e.Repo.GetMissionOrder(ctx, moID)
	if err != nil {
		return domain.MissionOrder{}, err
	}
	if !mo.Status.Editable() {
		return mo, fmt.Errorf("%w: status %s", ErrMissionOrderLocked, mo.Status)
	}
	if title != nil && strings.TrimSpace(*title) == "" {
		return mo, invalid("title", "title must not be empty", nil)
	}
	at := e.timestamp()

	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return mo, err
	}
	defer tx.Rollback()

	if err := e.lockMissionOrder(ctx, tx, moID, at); err != nil {
		return mo, err
	}
	cur, err := e.Repo.GetMissionOrderTx(ctx, tx, moID)
	if err != nil {
		return mo, err
	}
	body, err := document.Apply(cur.Body, edits)
	if err != nil {
		return mo, err
	}
	newTitle := cur.Title
	if title != nil {
		newTitle = strings.TrimSpace(*title)
	}
	facts, err := e.factsTx(ctx, tx, cur)
	if err != nil {
		return mo, err
	}
	body = document.Resync(body, facts)
	if err := e.Repo.UpdateMissionOrderBodyTx(ctx, tx, moID, newTitle, body, at); err != nil {
		return mo, err
	}
	if err := e.appendEvent(ctx, tx, events.MissionOrderBodyUpdated, "mission_order", moID, actor.ID, events.EventPayload{
		"edits": len(edits),
		"title": newTitle,
	}); err != nil {
		return mo, err
	}
	if err := tx.Commit(); err != nil {
		return mo, err
	}
	e.publish(ctx, "mission_order", moID, events.MissionOrderBodyUpdated)
	updated, err := e.Repo.GetMissionOrder(ctx, moID)
	if err != nil {
		return mo, err
	}
	return e.withInspectors(ctx, updated)
}

// lockMissionOrder takes the order's row lock, failing with
// ErrMissionOrderLocked once the order left Draft/Issued.
func (e Engine) lockMissionOrder(ctx context.Context, tx *sqlx.Tx, moID, at string) error {
	err := e.Repo.LockMissionOrderTx(ctx, tx, moID, at)
	if !errors.Is(err, repo.ErrConflict) {
		return err
	}
	cur, gerr := e.Repo.GetMissionOrderTx(ctx, tx, moID)
	if gerr != nil {
		return gerr
	}
	return fmt.Errorf("%w: status %s", ErrMissionOrderLocked, cur.Status)
}

func caseFacts(c domain.Case, staff []domain.Assignment) document.Facts {
	names := make([]string, 0, len(staff))
	for _, a := range staff {
		names = append(names, a.DisplayName)
	}
	return document.Facts{InspectorNames: names, BusinessName: c.BusinessName, BusinessAddress: c.BusinessAddress}
}

func (e Engine) factsTx(ctx context.Context, tx *sqlx.Tx, mo domain.MissionOrder) (document.Facts, error) {
	c, err := e.Repo.GetCaseTx(ctx, tx, mo.CaseID)
	if err != nil {
		return document.Facts{}, err
	}
	staff, err := e.Repo.ListAssignmentsTx(ctx, tx, mo.ID)
	if err != nil {
		return document.Facts{}, err
	}
	return caseFacts(c, staff), nil
}

// resyncTx rewrites the locked fields of the order's body from current
// facts. The caller holds the order's row lock.
func (e Engine) resyncTx(ctx context.Context, tx *sqlx.Tx, moID, at string) error {
	mo, err := e.Repo.GetMissionOrderTx(ctx, tx, moID)
	if err != nil {
		return err
	}
	facts, err := e.factsTx(ctx, tx, mo)
	if err != nil {
		return err
	}
	return e.Repo.UpdateMissionOrderBodyTx(ctx, tx, moID, mo.Title, document.Resync(mo.Body, facts), at)
}

func (e Engine) withInspectors(ctx context.Context, mo domain.MissionOrder) (domain.MissionOrder, error) {
	staff, err := e.Repo.ListAssignments(ctx, mo.ID)
	if err != nil {
		return mo, err
	}
	mo.Inspectors = staff
	return mo, nil
}

// canSeeAll reports whether actor reads every order; otherwise only assigned
// orders that are ForInspection are visible.
func (e Engine) canSeeAll(actor domain.Actor) (bool, error) {
	if err := e.requireConfig(); err != nil {
		return false, err
	}
	if e.Auth.Can(actor, auth.PermMissionOrderRead) {
		return true, nil
	}
	if e.Auth.Can(actor, auth.PermMissionOrderReadAssigned) {
		return false, nil
	}
	return false, auth.ForbiddenError{Permission: auth.PermMissionOrderRead}
}

func (e Engine) GetMissionOrder(ctx context.Context, moID string, actor domain.Actor) (domain.MissionOrder, error) {
	all, err := e.canSeeAll(actor)
	if err != nil {
		return domain.MissionOrder{}, err
	}
	mo, err := e.Repo.GetMissionOrder(ctx, moID)
	if err != nil {
		return domain.MissionOrder{}, err
	}
	mo, err = e.withInspectors(ctx, mo)
	if err != nil || all {
		return mo, err
	}
	if mo.Status != domain.MissionOrderForInspection || !assigned(mo.Inspectors, actor.ID) {
		return domain.MissionOrder{}, repo.ErrNotFound
	}
	return mo, nil
}

func assigned(staff []domain.Assignment, inspectorID string) bool {
	for _, a := range staff {
		if a.InspectorID == inspectorID {
			return true
		}
	}
	return false
}

// ListMissionOrders lists orders matching f. Inspectors only ever see their
// own orders in ForInspection, whatever the filter says.
func (e Engine) ListMissionOrders(ctx context.Context, actor domain.Actor, f repo.MissionOrderFilter) ([]domain.MissionOrder, error) {
	all, err := e.canSeeAll(actor)
	if err != nil {
		return nil, err
	}
	if !all {
		status := domain.MissionOrderForInspection
		f.InspectorID = actor.ID
		f.Status = &status
	}
	list, err := e.Repo.ListMissionOrders(ctx, f)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i], err = e.withInspectors(ctx, list[i]); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// RenderMissionOrder returns the order as a standalone HTML fragment for
// printing or export.
func (e Engine) RenderMissionOrder(ctx context.Context, moID string, actor domain.Actor) (string, error) {
	mo, err := e.GetMissionOrder(ctx, moID, actor)
	if err != nil {
		return "", err
	}
	body, err := document.RenderHTML(mo.Body)
	if err != nil {
		return "", fmt.Errorf("render mission order: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<article class=\"mission-order\" data-id=%q data-status=%q>\n", mo.ID, string(mo.Status))
	fmt.Fprintf(&b, "<h1>%s</h1>\n", html.EscapeString(mo.Title))
	b.WriteString(body)
	b.WriteString("</article>\n")
	return b.String(), nil
}
