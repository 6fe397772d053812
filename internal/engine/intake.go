package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"inspectline/internal/directory"
	"inspectline/internal/domain"
	"inspectline/internal/engine/auth"
	"inspectline/internal/events"
	"inspectline/internal/geofence"
	"inspectline/internal/notify"
	"inspectline/internal/repo"
	"inspectline/internal/storage"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// validateInput runs struct validation and reports the first failing field.
func validateInput(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return invalid(fe.Field(), fmt.Sprintf("failed %s validation", fe.Tag()), nil)
	}
	return err
}

type StartIntakeOptions struct {
	BusinessID      string   `json:"business_id,omitempty" validate:"omitempty,max=128"`
	BusinessName    string   `json:"business_name,omitempty" validate:"required_without=BusinessID,max=200"`
	BusinessAddress string   `json:"business_address,omitempty" validate:"max=500"`
	ReporterLat     *float64 `json:"reporter_lat,omitempty" validate:"omitempty,latitude"`
	ReporterLng     *float64 `json:"reporter_lng,omitempty" validate:"omitempty,longitude"`
}

type SubmitIntakeOptions struct {
	ReporterEmail string `json:"reporter_email,omitempty" validate:"omitempty,email,max=254"`
	Description   string `json:"description,omitempty" validate:"max=4000"`
}

// EvidenceInput is either an object to store or the URI of one already
// stored by the client.
type EvidenceInput struct {
	Source geofence.Source
	Name   string
	Body   io.Reader
	URI    string
}

// IntakeView is an intake session with its evidence and the sources it
// accepts next.
type IntakeView struct {
	Session        domain.IntakeSession  `json:"session"`
	Evidence       []domain.EvidenceItem `json:"evidence"`
	AllowedSources []geofence.Source     `json:"allowed_sources"`
	Tag            string                `json:"tag"`
}

func evidenceItems(list []domain.EvidenceItem) []geofence.Item {
	items := make([]geofence.Item, 0, len(list))
	for _, it := range list {
		items = append(items, geofence.Item{URI: it.URI, Source: geofence.Source(it.Source)})
	}
	return items
}

func intakeView(s domain.IntakeSession, evidence []domain.EvidenceItem) IntakeView {
	cls := geofence.ParseClassification(s.Classification)
	return IntakeView{
		Session:        s,
		Evidence:       evidence,
		AllowedSources: geofence.Policy{Classification: cls}.AllowedSources(evidenceItems(evidence)),
		Tag:            cls.Tag(),
	}
}

// StartIntake opens an intake session and fixes its location
// classification. Proximity failures never block intake; they classify the
// session as unavailable.
func (e Engine) StartIntake(ctx context.Context, actor domain.Actor, opts StartIntakeOptions) (IntakeView, error) {
	if err := e.require(actor, auth.PermIntakeSubmit); err != nil {
		return IntakeView{}, err
	}
	if err := validateInput(opts); err != nil {
		return IntakeView{}, err
	}
	s := domain.IntakeSession{
		ID:              uuid.NewString(),
		BusinessName:    strings.TrimSpace(opts.BusinessName),
		BusinessAddress: strings.TrimSpace(opts.BusinessAddress),
		ReporterLat:     opts.ReporterLat,
		ReporterLng:     opts.ReporterLng,
		Status:          domain.IntakeOpen,
	}
	var ref *directory.BusinessRef
	if id := strings.TrimSpace(opts.BusinessID); id != "" {
		if e.Directory == nil {
			return IntakeView{}, fmt.Errorf("%w: no business directory configured", ErrUpstreamUnavailable)
		}
		b, err := e.Directory.Get(ctx, id)
		if errors.Is(err, directory.ErrNotFound) {
			return IntakeView{}, invalid("business_id", "unknown business", nil)
		}
		if err != nil {
			return IntakeView{}, fmt.Errorf("%w: business directory: %v", ErrUpstreamUnavailable, err)
		}
		s.BusinessID = &b.ID
		s.BusinessName = b.Name
		s.BusinessAddress = b.Address
		ref = &directory.BusinessRef{ID: b.ID, Lat: b.Lat, Lng: b.Lng}
	}

	cls := geofence.VerificationUnavailable
	if ref != nil && opts.ReporterLat != nil && opts.ReporterLng != nil {
		var distance *float64
		cls, distance = e.checkProximity(ctx, geofence.Coordinates{Lat: *opts.ReporterLat, Lng: *opts.ReporterLng}, *ref)
		s.DistanceMeters = distance
	}
	s.Classification = cls.String()
	s.CreatedAt = e.timestamp()

	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return IntakeView{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertIntakeSessionTx(ctx, tx, s); err != nil {
		return IntakeView{}, fmt.Errorf("insert intake session: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.IntakeStarted, "intake", s.ID, actor.ID, events.EventPayload{
		"classification": s.Classification,
		"business_id":    opts.BusinessID,
	}); err != nil {
		return IntakeView{}, err
	}
	if err := tx.Commit(); err != nil {
		return IntakeView{}, err
	}
	return intakeView(s, []domain.EvidenceItem{}), nil
}

func (e Engine) checkProximity(ctx context.Context, reporter geofence.Coordinates, ref directory.BusinessRef) (geofence.Classification, *float64) {
	if e.Proximity == nil {
		return geofence.VerificationUnavailable, nil
	}
	timeout := geofence.DefaultProximityTimeout
	threshold := geofence.DefaultThresholdMeters
	if e.Config != nil {
		timeout = e.Config.ProximityTimeout()
		threshold = e.Config.ThresholdMeters()
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	res, err := e.Proximity.CheckProximity(pctx, reporter, ref, threshold)
	if err != nil {
		e.log().Warnw("proximity check failed", "business_id", ref.ID, "error", err)
	}
	cls := geofence.FromCheck(&res, err)
	if cls == geofence.VerificationUnavailable {
		return cls, nil
	}
	d := res.DistanceMeters
	return cls, &d
}

func (e Engine) GetIntake(ctx context.Context, sessionID string) (IntakeView, error) {
	s, err := e.Repo.GetIntakeSession(ctx, sessionID)
	if err != nil {
		return IntakeView{}, err
	}
	evidence, err := e.Repo.ListEvidence(ctx, sessionID)
	if err != nil {
		return IntakeView{}, err
	}
	return intakeView(s, evidence), nil
}

// AddEvidence stores an evidence object and appends it to the session when
// the geofence policy admits its source.
func (e Engine) AddEvidence(ctx context.Context, sessionID string, actor domain.Actor, in EvidenceInput) (IntakeView, error) {
	if err := e.require(actor, auth.PermIntakeSubmit); err != nil {
		return IntakeView{}, err
	}
	if !in.Source.Valid() {
		return IntakeView{}, invalid("source", "source must be camera or upload", nil)
	}
	view, err := e.GetIntake(ctx, sessionID)
	if err != nil {
		return IntakeView{}, err
	}
	if view.Session.Status != domain.IntakeOpen {
		return view, ErrIntakeClosed
	}
	policy := geofence.Policy{Classification: geofence.ParseClassification(view.Session.Classification)}
	if err := policy.Admit(evidenceItems(view.Evidence), in.Source); err != nil {
		return view, invalid("source", err.Error(), err)
	}

	committed := false
	uri := strings.TrimSpace(in.URI)
	if uri == "" {
		if in.Body == nil {
			return view, invalid("file", "evidence file or uri is required", nil)
		}
		if e.Store == nil {
			return view, fmt.Errorf("%w: no object store configured", ErrUpstreamUnavailable)
		}
		uri, err = e.Store.Store(ctx, in.Name, in.Body)
		if errors.Is(err, storage.ErrEmptyObject) {
			return view, invalid("file", "evidence file is empty", nil)
		}
		if err != nil {
			return view, fmt.Errorf("%w: object store: %v", ErrUpstreamUnavailable, err)
		}
		// Runs after the rollback below, so the session row is unlocked.
		stored := uri
		defer func() {
			if !committed {
				e.discardObject(ctx, stored)
			}
		}()
	}
	at := e.timestamp()

	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return view, err
	}
	defer tx.Rollback()
	if err := e.Repo.LockOpenIntakeTx(ctx, tx, sessionID); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return view, ErrIntakeClosed
		}
		return view, err
	}
	current, err := e.Repo.ListEvidenceTx(ctx, tx, sessionID)
	if err != nil {
		return view, err
	}
	if err := policy.Admit(evidenceItems(current), in.Source); err != nil {
		return view, invalid("source", err.Error(), err)
	}
	item, err := e.Repo.AppendEvidenceTx(ctx, tx, domain.EvidenceItem{
		SessionID: sessionID,
		URI:       uri,
		Source:    string(in.Source),
		CreatedAt: at,
	})
	if err != nil {
		return view, err
	}
	if err := e.appendEvent(ctx, tx, events.IntakeEvidenceAdded, "intake", sessionID, actor.ID, events.EventPayload{
		"seq":    item.Seq,
		"source": item.Source,
		"uri":    item.URI,
	}); err != nil {
		return view, err
	}
	if err := tx.Commit(); err != nil {
		return view, err
	}
	committed = true
	return intakeView(view.Session, append(current, item)), nil
}

// discardObject removes an uploaded object that never made it into the
// session. Content-addressed stores can hand the same URI to another
// session, so the object stays while any evidence row points at it.
func (e Engine) discardObject(ctx context.Context, uri string) {
	rm, ok := e.Store.(storage.Remover)
	if !ok {
		return
	}
	ctx = context.WithoutCancel(ctx)
	inUse, err := e.Repo.EvidenceURIInUse(ctx, uri)
	if err != nil {
		e.log().Warnw("evidence cleanup: lookup failed", "uri", uri, "error", err)
		return
	}
	if inUse {
		return
	}
	if err := rm.Remove(ctx, uri); err != nil {
		e.log().Warnw("evidence cleanup failed", "uri", uri, "error", err)
	}
}

// SubmitIntake closes the session and files the complaint as a Submitted
// case carrying the session's evidence in capture order.
func (e Engine) SubmitIntake(ctx context.Context, sessionID string, actor domain.Actor, opts SubmitIntakeOptions) (domain.Case, error) {
	if err := e.require(actor, auth.PermIntakeSubmit); err != nil {
		return domain.Case{}, err
	}
	if err := validateInput(opts); err != nil {
		return domain.Case{}, err
	}
	s, err := e.Repo.GetIntakeSession(ctx, sessionID)
	if err != nil {
		return domain.Case{}, err
	}
	if s.Status != domain.IntakeOpen {
		return domain.Case{}, ErrIntakeClosed
	}
	at := e.timestamp()

	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.LockOpenIntakeTx(ctx, tx, sessionID); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.Case{}, ErrIntakeClosed
		}
		return domain.Case{}, err
	}
	evidence, err := e.Repo.ListEvidenceTx(ctx, tx, sessionID)
	if err != nil {
		return domain.Case{}, err
	}
	urls := make([]string, 0, len(evidence))
	for _, it := range evidence {
		urls = append(urls, it.URI)
	}
	c := domain.Case{
		ID:              uuid.NewString(),
		BusinessID:      s.BusinessID,
		BusinessName:    s.BusinessName,
		BusinessAddress: s.BusinessAddress,
		ReporterEmail:   strings.TrimSpace(opts.ReporterEmail),
		Description:     strings.TrimSpace(opts.Description),
		EvidenceURLs:    urls,
		Tags:            []string{geofence.ParseClassification(s.Classification).Tag()},
		ReporterLat:     s.ReporterLat,
		ReporterLng:     s.ReporterLng,
		Status:          domain.CaseSubmitted,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
	if err := e.Repo.InsertCaseTx(ctx, tx, c); err != nil {
		return domain.Case{}, fmt.Errorf("insert case: %w", err)
	}
	if err := e.Repo.CloseIntakeTx(ctx, tx, sessionID, c.ID); err != nil {
		return domain.Case{}, err
	}
	if err := e.appendEvent(ctx, tx, events.CaseSubmitted, "case", c.ID, actor.ID, events.EventPayload{
		"intake_id":      sessionID,
		"classification": s.Classification,
		"evidence":       len(urls),
	}); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	e.publish(ctx, "case", c.ID, events.CaseSubmitted)
	e.notify(ctx, notify.Event{
		Type:       events.CaseSubmitted,
		EntityKind: "case",
		EntityID:   c.ID,
		To:         e.directorEmails(ctx),
		Subject:    "New complaint: " + c.BusinessName,
		Text:       fmt.Sprintf("A complaint about %s (%s) awaits a decision.", c.BusinessName, c.Tags[0]),
	})
	return e.Repo.GetCase(ctx, c.ID)
}

// SubmitComplaint files a complaint without separate evidence uploads.
func (e Engine) SubmitComplaint(ctx context.Context, actor domain.Actor, start StartIntakeOptions, submit SubmitIntakeOptions) (domain.Case, error) {
	view, err := e.StartIntake(ctx, actor, start)
	if err != nil {
		return domain.Case{}, err
	}
	return e.SubmitIntake(ctx, view.Session.ID, actor, submit)
}

// SearchBusinesses queries the business directory.
func (e Engine) SearchBusinesses(ctx context.Context, actor domain.Actor, query string, limit int) ([]domain.Business, error) {
	if err := e.require(actor, auth.PermDirectorySearch); err != nil {
		return nil, err
	}
	if e.Directory == nil {
		return nil, fmt.Errorf("%w: no business directory configured", ErrUpstreamUnavailable)
	}
	res, err := e.Directory.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: business directory: %v", ErrUpstreamUnavailable, err)
	}
	return res, nil
}
