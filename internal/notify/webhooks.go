package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"inspectline/internal/config"
	"inspectline/internal/domain"
)

const (
	DefaultRelaySchedule  = "@every 2s"
	defaultWebhookTimeout = 5 * time.Second
	defaultWebhookBatch   = 100
	// webhookLookback is how many ids below the cursor each pass re-reads.
	// Postgres and MySQL hand out ids at insert time, so a transaction can
	// commit a lower id after a higher one was already relayed.
	webhookLookback = 32
)

// EventSource is the outbox the relay reads from.
type EventSource interface {
	EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)
}

// WebhookRelay posts outbox events to configured endpoints. Each hook keeps
// its own cursor and starts at the newest event when the relay starts.
// Delivery is at least once; events that commit out of id order are picked
// up as long as they land within webhookLookback ids of the cursor.
type WebhookRelay struct {
	Source   EventSource
	Hooks    []config.WebhookConfig
	OfficeID string
	Client   *http.Client
	Log      *zap.SugaredLogger

	mu      sync.Mutex
	running sync.Mutex
	hooks   map[int]*hookState
	cron    *cron.Cron
}

func NewWebhookRelay(src EventSource, cfg *config.Config, log *zap.SugaredLogger) *WebhookRelay {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	r := &WebhookRelay{
		Source:  src,
		Client:  &http.Client{Timeout: defaultWebhookTimeout},
		Log:     log,
		hooks:   make(map[int]*hookState),
	}
	if cfg != nil {
		r.Hooks = cfg.Webhooks
		r.OfficeID = cfg.Office.ID
	}
	return r
}

// Start schedules DispatchAll. It is a no-op when no hook is enabled.
func (r *WebhookRelay) Start(schedule string) error {
	if !r.hasEnabledHook() {
		return nil
	}
	if schedule == "" {
		schedule = DefaultRelaySchedule
	}
	r.cron = cron.New(cron.WithLocation(time.UTC))
	if _, err := r.cron.AddFunc(schedule, func() { r.DispatchAll(context.Background()) }); err != nil {
		return fmt.Errorf("schedule webhook relay: %w", err)
	}
	r.cron.Start()
	r.Log.Infow("webhook relay started", "hooks", len(r.Hooks), "schedule", schedule)
	return nil
}

// Stop waits for an in-flight dispatch to finish.
func (r *WebhookRelay) Stop() {
	if r.cron == nil {
		return
	}
	ctx := r.cron.Stop()
	<-ctx.Done()
}

func (r *WebhookRelay) hasEnabledHook() bool {
	for _, h := range r.Hooks {
		if h.IsEnabled() && strings.TrimSpace(h.URL) != "" {
			return true
		}
	}
	return false
}

// DispatchAll delivers pending events to every enabled hook. Overlapping
// runs are skipped.
func (r *WebhookRelay) DispatchAll(ctx context.Context) {
	if !r.running.TryLock() {
		return
	}
	defer r.running.Unlock()
	for i, hook := range r.Hooks {
		if !hook.IsEnabled() || strings.TrimSpace(hook.URL) == "" {
			continue
		}
		r.dispatchWebhook(ctx, i, hook)
	}
}

// hookState tracks one hook's progress. cursor is the highest id handled,
// floor the newest id when the relay started; seen holds handled ids inside
// the lookback window.
type hookState struct {
	cursor int64
	floor  int64
	seen   map[int64]struct{}
}

func (h *hookState) from() int64 {
	return max(h.floor, h.cursor-webhookLookback)
}

func (h *hookState) mark(id int64) {
	h.seen[id] = struct{}{}
	h.cursor = max(h.cursor, id)
	for old := range h.seen {
		if old <= h.from() {
			delete(h.seen, old)
		}
	}
}

func (r *WebhookRelay) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	state := r.stateFor(ctx, idx)
	r.mu.Lock()
	from := state.from()
	r.mu.Unlock()
	events, err := r.Source.EventsAfter(ctx, defaultWebhookBatch, from)
	if err != nil {
		r.Log.Warnw("webhook: fetch events failed", "error", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		r.mu.Lock()
		_, done := state.seen[evt.ID]
		r.mu.Unlock()
		if done {
			continue
		}
		if filter.match(evt.Type) {
			if err := r.postEvent(ctx, hook, evt); err != nil {
				r.Log.Warnw("webhook: delivery failed", "url", hook.URL, "event_id", evt.ID, "error", err)
				return
			}
		}
		r.mu.Lock()
		state.mark(evt.ID)
		r.mu.Unlock()
	}
}

func (r *WebhookRelay) stateFor(ctx context.Context, idx int) *hookState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.hooks[idx]; ok {
		return st
	}
	cur, err := r.Source.LatestEventID(ctx)
	if err != nil {
		r.Log.Warnw("webhook: init cursor failed", "error", err)
		cur = 0
	}
	st := &hookState{cursor: cur, floor: cur, seen: make(map[int64]struct{})}
	r.hooks[idx] = st
	return st
}

// Cursor reports the highest event id delivered (or skipped) for hook idx.
func (r *WebhookRelay) Cursor(idx int) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.hooks[idx]; ok {
		return st.cursor
	}
	return 0
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	OfficeID   string          `json:"office_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func (r *WebhookRelay) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	data, err := json.Marshal(webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		OfficeID:   r.OfficeID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Inspectline-Event", evt.Type)
	req.Header.Set("X-Inspectline-Delivery", fmt.Sprintf("%d", evt.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Inspectline-Secret", hook.Secret)
	}
	res, err := r.Client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
