package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inspectline/internal/config"
	"inspectline/internal/domain"
)

func TestMemoryBusFanOut(t *testing.T) {
	bus := NewMemoryBus()
	a, stopA := bus.Subscribe(context.Background())
	b, stopB := bus.Subscribe(context.Background())
	defer stopB()

	change := Change{EntityKind: "case", EntityID: "c1", Type: "case.approved"}
	require.NoError(t, bus.Publish(context.Background(), change))

	assert.Equal(t, change, <-a)
	assert.Equal(t, change, <-b)

	stopA()
	_, open := <-a
	for open {
		_, open = <-a
	}
	require.NoError(t, bus.Publish(context.Background(), change))
	assert.Equal(t, change, <-b)
}

func TestMemoryBusDropsForSlowSubscriber(t *testing.T) {
	bus := NewMemoryBus()
	ch, stop := bus.Subscribe(context.Background())
	defer stop()
	for i := 0; i < subscriberBuffer+10; i++ {
		require.NoError(t, bus.Publish(context.Background(), Change{EntityID: "x"}))
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestChangeCodecRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	in := Change{EntityKind: "mission_order", EntityID: "mo-1", Type: "assignment.added", TS: ts}
	data, err := EncodeChange(in)
	require.NoError(t, err)
	out, err := DecodeChange(data)
	require.NoError(t, err)
	assert.Equal(t, in.EntityKind, out.EntityKind)
	assert.Equal(t, in.EntityID, out.EntityID)
	assert.Equal(t, in.Type, out.Type)
	assert.True(t, ts.Equal(out.TS))

	_, err = DecodeChange([]byte{0xff, 0x00})
	assert.Error(t, err)
}

type recordingNotifier struct {
	events []Event
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, evt Event) error {
	r.events = append(r.events, evt)
	return r.err
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{}
	bad := &recordingNotifier{err: errors.New("smtp down")}
	err := Multi{ok, bad, Nop{}}.Notify(context.Background(), Event{Type: "case.submitted"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
	assert.Len(t, ok.events, 1)
	assert.Len(t, bad.events, 1)
}

type fakeSender struct {
	sent   []*mail.SGMailV3
	status int
}

func (f *fakeSender) Send(email *mail.SGMailV3) (int, string, error) {
	f.sent = append(f.sent, email)
	return f.status, "", nil
}

func TestSendGridSendsPerRecipient(t *testing.T) {
	sender := &fakeSender{status: http.StatusAccepted}
	sg := NewSendGrid("", "Inspectline", "noreply@example.test", nil)
	sg.sender = sender

	err := sg.Notify(context.Background(), Event{
		Type:    "mission_order.submitted",
		To:      []string{"director@example.test", "deputy@example.test"},
		Subject: "Mission order awaiting review",
		Text:    "Order <MO-1> needs review",
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 2)
	assert.Equal(t, "Mission order awaiting review", sender.sent[0].Subject)
	html := sender.sent[0].Content[1].Value
	assert.Contains(t, html, "&lt;MO-1&gt;")
}

func TestSendGridReportsErrorStatus(t *testing.T) {
	sg := NewSendGrid("", "Inspectline", "noreply@example.test", nil)
	sg.sender = &fakeSender{status: http.StatusUnauthorized}
	err := sg.Notify(context.Background(), Event{To: []string{"a@example.test"}, Subject: "x", Text: "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestSendGridSkipsWithoutRecipients(t *testing.T) {
	sender := &fakeSender{status: http.StatusAccepted}
	sg := NewSendGrid("", "Inspectline", "noreply@example.test", nil)
	sg.sender = sender
	require.NoError(t, sg.Notify(context.Background(), Event{Subject: "x"}))
	assert.Empty(t, sender.sent)
}

type memorySource struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *memorySource) add(evt domain.Event) {
	s.mu.Lock()
	evt.ID = int64(len(s.events) + 1)
	s.events = append(s.events, evt)
	s.mu.Unlock()
}

// insert adds evt under its own id, as a transaction that committed late would.
func (s *memorySource) insert(evt domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	sort.Slice(s.events, func(i, j int) bool { return s.events[i].ID < s.events[j].ID })
}

func (s *memorySource) EventsAfter(_ context.Context, limit int, cursor int64) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, evt := range s.events {
		if evt.ID > cursor {
			out = append(out, evt)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memorySource) LatestEventID(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return 0, nil
	}
	return s.events[len(s.events)-1].ID, nil
}

func TestWebhookRelayDeliversFilteredEvents(t *testing.T) {
	var (
		mu       sync.Mutex
		received []webhookEvent
		headers  []http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		received = append(received, evt)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	src := &memorySource{}
	src.add(domain.Event{Type: "case.submitted", EntityKind: "case", EntityID: "old"})

	cfg := &config.Config{
		Webhooks: []config.WebhookConfig{
			{ID: "ops", URL: srv.URL, Events: []string{"case.approved"}, Secret: "s3cret"},
		},
	}
	cfg.Office.ID = "city-hall"
	relay := NewWebhookRelay(src, cfg, nil)

	// First pass only initialises the cursor past existing events.
	relay.DispatchAll(context.Background())
	assert.Empty(t, received)
	assert.Equal(t, int64(1), relay.Cursor(0))

	src.add(domain.Event{Type: "case.declined", EntityKind: "case", EntityID: "c1", Payload: `{"comment":"no"}`})
	src.add(domain.Event{Type: "case.approved", EntityKind: "case", EntityID: "c2", ActorID: "dir-1", Payload: `{"status":"approved"}`})
	relay.DispatchAll(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "case.approved", received[0].Type)
	assert.Equal(t, "c2", received[0].EntityID)
	assert.Equal(t, "city-hall", received[0].OfficeID)
	assert.JSONEq(t, `{"status":"approved"}`, string(received[0].Payload))
	assert.Equal(t, "case.approved", headers[0].Get("X-Inspectline-Event"))
	assert.Equal(t, "3", headers[0].Get("X-Inspectline-Delivery"))
	assert.Equal(t, "s3cret", headers[0].Get("X-Inspectline-Secret"))
	assert.Equal(t, int64(3), relay.Cursor(0))
}

func TestWebhookRelayRetriesAfterFailure(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	src := &memorySource{}
	cfg := &config.Config{Webhooks: []config.WebhookConfig{{ID: "all", URL: srv.URL}}}
	relay := NewWebhookRelay(src, cfg, nil)
	relay.DispatchAll(context.Background())

	src.add(domain.Event{Type: "mission_order.submitted", EntityKind: "mission_order", EntityID: "mo-1"})
	relay.DispatchAll(context.Background())
	assert.Equal(t, int64(0), relay.Cursor(0))

	relay.DispatchAll(context.Background())
	assert.Equal(t, int64(1), relay.Cursor(0))
	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()
}

func TestWebhookRelayDeliversLateCommittedEvent(t *testing.T) {
	var (
		mu  sync.Mutex
		ids []int64
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		ids = append(ids, evt.ID)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	src := &memorySource{}
	src.insert(domain.Event{ID: 1, Type: "case.submitted", EntityKind: "case", EntityID: "before-start"})
	cfg := &config.Config{Webhooks: []config.WebhookConfig{{ID: "all", URL: srv.URL}}}
	relay := NewWebhookRelay(src, cfg, nil)
	relay.DispatchAll(context.Background())

	src.insert(domain.Event{ID: 2, Type: "case.approved", EntityKind: "case", EntityID: "c2"})
	src.insert(domain.Event{ID: 4, Type: "case.approved", EntityKind: "case", EntityID: "c4"})
	relay.DispatchAll(context.Background())
	assert.Equal(t, int64(4), relay.Cursor(0))

	src.insert(domain.Event{ID: 3, Type: "case.declined", EntityKind: "case", EntityID: "c3"})
	relay.DispatchAll(context.Background())
	relay.DispatchAll(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{2, 4, 3}, ids)
	assert.Equal(t, int64(4), relay.Cursor(0))
}

func TestWebhookRelayStartWithoutHooks(t *testing.T) {
	relay := NewWebhookRelay(&memorySource{}, &config.Config{}, nil)
	require.NoError(t, relay.Start(""))
	relay.Stop()
}

func TestEventFilter(t *testing.T) {
	all := newEventFilter([]string{" ", ""})
	assert.True(t, all.match("anything"))
	some := newEventFilter([]string{"case.approved", " case.declined "})
	assert.True(t, some.match("case.declined"))
	assert.False(t, some.match("case.submitted"))
}
