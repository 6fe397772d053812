package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"inspectline/internal/capture"
	"inspectline/internal/domain"
	"inspectline/internal/engine"
	"inspectline/internal/engine/auth"
	"inspectline/internal/notify"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = feedPongWait * 9 / 10
	feedBuffer     = 32
)

type feedFilter struct {
	EntityKind string `json:"entity_kind,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
}

func (f feedFilter) match(c notify.Change) bool {
	if f.EntityKind != "" && f.EntityKind != c.EntityKind {
		return false
	}
	return f.EntityID == "" || f.EntityID == c.EntityID
}

// feedMessage is what a client sends to change what it watches.
type feedMessage struct {
	Op string `json:"op"`
	feedFilter
}

// feed streams change envelopes to websocket clients. Each re-subscribe opens
// a new bus subscription under a capture.Sequencer, so a slow subscribe that
// finishes after a newer one is released instead of leaking.
type feed struct {
	engine   engine.Engine
	log      *zap.SugaredLogger
	upgrader websocket.Upgrader
}

func newFeed(e engine.Engine, log *zap.SugaredLogger) feed {
	return feed{
		engine: e,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin is checked by the CORS layer and credentials are required.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (f feed) serve(w http.ResponseWriter, r *http.Request) {
	actor, authErr := actorFromContext(r.Context())
	if authErr != nil {
		respondStatusError(w, authErr)
		return
	}
	if err := f.engine.Auth.RequireAny(actor, auth.PermCaseRead, auth.PermMissionOrderRead, auth.PermMissionOrderReadAssigned); err != nil {
		respondStatusError(w, handleError(err))
		return
	}
	if f.engine.Bus == nil {
		respondStatusError(w, newAPIError(http.StatusServiceUnavailable, "feed_unavailable", "change feed not configured", nil))
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	out := make(chan notify.Change, feedBuffer)
	var seq capture.Sequencer
	defer seq.Close()

	subscribe := func(filter feedFilter) error {
		_, _, err := seq.Open(ctx, func(ctx context.Context) (capture.Resource, error) {
			subCtx, subCancel := context.WithCancel(ctx)
			changes, stop := f.engine.Bus.Subscribe(subCtx)
			done := make(chan struct{})
			go func() {
				defer close(done)
				for {
					select {
					case <-subCtx.Done():
						return
					case c, ok := <-changes:
						if !ok {
							return
						}
						if !filter.match(c) || !f.visible(subCtx, actor, c) {
							continue
						}
						select {
						case out <- c:
						case <-subCtx.Done():
							return
						}
					}
				}
			}()
			return capture.ResourceFunc(func() {
				subCancel()
				stop()
				<-done
			}), nil
		})
		if errors.Is(err, capture.ErrStaleStart) {
			return nil
		}
		return err
	}

	// Subscribe before the upgrade so changes published once the client sees
	// the handshake are not missed.
	q := r.URL.Query()
	if err := subscribe(feedFilter{EntityKind: q.Get("entity_kind"), EntityID: q.Get("entity_id")}); err != nil {
		f.log.Warnw("feed subscribe failed", "actor_id", actor.ID, "error", err)
		respondStatusError(w, newAPIError(http.StatusServiceUnavailable, "feed_unavailable", "change feed unavailable", nil))
		return
	}
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Warnw("websocket upgrade failed", "actor_id", actor.ID, "error", err)
		return
	}
	defer conn.Close()

	go func() {
		defer cancel()
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(feedPongWait))
		})
		for {
			var msg feedMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Op != "subscribe" {
				continue
			}
			if err := subscribe(msg.feedFilter); err != nil {
				f.log.Warnw("feed resubscribe failed", "actor_id", actor.ID, "error", err)
				return
			}
		}
	}()

	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteJSON(c); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// visible reports whether actor may learn about c. Case changes need
// case.read; mission order changes need mission_order.read, or an order the
// actor can open through its assignment.
func (f feed) visible(ctx context.Context, actor domain.Actor, c notify.Change) bool {
	switch c.EntityKind {
	case "case":
		return f.engine.Auth.Can(actor, auth.PermCaseRead)
	case "mission_order":
		if f.engine.Auth.Can(actor, auth.PermMissionOrderRead) {
			return true
		}
		_, err := f.engine.GetMissionOrder(ctx, c.EntityID, actor)
		return err == nil
	}
	return false
}
