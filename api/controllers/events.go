package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/UDDITwork/ZAMMER-sub011/api/middleware"
	"github.com/UDDITwork/ZAMMER-sub011/api/responses"
	"github.com/UDDITwork/ZAMMER-sub011/internal/events"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/enums"
	pkgerrors "github.com/UDDITwork/ZAMMER-sub011/pkg/errors"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/logger"
)

const defaultKeepAlive = 25 * time.Second

// EventStream subscribes the caller to their role-scoped event channel over
// server-sent events. Delivery is best effort: events published while the
// client is disconnected are not replayed.
func EventStream(dispatcher *events.Dispatcher, keepAlive time.Duration, logg *logger.Logger) http.HandlerFunc {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "streaming unsupported"))
			return
		}

		audience, err := audienceForCaller(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub := dispatcher.Join(audience)
		defer dispatcher.Leave(sub)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		if logg != nil {
			ctx := logg.WithField(r.Context(), "audience", audience.Key())
			logg.Info(ctx, "event stream opened")
		}

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
			case event, open := <-sub.C():
				if !open {
					return
				}
				if err := writeEvent(w, event); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Topic, payload)
	return err
}

func audienceForCaller(r *http.Request) (events.Audience, error) {
	role := middleware.RoleFromContext(r.Context())
	userID := middleware.UserUUIDFromContext(r.Context())

	switch role {
	case enums.ActorRoleAdmin:
		return events.ForAdmins(), nil
	case enums.ActorRoleBuyer:
		return events.ForBuyer(userID), nil
	case enums.ActorRoleSeller:
		return events.ForSeller(userID), nil
	case enums.ActorRoleAgent:
		return events.ForAgent(userID), nil
	}
	return events.Audience{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "unknown actor role")
}
