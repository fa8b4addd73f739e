package consultation

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/healiinn/consult/internal/domain/queue"
	"github.com/healiinn/consult/internal/platform/events"
)

// Push event names on the clinic channel.
const (
	EventNextPatientCalled = "queue:next:called"
	EventQueueUpdated      = "queue:updated"
)

// nextCalledPayload is the body of a queue:next:called event.
type nextCalledPayload struct {
	Appointment queue.Appointment `json:"appointment"`
	Session     *queue.Session    `json:"session,omitempty"`
}

// queueUpdatedPayload is the body of a queue:updated event; the backend
// sends either the bare appointment id or the full appointment.
type queueUpdatedPayload struct {
	AppointmentID string             `json:"appointmentId,omitempty"`
	Appointment   *queue.Appointment `json:"appointment,omitempty"`
}

// WireEvents subscribes the reconciler to the push channel. Both event
// kinds route through the same Handle entry point as the poll, so
// whichever trigger fires first wins and the other becomes a no-op merge.
func WireEvents(listener *events.Listener, r *Reconciler, logger zerolog.Logger) {
	listener.On(EventNextPatientCalled, func(ctx context.Context, evt events.Event) {
		var payload nextCalledPayload
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			logger.Debug().Err(err).Msg("dropping malformed next-called event")
			return
		}
		if payload.Appointment.ID == "" {
			logger.Debug().Msg("next-called event without appointment, ignoring")
			return
		}
		r.Handle(ctx, Signal{
			Kind:        KindPatientCalled,
			Source:      "push",
			Appointment: &payload.Appointment,
			Session:     payload.Session,
		})
	})

	listener.On(EventQueueUpdated, func(ctx context.Context, evt events.Event) {
		var payload queueUpdatedPayload
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			logger.Debug().Err(err).Msg("dropping malformed queue-updated event")
			return
		}
		r.Handle(ctx, Signal{
			Kind:          KindQueueUpdated,
			Source:        "push",
			AppointmentID: payload.AppointmentID,
			Appointment:   payload.Appointment,
		})
	})
}
