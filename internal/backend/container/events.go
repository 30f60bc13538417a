package container

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"

	"github.com/lmdudester/garcon/internal/backend"
)

// StartEventMonitoring opens a filtered Docker event stream (die/stop events
// on managed containers) and dispatches exit notifications for as long as
// ctx lives, transparently reopening the stream on disconnect (design §4.3.1
// "Crash detection").
func (b *Backend) StartEventMonitoring(ctx context.Context) {
	go b.watchEvents(ctx)
}

func (b *Backend) watchEvents(ctx context.Context) {
	f := filters.NewArgs()
	f.Add("type", "container")
	f.Add("event", "die")
	f.Add("event", "stop")
	f.Add("label", labelKey+"="+labelValue)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, errs := b.cli.Events(ctx, types.EventsOptions{Filters: f})
		drained := b.consumeEvents(ctx, msgs, errs)
		if !drained {
			return
		}
		b.log.Warn().Msg("container event stream disconnected, reopening")
	}
}

// consumeEvents drains one event-stream session. It returns false when ctx
// was cancelled (caller should stop retrying) and true when the stream
// merely dropped and should be reopened.
func (b *Backend) consumeEvents(ctx context.Context, msgs <-chan events.Message, errs <-chan error) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case err, ok := <-errs:
			if !ok {
				return true
			}
			if err != nil {
				b.log.Warn().Err(err).Msg("container event stream error")
				return true
			}
		case msg, ok := <-msgs:
			if !ok {
				return true
			}
			b.handleEvent(msg)
		}
	}
}

func (b *Backend) handleEvent(msg events.Message) {
	serverID, ok := msg.Actor.Attributes[serverLabel]
	if !ok {
		return
	}

	var exitCode *int
	if raw, ok := msg.Actor.Attributes["exitCode"]; ok {
		if code, err := parseExitCode(raw); err == nil {
			exitCode = &code
		}
	}

	b.mu.Lock()
	delete(b.containers, serverID)
	b.mu.Unlock()

	b.callbacks.Dispatch(backend.ExitEvent{ServerID: serverID, ExitCode: exitCode})
}

func parseExitCode(raw string) (int, error) {
	var code int
	_, err := fmt.Sscan(raw, &code)
	return code, err
}
