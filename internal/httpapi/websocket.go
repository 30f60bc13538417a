package httpapi

import (
	"context"
	"errors"
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/lmdudester/garcon/internal/eventbus"
)

// wsSink adapts a single websocket connection to eventbus.Sink. publish()
// does not serialize sends; concurrent Send calls on one connection are safe
// because websocket.Conn allows concurrent writers.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Send(msg eventbus.Outbound) error {
	return wsjson.Write(context.Background(), s.conn, msg)
}

// events upgrades to a websocket connection and bridges it to the event bus
// (design §4.6, design §6 push channel).
func (h *Handlers) events(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sink := &wsSink{conn: conn}
	subID, unregister := h.bus.Register(sink)
	defer unregister()

	for {
		var msg eventbus.Inbound
		if err := wsjson.Read(r.Context(), conn, &msg); err != nil {
			var closeErr websocket.CloseError
			if !errors.As(err, &closeErr) {
				h.log.Debug().Err(err).Msg("websocket read ended")
			}
			return
		}

		if resp := h.bus.HandleInbound(subID, msg); resp != nil {
			if err := wsjson.Write(r.Context(), conn, resp); err != nil {
				return
			}
		}
	}
}
