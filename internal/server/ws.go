package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	activityWSWriteWait = 10 * time.Second
	activityWSPongWait  = 60 * time.Second
	activityWSPingEvery = (activityWSPongWait * 9) / 10
)

var activityWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// handleEventsWS streams the batch's activity log over a websocket:
// the full history so far, then live entries as transitions happen.
func (a *App) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	run, err := a.batch(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := activityWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(activityWSPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(activityWSPongWait))
	})

	// Subscribe before replaying history so no entry is missed; the
	// client may see an entry twice at the boundary, never a gap.
	sub := run.log.Subscribe(64)
	defer run.log.Unsubscribe(sub)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, e := range run.log.Entries() {
		if err := writeEntry(conn, e); err != nil {
			return
		}
	}

	ticker := time.NewTicker(activityWSPingEvery)
	defer ticker.Stop()
	for {
		select {
		case e, ok := <-sub:
			if !ok {
				return
			}
			if err := writeEntry(conn, e); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(activityWSWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeEntry(conn *websocket.Conn, e any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(activityWSWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(e)
}
