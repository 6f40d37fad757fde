package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"transitopt/internal/model"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingEvery    = 20 * time.Second
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// DensityWSHandler handles /v1/density/ws. The client first receives a
// density.snapshot of every stop, then each density.updated event.
func (s *Server) DensityWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ch := s.Broker.Subscribe(DensityTopic)
	done := make(chan struct{})
	go s.pumpDensity(conn, ch, done)

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsReadTimeout)) })
	// inbound messages are ignored; reading keeps control frames flowing
	for {
		if _, _, err := conn.NextReader(); err != nil {
			break
		}
	}
	s.Broker.Unsubscribe(DensityTopic, ch)
	<-done
}

// pumpDensity is the only writer on conn.
func (s *Server) pumpDensity(conn *websocket.Conn, ch chan Event, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()

	write := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(v)
	}
	fail := func(err error) {
		s.Log.Debug("density stream closed", zap.Error(err))
		// unblock the reader so the subscription is released
		_ = conn.Close()
	}

	if err := write(Event{Type: "density.snapshot", Data: map[string]any{"readings": s.snapshot()}}); err != nil {
		fail(err)
		return
	}
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := write(evt); err != nil {
				fail(err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				fail(err)
				return
			}
		}
	}
}

func (s *Server) snapshot() []model.DensityReading {
	ts := s.Now().UTC().Format(time.RFC3339)
	stops := s.Engine.Stops()
	out := make([]model.DensityReading, 0, len(stops))
	for _, st := range stops {
		out = append(out, model.DensityReading{StopID: st.ID, Density: st.CurrentDensity, TS: ts})
	}
	return out
}
