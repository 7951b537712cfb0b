package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"fooddispatch/internal/model"
)

// Bidirectional dispatch socket: clients subscribe to restaurant event
// streams and drivers push location updates over the same connection.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsSubscribePayload struct {
	RestaurantID string `json:"restaurantId"`
	// EventType filters the stream; empty means every dispatch event.
	EventType string `json:"eventType"`
}

type wsLocationPayload struct {
	DriverID string  `json:"driverId"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	TS       string  `json:"ts"`
}

// DispatchWSHandler handles /v1/dispatch/ws
func (s *Server) DispatchWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	pr := s.getPrincipal(r)
	_, tenant := s.withTenant(r)

	// Track subscriptions: id -> topic and channel
	type sub struct {
		topic string
		ch    chan SSEEvent
	}
	subs := map[string]sub{}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	write := func(v any) error { return conn.WriteJSON(v) }

	// Expect connection_init first
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "connection_init":
			_ = write(wsMessage{Type: "connection_ack"})
			// Start keepalive
			go func() {
				ticker := time.NewTicker(20 * time.Second)
				defer ticker.Stop()
				for range ticker.C {
					if err := write(wsMessage{Type: "ping"}); err != nil {
						return
					}
				}
			}()
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "subscribe":
			var pl wsSubscribePayload
			_ = json.Unmarshal(msg.Payload, &pl)
			if pl.RestaurantID == "" {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`{"message":"restaurantId required"}`)})
				_ = write(wsMessage{Type: "complete", ID: msg.ID})
				continue
			}
			allowed := pr.CanDispatch()
			if pr.Role == "restaurant" {
				// restaurant tokens only see their own stream
				allowed = pr.RestaurantID == "" || pr.RestaurantID == pl.RestaurantID
			}
			if !allowed {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`{"message":"forbidden"}`)})
				_ = write(wsMessage{Type: "complete", ID: msg.ID})
				continue
			}
			ch := s.Broker.Subscribe(pl.RestaurantID)
			subs[msg.ID] = sub{topic: pl.RestaurantID, ch: ch}
			// Fanout goroutine
			go func(id string, c chan SSEEvent, filter string) {
				for evt := range c {
					if filter != "" && evt.Type != filter {
						continue
					}
					payload, _ := json.Marshal(map[string]any{"event": evt.Type, "data": evt.Data})
					_ = write(wsMessage{Type: "next", ID: id, Payload: payload})
				}
				_ = write(wsMessage{Type: "complete", ID: id})
			}(msg.ID, ch, pl.EventType)
		case "driver.location":
			var pl wsLocationPayload
			_ = json.Unmarshal(msg.Payload, &pl)
			driverID := pl.DriverID
			if pr.Role == "driver" && pr.DriverID != "" {
				// drivers can only report their own position
				driverID = pr.DriverID
			}
			if driverID == "" {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`{"message":"driverId required"}`)})
				continue
			}
			ts := pl.TS
			if ts == "" {
				ts = time.Now().UTC().Format(time.RFC3339)
			}
			if err := s.Store.UpdateDriverLocation(r.Context(), tenant, driverID, model.GeoPoint{Latitude: pl.Lat, Longitude: pl.Lng}); err != nil {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`{"message":"unknown driver"}`)})
				continue
			}
			s.Locations.Upsert(tenant, driverID, pl.Lat, pl.Lng, ts)
		case "complete":
			if s0, ok := subs[msg.ID]; ok {
				s.Broker.Unsubscribe(s0.topic, s0.ch)
				delete(subs, msg.ID)
			}
		default:
			// ignore
		}
	}
	// Cleanup
	for id, s0 := range subs {
		s.Broker.Unsubscribe(s0.topic, s0.ch)
		delete(subs, id)
	}
}
