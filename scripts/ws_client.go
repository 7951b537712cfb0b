// Package main runs a demo WebSocket client for dispatch events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	post := func(path string, body []byte) *http.Response {
		req, _ := http.NewRequest(http.MethodPost, base+path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-Id", "t_demo")
		req.Header.Set("X-Role", "admin")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Fatal(err)
		}
		return resp
	}

	// Seed one driver and one order
	resp := post("/v1/drivers", []byte(`{"drivers":[{"id":"11111111-1111-1111-1111-111111111111","name":"Demo Driver","status":"available"}]}`))
	_ = resp.Body.Close()
	resp = post("/v1/orders", []byte(`{"tenantId":"t_demo","orders":[{"restaurant_id":"r_demo","status":"ready","delivery_address":"1 Main St"}]}`))
	_ = resp.Body.Close()

	// Find the order id
	req, _ := http.NewRequest(http.MethodGet, base+"/v1/orders?restaurantId=r_demo&status=ready", nil)
	req.Header.Set("X-Tenant-Id", "t_demo")
	listResp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	var listed struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&listed); err != nil {
		log.Fatal(err)
	}
	_ = listResp.Body.Close()
	if len(listed.Items) == 0 {
		log.Fatal("no orders returned")
	}
	orderID := listed.Items[0].ID
	log.Printf("Order ID: %s", orderID)

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/dispatch/ws"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	// connection_init
	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	// subscribe to the restaurant's dispatch events
	pl, _ := json.Marshal(map[string]any{"restaurantId": "r_demo"})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	// Trigger an event by assigning the order
	time.Sleep(500 * time.Millisecond)
	resp = post("/v1/orders/"+orderID+"/assign-driver", []byte(`{"driver_id":"11111111-1111-1111-1111-111111111111"}`))
	_ = resp.Body.Close()

	// Wait briefly to receive a few messages
	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
	log.Println("done")
}
