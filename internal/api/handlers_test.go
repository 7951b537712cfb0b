package api

import (
    "bytes"
    "encoding/json"
    "net/http"
    "net/http/httptest"
    "testing"

    "fooddispatch/internal/geocode"
    "fooddispatch/internal/model"
)

func newTestServer(t *testing.T) *Server {
    t.Helper()
    s, err := NewServer()
    if err != nil { t.Fatalf("NewServer: %v", err) }
    return s
}

// fakeGeocoderServer resolves a few fixed addresses and 404s the rest.
func fakeGeocoderServer(t *testing.T) *httptest.Server {
    t.Helper()
    points := map[string]model.GeoPoint{
        "1 main st": {Latitude: 40.001, Longitude: -3.001},
        "2 oak ave": {Latitude: 40.002, Longitude: -3.002},
    }
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        q := r.URL.Query().Get("q")
        p, ok := points[q]
        if !ok { w.WriteHeader(404); return }
        _ = json.NewEncoder(w).Encode(p)
    }))
    t.Cleanup(srv.Close)
    return srv
}

func withGeocoder(t *testing.T, s *Server) {
    t.Helper()
    srv := fakeGeocoderServer(t)
    s.Geocoder = geocode.New(srv.URL)
    s.Dispatcher.Geocoder = s.Geocoder
}

func seedServer(t *testing.T, s *Server) (orderIDs []string, driverID string) {
    t.Helper()
    body := []byte(`{"tenantId":"t_demo","orders":[
        {"restaurant_id":"r1","status":"ready","delivery_address":"1 Main St"},
        {"restaurant_id":"r1","status":"pending","delivery_address":"2 Oak Ave"}]}`)
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/orders", bytes.NewReader(body))
    req.Header.Set("Content-Type", "application/json")
    s.OrdersHandler(rr, req)
    if rr.Code != http.StatusAccepted { t.Fatalf("orders create: got %d: %s", rr.Code, rr.Body.String()) }

    dbody := []byte(`{"drivers":[{"id":"aaaaaaaa-0000-0000-0000-000000000001","name":"Ana","status":"available"}]}`)
    rr = httptest.NewRecorder()
    req = httptest.NewRequest(http.MethodPost, "/v1/drivers", bytes.NewReader(dbody))
    s.DriversIndexHandler(rr, req)
    if rr.Code != http.StatusAccepted { t.Fatalf("drivers upsert: got %d: %s", rr.Code, rr.Body.String()) }

    rr = httptest.NewRecorder()
    s.OrdersHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/orders?restaurantId=r1", nil))
    var listed struct{ Items []model.Order `json:"items"` }
    if err := json.Unmarshal(rr.Body.Bytes(), &listed); err != nil { t.Fatalf("decode orders: %v", err) }
    for _, o := range listed.Items { orderIDs = append(orderIDs, o.ID) }
    if len(orderIDs) != 2 { t.Fatalf("expected 2 orders, got %d", len(orderIDs)) }
    return orderIDs, "aaaaaaaa-0000-0000-0000-000000000001"
}

func TestHealthReady(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
    if rr.Code != 200 { t.Fatalf("health: got %d", rr.Code) }
    rr = httptest.NewRecorder()
    s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
    if rr.Code != 200 { t.Fatalf("ready: got %d", rr.Code) }
}

func TestOrdersValidation(t *testing.T) {
    s := newTestServer(t)
    body := []byte(`{"orders":[{"restaurant_id":"","delivery_address":"1 Main St"}]}`)
    rr := httptest.NewRecorder()
    s.OrdersHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/orders", bytes.NewReader(body)))
    if rr.Code != http.StatusBadRequest { t.Fatalf("expected 400, got %d", rr.Code) }
    rr = httptest.NewRecorder()
    s.OrdersHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/orders?status=bogus", nil))
    if rr.Code != http.StatusBadRequest { t.Fatalf("expected 400 for bad status, got %d", rr.Code) }
}

func TestDriversListAndStats(t *testing.T) {
    s := newTestServer(t)
    seedServer(t, s)
    rr := httptest.NewRecorder()
    s.DriversIndexHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/drivers?eligible=single", nil))
    if rr.Code != 200 { t.Fatalf("drivers list: %d", rr.Code) }
    rr = httptest.NewRecorder()
    s.DriversIndexHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/drivers/stats", nil))
    if rr.Code != 200 { t.Fatalf("driver stats: %d", rr.Code) }
    var stats model.DriverStats
    if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil { t.Fatalf("decode stats: %v", err) }
    if stats.Total != 1 || stats.Available != 1 { t.Fatalf("stats wrong: %+v", stats) }
}

func TestOptimizeApplyAndTourFlow(t *testing.T) {
    s := newTestServer(t)
    withGeocoder(t, s)
    orderIDs, driverID := seedServer(t, s)

    // optimize
    body, _ := json.Marshal(model.OptimizeMultiDriverRequest{DriverIDs: []string{driverID}})
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/restaurants/r1/optimize-multi-driver", bytes.NewReader(body))
    s.RestaurantsHandler(rr, req)
    if rr.Code != 200 { t.Fatalf("optimize: %d: %s", rr.Code, rr.Body.String()) }
    var res model.OptimizationResult
    if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil { t.Fatalf("decode result: %v", err) }
    if res.OrdersTotal != 2 || res.OrdersAssigned != 2 || len(res.Assignments) != 1 {
        t.Fatalf("unexpected result: %+v", res)
    }

    // apply
    body, _ = json.Marshal(model.ApplyOptimizationRequest{Assignments: res.Assignments})
    rr = httptest.NewRecorder()
    req = httptest.NewRequest(http.MethodPost, "/v1/restaurants/r1/apply-multi-driver-optimization", bytes.NewReader(body))
    s.RestaurantsHandler(rr, req)
    if rr.Code != 200 { t.Fatalf("apply: %d: %s", rr.Code, rr.Body.String()) }

    // tour
    rr = httptest.NewRecorder()
    s.DriversHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/drivers/"+driverID+"/tour", nil))
    if rr.Code != 200 { t.Fatalf("tour: %d", rr.Code) }
    var tour struct{ Items []model.Order `json:"items"` }
    if err := json.Unmarshal(rr.Body.Bytes(), &tour); err != nil { t.Fatalf("decode tour: %v", err) }
    if len(tour.Items) != 2 { t.Fatalf("expected 2 tour stops, got %d", len(tour.Items)) }

    // reorder 0 -> 1
    rr = httptest.NewRecorder()
    req = httptest.NewRequest(http.MethodPost, "/v1/drivers/"+driverID+"/tour/reorder", bytes.NewReader([]byte(`{"from_index":0,"to_index":1}`)))
    s.DriversHandler(rr, req)
    if rr.Code != 200 { t.Fatalf("reorder: %d: %s", rr.Code, rr.Body.String()) }
    var reordered struct{ OrderIDs []string `json:"order_ids"` }
    if err := json.Unmarshal(rr.Body.Bytes(), &reordered); err != nil { t.Fatalf("decode reorder: %v", err) }
    if reordered.OrderIDs[1] != tour.Items[0].ID { t.Fatalf("reorder did not move first stop") }

    // map view
    rr = httptest.NewRecorder()
    s.DriversHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/drivers/"+driverID+"/tour/map", nil))
    if rr.Code != 200 { t.Fatalf("tour map: %d", rr.Code) }
    var view model.TourMapView
    if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil { t.Fatalf("decode map: %v", err) }
    if len(view.Markers) != 2 || len(view.Skipped) != 0 { t.Fatalf("map view wrong: %+v", view) }
    _ = orderIDs
}

func TestAssignDriverEndpointErrors(t *testing.T) {
    s := newTestServer(t)
    orderIDs, driverID := seedServer(t, s)
    // unknown order
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/orders/nope/assign-driver", bytes.NewReader([]byte(`{"driver_id":"`+driverID+`"}`)))
    s.OrderByIDHandler(rr, req)
    if rr.Code != http.StatusNotFound { t.Fatalf("expected 404, got %d", rr.Code) }
    // ok
    rr = httptest.NewRecorder()
    req = httptest.NewRequest(http.MethodPost, "/v1/orders/"+orderIDs[0]+"/assign-driver", bytes.NewReader([]byte(`{"driver_id":"`+driverID+`"}`)))
    s.OrderByIDHandler(rr, req)
    if rr.Code != 200 { t.Fatalf("assign: %d: %s", rr.Code, rr.Body.String()) }
    // second assign of same order conflicts
    rr = httptest.NewRecorder()
    req = httptest.NewRequest(http.MethodPost, "/v1/orders/"+orderIDs[0]+"/assign-driver", bytes.NewReader([]byte(`{"driver_id":"`+driverID+`"}`)))
    s.OrderByIDHandler(rr, req)
    if rr.Code != http.StatusConflict { t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String()) }
}

func TestAssignSelectedEndpointPartial(t *testing.T) {
    s := newTestServer(t)
    orderIDs, driverID := seedServer(t, s)
    // cancel one order so its assignment fails
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/orders/"+orderIDs[1]+"/status", bytes.NewReader([]byte(`{"status":"cancelled"}`)))
    s.OrderByIDHandler(rr, req)
    if rr.Code != 200 { t.Fatalf("status update: %d", rr.Code) }

    body, _ := json.Marshal(model.AssignSelectedRequest{OrderIDs: orderIDs})
    rr = httptest.NewRecorder()
    req = httptest.NewRequest(http.MethodPost, "/v1/drivers/"+driverID+"/assign-selected", bytes.NewReader(body))
    s.DriversHandler(rr, req)
    if rr.Code != http.StatusMultiStatus { t.Fatalf("expected 207, got %d: %s", rr.Code, rr.Body.String()) }
    var out struct {
        Outcomes []model.AssignOutcome `json:"outcomes"`
        Failed   int                   `json:"failed"`
    }
    if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil { t.Fatalf("decode: %v", err) }
    if out.Failed != 1 || len(out.Outcomes) != 2 { t.Fatalf("unexpected outcomes: %+v", out) }
}

func TestGeocodeSearchEndpoint(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    s.GeocodeSearchHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/geocoding/search", nil))
    if rr.Code != http.StatusBadRequest { t.Fatalf("missing q: %d", rr.Code) }
    // geocoder disabled without a base URL
    rr = httptest.NewRecorder()
    s.GeocodeSearchHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/geocoding/search?q=1+Main+St", nil))
    if rr.Code != http.StatusServiceUnavailable { t.Fatalf("disabled: %d", rr.Code) }
    withGeocoder(t, s)
    rr = httptest.NewRecorder()
    s.GeocodeSearchHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/geocoding/search?q=1+Main+St", nil))
    if rr.Code != 200 { t.Fatalf("search: %d: %s", rr.Code, rr.Body.String()) }
    rr = httptest.NewRecorder()
    s.GeocodeSearchHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/geocoding/search?q=nowhere", nil))
    if rr.Code != http.StatusNotFound { t.Fatalf("miss: %d", rr.Code) }
}

func TestSubscriptionsRBAC(t *testing.T) {
    s := newTestServer(t)
    body := []byte(`{"url":"https://example.test/hook","events":["orders.assigned"]}`)
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/subscriptions", bytes.NewReader(body))
    req.Header.Set("X-Role", "driver")
    s.SubscriptionsHandler(rr, req)
    if rr.Code != 403 { t.Fatalf("expected 403 for driver role, got %d", rr.Code) }
    rr = httptest.NewRecorder()
    req = httptest.NewRequest(http.MethodPost, "/v1/subscriptions", bytes.NewReader(body))
    s.SubscriptionsHandler(rr, req)
    if rr.Code != http.StatusCreated { t.Fatalf("create sub: %d: %s", rr.Code, rr.Body.String()) }
}

func TestRestaurantOrdersAssignableFilter(t *testing.T) {
    s := newTestServer(t)
    orderIDs, driverID := seedServer(t, s)
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/orders/"+orderIDs[0]+"/assign-driver", bytes.NewReader([]byte(`{"driver_id":"`+driverID+`"}`)))
    s.OrderByIDHandler(rr, req)
    if rr.Code != 200 { t.Fatalf("assign: %d", rr.Code) }
    rr = httptest.NewRecorder()
    s.RestaurantsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/restaurants/r1/orders?assignable=true", nil))
    if rr.Code != 200 { t.Fatalf("orders: %d", rr.Code) }
    var out struct{ Items []model.Order `json:"items"` }
    if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil { t.Fatalf("decode: %v", err) }
    if len(out.Items) != 1 { t.Fatalf("expected 1 assignable order, got %d", len(out.Items)) }
    if out.Items[0].ID != orderIDs[1] { t.Fatalf("wrong order in pool") }
}

func TestOrdersCSVImport(t *testing.T) {
    s := newTestServer(t)
    csvBody := []byte("external_ref,restaurant_id,status,delivery_address\n" +
        "ext-1,r9,ready_for_pickup,\"14 Rose Ln, Apt 2\"\n" +
        "ext-2,r9,new,3 Elm St\n")
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/orders", bytes.NewReader(csvBody))
    req.Header.Set("Content-Type", "text/csv")
    s.OrdersHandler(rr, req)
    if rr.Code != http.StatusAccepted { t.Fatalf("csv import: %d: %s", rr.Code, rr.Body.String()) }
    var out map[string]any
    if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil { t.Fatalf("decode: %v", err) }
    if out["created"].(float64) != 2 || out["source"] != "csv" { t.Fatalf("import response: %v", out) }

    rr = httptest.NewRecorder()
    s.OrdersHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/orders?restaurantId=r9", nil))
    var listed struct{ Items []model.Order `json:"items"` }
    if err := json.Unmarshal(rr.Body.Bytes(), &listed); err != nil { t.Fatalf("decode orders: %v", err) }
    if len(listed.Items) != 2 { t.Fatalf("expected 2 imported orders, got %d", len(listed.Items)) }
    byRef := map[string]model.Order{}
    for _, o := range listed.Items { byRef[o.DeliveryAddress] = o }
    if o := byRef["14 Rose Ln, Apt 2"]; o.Status != model.OrderReady {
        t.Fatalf("platform status not normalized: %+v", o)
    }

    // missing a required column
    rr = httptest.NewRecorder()
    req = httptest.NewRequest(http.MethodPost, "/v1/orders", bytes.NewReader([]byte("external_ref,status\nx,new\n")))
    req.Header.Set("Content-Type", "text/csv")
    s.OrdersHandler(rr, req)
    if rr.Code != http.StatusBadRequest { t.Fatalf("expected 400 for bad csv, got %d", rr.Code) }
}

func TestDriverLocationReadback(t *testing.T) {
    s := newTestServer(t)
    _, driverID := seedServer(t, s)

    // nothing reported yet
    rr := httptest.NewRecorder()
    s.DriversHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/drivers/"+driverID+"/location", nil))
    if rr.Code != http.StatusNotFound { t.Fatalf("expected 404 before any report, got %d", rr.Code) }

    rr = httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/drivers/"+driverID+"/location", bytes.NewReader([]byte(`{"lat":40.1,"lng":-3.2}`)))
    s.DriversHandler(rr, req)
    if rr.Code != 200 { t.Fatalf("location report: %d: %s", rr.Code, rr.Body.String()) }

    rr = httptest.NewRecorder()
    s.DriversHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/drivers/"+driverID+"/location", nil))
    if rr.Code != 200 { t.Fatalf("location get: %d", rr.Code) }
    var loc LatestLocation
    if err := json.Unmarshal(rr.Body.Bytes(), &loc); err != nil { t.Fatalf("decode: %v", err) }
    if loc.DriverID != driverID || loc.Lat != 40.1 || loc.Lng != -3.2 || loc.TS == "" {
        t.Fatalf("location = %+v", loc)
    }

    rr = httptest.NewRecorder()
    s.DriversIndexHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/drivers/locations", nil))
    if rr.Code != 200 { t.Fatalf("locations list: %d", rr.Code) }
    var all struct{ Items []LatestLocation `json:"items"` }
    if err := json.Unmarshal(rr.Body.Bytes(), &all); err != nil { t.Fatalf("decode: %v", err) }
    if len(all.Items) != 1 || all.Items[0].DriverID != driverID {
        t.Fatalf("locations = %+v", all.Items)
    }
}
