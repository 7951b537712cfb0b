package api

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strings"
    "time"

    "fooddispatch/internal/dispatch"
    "fooddispatch/internal/geocode"
    "fooddispatch/internal/ingest"
    "fooddispatch/internal/metrics"
    "fooddispatch/internal/model"
    "fooddispatch/internal/pool"
    "fooddispatch/internal/routing"
    "fooddispatch/internal/store"
)

// writeDispatchError maps workflow errors onto problem responses. Remote
// optimizer validation messages pass through verbatim so the dispatcher sees
// exactly what the engine rejected.
func writeDispatchError(w http.ResponseWriter, r *http.Request, err error) {
    var re *routing.RemoteError
    switch {
    case errors.As(err, &re):
        switch re.Kind {
        case routing.KindValidation:
            writeProblem(w, http.StatusUnprocessableEntity, "Optimization rejected", re.Message, r.URL.Path)
        case routing.KindUnreachable:
            writeProblem(w, http.StatusServiceUnavailable, "Optimizer unreachable", re.Error(), r.URL.Path)
        default:
            writeProblem(w, http.StatusBadGateway, "Optimizer error", re.Error(), r.URL.Path)
        }
    case errors.Is(err, dispatch.ErrOptimizationInFlight):
        writeProblem(w, http.StatusConflict, "Optimization in progress", err.Error(), r.URL.Path)
    case errors.Is(err, dispatch.ErrNoEligibleDrivers),
        errors.Is(err, dispatch.ErrNoAssignableOrders),
        errors.Is(err, dispatch.ErrEmptyTour):
        writeProblem(w, http.StatusUnprocessableEntity, "Nothing to optimize", err.Error(), r.URL.Path)
    case errors.Is(err, dispatch.ErrDriverNotEligible):
        writeProblem(w, http.StatusConflict, "Driver not eligible", err.Error(), r.URL.Path)
    case errors.Is(err, store.ErrNotFound):
        writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), r.URL.Path)
    case errors.Is(err, store.ErrConflict):
        writeProblem(w, http.StatusConflict, "Conflict", err.Error(), r.URL.Path)
    default:
        writeProblem(w, http.StatusInternalServerError, "Internal error", err.Error(), r.URL.Path)
    }
}

func (s *Server) engineLabel() string {
    if s.Cfg.RoutingEngineURL != "" { return "remote" }
    return "local"
}

// OrdersHandler handles POST/GET /v1/orders. POST accepts either a JSON
// batch or a text/csv drop-file export.
func (s *Server) OrdersHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        if strings.Contains(r.Header.Get("Content-Type"), "text/csv") {
            s.ingestOrdersCSV(w, r)
            return
        }
        var req struct {
            TenantID string          `json:"tenantId"`
            Orders   []model.OrderIn `json:"orders"`
        }
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.TenantID == "" { _, req.TenantID = s.withTenant(r) }
        if err := validateOrdersIn(req.Orders); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid orders", err.Error(), r.URL.Path)
            return
        }
        created, err := s.Store.CreateOrders(r.Context(), req.TenantID, req.Orders)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Create orders failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusAccepted, map[string]any{"created": created})
    case http.MethodGet:
        _, tenant := s.withTenant(r)
        status := model.OrderStatus(r.URL.Query().Get("status"))
        if status != "" && !status.Valid() {
            writeProblem(w, http.StatusBadRequest, "Invalid status", fmt.Sprintf("unknown status %q", status), r.URL.Path)
            return
        }
        restaurantID := r.URL.Query().Get("restaurantId")
        items, err := s.Store.ListOrders(r.Context(), tenant, restaurantID, status)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "List orders failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"items": items})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// ingestOrdersCSV imports a drop-file export posted as text/csv.
func (s *Server) ingestOrdersCSV(w http.ResponseWriter, r *http.Request) {
    _, tenant := s.withTenant(r)
    src := &ingest.CSVSource{Reader: r.Body}
    batch, err := src.FetchOrders(r.Context(), "", "")
    if err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid CSV", err.Error(), r.URL.Path)
        return
    }
    if err := validateOrdersIn(batch.Orders); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid orders", err.Error(), r.URL.Path)
        return
    }
    created, err := s.Store.CreateOrders(r.Context(), tenant, batch.Orders)
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Create orders failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusAccepted, map[string]any{"created": created, "source": src.Name()})
}

// OrderByIDHandler handles GET /v1/orders/{id}, POST /v1/orders/{id}/assign-driver
// and POST /v1/orders/{id}/status.
func (s *Server) OrderByIDHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/v1/orders/")
    if rest == r.URL.Path || rest == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
        return
    }
    parts := strings.Split(rest, "/")
    id := parts[0]
    _, tenant := s.withTenant(r)
    if len(parts) > 1 && parts[1] == "assign-driver" {
        if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
        pr := s.getPrincipal(r)
        if !pr.CanDispatch() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path); return }
        var req model.AssignDriverRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.DriverID == "" { writeProblem(w, http.StatusBadRequest, "Missing driver_id", "", r.URL.Path); return }
        o, err := s.Dispatcher.AssignOrder(r.Context(), tenant, id, req.DriverID, req.EstimatedDeliveryTime)
        if err != nil {
            metrics.Assignments.WithLabelValues("single", "error").Inc()
            writeDispatchError(w, r, err)
            return
        }
        metrics.Assignments.WithLabelValues("single", "ok").Inc()
        s.Broker.Publish(o.RestaurantID, SSEEvent{Type: "orders.assigned", Data: map[string]any{"orderId": o.ID, "driverId": req.DriverID}})
        writeJSON(w, http.StatusOK, o)
        return
    }
    if len(parts) > 1 && parts[1] == "status" {
        if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
        var req struct {
            Status model.OrderStatus `json:"status"`
        }
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if !req.Status.Valid() {
            writeProblem(w, http.StatusBadRequest, "Invalid status", fmt.Sprintf("unknown status %q", req.Status), r.URL.Path)
            return
        }
        o, err := s.Store.UpdateOrderStatus(r.Context(), tenant, id, req.Status)
        if err != nil { writeDispatchError(w, r, err); return }
        s.Broker.Publish(o.RestaurantID, SSEEvent{Type: "orders.status", Data: map[string]any{"orderId": o.ID, "status": string(o.Status)}})
        writeJSON(w, http.StatusOK, o)
        return
    }
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    o, err := s.Store.GetOrder(r.Context(), tenant, id)
    if err != nil { writeDispatchError(w, r, err); return }
    writeJSON(w, http.StatusOK, o)
}

// RestaurantsHandler handles everything under /v1/restaurants/{id}/...
func (s *Server) RestaurantsHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/v1/restaurants/")
    if rest == r.URL.Path || rest == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
        return
    }
    parts := strings.Split(rest, "/")
    restaurantID := parts[0]
    action := strings.Join(parts[1:], "/")
    _, tenant := s.withTenant(r)
    switch action {
    case "orders":
        if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
        all, err := s.Store.ListOrders(r.Context(), tenant, restaurantID, "")
        if err != nil { writeDispatchError(w, r, err); return }
        items := all
        if v := r.URL.Query().Get("assignable"); strings.EqualFold(v, "true") || v == "1" {
            items = pool.AssignableOrders(all)
        }
        writeJSON(w, http.StatusOK, map[string]any{"items": items, "counts": pool.CountOrders(all)})
    case "optimize-multi-driver":
        s.optimizeMultiDriver(w, r, tenant, restaurantID)
    case "apply-multi-driver-optimization":
        s.applyMultiDriver(w, r, tenant, restaurantID)
    case "events/stream":
        s.eventsStream(w, r, restaurantID)
    default:
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
    }
}

func (s *Server) optimizeMultiDriver(w http.ResponseWriter, r *http.Request, tenant, restaurantID string) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    pr := s.getPrincipal(r)
    if !pr.CanDispatch() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path); return }
    var req model.OptimizeMultiDriverRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if err := validateDriverIDs(req.DriverIDs); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid driver_ids", err.Error(), r.URL.Path)
        return
    }
    start := time.Now()
    res, err := s.Dispatcher.OptimizeMultiDriver(r.Context(), tenant, restaurantID, req.DriverIDs)
    metrics.OptimizationDuration.WithLabelValues("multi", s.engineLabel()).Observe(time.Since(start).Seconds())
    if err != nil {
        metrics.Optimizations.WithLabelValues("multi", s.engineLabel(), "error").Inc()
        writeDispatchError(w, r, err)
        return
    }
    metrics.Optimizations.WithLabelValues("multi", s.engineLabel(), "ok").Inc()
    s.Broker.Publish(restaurantID, SSEEvent{Type: "optimization.ready", Data: map[string]any{
        "restaurantId": restaurantID,
        "ordersAssigned": res.OrdersAssigned,
        "driversUsed": res.DriversUsed,
    }})
    writeJSON(w, http.StatusOK, res)
}

func (s *Server) applyMultiDriver(w http.ResponseWriter, r *http.Request, tenant, restaurantID string) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    pr := s.getPrincipal(r)
    if !pr.CanDispatch() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path); return }
    var req model.ApplyOptimizationRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if len(req.Assignments) == 0 {
        writeProblem(w, http.StatusBadRequest, "Missing assignments", "", r.URL.Path)
        return
    }
    n, err := s.Dispatcher.ApplyBatch(r.Context(), tenant, restaurantID, req.Assignments)
    if err != nil {
        metrics.Assignments.WithLabelValues("batch", "error").Inc()
        writeDispatchError(w, r, err)
        return
    }
    metrics.Assignments.WithLabelValues("batch", "ok").Add(float64(n))
    s.Broker.Publish(restaurantID, SSEEvent{Type: "optimization.applied", Data: map[string]any{
        "restaurantId": restaurantID,
        "ordersAssigned": n,
    }})
    writeJSON(w, http.StatusOK, map[string]any{"orders_assigned": n})
}

// eventsStream serves SSE for one restaurant's dispatch events.
func (s *Server) eventsStream(w http.ResponseWriter, r *http.Request, restaurantID string) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    pr := s.getPrincipal(r)
    if !(pr.CanDispatch() || pr.Role == "restaurant") {
        writeProblem(w, 403, "Forbidden", "not authorized for dispatch events", r.URL.Path)
        return
    }
    flusher, ok := w.(http.Flusher)
    if !ok { writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path); return }
    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    ch := s.Broker.Subscribe(restaurantID)
    defer s.Broker.Unsubscribe(restaurantID, ch)
    // initial heartbeat
    fmt.Fprintf(w, "event: heartbeat\n")
    fmt.Fprintf(w, "data: {\"restaurantId\":\"%s\",\"ts\":\"%s\"}\n\n", restaurantID, time.Now().Format(time.RFC3339))
    flusher.Flush()
    notify := r.Context().Done()
    for {
        select {
        case <-notify:
            return
        case evt := <-ch:
            b, _ := json.Marshal(evt.Data)
            fmt.Fprintf(w, "event: %s\n", evt.Type)
            fmt.Fprintf(w, "data: %s\n\n", string(b))
            flusher.Flush()
        case <-time.After(15 * time.Second):
            fmt.Fprintf(w, "event: heartbeat\n")
            fmt.Fprintf(w, "data: {\"restaurantId\":\"%s\",\"ts\":\"%s\"}\n\n", restaurantID, time.Now().Format(time.RFC3339))
            flusher.Flush()
        }
    }
}

// DriversIndexHandler handles /v1/drivers, /v1/drivers/stats and
// /v1/drivers/locations
func (s *Server) DriversIndexHandler(w http.ResponseWriter, r *http.Request) {
    _, tenant := s.withTenant(r)
    if r.URL.Path == "/v1/drivers/stats" {
        if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
        drivers, err := s.Store.ListDrivers(r.Context(), tenant)
        if err != nil { writeDispatchError(w, r, err); return }
        writeJSON(w, http.StatusOK, pool.Stats(drivers))
        return
    }
    if r.URL.Path == "/v1/drivers/locations" {
        if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
        writeJSON(w, http.StatusOK, map[string]any{"items": s.Locations.ListByTenant(tenant)})
        return
    }
    if r.URL.Path != "/v1/drivers" { writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path); return }
    switch r.Method {
    case http.MethodGet:
        drivers, err := s.Store.ListDrivers(r.Context(), tenant)
        if err != nil { writeDispatchError(w, r, err); return }
        if v := r.URL.Query().Get("eligible"); v != "" {
            switch v {
            case "single":
                drivers = pool.EligibleSingle(drivers)
            case "batch":
                drivers = pool.EligibleBatch(drivers)
            default:
                writeProblem(w, http.StatusBadRequest, "Invalid eligible filter", "want single or batch", r.URL.Path)
                return
            }
        }
        writeJSON(w, http.StatusOK, map[string]any{"items": drivers})
    case http.MethodPost:
        pr := s.getPrincipal(r)
        if !pr.CanDispatch() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path); return }
        var req struct {
            Drivers []model.DriverIn `json:"drivers"`
        }
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        n, err := s.Store.UpsertDrivers(r.Context(), tenant, req.Drivers)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Upsert drivers failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusAccepted, map[string]any{"upserted": n})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// DriversHandler handles tour and assignment endpoints under /v1/drivers/{driverId}/...
func (s *Server) DriversHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/v1/drivers/")
    if rest == r.URL.Path || rest == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
        return
    }
    parts := strings.Split(rest, "/")
    driverID := parts[0]
    action := strings.Join(parts[1:], "/")
    _, tenant := s.withTenant(r)
    pr := s.getPrincipal(r)

    switch action {
    case "":
        if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
        d, err := s.Store.GetDriver(r.Context(), tenant, driverID)
        if err != nil { writeDispatchError(w, r, err); return }
        writeJSON(w, http.StatusOK, d)
    case "optimize-tour":
        if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
        if !(pr.CanDispatch() || (pr.Role == "driver" && pr.DriverID == driverID)) {
            writeProblem(w, 403, "Forbidden", "not authorized for this tour", r.URL.Path)
            return
        }
        start := time.Now()
        route, err := s.Dispatcher.OptimizeTour(r.Context(), tenant, driverID)
        metrics.OptimizationDuration.WithLabelValues("tour", s.engineLabel()).Observe(time.Since(start).Seconds())
        if err != nil {
            metrics.Optimizations.WithLabelValues("tour", s.engineLabel(), "error").Inc()
            writeDispatchError(w, r, err)
            return
        }
        metrics.Optimizations.WithLabelValues("tour", s.engineLabel(), "ok").Inc()
        writeJSON(w, http.StatusOK, route)
    case "save-tour":
        if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
        if !(pr.CanDispatch() || (pr.Role == "driver" && pr.DriverID == driverID)) {
            writeProblem(w, 403, "Forbidden", "not authorized for this tour", r.URL.Path)
            return
        }
        var req model.SaveTourRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if err := s.Dispatcher.SaveTour(r.Context(), tenant, driverID, req.OrderIDs); err != nil {
            writeDispatchError(w, r, err)
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"saved": len(req.OrderIDs)})
    case "assign-selected":
        if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
        if !pr.CanDispatch() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path); return }
        var req model.AssignSelectedRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if len(req.OrderIDs) == 0 { writeProblem(w, http.StatusBadRequest, "Missing order_ids", "", r.URL.Path); return }
        outcomes, err := s.Dispatcher.AssignSelected(r.Context(), tenant, driverID, req.OrderIDs)
        if err != nil { writeDispatchError(w, r, err); return }
        failed := 0
        for _, o := range outcomes {
            if o.OK {
                metrics.Assignments.WithLabelValues("selected", "ok").Inc()
            } else {
                metrics.Assignments.WithLabelValues("selected", "error").Inc()
                failed++
            }
        }
        status := http.StatusOK
        if failed > 0 { status = http.StatusMultiStatus }
        writeJSON(w, status, map[string]any{"outcomes": outcomes, "failed": failed})
    case "tour":
        if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
        tour, err := s.Store.ListDriverTour(r.Context(), tenant, driverID)
        if err != nil { writeDispatchError(w, r, err); return }
        writeJSON(w, http.StatusOK, map[string]any{"items": tour})
    case "tour/reorder":
        if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
        if !(pr.CanDispatch() || (pr.Role == "driver" && pr.DriverID == driverID)) {
            writeProblem(w, 403, "Forbidden", "not authorized for this tour", r.URL.Path)
            return
        }
        var req model.ReorderRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        seq, err := s.Dispatcher.NewSequencer(r.Context(), tenant, driverID)
        if err != nil { writeDispatchError(w, r, err); return }
        if err := seq.Reorder(req.FromIndex, req.ToIndex); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid reorder", err.Error(), r.URL.Path)
            return
        }
        if err := seq.Commit(r.Context(), s.Dispatcher, tenant); err != nil {
            writeDispatchError(w, r, err)
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"order_ids": seq.OrderIDs()})
    case "tour/map":
        if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
        view, err := s.Dispatcher.TourMap(r.Context(), tenant, driverID)
        if err != nil { writeDispatchError(w, r, err); return }
        writeJSON(w, http.StatusOK, view)
    case "status":
        if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
        var req struct {
            Status model.DriverStatus `json:"status"`
        }
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if !req.Status.Valid() {
            writeProblem(w, http.StatusBadRequest, "Invalid status", fmt.Sprintf("unknown status %q", req.Status), r.URL.Path)
            return
        }
        d, err := s.Store.UpdateDriverStatus(r.Context(), tenant, driverID, req.Status)
        if err != nil { writeDispatchError(w, r, err); return }
        writeJSON(w, http.StatusOK, d)
    case "location":
        if r.Method == http.MethodGet {
            loc, ok := s.Locations.Get(tenant, driverID)
            if !ok {
                writeProblem(w, http.StatusNotFound, "No location", "no position reported yet", r.URL.Path)
                return
            }
            writeJSON(w, http.StatusOK, loc)
            return
        }
        if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
        var req struct {
            Lat float64 `json:"lat"`
            Lng float64 `json:"lng"`
            TS  string  `json:"ts"`
        }
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.TS == "" { req.TS = time.Now().UTC().Format(time.RFC3339) }
        if err := s.Store.UpdateDriverLocation(r.Context(), tenant, driverID, model.GeoPoint{Latitude: req.Lat, Longitude: req.Lng}); err != nil {
            writeDispatchError(w, r, err)
            return
        }
        s.Locations.Upsert(tenant, driverID, req.Lat, req.Lng, req.TS)
        writeJSON(w, http.StatusOK, map[string]any{"ok": true})
    default:
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
    }
}

// GeocodeSearchHandler handles GET /v1/geocoding/search?q=
func (s *Server) GeocodeSearchHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    q := strings.TrimSpace(r.URL.Query().Get("q"))
    if q == "" {
        writeProblem(w, http.StatusBadRequest, "Missing q", "", r.URL.Path)
        return
    }
    p, err := s.Geocoder.Lookup(r.Context(), q)
    switch {
    case err == nil:
        metrics.GeocodeLookups.WithLabelValues("hit").Inc()
        writeJSON(w, http.StatusOK, p)
    case errors.Is(err, geocode.ErrNotFound):
        metrics.GeocodeLookups.WithLabelValues("miss").Inc()
        writeProblem(w, http.StatusNotFound, "Address not found", q, r.URL.Path)
    case errors.Is(err, geocode.ErrDisabled):
        writeProblem(w, http.StatusServiceUnavailable, "Geocoding disabled", "no geocoder configured", r.URL.Path)
    default:
        metrics.GeocodeLookups.WithLabelValues("error").Inc()
        writeProblem(w, http.StatusBadGateway, "Geocoder error", err.Error(), r.URL.Path)
    }
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    switch r.Method {
    case http.MethodPost:
        var req model.SubscriptionRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.TenantID == "" { req.TenantID = p.Tenant }
        if req.URL == "" || len(req.Events) == 0 {
            writeProblem(w, http.StatusBadRequest, "Missing url or events", "", r.URL.Path)
            return
        }
        sub, err := s.Store.CreateSubscription(r.Context(), req)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusCreated, sub)
    case http.MethodGet:
        items, err := s.Store.ListSubscriptions(r.Context(), p.Tenant)
        if err != nil { writeProblem(w, 500, "List subscriptions failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]any{"items": items})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
    if !strings.HasPrefix(r.URL.Path, "/v1/subscriptions/") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodDelete { w.WriteHeader(405); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
    if err := s.Store.DeleteSubscription(r.Context(), p.Tenant, id); err != nil {
        writeDispatchError(w, r, err)
        return
    }
    w.WriteHeader(204)
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    // Check DB connectivity when using Postgres store
    type pinger interface{ Ping(ctx context.Context) error }
    if pg, ok := s.Store.(pinger); ok {
        ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
        defer cancel()
        if err := pg.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path); return }
    }
    writeJSON(w, 200, map[string]string{"status": "ready"})
}
