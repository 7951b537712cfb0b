package store

import (
    "context"
    "fmt"
    "sort"
    "sync"
    "time"

    "github.com/google/uuid"

    "fooddispatch/internal/model"
)

// Memory is the in-memory store used when no DATABASE_URL is set. All spec
// semantics (assignability checks, wholesale resequencing, atomic batch
// apply) match the Postgres implementation.
type Memory struct {
    mu      sync.Mutex
    orders  map[string]model.Order // id -> order
    byTen   map[string][]string    // tenant -> order ids, insertion order
    drivers map[string]model.Driver
    drvTen  map[string][]string
    subs    map[string][]model.Subscription

    deliveries map[string]*memDelivery
    delOrder   []string // delivery ids, enqueue order
}

func NewMemory() *Memory {
    return &Memory{
        orders:     map[string]model.Order{},
        byTen:      map[string][]string{},
        drivers:    map[string]model.Driver{},
        drvTen:     map[string][]string{},
        subs:       map[string][]model.Subscription{},
        deliveries: map[string]*memDelivery{},
    }
}

type memDelivery struct {
    WebhookDelivery
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
    LatencyMs     int
}

func nowISO() string { return time.Now().UTC().Format(time.RFC3339) }

func (m *Memory) CreateOrders(ctx context.Context, tenantID string, orders []model.OrderIn) (int, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    created := 0
    for _, in := range orders {
        st := in.Status
        if st == "" { st = model.OrderPending }
        if !st.Valid() {
            return created, fmt.Errorf("invalid order status %q", in.Status)
        }
        id := uuid.New().String()
        m.orders[id] = model.Order{
            ID:                    id,
            RestaurantID:          in.RestaurantID,
            Status:                st,
            DeliveryAddress:       in.DeliveryAddress,
            EstimatedDeliveryTime: in.EstimatedDeliveryTime,
            CreatedAt:             nowISO(),
            UpdatedAt:             nowISO(),
        }
        m.byTen[tenantID] = append(m.byTen[tenantID], id)
        created++
    }
    return created, nil
}

func (m *Memory) ListOrders(ctx context.Context, tenantID, restaurantID string, status model.OrderStatus) ([]model.Order, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Order{}
    for _, id := range m.byTen[tenantID] {
        o := m.orders[id]
        if restaurantID != "" && o.RestaurantID != restaurantID { continue }
        if status != "" && o.Status != status { continue }
        out = append(out, o)
    }
    return out, nil
}

func (m *Memory) GetOrder(ctx context.Context, tenantID, orderID string) (model.Order, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    o, ok := m.orders[orderID]
    if !ok { return model.Order{}, ErrNotFound }
    return o, nil
}

func (m *Memory) UpdateOrderStatus(ctx context.Context, tenantID, orderID string, status model.OrderStatus) (model.Order, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    o, ok := m.orders[orderID]
    if !ok { return model.Order{}, ErrNotFound }
    o.Status = status
    o.UpdatedAt = nowISO()
    if status == model.OrderDelivered || status == model.OrderCancelled {
        o.DeliverySequence = nil
    }
    m.orders[orderID] = o
    return o, nil
}

func (m *Memory) AssignDriver(ctx context.Context, tenantID, orderID, driverID, estimatedDeliveryTime string) (model.Order, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    o, ok := m.orders[orderID]
    if !ok { return model.Order{}, ErrNotFound }
    if _, ok := m.drivers[driverID]; !ok { return model.Order{}, fmt.Errorf("driver %s: %w", driverID, ErrNotFound) }
    if o.DriverID != nil { return model.Order{}, fmt.Errorf("order %s already has a driver: %w", orderID, ErrConflict) }
    if !o.Status.Assignable() { return model.Order{}, fmt.Errorf("order %s status %s is not assignable: %w", orderID, o.Status, ErrConflict) }
    o.DriverID = &driverID
    if estimatedDeliveryTime != "" { o.EstimatedDeliveryTime = estimatedDeliveryTime }
    o.UpdatedAt = nowISO()
    m.orders[orderID] = o
    m.markBusyLocked(driverID)
    return o, nil
}

func (m *Memory) ApplyAssignments(ctx context.Context, tenantID, restaurantID string, assignments []model.Assignment) (int, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    // validate everything before mutating: batch apply is all-or-nothing
    for _, a := range assignments {
        if _, ok := m.drivers[a.DriverID]; !ok {
            return 0, fmt.Errorf("driver %s: %w", a.DriverID, ErrNotFound)
        }
        for _, id := range a.Route.OrderIDsInSequence {
            o, ok := m.orders[id]
            if !ok { return 0, fmt.Errorf("order %s: %w", id, ErrNotFound) }
            if restaurantID != "" && o.RestaurantID != restaurantID {
                return 0, fmt.Errorf("order %s belongs to another restaurant: %w", id, ErrConflict)
            }
            if o.DriverID != nil { return 0, fmt.Errorf("order %s already has a driver: %w", id, ErrConflict) }
            if !o.Status.Assignable() { return 0, fmt.Errorf("order %s status %s is not assignable: %w", id, o.Status, ErrConflict) }
        }
    }
    assigned := 0
    for _, a := range assignments {
        for pos, id := range a.Route.OrderIDsInSequence {
            o := m.orders[id]
            d := a.DriverID
            seq := pos + 1
            o.DriverID = &d
            o.DeliverySequence = &seq
            o.UpdatedAt = nowISO()
            m.orders[id] = o
            assigned++
        }
        if len(a.Route.OrderIDsInSequence) > 0 {
            m.markBusyLocked(a.DriverID)
        }
    }
    return assigned, nil
}

func (m *Memory) SaveTour(ctx context.Context, tenantID, driverID string, orderIDs []string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.drivers[driverID]; !ok { return fmt.Errorf("driver %s: %w", driverID, ErrNotFound) }
    member := map[string]bool{}
    for _, id := range m.byTen[tenantID] {
        o := m.orders[id]
        if o.DriverID != nil && *o.DriverID == driverID && o.Status.ActiveTour() {
            member[id] = true
        }
    }
    seen := map[string]bool{}
    for _, id := range orderIDs {
        if !member[id] { return fmt.Errorf("order %s is not in driver %s's active tour: %w", id, driverID, ErrConflict) }
        if seen[id] { return fmt.Errorf("order %s listed twice: %w", id, ErrConflict) }
        seen[id] = true
    }
    // wholesale: clear every prior sequence, then write the new one
    for id := range member {
        o := m.orders[id]
        o.DeliverySequence = nil
        m.orders[id] = o
    }
    for pos, id := range orderIDs {
        o := m.orders[id]
        seq := pos + 1
        o.DeliverySequence = &seq
        o.UpdatedAt = nowISO()
        m.orders[id] = o
    }
    return nil
}

func (m *Memory) ListDriverTour(ctx context.Context, tenantID, driverID string) ([]model.Order, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Order{}
    for _, id := range m.byTen[tenantID] {
        o := m.orders[id]
        if o.DriverID != nil && *o.DriverID == driverID && o.Status.ActiveTour() {
            out = append(out, o)
        }
    }
    sort.SliceStable(out, func(i, k int) bool {
        a, b := out[i].DeliverySequence, out[k].DeliverySequence
        if a == nil { return false }
        if b == nil { return true }
        return *a < *b
    })
    return out, nil
}

func (m *Memory) markBusyLocked(driverID string) {
    d := m.drivers[driverID]
    if d.Status == model.DriverAvailable {
        d.Status = model.DriverBusy
        m.drivers[driverID] = d
    }
}

func (m *Memory) UpsertDrivers(ctx context.Context, tenantID string, drivers []model.DriverIn) (int, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    n := 0
    for _, in := range drivers {
        st := in.Status
        if st == "" { st = model.DriverPendingActivation }
        if !st.Valid() { return n, fmt.Errorf("invalid driver status %q", in.Status) }
        id := in.ID
        if id == "" { id = uuid.New().String() }
        prev, exists := m.drivers[id]
        d := model.Driver{ID: id, Name: in.Name, Status: st, CurrentLocation: in.CurrentLocation}
        if exists {
            d.Rating = prev.Rating
            d.TotalDeliveries = prev.TotalDeliveries
            d.TotalEarnings = prev.TotalEarnings
            if in.CurrentLocation == nil { d.CurrentLocation = prev.CurrentLocation }
        } else {
            m.drvTen[tenantID] = append(m.drvTen[tenantID], id)
        }
        m.drivers[id] = d
        n++
    }
    return n, nil
}

func (m *Memory) ListDrivers(ctx context.Context, tenantID string) ([]model.Driver, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Driver{}
    for _, id := range m.drvTen[tenantID] {
        out = append(out, m.drivers[id])
    }
    return out, nil
}

func (m *Memory) GetDriver(ctx context.Context, tenantID, driverID string) (model.Driver, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    d, ok := m.drivers[driverID]
    if !ok { return model.Driver{}, ErrNotFound }
    return d, nil
}

func (m *Memory) UpdateDriverStatus(ctx context.Context, tenantID, driverID string, status model.DriverStatus) (model.Driver, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    d, ok := m.drivers[driverID]
    if !ok { return model.Driver{}, ErrNotFound }
    d.Status = status
    m.drivers[driverID] = d
    return d, nil
}

func (m *Memory) UpdateDriverLocation(ctx context.Context, tenantID, driverID string, loc model.GeoPoint) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d, ok := m.drivers[driverID]
    if !ok { return ErrNotFound }
    d.CurrentLocation = &loc
    m.drivers[driverID] = d
    return nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
    m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
    return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Subscription{}
    for _, s := range m.subs[tenantID] {
        for _, e := range s.Events {
            if e == eventType || e == "*" {
                out = append(out, s)
                break
            }
        }
    }
    return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return append([]model.Subscription{}, m.subs[tenantID]...), nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    subs := m.subs[tenantID]
    for i, s := range subs {
        if s.ID == id {
            m.subs[tenantID] = append(subs[:i], subs[i+1:]...)
            return nil
        }
    }
    return ErrNotFound
}

func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    id := uuid.New().String()
    m.deliveries[id] = &memDelivery{
        WebhookDelivery: WebhookDelivery{
            ID: id, TenantID: tenantID, SubscriptionID: subscriptionID,
            EventType: eventType, URL: url, Secret: secret, Payload: payload,
            Status: "pending",
        },
        NextAttemptAt: time.Now(),
    }
    m.delOrder = append(m.delOrder, id)
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []WebhookDelivery{}
    now := time.Now()
    for _, id := range m.delOrder {
        d := m.deliveries[id]
        if d.Status != "pending" && d.Status != "retry" { continue }
        if d.NextAttemptAt.After(now) { continue }
        out = append(out, d.WebhookDelivery)
        if len(out) >= limit { break }
    }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d, ok := m.deliveries[id]
    if !ok { return ErrNotFound }
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    if success {
        d.Status = "delivered"
        return nil
    }
    d.Status = "retry"
    d.Attempts++
    d.LastError = lastError
    if nextAttemptAt != nil { d.NextAttemptAt = *nextAttemptAt }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d, ok := m.deliveries[id]
    if !ok { return ErrNotFound }
    d.Status = "failed"
    d.LastError = lastError
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    return nil
}
