// Package dispatch orchestrates the assignment workflow: it pulls candidate
// orders and drivers from the store, geocodes addresses, drives the route
// engine, and applies accepted results back to the store.
package dispatch

import (
    "context"
    "errors"
    "fmt"
    "sync"

    "fooddispatch/internal/geocode"
    "fooddispatch/internal/model"
    "fooddispatch/internal/pool"
    "fooddispatch/internal/routing"
    "fooddispatch/internal/store"
)

var (
    // ErrOptimizationInFlight is returned while a restaurant already has an
    // optimization running. One at a time per restaurant.
    ErrOptimizationInFlight = errors.New("optimization already in progress")
    ErrNoEligibleDrivers    = errors.New("no eligible drivers")
    ErrNoAssignableOrders   = errors.New("no assignable orders")
    ErrEmptyTour            = errors.New("driver has no active orders")
    ErrDriverNotEligible    = errors.New("driver is not available")
)

// Geocoder resolves a delivery address to coordinates.
type Geocoder interface {
    Lookup(ctx context.Context, address string) (model.GeoPoint, error)
}

// EventSink receives workflow events for webhook fanout.
type EventSink interface {
    Emit(ctx context.Context, tenantID, eventType string, data any)
}

type nopSink struct{}

func (nopSink) Emit(context.Context, string, string, any) {}

// Dispatcher is safe for concurrent use. All mutation goes through Store;
// Dispatcher itself only tracks which restaurants have an optimization
// running.
type Dispatcher struct {
    Store    store.Store
    Engine   routing.Engine
    Geocoder Geocoder
    Events   EventSink

    mu       sync.Mutex
    inFlight map[string]bool // restaurantID -> optimization running
}

func New(s store.Store, eng routing.Engine, geo Geocoder, events EventSink) *Dispatcher {
    if events == nil { events = nopSink{} }
    return &Dispatcher{Store: s, Engine: eng, Geocoder: geo, Events: events, inFlight: map[string]bool{}}
}

func (d *Dispatcher) acquire(restaurantID string) bool {
    d.mu.Lock(); defer d.mu.Unlock()
    if d.inFlight[restaurantID] { return false }
    d.inFlight[restaurantID] = true
    return true
}

func (d *Dispatcher) release(restaurantID string) {
    d.mu.Lock(); defer d.mu.Unlock()
    delete(d.inFlight, restaurantID)
}

// OptimizeMultiDriver runs the batch optimization for one restaurant. The
// result is advisory; nothing is assigned until ApplyBatch.
func (d *Dispatcher) OptimizeMultiDriver(ctx context.Context, tenantID, restaurantID string, driverIDs []string) (model.OptimizationResult, error) {
    if !d.acquire(restaurantID) {
        return model.OptimizationResult{}, ErrOptimizationInFlight
    }
    defer d.release(restaurantID)

    drivers, err := d.selectDrivers(ctx, tenantID, driverIDs)
    if err != nil { return model.OptimizationResult{}, err }
    if len(drivers) == 0 { return model.OptimizationResult{}, ErrNoEligibleDrivers }

    all, err := d.Store.ListOrders(ctx, tenantID, restaurantID, "")
    if err != nil { return model.OptimizationResult{}, err }
    candidates := pool.AssignableOrders(all)
    if len(candidates) == 0 { return model.OptimizationResult{}, ErrNoAssignableOrders }

    jobs := d.buildJobs(ctx, candidates)
    res, err := d.Engine.OptimizeMultiDriver(ctx, restaurantID, drivers, jobs)
    if err != nil { return model.OptimizationResult{}, err }
    if err := routing.ValidateResult(res, jobs); err != nil {
        return model.OptimizationResult{}, fmt.Errorf("optimizer returned inconsistent result: %w", err)
    }
    return res, nil
}

// selectDrivers resolves the requested driver ids against the roster and
// keeps the batch-eligible ones. An unknown id is an input error, not a
// silent skip.
func (d *Dispatcher) selectDrivers(ctx context.Context, tenantID string, driverIDs []string) ([]model.Driver, error) {
    roster, err := d.Store.ListDrivers(ctx, tenantID)
    if err != nil { return nil, err }
    if len(driverIDs) == 0 {
        return pool.EligibleBatch(roster), nil
    }
    byID := make(map[string]model.Driver, len(roster))
    for _, dr := range roster { byID[dr.ID] = dr }
    picked := []model.Driver{}
    for _, id := range driverIDs {
        dr, ok := byID[id]
        if !ok { return nil, fmt.Errorf("driver %s: %w", id, store.ErrNotFound) }
        picked = append(picked, dr)
    }
    return pool.EligibleBatch(picked), nil
}

// buildJobs geocodes candidate orders sequentially. A failed lookup produces
// a job with a nil location; the engine reports it as unassigned.
func (d *Dispatcher) buildJobs(ctx context.Context, orders []model.Order) []routing.Job {
    jobs := make([]routing.Job, 0, len(orders))
    for _, o := range orders {
        j := routing.Job{OrderID: o.ID, Address: o.DeliveryAddress}
        if d.Geocoder != nil && o.DeliveryAddress != "" {
            if p, err := d.Geocoder.Lookup(ctx, o.DeliveryAddress); err == nil {
                loc := p
                j.Location = &loc
            }
        }
        jobs = append(jobs, j)
    }
    return jobs
}

// OptimizeTour reorders one driver's active tour. Like the batch path the
// result is advisory until SaveTour.
func (d *Dispatcher) OptimizeTour(ctx context.Context, tenantID, driverID string) (model.Route, error) {
    driver, err := d.Store.GetDriver(ctx, tenantID, driverID)
    if err != nil { return model.Route{}, err }
    tour, err := d.Store.ListDriverTour(ctx, tenantID, driverID)
    if err != nil { return model.Route{}, err }
    if len(tour) == 0 { return model.Route{}, ErrEmptyTour }
    jobs := d.buildJobs(ctx, tour)
    return d.Engine.OptimizeTour(ctx, driver, jobs)
}

// ApplyBatch persists an accepted multi-driver result. The store makes this
// all-or-nothing; a stale assignment (order claimed since the optimization
// ran) fails the whole batch.
func (d *Dispatcher) ApplyBatch(ctx context.Context, tenantID, restaurantID string, assignments []model.Assignment) (int, error) {
    n, err := d.Store.ApplyAssignments(ctx, tenantID, restaurantID, assignments)
    if err != nil { return 0, err }
    d.Events.Emit(ctx, tenantID, "optimization.applied", map[string]any{
        "restaurant_id": restaurantID,
        "orders_assigned": n,
        "drivers_used": len(assignments),
    })
    return n, nil
}

// AssignOrder assigns a single order to a single driver. The driver must be
// available; an already-busy driver is rejected here, not in the store.
func (d *Dispatcher) AssignOrder(ctx context.Context, tenantID, orderID, driverID, estimatedDeliveryTime string) (model.Order, error) {
    driver, err := d.Store.GetDriver(ctx, tenantID, driverID)
    if err != nil { return model.Order{}, err }
    if driver.Status != model.DriverAvailable {
        return model.Order{}, fmt.Errorf("driver %s status %s: %w", driverID, driver.Status, ErrDriverNotEligible)
    }
    o, err := d.Store.AssignDriver(ctx, tenantID, orderID, driverID, estimatedDeliveryTime)
    if err != nil { return model.Order{}, err }
    d.Events.Emit(ctx, tenantID, "orders.assigned", map[string]any{"order_id": o.ID, "driver_id": driverID})
    return o, nil
}

// AssignSelected assigns a set of orders to one driver concurrently, one
// store call per order. Eligibility is checked once up front, so orders
// landing after the driver flips to busy still succeed. There is no rollback:
// every order settles independently and reports its own outcome.
func (d *Dispatcher) AssignSelected(ctx context.Context, tenantID, driverID string, orderIDs []string) ([]model.AssignOutcome, error) {
    driver, err := d.Store.GetDriver(ctx, tenantID, driverID)
    if err != nil { return nil, err }
    if driver.Status != model.DriverAvailable && driver.Status != model.DriverBusy {
        return nil, fmt.Errorf("driver %s status %s: %w", driverID, driver.Status, ErrDriverNotEligible)
    }
    outcomes := make([]model.AssignOutcome, len(orderIDs))
    var wg sync.WaitGroup
    for i, id := range orderIDs {
        wg.Add(1)
        go func(i int, orderID string) {
            defer wg.Done()
            _, err := d.Store.AssignDriver(ctx, tenantID, orderID, driverID, "")
            out := model.AssignOutcome{OrderID: orderID, OK: err == nil}
            if err != nil { out.Error = err.Error() }
            outcomes[i] = out
        }(i, id)
    }
    wg.Wait()
    failed := 0
    for _, o := range outcomes {
        if !o.OK { failed++ }
    }
    event := "orders.assigned"
    if failed > 0 { event = "orders.assign.partial" }
    d.Events.Emit(ctx, tenantID, event, map[string]any{
        "driver_id": driverID,
        "requested": len(orderIDs),
        "failed":    failed,
    })
    return outcomes, nil
}

// SaveTour persists a driver's new delivery sequence wholesale.
func (d *Dispatcher) SaveTour(ctx context.Context, tenantID, driverID string, orderIDs []string) error {
    if err := d.Store.SaveTour(ctx, tenantID, driverID, orderIDs); err != nil { return err }
    d.Events.Emit(ctx, tenantID, "tour.saved", map[string]any{"driver_id": driverID, "stops": len(orderIDs)})
    return nil
}

var _ Geocoder = (*geocode.Client)(nil)
