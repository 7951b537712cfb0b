package model

// Shared DTO layer for the dispatch workflow. Field names and enumerated
// value spellings are wire contract shared with the platform clients and the
// external collaborators; timestamps travel as ISO-8601 strings.

type OrderStatus string

const (
    OrderPending        OrderStatus = "pending"
    OrderConfirmed      OrderStatus = "confirmed"
    OrderPreparing      OrderStatus = "preparing"
    OrderReady          OrderStatus = "ready"
    OrderOpen           OrderStatus = "open"
    OrderInProgress     OrderStatus = "in_progress"
    OrderOutForDelivery OrderStatus = "out_for_delivery"
    OrderPickedUp       OrderStatus = "picked_up"
    OrderDelivered      OrderStatus = "delivered"
    OrderCancelled      OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
    switch s {
    case OrderPending, OrderConfirmed, OrderPreparing, OrderReady, OrderOpen,
        OrderInProgress, OrderOutForDelivery, OrderPickedUp, OrderDelivered, OrderCancelled:
        return true
    }
    return false
}

// Assignable reports whether the status allows receiving a driver. The caller
// must additionally check that no driver is set yet.
func (s OrderStatus) Assignable() bool {
    switch s {
    case OrderPending, OrderReady, OrderOpen, OrderInProgress:
        return true
    }
    return false
}

// ActiveTour reports whether an already-assigned order still belongs to its
// driver's active tour (not yet delivered or cancelled).
func (s OrderStatus) ActiveTour() bool {
    switch s {
    case OrderReady, OrderPickedUp, OrderConfirmed, OrderPreparing:
        return true
    }
    return false
}

type DriverStatus string

const (
    DriverAvailable         DriverStatus = "available"
    DriverBusy              DriverStatus = "busy"
    DriverOffline           DriverStatus = "offline"
    DriverOnBreak           DriverStatus = "on_break"
    DriverPendingActivation DriverStatus = "pending_activation"
)

func (s DriverStatus) Valid() bool {
    switch s {
    case DriverAvailable, DriverBusy, DriverOffline, DriverOnBreak, DriverPendingActivation:
        return true
    }
    return false
}

type GeoPoint struct {
    Latitude  float64 `json:"latitude"`
    Longitude float64 `json:"longitude"`
}

type Order struct {
    ID                    string      `json:"id"`
    RestaurantID          string      `json:"restaurant_id"`
    Status                OrderStatus `json:"status"`
    DriverID              *string     `json:"driver_id"`
    DeliveryAddress       string      `json:"delivery_address"`
    DeliverySequence      *int        `json:"delivery_sequence"`
    EstimatedDeliveryTime string      `json:"estimated_delivery_time,omitempty"`
    CreatedAt             string      `json:"created_at,omitempty"`
    UpdatedAt             string      `json:"updated_at,omitempty"`
}

type Driver struct {
    ID              string       `json:"id"`
    Name            string       `json:"name,omitempty"`
    Status          DriverStatus `json:"status"`
    CurrentLocation *GeoPoint    `json:"current_location,omitempty"`
    Rating          float64      `json:"rating,omitempty"`
    TotalDeliveries int          `json:"total_deliveries,omitempty"`
    TotalEarnings   float64      `json:"total_earnings,omitempty"`
}

// DriverStats is the read-only aggregate served by /v1/drivers/stats.
type DriverStats struct {
    Total             int     `json:"total"`
    Available         int     `json:"available"`
    Busy              int     `json:"busy"`
    Offline           int     `json:"offline"`
    OnBreak           int     `json:"on_break"`
    PendingActivation int     `json:"pending_activation"`
    TotalDeliveries   int     `json:"total_deliveries"`
    TotalEarnings     float64 `json:"total_earnings"`
}

// Route is the transient optimizer output for one driver. It is never
// persisted directly; the chosen sequence lands in each order's
// delivery_sequence on save.
type Route struct {
    OrderIDsInSequence []string       `json:"orderIdsInSequence"`
    DistanceMeters     int            `json:"distanceMeters,omitempty"`
    DurationSeconds    int            `json:"durationSeconds,omitempty"`
    OrderDetails       map[int]string `json:"orderDetails,omitempty"`
}

// Assignment pairs one driver with one proposed Route inside a batch result.
type Assignment struct {
    DriverID string `json:"driver_id"`
    Route    Route  `json:"route"`
}

// OptimizationResult is the multi-driver optimizer output. geocoding_issues
// and unassigned_jobs are reported independently: every geocoding failure is
// counted and listed, but unassigned_jobs may also hold geocodable orders no
// driver could take. Callers must not assume disjointness.
type OptimizationResult struct {
    Assignments     []Assignment `json:"assignments"`
    OrdersTotal     int          `json:"orders_total"`
    OrdersAssigned  int          `json:"orders_assigned"`
    OrdersGeocoded  int          `json:"orders_geocoded"`
    GeocodingIssues int          `json:"geocoding_issues"`
    DriversUsed     int          `json:"drivers_used"`
    TotalDistance   int          `json:"total_distance"`
    TotalDuration   int          `json:"total_duration"`
    UnassignedJobs  []string     `json:"unassigned_jobs"`
}

// Request bodies (wire contract, /v1 surface).

type OptimizeMultiDriverRequest struct {
    DriverIDs []string `json:"driver_ids"`
}

type OptimizeTourRequest struct {
    RestaurantID string `json:"restaurant_id"`
}

type SaveTourRequest struct {
    OrderIDs []string `json:"order_ids"`
}

type ApplyOptimizationRequest struct {
    Assignments []Assignment `json:"assignments"`
}

type AssignDriverRequest struct {
    DriverID              string `json:"driver_id"`
    EstimatedDeliveryTime string `json:"estimated_delivery_time,omitempty"`
}

type AssignSelectedRequest struct {
    OrderIDs []string `json:"order_ids"`
}

type ReorderRequest struct {
    FromIndex int `json:"from_index"`
    ToIndex   int `json:"to_index"`
}

// AssignOutcome reports one order's result inside a bulk assignment. Failed
// orders are NOT rolled back; the dispatcher retries explicitly.
type AssignOutcome struct {
    OrderID string `json:"order_id"`
    OK      bool   `json:"ok"`
    Error   string `json:"error,omitempty"`
}

// MapMarker is one geocoded stop for map rendering.
type MapMarker struct {
    OrderID   string  `json:"order_id"`
    Sequence  int     `json:"sequence"`
    Address   string  `json:"address"`
    Latitude  float64 `json:"latitude"`
    Longitude float64 `json:"longitude"`
}

// TourMapView is the pure data structure a rendering layer consumes: markers
// in delivery order plus the polyline connecting them. Stops whose address
// could not be geocoded appear in Skipped and are absent from the path.
type TourMapView struct {
    DriverID string      `json:"driver_id"`
    Markers  []MapMarker `json:"markers"`
    Polyline []GeoPoint  `json:"polyline"`
    Skipped  []string    `json:"skipped,omitempty"`
}

// Ingest inputs.

type OrderIn struct {
    ExternalRef           string      `json:"external_ref,omitempty"`
    RestaurantID          string      `json:"restaurant_id"`
    Status                OrderStatus `json:"status,omitempty"`
    DeliveryAddress       string      `json:"delivery_address"`
    EstimatedDeliveryTime string      `json:"estimated_delivery_time,omitempty"`
}

type DriverIn struct {
    ID              string       `json:"id,omitempty"`
    Name            string       `json:"name,omitempty"`
    Status          DriverStatus `json:"status,omitempty"`
    CurrentLocation *GeoPoint    `json:"current_location,omitempty"`
}

// Webhook subscriptions.

type SubscriptionRequest struct {
    TenantID string   `json:"tenantId"`
    URL      string   `json:"url"`
    Events   []string `json:"events"`
    Secret   string   `json:"secret"`
}

type Subscription struct {
    ID       string   `json:"id"`
    TenantID string   `json:"tenantId"`
    URL      string   `json:"url"`
    Events   []string `json:"events"`
    Secret   string   `json:"secret,omitempty"`
}
