package store

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "fooddispatch/internal/model"
)

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies every .sql file in dir in lexical order. Dev helper; a
// production deployment runs migrations out of band.
func (p *Postgres) MigrateDir(dir string) error {
    entries, err := os.ReadDir(dir)
    if err != nil { return err }
    names := []string{}
    for _, e := range entries {
        if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" { names = append(names, e.Name()) }
    }
    sort.Strings(names)
    for _, n := range names {
        b, err := os.ReadFile(filepath.Join(dir, n))
        if err != nil { return err }
        if _, err := p.db.Exec(string(b)); err != nil {
            return fmt.Errorf("migration %s: %w", n, err)
        }
    }
    return nil
}

func (p *Postgres) CreateOrders(ctx context.Context, tenantID string, orders []model.OrderIn) (int, error) {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return 0, err }
    defer func() { _ = tx.Rollback() }()
    created := 0
    for _, in := range orders {
        st := in.Status
        if st == "" { st = model.OrderPending }
        if !st.Valid() { return 0, fmt.Errorf("invalid order status %q", in.Status) }
        _, err = tx.ExecContext(ctx, `INSERT INTO orders (id, tenant_id, restaurant_id, external_ref, status, delivery_address, estimated_delivery_time)
            VALUES ($1,$2,$3,$4,$5,$6,$7)`,
            uuid.New(), tenantID, in.RestaurantID, nullIfEmpty(in.ExternalRef), string(st), in.DeliveryAddress, nullIfEmpty(in.EstimatedDeliveryTime))
        if err != nil { return 0, err }
        created++
    }
    if err := tx.Commit(); err != nil { return 0, err }
    return created, nil
}

const orderCols = `id::text, restaurant_id, status, driver_id::text, delivery_address, delivery_sequence,
    COALESCE(estimated_delivery_time,''), to_char(created_at,'YYYY-MM-DD"T"HH24:MI:SS"Z"'), to_char(updated_at,'YYYY-MM-DD"T"HH24:MI:SS"Z"')`

func scanOrder(row interface{ Scan(...any) error }) (model.Order, error) {
    var o model.Order
    var driverID sql.NullString
    var seq sql.NullInt64
    if err := row.Scan(&o.ID, &o.RestaurantID, &o.Status, &driverID, &o.DeliveryAddress, &seq, &o.EstimatedDeliveryTime, &o.CreatedAt, &o.UpdatedAt); err != nil {
        return model.Order{}, err
    }
    if driverID.Valid { v := driverID.String; o.DriverID = &v }
    if seq.Valid { v := int(seq.Int64); o.DeliverySequence = &v }
    return o, nil
}

func (p *Postgres) ListOrders(ctx context.Context, tenantID, restaurantID string, status model.OrderStatus) ([]model.Order, error) {
    q := `SELECT ` + orderCols + ` FROM orders WHERE tenant_id=$1`
    args := []any{tenantID}
    if restaurantID != "" {
        args = append(args, restaurantID)
        q += fmt.Sprintf(" AND restaurant_id=$%d", len(args))
    }
    if status != "" {
        args = append(args, string(status))
        q += fmt.Sprintf(" AND status=$%d", len(args))
    }
    q += " ORDER BY created_at, id"
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Order{}
    for rows.Next() {
        o, err := scanOrder(rows)
        if err != nil { return nil, err }
        out = append(out, o)
    }
    return out, rows.Err()
}

func (p *Postgres) GetOrder(ctx context.Context, tenantID, orderID string) (model.Order, error) {
    row := p.db.QueryRowContext(ctx, `SELECT `+orderCols+` FROM orders WHERE tenant_id=$1 AND id::text=$2`, tenantID, orderID)
    o, err := scanOrder(row)
    if errors.Is(err, sql.ErrNoRows) { return model.Order{}, ErrNotFound }
    return o, err
}

func (p *Postgres) UpdateOrderStatus(ctx context.Context, tenantID, orderID string, status model.OrderStatus) (model.Order, error) {
    _, err := p.db.ExecContext(ctx, `UPDATE orders SET status=$3, updated_at=now(),
        delivery_sequence = CASE WHEN $3 IN ('delivered','cancelled') THEN NULL ELSE delivery_sequence END
        WHERE tenant_id=$1 AND id::text=$2`, tenantID, orderID, string(status))
    if err != nil { return model.Order{}, err }
    return p.GetOrder(ctx, tenantID, orderID)
}

func (p *Postgres) AssignDriver(ctx context.Context, tenantID, orderID, driverID, estimatedDeliveryTime string) (model.Order, error) {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return model.Order{}, err }
    defer func() { _ = tx.Rollback() }()
    var exists bool
    if err := tx.QueryRowContext(ctx, `SELECT true FROM drivers WHERE tenant_id=$1 AND id::text=$2`, tenantID, driverID).Scan(&exists); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return model.Order{}, fmt.Errorf("driver %s: %w", driverID, ErrNotFound) }
        return model.Order{}, err
    }
    // the status predicate is the assignable set; the driver_id IS NULL guard
    // makes the claim race-free under concurrent dispatchers
    res, err := tx.ExecContext(ctx, `UPDATE orders SET driver_id=$3::uuid, updated_at=now(),
        estimated_delivery_time = COALESCE(NULLIF($4,''), estimated_delivery_time)
        WHERE tenant_id=$1 AND id::text=$2 AND driver_id IS NULL
          AND status IN ('pending','ready','open','in_progress')`,
        tenantID, orderID, driverID, estimatedDeliveryTime)
    if err != nil { return model.Order{}, err }
    n, _ := res.RowsAffected()
    if n == 0 {
        var found bool
        _ = tx.QueryRowContext(ctx, `SELECT true FROM orders WHERE tenant_id=$1 AND id::text=$2`, tenantID, orderID).Scan(&found)
        if !found { return model.Order{}, ErrNotFound }
        return model.Order{}, fmt.Errorf("order %s is not assignable: %w", orderID, ErrConflict)
    }
    if _, err := tx.ExecContext(ctx, `UPDATE drivers SET status='busy' WHERE tenant_id=$1 AND id::text=$2 AND status='available'`, tenantID, driverID); err != nil {
        return model.Order{}, err
    }
    if err := tx.Commit(); err != nil { return model.Order{}, err }
    return p.GetOrder(ctx, tenantID, orderID)
}

func (p *Postgres) ApplyAssignments(ctx context.Context, tenantID, restaurantID string, assignments []model.Assignment) (int, error) {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return 0, err }
    defer func() { _ = tx.Rollback() }()
    assigned := 0
    for _, a := range assignments {
        var exists bool
        if err := tx.QueryRowContext(ctx, `SELECT true FROM drivers WHERE tenant_id=$1 AND id::text=$2`, tenantID, a.DriverID).Scan(&exists); err != nil {
            if errors.Is(err, sql.ErrNoRows) { return 0, fmt.Errorf("driver %s: %w", a.DriverID, ErrNotFound) }
            return 0, err
        }
        for pos, id := range a.Route.OrderIDsInSequence {
            res, err := tx.ExecContext(ctx, `UPDATE orders SET driver_id=$3::uuid, delivery_sequence=$4, updated_at=now()
                WHERE tenant_id=$1 AND id::text=$2 AND driver_id IS NULL
                  AND ($5 = '' OR restaurant_id=$5)
                  AND status IN ('pending','ready','open','in_progress')`,
                tenantID, id, a.DriverID, pos+1, restaurantID)
            if err != nil { return 0, err }
            n, _ := res.RowsAffected()
            if n == 0 {
                // rolls the whole batch back: apply is all-or-nothing
                return 0, fmt.Errorf("order %s is not assignable: %w", id, ErrConflict)
            }
            assigned++
        }
        if len(a.Route.OrderIDsInSequence) > 0 {
            if _, err := tx.ExecContext(ctx, `UPDATE drivers SET status='busy' WHERE tenant_id=$1 AND id::text=$2 AND status='available'`, tenantID, a.DriverID); err != nil {
                return 0, err
            }
        }
    }
    if err := tx.Commit(); err != nil { return 0, err }
    return assigned, nil
}

func (p *Postgres) SaveTour(ctx context.Context, tenantID, driverID string, orderIDs []string) error {
    seen := map[string]bool{}
    for _, id := range orderIDs {
        if seen[id] { return fmt.Errorf("order %s listed twice: %w", id, ErrConflict) }
        seen[id] = true
    }
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func() { _ = tx.Rollback() }()
    var exists bool
    if err := tx.QueryRowContext(ctx, `SELECT true FROM drivers WHERE tenant_id=$1 AND id::text=$2`, tenantID, driverID).Scan(&exists); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return fmt.Errorf("driver %s: %w", driverID, ErrNotFound) }
        return err
    }
    if _, err := tx.ExecContext(ctx, `UPDATE orders SET delivery_sequence=NULL, updated_at=now()
        WHERE tenant_id=$1 AND driver_id::text=$2 AND status IN ('ready','picked_up','confirmed','preparing')`, tenantID, driverID); err != nil {
        return err
    }
    for pos, id := range orderIDs {
        res, err := tx.ExecContext(ctx, `UPDATE orders SET delivery_sequence=$4, updated_at=now()
            WHERE tenant_id=$1 AND id::text=$2 AND driver_id::text=$3
              AND status IN ('ready','picked_up','confirmed','preparing')`, tenantID, id, driverID, pos+1)
        if err != nil { return err }
        n, _ := res.RowsAffected()
        if n == 0 {
            return fmt.Errorf("order %s is not in driver %s's active tour: %w", id, driverID, ErrConflict)
        }
    }
    return tx.Commit()
}

func (p *Postgres) ListDriverTour(ctx context.Context, tenantID, driverID string) ([]model.Order, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT `+orderCols+` FROM orders
        WHERE tenant_id=$1 AND driver_id::text=$2 AND status IN ('ready','picked_up','confirmed','preparing')
        ORDER BY delivery_sequence NULLS LAST, created_at, id`, tenantID, driverID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Order{}
    for rows.Next() {
        o, err := scanOrder(rows)
        if err != nil { return nil, err }
        out = append(out, o)
    }
    return out, rows.Err()
}

func (p *Postgres) UpsertDrivers(ctx context.Context, tenantID string, drivers []model.DriverIn) (int, error) {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return 0, err }
    defer func() { _ = tx.Rollback() }()
    n := 0
    for _, in := range drivers {
        st := in.Status
        if st == "" { st = model.DriverPendingActivation }
        if !st.Valid() { return 0, fmt.Errorf("invalid driver status %q", in.Status) }
        id := in.ID
        if id == "" { id = uuid.New().String() }
        var lat, lng any
        if in.CurrentLocation != nil {
            lat, lng = in.CurrentLocation.Latitude, in.CurrentLocation.Longitude
        }
        _, err = tx.ExecContext(ctx, `INSERT INTO drivers (id, tenant_id, name, status, lat, lng)
            VALUES ($1::uuid,$2,$3,$4,$5,$6)
            ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, status=EXCLUDED.status,
                lat=COALESCE(EXCLUDED.lat, drivers.lat), lng=COALESCE(EXCLUDED.lng, drivers.lng)`,
            id, tenantID, in.Name, string(st), lat, lng)
        if err != nil { return 0, err }
        n++
    }
    if err := tx.Commit(); err != nil { return 0, err }
    return n, nil
}

const driverCols = `id::text, COALESCE(name,''), status, lat, lng, COALESCE(rating,0), COALESCE(total_deliveries,0), COALESCE(total_earnings,0)`

func scanDriver(row interface{ Scan(...any) error }) (model.Driver, error) {
    var d model.Driver
    var lat, lng sql.NullFloat64
    if err := row.Scan(&d.ID, &d.Name, &d.Status, &lat, &lng, &d.Rating, &d.TotalDeliveries, &d.TotalEarnings); err != nil {
        return model.Driver{}, err
    }
    if lat.Valid && lng.Valid {
        d.CurrentLocation = &model.GeoPoint{Latitude: lat.Float64, Longitude: lng.Float64}
    }
    return d, nil
}

func (p *Postgres) ListDrivers(ctx context.Context, tenantID string) ([]model.Driver, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT `+driverCols+` FROM drivers WHERE tenant_id=$1 ORDER BY created_at, id`, tenantID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Driver{}
    for rows.Next() {
        d, err := scanDriver(rows)
        if err != nil { return nil, err }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) GetDriver(ctx context.Context, tenantID, driverID string) (model.Driver, error) {
    row := p.db.QueryRowContext(ctx, `SELECT `+driverCols+` FROM drivers WHERE tenant_id=$1 AND id::text=$2`, tenantID, driverID)
    d, err := scanDriver(row)
    if errors.Is(err, sql.ErrNoRows) { return model.Driver{}, ErrNotFound }
    return d, err
}

func (p *Postgres) UpdateDriverStatus(ctx context.Context, tenantID, driverID string, status model.DriverStatus) (model.Driver, error) {
    res, err := p.db.ExecContext(ctx, `UPDATE drivers SET status=$3 WHERE tenant_id=$1 AND id::text=$2`, tenantID, driverID, string(status))
    if err != nil { return model.Driver{}, err }
    if n, _ := res.RowsAffected(); n == 0 { return model.Driver{}, ErrNotFound }
    return p.GetDriver(ctx, tenantID, driverID)
}

func (p *Postgres) UpdateDriverLocation(ctx context.Context, tenantID, driverID string, loc model.GeoPoint) error {
    res, err := p.db.ExecContext(ctx, `UPDATE drivers SET lat=$3, lng=$4 WHERE tenant_id=$1 AND id::text=$2`, tenantID, driverID, loc.Latitude, loc.Longitude)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
    _, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1::uuid,$2,$3,$4,$5)`,
        s.ID, s.TenantID, s.URL, pqStringArray(s.Events), nullIfEmpty(s.Secret))
    if err != nil { return model.Subscription{}, err }
    return s, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id, url, events, COALESCE(secret,'') FROM subscriptions
        WHERE tenant_id=$1 AND ($2 = ANY(events) OR '*' = ANY(events))`, tenantID, eventType)
    if err != nil { return nil, err }
    defer rows.Close()
    return scanSubscriptions(rows)
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID string) ([]model.Subscription, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id, url, events, COALESCE(secret,'') FROM subscriptions WHERE tenant_id=$1 ORDER BY id`, tenantID)
    if err != nil { return nil, err }
    defer rows.Close()
    return scanSubscriptions(rows)
}

func scanSubscriptions(rows *sql.Rows) ([]model.Subscription, error) {
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var events []byte
        if err := rows.Scan(&s.ID, &s.TenantID, &s.URL, &events, &s.Secret); err != nil { return nil, err }
        s.Events = parsePgTextArray(string(events))
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id=$1 AND id::text=$2`, tenantID, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at)
        VALUES ($1::uuid,$2,$3::uuid,$4,$5,$6,$7,'pending',0,now())`,
        id, tenantID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload)
    if err != nil { return "", err }
    return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil { return nil, err }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if success {
        _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id::text=$1`, id, responseCode, latencyMs)
        return err
    }
    if nextAttemptAt == nil { t := time.Now().Add(time.Minute); nextAttemptAt = &t }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id::text=$1`,
        id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
    return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id::text=$1`,
        id, nullIfEmpty(lastError), responseCode, latencyMs)
    return err
}

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }

func pqStringArray(v []string) any {
    if len(v) == 0 { return "{}" }
    out := "{"
    for i, s := range v {
        if i > 0 { out += "," }
        out += `"` + s + `"`
    }
    return out + "}"
}

// parsePgTextArray handles the simple event-name arrays this schema stores
// (no embedded commas or quotes in event names).
func parsePgTextArray(s string) []string {
    if len(s) < 2 { return []string{} }
    s = s[1 : len(s)-1]
    if s == "" { return []string{} }
    out := []string{}
    field := ""
    for i := 0; i < len(s); i++ {
        switch s[i] {
        case '"':
        case ',':
            out = append(out, field)
            field = ""
        default:
            field += string(s[i])
        }
    }
    return append(out, field)
}
