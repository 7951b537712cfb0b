package ingest

import (
    "context"
    "encoding/csv"
    "fmt"
    "io"
    "strings"

    "fooddispatch/internal/model"
)

// CSVSource parses order exports in the common drop-file layout:
// external_ref,restaurant_id,status,delivery_address,estimated_delivery_time
// The header row is required; column order follows the header.
type CSVSource struct {
    Reader io.Reader
}

func (s *CSVSource) Name() string { return "csv" }

func (s *CSVSource) FetchOrders(ctx context.Context, since, cursor string) (Batch, error) {
    r := csv.NewReader(s.Reader)
    r.TrimLeadingSpace = true
    header, err := r.Read()
    if err != nil {
        return Batch{}, fmt.Errorf("read header: %w", err)
    }
    col := map[string]int{}
    for i, name := range header {
        col[strings.ToLower(strings.TrimSpace(name))] = i
    }
    for _, required := range []string{"restaurant_id", "delivery_address"} {
        if _, ok := col[required]; !ok {
            return Batch{}, fmt.Errorf("missing column %s", required)
        }
    }
    field := func(rec []string, name string) string {
        i, ok := col[name]
        if !ok || i >= len(rec) { return "" }
        return strings.TrimSpace(rec[i])
    }
    batch := Batch{Orders: []model.OrderIn{}}
    line := 1
    for {
        if err := ctx.Err(); err != nil { return Batch{}, err }
        rec, err := r.Read()
        if err == io.EOF { break }
        line++
        if err != nil {
            return Batch{}, fmt.Errorf("line %d: %w", line, err)
        }
        in := model.OrderIn{
            ExternalRef:           field(rec, "external_ref"),
            RestaurantID:          field(rec, "restaurant_id"),
            DeliveryAddress:       field(rec, "delivery_address"),
            EstimatedDeliveryTime: field(rec, "estimated_delivery_time"),
        }
        if in.RestaurantID == "" || in.DeliveryAddress == "" {
            return Batch{}, fmt.Errorf("line %d: restaurant_id and delivery_address required", line)
        }
        if code := field(rec, "status"); code != "" {
            in.Status = MapStatus(code)
        }
        batch.Orders = append(batch.Orders, in)
    }
    return batch, nil
}

func (s *CSVSource) Ack(ctx context.Context, ids []string) error { return nil }
