package dispatch

import (
    "context"

    "fooddispatch/internal/model"
)

// TourMap geocodes a driver's active tour for map rendering. Stops that
// cannot be geocoded land in Skipped and never break the view; the polyline
// simply connects the stops that resolved, in delivery order.
func (d *Dispatcher) TourMap(ctx context.Context, tenantID, driverID string) (model.TourMapView, error) {
    if _, err := d.Store.GetDriver(ctx, tenantID, driverID); err != nil {
        return model.TourMapView{}, err
    }
    tour, err := d.Store.ListDriverTour(ctx, tenantID, driverID)
    if err != nil { return model.TourMapView{}, err }
    view := model.TourMapView{DriverID: driverID, Markers: []model.MapMarker{}, Polyline: []model.GeoPoint{}}
    for i, o := range tour {
        if d.Geocoder == nil || o.DeliveryAddress == "" {
            view.Skipped = append(view.Skipped, o.ID)
            continue
        }
        p, err := d.Geocoder.Lookup(ctx, o.DeliveryAddress)
        if err != nil {
            view.Skipped = append(view.Skipped, o.ID)
            continue
        }
        view.Markers = append(view.Markers, model.MapMarker{
            OrderID:   o.ID,
            Sequence:  i + 1,
            Address:   o.DeliveryAddress,
            Latitude:  p.Latitude,
            Longitude: p.Longitude,
        })
        view.Polyline = append(view.Polyline, p)
    }
    return view, nil
}
