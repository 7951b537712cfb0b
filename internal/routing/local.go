package routing

import (
    "context"
    "errors"
    "math"
    "sort"

    "fooddispatch/internal/model"
)

// LocalEngine is the built-in fallback used when no external routing engine
// is configured. It partitions jobs across drivers by cheapest append, orders
// each tour nearest-neighbor first, then improves it with 2-opt. Fully
// deterministic: identical inputs always produce identical sequences.
type LocalEngine struct {
    // TwoOptIterations caps improvement sweeps per tour.
    TwoOptIterations int
}

func NewLocalEngine() *LocalEngine { return &LocalEngine{TwoOptIterations: 8} }

const (
    avgSpeedMps    = 8.33 // ~30 km/h urban driving
    stopServiceSec = 180
)

func (e *LocalEngine) OptimizeMultiDriver(ctx context.Context, restaurantID string, drivers []model.Driver, jobs []Job) (model.OptimizationResult, error) {
    if len(drivers) == 0 {
        return model.OptimizationResult{}, errors.New("no drivers provided")
    }
    res := model.OptimizationResult{
        Assignments:    []model.Assignment{},
        UnassignedJobs: []string{},
        OrdersTotal:    len(jobs),
    }
    var geocoded []Job
    for _, j := range jobs {
        if j.Location == nil {
            res.GeocodingIssues++
            res.UnassignedJobs = append(res.UnassignedJobs, j.OrderID)
            continue
        }
        geocoded = append(geocoded, j)
    }
    res.OrdersGeocoded = len(geocoded)
    sort.Slice(geocoded, func(i, k int) bool { return geocoded[i].OrderID < geocoded[k].OrderID })

    // cheapest-append partition: each job goes to the driver whose tour end
    // is nearest; ties break on driver index so the split is stable
    ends := make([]model.GeoPoint, len(drivers))
    for i, d := range drivers {
        if d.CurrentLocation != nil {
            ends[i] = *d.CurrentLocation
        } else if len(geocoded) > 0 {
            ends[i] = *geocoded[0].Location
        }
    }
    buckets := make([][]Job, len(drivers))
    for _, j := range geocoded {
        best := 0
        bestDist := math.MaxFloat64
        for i := range drivers {
            d := haversineMeters(ends[i].Latitude, ends[i].Longitude, j.Location.Latitude, j.Location.Longitude)
            // load penalty keeps the split balanced instead of piling every
            // stop onto the closest driver
            d += float64(len(buckets[i])) * 500
            if d < bestDist {
                best, bestDist = i, d
            }
        }
        buckets[best] = append(buckets[best], j)
        ends[best] = *j.Location
    }

    for i, d := range drivers {
        if len(buckets[i]) == 0 {
            continue
        }
        start := ends[i]
        if d.CurrentLocation != nil {
            start = *d.CurrentLocation
        }
        route := e.buildRoute(start, buckets[i])
        res.Assignments = append(res.Assignments, model.Assignment{DriverID: d.ID, Route: route})
        res.OrdersAssigned += len(route.OrderIDsInSequence)
        res.DriversUsed++
        res.TotalDistance += route.DistanceMeters
        res.TotalDuration += route.DurationSeconds
    }
    return res, nil
}

func (e *LocalEngine) OptimizeTour(ctx context.Context, driver model.Driver, jobs []Job) (model.Route, error) {
    var geocoded, blind []Job
    for _, j := range jobs {
        if j.Location == nil {
            blind = append(blind, j)
            continue
        }
        geocoded = append(geocoded, j)
    }
    start := model.GeoPoint{}
    if driver.CurrentLocation != nil {
        start = *driver.CurrentLocation
    } else if len(geocoded) > 0 {
        start = *geocoded[0].Location
    }
    route := e.buildRoute(start, geocoded)
    // stops without coordinates cannot be optimized; they keep their input
    // order at the tail so no order is ever dropped from the tour
    for _, j := range blind {
        route.OrderDetails[len(route.OrderIDsInSequence)] = j.Address
        route.OrderIDsInSequence = append(route.OrderIDsInSequence, j.OrderID)
        route.DurationSeconds += stopServiceSec
    }
    return route, nil
}

// buildRoute orders jobs nearest-neighbor from start, improves with 2-opt,
// and fills in distance/duration totals.
func (e *LocalEngine) buildRoute(start model.GeoPoint, jobs []Job) model.Route {
    route := model.Route{OrderIDsInSequence: []string{}, OrderDetails: map[int]string{}}
    if len(jobs) == 0 {
        return route
    }
    order := nearestNeighborOrder(start, jobs)
    order = improveOrder2Opt(jobs, order, e.TwoOptIterations)
    prev := start
    for pos, idx := range order {
        j := jobs[idx]
        route.OrderIDsInSequence = append(route.OrderIDsInSequence, j.OrderID)
        route.OrderDetails[pos] = j.Address
        route.DistanceMeters += int(haversineMeters(prev.Latitude, prev.Longitude, j.Location.Latitude, j.Location.Longitude))
        prev = *j.Location
    }
    route.DurationSeconds = int(float64(route.DistanceMeters)/avgSpeedMps) + stopServiceSec*len(order)
    return route
}

func nearestNeighborOrder(start model.GeoPoint, jobs []Job) []int {
    n := len(jobs)
    order := make([]int, 0, n)
    used := make([]bool, n)
    cur := start
    for len(order) < n {
        best := -1
        bestDist := math.MaxFloat64
        for i := 0; i < n; i++ {
            if used[i] {
                continue
            }
            d := haversineMeters(cur.Latitude, cur.Longitude, jobs[i].Location.Latitude, jobs[i].Location.Longitude)
            if d < bestDist {
                best, bestDist = i, d
            }
        }
        used[best] = true
        order = append(order, best)
        cur = *jobs[best].Location
    }
    return order
}

// improveOrder2Opt applies a 2-opt sweep until no swap shortens the path or
// the iteration cap is hit.
func improveOrder2Opt(jobs []Job, order []int, iterations int) []int {
    if iterations <= 0 {
        iterations = 1
    }
    best := append([]int(nil), order...)
    bestDist := pathDistance(jobs, best)
    n := len(order)
    for it := 0; it < iterations; it++ {
        improved := false
        for i := 0; i < n-1; i++ {
            for k := i + 1; k < n; k++ {
                cand := twoOptSwap(best, i, k)
                d := pathDistance(jobs, cand)
                if d+1e-3 < bestDist {
                    best, bestDist = cand, d
                    improved = true
                }
            }
        }
        if !improved {
            break
        }
    }
    return best
}

func twoOptSwap(ord []int, i, k int) []int {
    out := make([]int, len(ord))
    copy(out, ord[:i])
    pos := i
    for j := k; j >= i; j-- {
        out[pos] = ord[j]
        pos++
    }
    copy(out[pos:], ord[k+1:])
    return out
}

func pathDistance(jobs []Job, order []int) float64 {
    total := 0.0
    for i := 0; i < len(order)-1; i++ {
        a := jobs[order[i]].Location
        b := jobs[order[i+1]].Location
        total += haversineMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
    }
    return total
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
    const R = 6371000.0
    dLat := (lat2 - lat1) * math.Pi / 180
    dLon := (lon2 - lon1) * math.Pi / 180
    a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
    c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
    return R * c
}
