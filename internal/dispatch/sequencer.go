package dispatch

import (
    "context"
    "fmt"
)

// Sequencer holds a driver's tour while a dispatcher rearranges it by hand.
// Edits stay local until Commit; Refresh re-reads the tour from the store
// and discards uncommitted edits, so membership changes (a delivered order,
// a newly assigned one) always win over in-flight reordering.
type Sequencer struct {
    driverID string
    orderIDs []string
}

// NewSequencer reads the driver's current active tour.
func (d *Dispatcher) NewSequencer(ctx context.Context, tenantID, driverID string) (*Sequencer, error) {
    s := &Sequencer{driverID: driverID}
    if err := s.refresh(ctx, d, tenantID); err != nil { return nil, err }
    return s, nil
}

func (s *Sequencer) refresh(ctx context.Context, d *Dispatcher, tenantID string) error {
    tour, err := d.Store.ListDriverTour(ctx, tenantID, s.driverID)
    if err != nil { return err }
    s.orderIDs = make([]string, len(tour))
    for i, o := range tour { s.orderIDs[i] = o.ID }
    return nil
}

// Refresh discards local edits and reloads the tour.
func (s *Sequencer) Refresh(ctx context.Context, d *Dispatcher, tenantID string) error {
    return s.refresh(ctx, d, tenantID)
}

// Reorder moves the stop at from to position to, shifting the stops between
// them. Both indexes are positions in the current working sequence.
func (s *Sequencer) Reorder(from, to int) error {
    n := len(s.orderIDs)
    if from < 0 || from >= n { return fmt.Errorf("from_index %d out of range [0,%d)", from, n) }
    if to < 0 || to >= n { return fmt.Errorf("to_index %d out of range [0,%d)", to, n) }
    if from == to { return nil }
    id := s.orderIDs[from]
    rest := append(append([]string{}, s.orderIDs[:from]...), s.orderIDs[from+1:]...)
    s.orderIDs = append(append(append([]string{}, rest[:to]...), id), rest[to:]...)
    return nil
}

// Reverse flips the working sequence end to end.
func (s *Sequencer) Reverse() {
    for i, k := 0, len(s.orderIDs)-1; i < k; i, k = i+1, k-1 {
        s.orderIDs[i], s.orderIDs[k] = s.orderIDs[k], s.orderIDs[i]
    }
}

// OrderIDs returns a copy of the working sequence.
func (s *Sequencer) OrderIDs() []string {
    return append([]string{}, s.orderIDs...)
}

// Commit persists the working sequence as the driver's tour.
func (s *Sequencer) Commit(ctx context.Context, d *Dispatcher, tenantID string) error {
    return d.SaveTour(ctx, tenantID, s.driverID, s.orderIDs)
}
