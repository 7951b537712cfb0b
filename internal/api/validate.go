package api

import (
	"fmt"

	"fooddispatch/internal/model"
)

func validateOrdersIn(orders []model.OrderIn) error {
	if len(orders) == 0 {
		return fmt.Errorf("orders must not be empty")
	}
	for i, o := range orders {
		if o.RestaurantID == "" {
			return fmt.Errorf("orders[%d]: restaurant_id required", i)
		}
		if o.DeliveryAddress == "" {
			return fmt.Errorf("orders[%d]: delivery_address required", i)
		}
		if o.Status != "" && !o.Status.Valid() {
			return fmt.Errorf("orders[%d]: unknown status %q", i, o.Status)
		}
	}
	return nil
}

func validateDriverIDs(ids []string) error {
	seen := map[string]struct{}{}
	for i, id := range ids {
		if id == "" {
			return fmt.Errorf("driver_ids[%d] is empty", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("driver_ids contains %s twice", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
