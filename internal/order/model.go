package order

import "time"

type Order struct {
	ID              string    `json:"id"`
	Status          Status    `json:"status"`
	Version         int64     `json:"version"`
	Items           []Item    `json:"items"`
	Customer        Customer  `json:"customer"`
	DeliveryAddress Address   `json:"deliveryAddress"`
	Payment         Payment   `json:"payment"`
	DriverID        *string   `json:"driverId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`

	// PendingAction marks an optimistic mutation still awaiting server
	// confirmation. Local only, never sent or persisted.
	PendingAction bool `json:"-"`
}

// Item is a snapshot of one ordered dish. Immutable once the order is placed.
type Item struct {
	DishID   string   `json:"dishId"`
	DishName string   `json:"dishName"`
	Quantity int      `json:"quantity"`
	Size     string   `json:"size,omitempty"`
	AddOns   []string `json:"addOns,omitempty"`
	Notes    string   `json:"notes,omitempty"`
}

type Customer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type Address struct {
	Street   string `json:"street"`
	ZoneName string `json:"zoneName"`
	Notes    string `json:"notes,omitempty"`
}

type Payment struct {
	Method string `json:"method"`
	Status string `json:"status"`
}

// Clone returns a deep copy, safe to hand to subscribers or keep as a
// rollback snapshot while the original keeps mutating.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}

	cp := *o

	if o.DriverID != nil {
		id := *o.DriverID
		cp.DriverID = &id
	}

	if o.Items != nil {
		cp.Items = make([]Item, len(o.Items))
		for i, it := range o.Items {
			cp.Items[i] = it
			if it.AddOns != nil {
				cp.Items[i].AddOns = append([]string(nil), it.AddOns...)
			}
		}
	}

	return &cp
}
