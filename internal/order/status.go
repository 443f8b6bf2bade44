package order

// Status represents the current position of an order in its delivery
// lifecycle.
type Status string

const (
	StatusPending          Status = "pending"
	StatusPreparing        Status = "preparing"
	StatusReadyForPickup   Status = "ready_for_pickup"
	StatusAssignedToDriver Status = "assigned_to_driver"
	StatusPickedUpByDriver Status = "picked_up_by_driver"
	StatusOnTheWay         Status = "on_the_way"
	StatusDelivered        Status = "delivered"

	StatusCancelledByCustomer   Status = "cancelled_by_customer"
	StatusCancelledByRestaurant Status = "cancelled_by_restaurant"
	StatusCancelledByAdmin      Status = "cancelled_by_admin"
)

// Actor is the role requesting a transition.
type Actor string

const (
	ActorRestaurant Actor = "restaurant"
	ActorDriver     Actor = "driver"
	ActorAdmin      Actor = "admin"
	ActorCustomer   Actor = "customer"
)

// allowed holds the legal edges of the lifecycle. Cancellation is only
// possible before a driver is assigned.
var allowed = map[Status]map[Status]bool{
	StatusPending: {
		StatusPreparing:             true,
		StatusCancelledByCustomer:   true,
		StatusCancelledByRestaurant: true,
		StatusCancelledByAdmin:      true,
	},
	StatusPreparing: {
		StatusReadyForPickup:        true,
		StatusCancelledByCustomer:   true,
		StatusCancelledByRestaurant: true,
		StatusCancelledByAdmin:      true,
	},
	StatusReadyForPickup: {
		StatusAssignedToDriver: true,
	},
	StatusAssignedToDriver: {
		StatusPickedUpByDriver: true,
	},
	StatusPickedUpByDriver: {
		StatusOnTheWay: true,
	},
	StatusOnTheWay: {
		StatusDelivered: true,
	},
	StatusDelivered:             {},
	StatusCancelledByCustomer:   {},
	StatusCancelledByRestaurant: {},
	StatusCancelledByAdmin:      {},
}

// guards narrows each edge to the roles that may request it.
var guards = map[Status]map[Status][]Actor{
	StatusPending: {
		StatusPreparing:             {ActorRestaurant, ActorAdmin},
		StatusCancelledByCustomer:   {ActorCustomer},
		StatusCancelledByRestaurant: {ActorRestaurant},
		StatusCancelledByAdmin:      {ActorAdmin},
	},
	StatusPreparing: {
		StatusReadyForPickup:        {ActorRestaurant, ActorAdmin},
		StatusCancelledByCustomer:   {ActorCustomer},
		StatusCancelledByRestaurant: {ActorRestaurant},
		StatusCancelledByAdmin:      {ActorAdmin},
	},
	StatusReadyForPickup: {
		StatusAssignedToDriver: {ActorRestaurant, ActorAdmin},
	},
	StatusAssignedToDriver: {
		StatusPickedUpByDriver: {ActorDriver, ActorAdmin},
	},
	StatusPickedUpByDriver: {
		StatusOnTheWay: {ActorDriver, ActorAdmin},
	},
	StatusOnTheWay: {
		StatusDelivered: {ActorDriver, ActorAdmin},
	},
}

// IsValidTransition reports whether next is reachable from current via
// exactly one edge of the lifecycle.
func IsValidTransition(current, next Status) bool {
	nexts := allowed[current]
	return nexts != nil && nexts[next]
}

// IsTerminal reports whether status admits no further transitions.
func IsTerminal(status Status) bool {
	nexts, known := allowed[status]
	return known && len(nexts) == 0
}

// IsCancelled reports whether status is one of the cancellation outcomes.
func IsCancelled(status Status) bool {
	switch status {
	case StatusCancelledByCustomer, StatusCancelledByRestaurant, StatusCancelledByAdmin:
		return true
	}
	return false
}

// GuardFor returns, for each status reachable from current, the roles that
// may request it. The returned map is a copy; callers may mutate it.
func GuardFor(current Status) map[Status][]Actor {
	out := make(map[Status][]Actor, len(guards[current]))
	for next, actors := range guards[current] {
		out[next] = append([]Actor(nil), actors...)
	}
	return out
}

// ActorAllowed reports whether actor may request the current→next edge.
// A false result on a valid edge is a role problem, not a lifecycle one.
func ActorAllowed(current, next Status, actor Actor) bool {
	for _, a := range guards[current][next] {
		if a == actor {
			return true
		}
	}
	return false
}

// CancelStatusFor maps a role to the cancellation outcome it produces.
func CancelStatusFor(actor Actor) (Status, bool) {
	switch actor {
	case ActorCustomer:
		return StatusCancelledByCustomer, true
	case ActorRestaurant:
		return StatusCancelledByRestaurant, true
	case ActorAdmin:
		return StatusCancelledByAdmin, true
	}
	return "", false
}

// CheckTransition runs the full guard: lifecycle edge first, then role.
// It returns one of the package sentinel errors on failure.
func CheckTransition(current, next Status, actor Actor) error {
	if IsTerminal(current) {
		return ErrFinalState
	}
	if !IsValidTransition(current, next) {
		return ErrInvalidTransition
	}
	if !ActorAllowed(current, next, actor) {
		return ErrActorNotAllowed
	}
	return nil
}
