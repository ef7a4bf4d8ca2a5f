package enums

import "fmt"

// OrderStatus is the coarse lifecycle of a sales order. Orders move forward
// only: draft -> submitted -> cancelled, and cancelled is terminal.
type OrderStatus string

const (
	OrderStatusDraft     OrderStatus = "draft"
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusCancelled OrderStatus = "cancelled"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusDraft,
	OrderStatusSubmitted,
	OrderStatusCancelled,
}

// String implements fmt.Stringer.
func (o OrderStatus) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OrderStatus.
func (o OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == o {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (o OrderStatus) IsTerminal() bool {
	return o == OrderStatusCancelled
}

// CanTransitionTo reports whether moving from o to next is allowed.
// Staying in the same state is always allowed.
func (o OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if o == next {
		return true
	}
	switch o {
	case OrderStatusDraft:
		return next == OrderStatusSubmitted || next == OrderStatusCancelled
	case OrderStatusSubmitted:
		return next == OrderStatusCancelled
	default:
		return false
	}
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
