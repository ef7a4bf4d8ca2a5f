// Package storefront models the WooCommerce store that feeds orders into the
// CRM: its order payload, webhook signature and REST API.
package storefront

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/peptidecrm-backend/pkg/enums"
)

// ID accepts a JSON string or number. WooCommerce sends numeric ids; imported
// and test orders may carry string ids.
type ID string

func (i *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*i = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*i = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("storefront id: %w", err)
	}
	*i = ID(n.String())
	return nil
}

func (i ID) String() string { return string(i) }

// IsZero reports a missing id. WooCommerce uses 0 for guest customers.
func (i ID) IsZero() bool { return i == "" || i == "0" }

// Amount is a money value sent either as a decimal string or a JSON number.
// Empty strings and null decode to zero.
type Amount struct {
	decimal.Decimal
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte(`""`)) {
		a.Decimal = decimal.Zero
		return nil
	}
	return a.Decimal.UnmarshalJSON(data)
}

func NewAmount(value string) Amount {
	return Amount{Decimal: decimal.RequireFromString(value)}
}

type Address struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Address1  string `json:"address_1"`
	Address2  string `json:"address_2"`
	City      string `json:"city"`
	State     string `json:"state"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// Formatted renders "address_1, city, state postcode", or "" without a street.
func (a Address) Formatted() string {
	if strings.TrimSpace(a.Address1) == "" {
		return ""
	}
	return fmt.Sprintf("%s, %s, %s %s", a.Address1, a.City, a.State, a.Postcode)
}

// FullName joins first and last name.
func (a Address) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(a.FirstName) + " " + strings.TrimSpace(a.LastName))
}

type LineItem struct {
	ID       ID     `json:"id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Total    Amount `json:"total"`
	Price    Amount `json:"price"`
}

// Order is the subset of the WooCommerce order resource the CRM reads.
type Order struct {
	ID                 ID         `json:"id"`
	Number             ID         `json:"number"`
	Status             string     `json:"status"`
	Total              Amount     `json:"total"`
	ShippingTotal      Amount     `json:"shipping_total"`
	CustomerID         ID         `json:"customer_id"`
	CustomerNote       string     `json:"customer_note"`
	DateCreated        string     `json:"date_created"`
	DateModified       string     `json:"date_modified"`
	DatePaid           string     `json:"date_paid"`
	PaymentMethod      string     `json:"payment_method"`
	PaymentMethodTitle string     `json:"payment_method_title"`
	Billing            Address    `json:"billing"`
	Shipping           Address    `json:"shipping"`
	LineItems          []LineItem `json:"line_items"`
}

// ParseOrder decodes a webhook or REST order body.
func ParseOrder(raw []byte) (*Order, error) {
	var order Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// DisplayNumber is the customer-facing order number, falling back to the id.
func (o *Order) DisplayNumber() string {
	if o.Number != "" {
		return o.Number.String()
	}
	return o.ID.String()
}

// PaymentMethodLabel prefers the human title over the gateway id.
func (o *Order) PaymentMethodLabel() string {
	if t := strings.TrimSpace(o.PaymentMethodTitle); t != "" {
		return t
	}
	return strings.TrimSpace(o.PaymentMethod)
}

// MapStatus folds a WooCommerce order status onto the CRM lifecycle and
// payment status.
func MapStatus(status string) (enums.OrderStatus, enums.PaymentStatus) {
	switch status {
	case "processing", "completed":
		return enums.OrderStatusSubmitted, enums.PaymentStatusPaid
	case "on-hold":
		return enums.OrderStatusSubmitted, enums.PaymentStatusUnpaid
	case "pending":
		return enums.OrderStatusDraft, enums.PaymentStatusUnpaid
	case "cancelled", "refunded", "failed":
		return enums.OrderStatusCancelled, enums.PaymentStatusUnpaid
	default:
		return enums.OrderStatusSubmitted, enums.PaymentStatusUnpaid
	}
}
