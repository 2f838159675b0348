package types

import (
	"fmt"
	"strings"
)

// Address is the shipping address snapshot copied onto an order at checkout.
// Stored as JSON so later profile edits never rewrite historical orders.
type Address struct {
	RecipientName string  `json:"recipient_name" validate:"required,max=120"`
	Line1         string  `json:"line1" validate:"required,max=200"`
	Line2         *string `json:"line2,omitempty" validate:"omitempty,max=200"`
	City          string  `json:"city" validate:"required,max=100"`
	State         string  `json:"state,omitempty" validate:"omitempty,max=100"`
	PostalCode    string  `json:"postal_code" validate:"required,max=20"`
	Country       string  `json:"country" validate:"required,len=2"`
	Phone         *string `json:"phone,omitempty" validate:"omitempty,max=32"`
}

// Normalize trims whitespace and upper-cases the country code.
func (a Address) Normalize() Address {
	a.RecipientName = strings.TrimSpace(a.RecipientName)
	a.Line1 = strings.TrimSpace(a.Line1)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	a.Country = strings.ToUpper(strings.TrimSpace(a.Country))
	if a.Line2 != nil {
		trimmed := strings.TrimSpace(*a.Line2)
		if trimmed == "" {
			a.Line2 = nil
		} else {
			a.Line2 = &trimmed
		}
	}
	return a
}

// Validate reports the first missing required field.
func (a Address) Validate() error {
	switch {
	case a.RecipientName == "":
		return fmt.Errorf("address: missing recipient_name")
	case a.Line1 == "":
		return fmt.Errorf("address: missing line1")
	case a.City == "":
		return fmt.Errorf("address: missing city")
	case a.PostalCode == "":
		return fmt.Errorf("address: missing postal_code")
	case len(a.Country) != 2:
		return fmt.Errorf("address: country must be a two letter code")
	}
	return nil
}
