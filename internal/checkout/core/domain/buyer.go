package domain

import (
	"fmt"
	"net/mail"
	"strings"
)

type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Province   string `json:"province"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Buyer holds contact and delivery data. It is frozen onto the order by
// Finalize and never changed afterwards.
type Buyer struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address
}

// Normalize trims every field and upper-cases the country code.
func (b Buyer) Normalize() Buyer {
	b.FullName = strings.TrimSpace(b.FullName)
	b.Email = strings.TrimSpace(b.Email)
	b.Phone = strings.TrimSpace(b.Phone)
	b.Line1 = strings.TrimSpace(b.Line1)
	b.Line2 = strings.TrimSpace(b.Line2)
	b.City = strings.TrimSpace(b.City)
	b.Province = strings.TrimSpace(b.Province)
	b.PostalCode = strings.TrimSpace(b.PostalCode)
	b.Country = strings.ToUpper(strings.TrimSpace(b.Country))
	return b
}

// Validate checks the fields a checkout needs to ship and send a receipt.
func (b Buyer) Validate() error {
	var missing []string
	if len([]rune(b.FullName)) < 2 {
		missing = append(missing, "fullName")
	}
	if _, err := mail.ParseAddress(b.Email); err != nil || b.Email == "" {
		missing = append(missing, "email")
	}
	required := []struct{ name, v string }{
		{"phone", b.Phone},
		{"line1", b.Line1},
		{"city", b.City},
		{"province", b.Province},
		{"postalCode", b.PostalCode},
		{"country", b.Country},
	}
	for _, f := range required {
		if f.v == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: buyer fields invalid or missing: %s", ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}
