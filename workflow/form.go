package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ruteri/confidential-athlete-registry/interfaces"
)

const (
	maxNameLength = 128
	minAge        = 1
	maxAge        = 120
)

// RegistrationForm is the raw user input.
type RegistrationForm struct {
	Name     string
	Age      string
	Contact  string
	Category interfaces.SportCategory
}

// Registration is a validated form.
type Registration struct {
	Name     string
	Age      uint64
	Contact  uint64
	Category interfaces.SportCategory
}

// Validate checks the form and converts the numeric fields. Every failure
// wraps interfaces.ErrValidation.
func (f RegistrationForm) Validate() (Registration, error) {
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return Registration{}, fmt.Errorf("%w: name is required", interfaces.ErrValidation)
	}
	if len(name) > maxNameLength {
		return Registration{}, fmt.Errorf("%w: name is longer than %d bytes", interfaces.ErrValidation, maxNameLength)
	}

	age, err := strconv.ParseUint(strings.TrimSpace(f.Age), 10, 64)
	if err != nil {
		return Registration{}, fmt.Errorf("%w: age must be a whole number", interfaces.ErrValidation)
	}
	if age < minAge || age > maxAge {
		return Registration{}, fmt.Errorf("%w: age must be between %d and %d", interfaces.ErrValidation, minAge, maxAge)
	}

	contact, err := strconv.ParseUint(strings.TrimSpace(f.Contact), 10, 64)
	if err != nil {
		return Registration{}, fmt.Errorf("%w: contact must be a number", interfaces.ErrValidation)
	}

	if !f.Category.Valid() {
		return Registration{}, fmt.Errorf("%w: unknown sport category %d", interfaces.ErrValidation, f.Category)
	}

	return Registration{
		Name:     name,
		Age:      age,
		Contact:  contact,
		Category: f.Category,
	}, nil
}

// Fields returns the confidential fields in name, age, contact order.
func (r Registration) Fields() []interfaces.Field {
	return []interfaces.Field{
		interfaces.StringField(interfaces.FieldName, r.Name),
		interfaces.UintField(interfaces.FieldAge, r.Age),
		interfaces.UintField(interfaces.FieldContact, r.Contact),
	}
}
