// Package listing defines the marketplace listing metadata attached to an
// upload batch, and validates it against Etsy's listing constraints before
// any bytes leave the machine.
package listing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Marketplace listing constraints.
const (
	MaxTitleLength = 140
	MaxTags        = 13
	MaxTagLength   = 20
)

// ErrInvalidMetadata wraps per-field validation failures.
var ErrInvalidMetadata = errors.New("listing: invalid metadata")

// Metadata describes the draft listing to create from a processed batch.
// AI metadata generation fills anything left empty server-side, but what
// the seller does supply must satisfy the marketplace limits.
type Metadata struct {
	Title       string   `validate:"required,max=140"`
	Description string   `validate:"omitempty,max=10000"`
	Tags        []string `validate:"max=13,dive,required,max=20"`
	Materials   []string `validate:"max=13,dive,required,max=45"`
	PriceCents  int64    `validate:"omitempty,gt=0"`
	Quantity    int      `validate:"omitempty,gt=0"`
	Section     string   `validate:"omitempty,max=100"`
}

// validate is shared; the validator is safe for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the metadata against marketplace constraints, reporting
// every offending field in one error.
func (m *Metadata) Validate() error {
	err := validate.Struct(m)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("listing: validating metadata: %w", err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, describeFieldError(fe))
	}

	return fmt.Errorf("%w: %s", ErrInvalidMetadata, strings.Join(fields, "; "))
}

// describeFieldError renders one validation failure as an actionable
// message.
func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s exceeds maximum of %s", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
}

// Fields flattens the metadata to the scalar multipart form fields the
// upload endpoint expects. Empty values are omitted entirely rather than
// sent as empty strings.
func (m *Metadata) Fields() map[string]string {
	fields := map[string]string{
		"title":       m.Title,
		"description": m.Description,
		"tags":        strings.Join(m.Tags, ","),
		"materials":   strings.Join(m.Materials, ","),
		"section":     m.Section,
	}

	if m.PriceCents > 0 {
		fields["priceCents"] = strconv.FormatInt(m.PriceCents, 10)
	}

	if m.Quantity > 0 {
		fields["quantity"] = strconv.Itoa(m.Quantity)
	}

	for k, v := range fields {
		if v == "" {
			delete(fields, k)
		}
	}

	return fields
}
