package intake

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/example/dispatch-console/internal/models"
)

var validate = validator.New()

// FieldError describes one missing or invalid intake field.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// ValidationError rejects a details submission. It is recoverable: the
// stage re-renders with these errors and the draft is unchanged.
type ValidationError struct {
	Service models.ServiceType `json:"serviceType"`
	Errors  []FieldError       `json:"errors"`
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		names = append(names, fe.Field)
	}
	return fmt.Sprintf("intake: %s details incomplete: %s", e.Service, strings.Join(names, ", "))
}

type requirement struct {
	fields []string
	// timeMode requires timeMode == "now" or a non-empty scheduledAt
	timeMode bool
}

var requirements = map[models.ServiceType]requirement{
	models.ServiceRide:          {fields: []string{"riderName", "riderPhone", "pickup", "dropoff"}, timeMode: true},
	models.ServiceDelivery:      {fields: []string{"senderName", "senderPhone", "pickup", "dropoff", "recipientName", "recipientPhone"}, timeMode: true},
	models.ServiceRental:        {fields: []string{"renterName", "renterPhone", "pickup", "startDate", "durationHours"}},
	models.ServiceSchoolShuttle: {fields: []string{"schoolName", "guardianName", "guardianPhone", "pickup", "dropoff", "students"}},
	models.ServiceTour:          {fields: []string{"guestName", "guestPhone", "pickup", "tourPackage", "startDate", "guests"}},
	models.ServiceEMS:           {fields: []string{"patient", "incidentType", "priority", "pickup"}},
}

// Requirements lists the fields a service type needs before driver
// assignment. Services with a time mode also need "timeMode" set to "now"
// or a "scheduledAt" value.
func Requirements(st models.ServiceType) []string {
	req, ok := requirements[st]
	if !ok {
		return nil
	}
	out := append([]string{}, req.fields...)
	if req.timeMode {
		out = append(out, "timeMode|scheduledAt")
	}
	return out
}

// Validate checks fields against the service type's requirements. Fields the
// service doesn't own are ignored.
func Validate(st models.ServiceType, fields models.Fields) error {
	req, ok := requirements[st]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownService, st)
	}
	var errs []FieldError
	for _, name := range req.fields {
		if !present(fields[name]) {
			errs = append(errs, FieldError{Field: name, Tag: "required", Message: name + " is required"})
		}
	}
	if req.timeMode {
		mode := strings.TrimSpace(fmt.Sprint(fields["timeMode"]))
		if mode != "now" && !present(fields["scheduledAt"]) {
			errs = append(errs, FieldError{Field: "scheduledAt", Tag: "required_unless", Message: "choose now or provide a scheduled time"})
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Service: st, Errors: errs}
	}
	return nil
}

// present reports whether a field holds a non-empty value. Strings are
// trimmed first so whitespace-only input counts as missing.
func present(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		v = strings.TrimSpace(s)
	}
	return validate.Var(v, "required") == nil
}
