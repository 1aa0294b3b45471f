// Package dispatch tells drivers about bookings assigned to them.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/dispatch-console/internal/logging"
	"github.com/example/dispatch-console/internal/models"
)

var ErrNoSession = errors.New("dispatch: driver has no open session")

type Notifier interface {
	BookingAssigned(ctx context.Context, b models.Booking) error
}

// Assignment is the message a driver app receives.
type Assignment struct {
	Type        string             `json:"type"`
	BookingID   string             `json:"booking_id"`
	ServiceType models.ServiceType `json:"service_type"`
	Pickup      string             `json:"pickup,omitempty"`
	Dropoff     string             `json:"dropoff,omitempty"`
	Override    bool               `json:"override,omitempty"`
}

func NewAssignment(b models.Booking) Assignment {
	return Assignment{
		Type:        "booking_assigned",
		BookingID:   b.ID,
		ServiceType: b.ServiceType,
		Pickup:      text(b.Fields["pickup"]),
		Dropoff:     text(b.Fields["dropoff"]),
		Override:    b.DriverOverride,
	}
}

func text(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// LogNotifier only records the notification. It stands in when no driver
// transport is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) BookingAssigned(_ context.Context, b models.Booking) error {
	a := NewAssignment(b)
	logging.OrDiscard(n.Logger).Info("driver_notified", "driver_id", b.DriverID, "booking_id", a.BookingID, "transport", "log")
	return nil
}
