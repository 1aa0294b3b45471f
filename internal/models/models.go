package models

import (
	"fmt"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ServiceType selects the intake form and its required fields.
type ServiceType string

const (
	ServiceRide          ServiceType = "ride"
	ServiceDelivery      ServiceType = "delivery"
	ServiceRental        ServiceType = "rental"
	ServiceSchoolShuttle ServiceType = "school-shuttle"
	ServiceTour          ServiceType = "tour"
	ServiceEMS           ServiceType = "ems"
)

var ServiceTypes = []ServiceType{ServiceRide, ServiceDelivery, ServiceRental, ServiceSchoolShuttle, ServiceTour, ServiceEMS}

func ParseServiceType(s string) (ServiceType, error) {
	for _, st := range ServiceTypes {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown service type: %q", s)
}

// Stage is the persisted position of a draft in the intake workflow.
type Stage string

const (
	StageSelectingService Stage = "selecting_service"
	StageFillingDetails   Stage = "filling_details"
	StageAssigningDriver  Stage = "assigning_driver"
	StageConfirmed        Stage = "confirmed"
	StageCancelled        Stage = "cancelled"
)

func (s Stage) Terminal() bool { return s == StageConfirmed || s == StageCancelled }

// Fields holds service-specific intake attributes. Values must be JSON-serializable.
type Fields map[string]any

// Draft is the single in-progress booking of a session.
type Draft struct {
	ID                 string      `json:"id"`
	ServiceType        ServiceType `json:"serviceType"`
	Fields             Fields      `json:"fields"`
	AssignedDriverID   string      `json:"assignedDriverId,omitempty"`
	AssignmentOverride bool        `json:"assignmentOverride,omitempty"`
	Stage              Stage       `json:"stage"`
	// Revision increments on every field merge. Verdicts are only valid
	// while VerdictRevision == Revision.
	Revision        int       `json:"revision"`
	Verdicts        []Verdict `json:"verdicts,omitempty"`
	VerdictRevision int       `json:"verdictRevision,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// CurrentVerdicts returns the verdicts computed for the draft's current fields, if any.
func (d Draft) CurrentVerdicts() ([]Verdict, bool) {
	if d.Verdicts == nil || d.VerdictRevision != d.Revision {
		return nil, false
	}
	return d.Verdicts, true
}

// CandidateDriver is read-only input to the matching engine.
type CandidateDriver struct {
	ID              string  `json:"id" yaml:"id"`
	DistanceKm      float64 `json:"distanceKm" yaml:"distanceKm"`
	BatteryPct      float64 `json:"batteryPct" yaml:"batteryPct"`
	ActiveTripCount int     `json:"activeTripCount" yaml:"activeTripCount"`
	VehicleLabel    string  `json:"vehicleLabel" yaml:"vehicleLabel"`
}

type Verdict struct {
	DriverID string  `json:"driverId"`
	Included bool    `json:"included"`
	Reason   string  `json:"reason,omitempty"`
	Score    float64 `json:"score"`
}

type TripParams struct {
	DistanceKm     float64 `json:"distanceKm"`
	EstDurationMin float64 `json:"estDurationMin"`
}

type SavedDraft struct {
	ID        string      `json:"id"`
	Type      ServiceType `json:"type"`
	Title     string      `json:"title"`
	CreatedAt time.Time   `json:"createdAt"`
	Data      Draft       `json:"data"`
}

// Booking is the final record produced on confirmation.
type Booking struct {
	ID             string      `json:"id"`
	DraftID        string      `json:"draftId"`
	ServiceType    ServiceType `json:"serviceType"`
	Fields         Fields      `json:"fields"`
	DriverID       string      `json:"driverId"`
	DriverOverride bool        `json:"driverOverride,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// CaseStatus is the review state of an onboarding case.
type CaseStatus string

const (
	CaseUnderReview CaseStatus = "Under Review"
	CaseNeedsInfo   CaseStatus = "Needs Info"
	CaseApproved    CaseStatus = "Approved"
	CaseRejected    CaseStatus = "Rejected"
)

func ParseCaseStatus(s string) (CaseStatus, error) {
	switch CaseStatus(s) {
	case CaseUnderReview, CaseNeedsInfo, CaseApproved, CaseRejected:
		return CaseStatus(s), nil
	default:
		return "", fmt.Errorf("unknown case status: %q", s)
	}
}

func (s CaseStatus) Terminal() bool { return s == CaseApproved || s == CaseRejected }

// DriverTelemetry is what the fleet reports about a driver; the pool turns it
// into a CandidateDriver relative to a pickup point.
type DriverTelemetry struct {
	ID              string    `json:"id" yaml:"id"`
	Loc             Coord     `json:"loc" yaml:"loc"`
	BatteryPct      float64   `json:"batteryPct" yaml:"batteryPct"`
	ActiveTripCount int       `json:"activeTripCount" yaml:"activeTripCount"`
	VehicleLabel    string    `json:"vehicleLabel" yaml:"vehicleLabel"`
	Online          bool      `json:"online" yaml:"online"`
	Updated         time.Time `json:"updated" yaml:"-"`
}
