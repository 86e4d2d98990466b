package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrValidation marks client-correctable input errors. Handlers map it to
// HTTP 400; it never reaches persistence.
var ErrValidation = errors.New("validation error")

const MaxRemarksLength = 1000

type DamageType string

const (
	DamagePothole       DamageType = "pothole"
	DamageCrack         DamageType = "crack"
	DamageSurfaceDamage DamageType = "surface_damage"
	DamageOther         DamageType = "other"
)

func ParseDamageType(s string) (DamageType, error) {
	switch DamageType(s) {
	case DamagePothole, DamageCrack, DamageSurfaceDamage, DamageOther:
		return DamageType(s), nil
	}
	return "", fmt.Errorf("%w: invalid damage type %q", ErrValidation, s)
}

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return Severity(s), nil
	}
	return "", fmt.Errorf("%w: invalid severity %q", ErrValidation, s)
}

// Rank orders severities for priority mapping. Unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

type ReportStatus string

const (
	StatusPending    ReportStatus = "pending"
	StatusSubmitted  ReportStatus = "submitted"
	StatusInProgress ReportStatus = "in_progress"
	StatusResolved   ReportStatus = "resolved"
	StatusClosed     ReportStatus = "closed"
)

func ParseReportStatus(s string) (ReportStatus, error) {
	switch ReportStatus(s) {
	case StatusPending, StatusSubmitted, StatusInProgress, StatusResolved, StatusClosed:
		return ReportStatus(s), nil
	}
	return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
}

// statusOrder positions each status on the pending → closed lifecycle.
var statusOrder = map[ReportStatus]int{
	StatusPending:    0,
	StatusSubmitted:  1,
	StatusInProgress: 2,
	StatusResolved:   3,
	StatusClosed:     4,
}

// CanTransitionTo reports whether a status may move to next. Only forward
// movement along the lifecycle is allowed; closed is terminal.
func (s ReportStatus) CanTransitionTo(next ReportStatus) bool {
	from, ok := statusOrder[s]
	if !ok {
		return false
	}
	to, ok := statusOrder[next]
	if !ok {
		return false
	}
	return to > from
}

type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

// ParseLocation decodes and validates a JSON-encoded location. Coordinates
// outside the valid ranges are rejected.
func ParseLocation(raw string) (Location, error) {
	var loc Location
	if err := json.Unmarshal([]byte(raw), &loc); err != nil {
		return Location{}, fmt.Errorf("%w: invalid location data: %v", ErrValidation, err)
	}
	if err := loc.Validate(); err != nil {
		return Location{}, err
	}
	return loc, nil
}

func (l Location) Validate() error {
	if l.Lat < -90 || l.Lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range [-90, 90]", ErrValidation, l.Lat)
	}
	if l.Lng < -180 || l.Lng > 180 {
		return fmt.Errorf("%w: longitude %v out of range [-180, 180]", ErrValidation, l.Lng)
	}
	return nil
}

// String renders the address when known, otherwise "lat, lng".
func (l Location) String() string {
	if l.Address != "" {
		return l.Address
	}
	return fmt.Sprintf("%v, %v", l.Lat, l.Lng)
}

// Authority is the organization responsible for remediating damage at a
// location. It is derived per submission, never persisted.
type Authority struct {
	Name       string `json:"name"`
	Contact    string `json:"contact"`
	Department string `json:"department"`
}

// ReportDraft is validated, not-yet-persisted report data. The store assigns
// id, status, and created_at.
type ReportDraft struct {
	Location   Location
	DamageType DamageType
	Severity   Severity
	Remarks    string
	ImageURL   string
}

func (d ReportDraft) Validate() error {
	if err := d.Location.Validate(); err != nil {
		return err
	}
	if _, err := ParseDamageType(string(d.DamageType)); err != nil {
		return err
	}
	if _, err := ParseSeverity(string(d.Severity)); err != nil {
		return err
	}
	if len(d.Remarks) > MaxRemarksLength {
		return fmt.Errorf("%w: remarks exceed %d characters", ErrValidation, MaxRemarksLength)
	}
	return nil
}

type Report struct {
	ID              string       `gorm:"type:uuid;primaryKey" json:"id"`
	LocationLat     float64      `gorm:"not null" json:"location_lat"`
	LocationLng     float64      `gorm:"not null" json:"location_lng"`
	LocationAddress string       `json:"location_address,omitempty"`
	DamageType      DamageType   `gorm:"type:varchar(32);not null" json:"damage_type"`
	Severity        Severity     `gorm:"type:varchar(16);not null" json:"severity"`
	Remarks         string       `gorm:"type:varchar(1000)" json:"remarks,omitempty"`
	ImageURL        string       `json:"image_url,omitempty"`
	Status          ReportStatus `gorm:"type:varchar(32);not null" json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
}

func (Report) TableName() string {
	return "reports"
}

// Location reassembles the structured location from the stored columns.
func (r Report) Location() Location {
	return Location{Lat: r.LocationLat, Lng: r.LocationLng, Address: r.LocationAddress}
}

// SubmissionResult is the confirmation returned to the submitter.
type SubmissionResult struct {
	ReportID          string    `json:"report_id"`
	Status            string    `json:"status"`
	Message           string    `json:"message"`
	AuthorityNotified bool      `json:"authority_notified"`
	CreatedAt         time.Time `json:"created_at"`
	ImageURL          string    `json:"image_url,omitempty"`
}

// ReportEvent is published to the report queue after a successful submission.
type ReportEvent struct {
	ID         string    `json:"id"`
	DamageType string    `json:"damage_type"`
	Severity   string    `json:"severity"`
	Location   string    `json:"location"`
	Authority  string    `json:"authority"`
	ImageURL   string    `json:"image_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
