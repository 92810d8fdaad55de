package core

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"crimewatch/internal/ledger"
	"crimewatch/internal/verification"
)

type CrimeType string

const (
	Theft      CrimeType = "Theft"
	Assault    CrimeType = "Assault"
	Vandalism  CrimeType = "Vandalism"
	Robbery    CrimeType = "Robbery"
	Burglary   CrimeType = "Burglary"
	Harassment CrimeType = "Harassment"
	Fraud      CrimeType = "Fraud"
	Other      CrimeType = "Other"
	Emergency  CrimeType = "Emergency"
)

var CrimeTypes = []CrimeType{Theft, Assault, Vandalism, Robbery, Burglary, Harassment, Fraud, Other, Emergency}

func (c CrimeType) Valid() bool {
	for _, t := range CrimeTypes {
		if c == t {
			return true
		}
	}
	return false
}

type CrimeStatus string

const (
	Reported           CrimeStatus = "Reported"
	UnderInvestigation CrimeStatus = "Under Investigation"
	Resolved           CrimeStatus = "Resolved"
	Closed             CrimeStatus = "Closed"
)

var CrimeStatuses = []CrimeStatus{Reported, UnderInvestigation, Resolved, Closed}

func (c CrimeStatus) Valid() bool {
	for _, s := range CrimeStatuses {
		if c == s {
			return true
		}
	}
	return false
}

// ChainStatus is the display form of a ledger status.
type ChainStatus string

const (
	ChainPending   ChainStatus = "Pending"
	ChainConfirmed ChainStatus = "Confirmed"
	ChainFailed    ChainStatus = "Failed"
	ChainNotFound  ChainStatus = "not_found"
)

func ChainStatusOf(s ledger.Status) ChainStatus {
	switch s {
	case ledger.StatusPending:
		return ChainPending
	case ledger.StatusConfirmed:
		return ChainConfirmed
	case ledger.StatusFailed:
		return ChainFailed
	}
	return ChainNotFound
}

type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

type Evidence struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"fileType"`
	Description string `json:"description,omitempty"`
	SHA256      string `json:"sha256"`
	Size        int64  `json:"size"`
	StoragePath string `json:"fileUrl"`
}

type Report struct {
	ID          string      `json:"id" gorm:"primaryKey"`
	Type        CrimeType   `json:"type" gorm:"index"`
	Description string      `json:"description"`
	Location    Location    `json:"location" gorm:"embedded;embeddedPrefix:location_"`
	Date        string      `json:"date,omitempty"`
	Time        string      `json:"time,omitempty"`
	Status      CrimeStatus `json:"status" gorm:"index"`
	ReportedBy  string      `json:"reportedBy,omitempty"`
	Anonymous   bool        `json:"isAnonymous"`
	ContactInfo string      `json:"contactInfo,omitempty"`
	Evidence    []Evidence  `json:"evidence,omitempty" gorm:"serializer:json;type:jsonb"`
	TxHash      string      `json:"transactionHash" gorm:"uniqueIndex"`
	CreatedAt   time.Time   `json:"createdAt" gorm:"index"`

	// Derived at read time.
	ChainStatus       ChainStatus       `json:"blockchainStatus" gorm:"-"`
	VerificationCount int               `json:"verificationCount" gorm:"-"`
	Tier              verification.Tier `json:"tier" gorm:"-"`
}

// ReportInput is what a citizen submits for a regular report.
type ReportInput struct {
	Type        CrimeType `json:"type"`
	Description string    `json:"description"`
	Location    Location  `json:"location"`
	Date        string    `json:"date"`
	Time        string    `json:"time"`
	ReportedBy  string    `json:"reportedBy,omitempty"`
	Anonymous   bool      `json:"isAnonymous"`
}

// EmergencyInput is the reduced form used by the emergency flow.
type EmergencyInput struct {
	Description string   `json:"description"`
	Location    string   `json:"location"`
	Coordinates Location `json:"coordinates"`
	ContactInfo string   `json:"contactInfo,omitempty"`
	ReportedBy  string   `json:"reportedBy,omitempty"`
}

const (
	minDescription = 10
	maxDescription = 500
)

func validateDescription(d string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(d))
	if n < minDescription {
		return fmt.Errorf("%w: description must be at least %d characters", ErrInvalidReport, minDescription)
	}
	if n > maxDescription {
		return fmt.Errorf("%w: description must not exceed %d characters", ErrInvalidReport, maxDescription)
	}
	return nil
}

func validateLocation(l Location) error {
	if l.Lat < -90 || l.Lat > 90 || l.Lng < -180 || l.Lng > 180 {
		return fmt.Errorf("%w: location %v,%v out of range", ErrInvalidReport, l.Lat, l.Lng)
	}
	return nil
}

func (in ReportInput) Validate() error {
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown crime type %q", ErrInvalidReport, in.Type)
	}
	if err := validateDescription(in.Description); err != nil {
		return err
	}
	if err := validateLocation(in.Location); err != nil {
		return err
	}
	if strings.TrimSpace(in.Date) == "" {
		return fmt.Errorf("%w: please select a date", ErrInvalidReport)
	}
	if strings.TrimSpace(in.Time) == "" {
		return fmt.Errorf("%w: please enter a time", ErrInvalidReport)
	}
	return nil
}

func (in EmergencyInput) Validate() error {
	if err := validateDescription(in.Description); err != nil {
		return err
	}
	if utf8.RuneCountInString(strings.TrimSpace(in.Location)) < 3 {
		return fmt.Errorf("%w: please provide a location", ErrInvalidReport)
	}
	return validateLocation(in.Coordinates)
}

// Filter narrows report listings. Zero values match everything.
type Filter struct {
	Type   CrimeType
	Status CrimeStatus
	Since  time.Time
}

func (f Filter) Match(r *Report) bool {
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && r.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}
