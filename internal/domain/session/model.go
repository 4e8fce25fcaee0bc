// Package session defines the help-session aggregate shared by the state
// machine, signature collection, settlement and verification services.
package session

import (
	"time"

	"github.com/RossBrod/CareCred/internal/geo"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusRequested  Status = "requested"
	StatusApproved   Status = "approved"
	StatusScheduled  Status = "scheduled"
	StatusCheckedIn  Status = "checked_in"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusDisputed   Status = "disputed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Type categorizes the help provided during a session.
type Type string

const (
	TypeGroceryShopping    Type = "grocery_shopping"
	TypeTechnologyHelp     Type = "technology_help"
	TypeTransportation     Type = "transportation"
	TypeCompanionship      Type = "companionship"
	TypeLightHousekeeping  Type = "light_housekeeping"
	TypeMealPreparation    Type = "meal_preparation"
	TypePetCare            Type = "pet_care"
	TypeHomeMaintenance    Type = "home_maintenance"
	TypeMedicalAppointment Type = "medical_appointment"
)

// Session is a scheduled help engagement between a student and a senior.
// It is owned by the state machine service and must only be mutated through
// its transition operations; Version backs the optimistic update check.
type Session struct {
	ID          string `json:"id"`
	StudentID   string `json:"student_id"`
	SeniorID    string `json:"senior_id"`
	Type        Type   `json:"type"`
	Status      Status `json:"status"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	ScheduledStart time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd   time.Time `json:"scheduled_end,omitempty"`

	CheckInTime      time.Time    `json:"check_in_time,omitempty"`
	CheckOutTime     time.Time    `json:"check_out_time,omitempty"`
	CheckInLocation  geo.Location `json:"check_in_location,omitempty"`
	CheckOutLocation geo.Location `json:"check_out_location,omitempty"`

	ActualDurationHours float64  `json:"actual_duration_hours,omitempty"`
	HourlyRate          float64  `json:"hourly_rate"`
	CreditAmount        float64  `json:"credit_amount,omitempty"`
	BonusTags           []string `json:"bonus_tags,omitempty"`

	StudentRating int    `json:"student_rating,omitempty"` // 1-5, 0 = unrated
	SeniorRating  int    `json:"senior_rating,omitempty"`
	StudentReview string `json:"student_review,omitempty"`
	SeniorReview  string `json:"senior_review,omitempty"`

	CancelReason string `json:"cancel_reason,omitempty"`
	CancelledBy  string `json:"cancelled_by,omitempty"`
	DisputeCause string `json:"dispute_cause,omitempty"`

	// Ledger linkage, written back by settlement.
	TransactionID      string `json:"transaction_id,omitempty"`
	BlockNumber        int64  `json:"block_number,omitempty"`
	Confirmations      int    `json:"confirmations,omitempty"`
	BlockchainVerified bool   `json:"blockchain_verified"`

	// CreditBlocked marks sessions whose payout needs an admin override,
	// such as an expired signature window.
	CreditBlocked bool   `json:"credit_blocked"`
	BlockReason   string `json:"block_reason,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AlertKind names a monitoring anomaly.
type AlertKind string

const (
	AlertOvertime  AlertKind = "overtime"
	AlertGPSDrift  AlertKind = "gps_drift"
	AlertNoCheckIn AlertKind = "no_checkin"
	AlertEmergency AlertKind = "emergency"
)

// Severity grades an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert records a monitoring anomaly raised against a session.
type Alert struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Kind       AlertKind `json:"kind"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
	Resolved   bool      `json:"resolved"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string    `json:"resolved_by,omitempty"`
}
