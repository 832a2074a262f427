package model

import "time"

// Discrepancy actions
const (
	DiscrepancyGrant  = "grant"
	DiscrepancyRevoke = "revoke"
)

// Discrepancy statuses
const (
	DiscrepancyOpen     = "open"
	DiscrepancyResolved = "resolved"
)

// EnrollmentDiscrepancy records a confirmed money transition whose roster
// change could not be applied. The retry job works through open rows.
type EnrollmentDiscrepancy struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	PaymentID  uint       `gorm:"not null;index" json:"payment_id"`
	CourseID   uint       `gorm:"not null" json:"course_id"`
	UserID     uint       `gorm:"not null" json:"user_id"`
	Action     string     `gorm:"type:varchar(10);not null" json:"action"`                      // grant, revoke
	Status     string     `gorm:"type:varchar(10);not null;default:'open';index" json:"status"` // open, resolved
	Attempts   int        `gorm:"not null;default:0" json:"attempts"`
	LastError  string     `gorm:"type:text" json:"last_error"`
	ResolvedAt *time.Time `json:"resolved_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName specifies the table name for EnrollmentDiscrepancy
func (EnrollmentDiscrepancy) TableName() string {
	return "enrollment_discrepancies"
}
