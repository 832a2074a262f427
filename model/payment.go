package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

func init() {
	// Amounts go out as JSON numbers in major units
	decimal.MarshalJSONWithoutQuotes = true
}

// PaymentStatus is the lifecycle state of a payment attempt
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCanceled  PaymentStatus = "canceled"
	PaymentRefunded  PaymentStatus = "refunded"
)

// IsTerminal reports whether no further transition other than a refund can happen
func (s PaymentStatus) IsTerminal() bool {
	return s != PaymentPending
}

// Payment is the local shadow of one remote payment intent
type Payment struct {
	ID                     uint              `gorm:"primaryKey" json:"id"`
	UserID                 uint              `gorm:"not null;index" json:"user_id"`
	CourseID               uint              `gorm:"not null;index" json:"course_id"`
	Amount                 decimal.Decimal   `gorm:"type:decimal(10,2);not null" json:"amount"`
	PlatformCommission     decimal.Decimal   `gorm:"type:decimal(10,2);not null" json:"platform_commission"`
	InstructorAmount       decimal.Decimal   `gorm:"type:decimal(10,2);not null" json:"instructor_amount"`
	PlatformCommissionRate decimal.Decimal   `gorm:"type:decimal(5,4);not null" json:"platform_commission_rate"`
	Currency               string            `gorm:"type:varchar(3);not null" json:"currency"`
	PaymentIntentID        string            `gorm:"type:varchar(255);uniqueIndex;not null" json:"payment_intent_id"`
	Status                 PaymentStatus     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	RefundedAmount         decimal.Decimal   `gorm:"type:decimal(10,2);not null;default:0" json:"refunded_amount"`
	RefundReason           string            `gorm:"type:text" json:"refund_reason,omitempty"`
	FailureReason          string            `gorm:"type:text" json:"failure_reason,omitempty"`
	PaymentMethod          string            `gorm:"type:varchar(50)" json:"payment_method,omitempty"`
	Mode                   string            `gorm:"type:varchar(10);not null" json:"mode"` // sandbox, live
	Metadata               datatypes.JSONMap `json:"metadata,omitempty"`
	SucceededAt            *time.Time        `json:"succeeded_at,omitempty"`
	RefundedAt             *time.Time        `json:"refunded_at,omitempty"`
	UnenrolledAt           *time.Time        `json:"unenrolled_at,omitempty"` // student left the roster after paying
	CreatedAt              time.Time         `json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
}

// TableName specifies the table name for Payment
func (Payment) TableName() string {
	return "payments"
}
