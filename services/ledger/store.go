// Package ledger persists payment attempts and guards their state machine.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/sahilchouksey/coursemarket/model"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrDuplicatePayment means the pair already holds a pending or succeeded payment,
	// or the intent id is already recorded.
	ErrDuplicatePayment = errors.New("an open payment already exists for this course")
	// ErrStaleTransition means the row was no longer in the expected state when the update ran
	ErrStaleTransition   = errors.New("payment is no longer in the expected state")
	ErrIllegalTransition = errors.New("illegal payment status transition")
)

var transitions = map[model.PaymentStatus][]model.PaymentStatus{
	model.PaymentPending:   {model.PaymentSucceeded, model.PaymentFailed, model.PaymentCanceled},
	model.PaymentSucceeded: {model.PaymentRefunded},
}

// CanTransition reports whether from -> to is an edge of the payment state machine
func CanTransition(from, to model.PaymentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Store is the payment ledger backed by GORM.
// Pass a transaction handle to NewStore to join a transaction.
type Store struct {
	db *gorm.DB
}

// NewStore creates a ledger store
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new payment. A unique violation on the open-pair index or
// the intent id returns ErrDuplicatePayment.
func (s *Store) Create(ctx context.Context, payment *model.Payment) error {
	err := s.db.WithContext(ctx).Create(payment).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicatePayment
	}
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// FindByID loads a payment
func (s *Store) FindByID(ctx context.Context, id uint) (*model.Payment, error) {
	var payment model.Payment
	err := s.db.WithContext(ctx).First(&payment, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch payment: %w", err)
	}
	return &payment, nil
}

// FindByIntentID loads the payment shadowing a remote intent
func (s *Store) FindByIntentID(ctx context.Context, intentID string) (*model.Payment, error) {
	var payment model.Payment
	err := s.db.WithContext(ctx).Where("payment_intent_id = ?", intentID).First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch payment by intent: %w", err)
	}
	return &payment, nil
}

// FindOpenForPair returns the pending payment for (user, course), if any
func (s *Store) FindOpenForPair(ctx context.Context, userID, courseID uint) (*model.Payment, error) {
	var payment model.Payment
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND course_id = ? AND status = ?", userID, courseID, model.PaymentPending).
		First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch open payment: %w", err)
	}
	return &payment, nil
}

// HasSucceeded reports whether the pair already holds a settled payment
func (s *Store) HasSucceeded(ctx context.Context, userID, courseID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Payment{}).
		Where("user_id = ? AND course_id = ? AND status = ?", userID, courseID, model.PaymentSucceeded).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check settled payment: %w", err)
	}
	return count > 0, nil
}

// CountForPair returns how many payment attempts the pair has made in any status
func (s *Store) CountForPair(ctx context.Context, userID, courseID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Payment{}).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count payment attempts: %w", err)
	}
	return count, nil
}

// Transition moves a payment from one status to another with a conditional
// update. Only the caller whose WHERE status = from still matches wins; every
// other concurrent caller gets ErrStaleTransition.
func (s *Store) Transition(ctx context.Context, id uint, from, to model.PaymentStatus, fields map[string]interface{}) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range fields {
		updates[k] = v
	}

	result := s.db.WithContext(ctx).Model(&model.Payment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update payment status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}

// ListByUser returns a page of the user's payments, newest first
func (s *Store) ListByUser(ctx context.Context, userID uint, limit, offset int) ([]model.Payment, int64, error) {
	var payments []model.Payment
	var total int64

	query := s.db.WithContext(ctx).Model(&model.Payment{}).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count payments: %w", err)
	}

	if err := query.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&payments).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch payments: %w", err)
	}

	return payments, total, nil
}

// ListStalePending returns pending payments created before the cutoff, oldest first
func (s *Store) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]model.Payment, error) {
	var payments []model.Payment
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.PaymentPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&payments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stale payments: %w", err)
	}
	return payments, nil
}

// MarkUnenrolled stamps the pair's settled payments with the time the student
// left the roster. Already stamped payments keep their first timestamp.
func (s *Store) MarkUnenrolled(ctx context.Context, userID, courseID uint, at time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&model.Payment{}).
		Where("user_id = ? AND course_id = ? AND status = ? AND unenrolled_at IS NULL", userID, courseID, model.PaymentSucceeded).
		Updates(map[string]interface{}{
			"unenrolled_at": at,
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark payment unenrolled: %w", result.Error)
	}
	return result.RowsAffected, nil
}
