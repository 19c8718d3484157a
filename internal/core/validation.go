package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RejectReason is the internal classification of a failed validation. It is
// logged server-side only; external callers receive a single opaque
// "invalid" response regardless of reason.
type RejectReason string

const (
	RejectNotFound       RejectReason = "not_found"
	RejectBanned         RejectReason = "banned"
	RejectExpired        RejectReason = "expired"
	RejectExhaustedUses  RejectReason = "exhausted_uses"
	RejectDeviceMismatch RejectReason = "device_mismatch"
)

// ErrConsumeConflict is returned when a consume attempt keeps losing the
// conditional update race against concurrent validations. The state never
// committed, so the caller may retry.
var ErrConsumeConflict = errors.New("consume conflict")

// consumeAttempts bounds how often a consume is retried when the row
// changes between the conditional update and the classification read.
const consumeAttempts = 3

// ValidationResult is the outcome of presenting a token plus device
// fingerprint. Either Accepted with the owning account's identity, or
// rejected with an internal reason.
type ValidationResult struct {
	Accepted      bool
	Reason        RejectReason
	KeyID         string
	OwnerID       string
	OwnerUsername string
	Label         string
	CreatedAt     time.Time
}

// ValidationService evaluates presented tokens against the key lifecycle
// rules and performs the success-path mutation atomically.
type ValidationService struct {
	db DB
}

// NewValidationService creates a new ValidationService.
func NewValidationService(db DB) *ValidationService {
	return &ValidationService{db: db}
}

// consumeQuery is the atomic read-decide-mutate step. The WHERE clause
// re-states the lifecycle rules so that concurrent consumes of the same
// token serialize on the row lock and re-evaluate against the committed
// state: a key at used_count = max_uses-1 can only be consumed once, and an
// unbound key binds exactly one fingerprint. The usage cap is deliberately
// not enforced when max_uses = 1; such keys are bounded by device binding
// alone.
const consumeQuery = `
UPDATE api_keys k SET
	device_fingerprint = COALESCE(k.device_fingerprint, $2),
	last_seen_origin = CASE WHEN k.device_fingerprint IS NULL THEN NULLIF($3, '') ELSE k.last_seen_origin END,
	used_count = k.used_count + 1
FROM owners o
WHERE o.id = k.owner_id
	AND k.token = $1
	AND k.banned = false
	AND now() <= k.created_at + make_interval(days => k.expiry_days)
	AND (k.max_uses <= 1 OR k.used_count < k.max_uses)
	AND (k.device_fingerprint IS NULL OR k.device_fingerprint = $2)
RETURNING k.id, k.owner_id, o.username, k.label, k.created_at`

// Validate checks a presented token and fingerprint. On acceptance the
// fingerprint is bound (first use) and the usage counter incremented as one
// atomic step; rejections never mutate state. The origin is recorded
// alongside the binding and is informational only.
func (s *ValidationService) Validate(ctx context.Context, token, fingerprint, origin string) (*ValidationResult, error) {
	for attempt := 0; attempt < consumeAttempts; attempt++ {
		res := &ValidationResult{Accepted: true}
		err := s.db.QueryRow(ctx, consumeQuery, token, fingerprint, origin).
			Scan(&res.KeyID, &res.OwnerID, &res.OwnerUsername, &res.Label, &res.CreatedAt)
		if err == nil {
			return res, nil
		}
		if !isNoRows(err) {
			return nil, fmt.Errorf("consume key: %w", err)
		}

		reason, err := s.classify(ctx, token, fingerprint)
		if err != nil {
			return nil, err
		}
		if reason == "" {
			// The row changed between the failed update and the read and
			// now passes every rule; try to consume again.
			continue
		}
		return &ValidationResult{Reason: reason}, nil
	}
	return nil, ErrConsumeConflict
}

// classify re-reads the key and evaluates the lifecycle rules in order to
// name the rejection. An empty reason means every rule passes against the
// freshly read state.
func (s *ValidationService) classify(ctx context.Context, token, fingerprint string) (RejectReason, error) {
	var (
		banned            bool
		createdAt         time.Time
		expiryDays        int
		maxUses           int
		usedCount         int
		deviceFingerprint *string
	)
	err := s.db.QueryRow(ctx,
		`SELECT banned, created_at, expiry_days, max_uses, used_count, device_fingerprint
		 FROM api_keys WHERE token = $1`, token,
	).Scan(&banned, &createdAt, &expiryDays, &maxUses, &usedCount, &deviceFingerprint)
	if err != nil {
		if isNoRows(err) {
			return RejectNotFound, nil
		}
		return "", fmt.Errorf("classify rejection: %w", err)
	}

	switch {
	case banned:
		return RejectBanned, nil
	case time.Now().After(createdAt.Add(time.Duration(expiryDays) * 24 * time.Hour)):
		return RejectExpired, nil
	case maxUses > 1 && usedCount >= maxUses:
		return RejectExhaustedUses, nil
	case deviceFingerprint != nil && *deviceFingerprint != fingerprint:
		return RejectDeviceMismatch, nil
	}
	return "", nil
}
