package core

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func isConsumeSQL(sql string) bool {
	return strings.Contains(sql, "UPDATE api_keys")
}

func isClassifySQL(sql string) bool {
	return strings.Contains(sql, "SELECT banned")
}

// acceptedRow mimics the RETURNING row of a successful consume.
func acceptedRow(keyID, ownerID, username, label string, createdAt time.Time) *mockRow {
	return &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*string)) = keyID
		*(dest[1].(*string)) = ownerID
		*(dest[2].(*string)) = username
		*(dest[3].(*string)) = label
		*(dest[4].(*time.Time)) = createdAt
		return nil
	}}
}

// keyStateRow mimics the classification read of a key row.
func keyStateRow(banned bool, createdAt time.Time, expiryDays, maxUses, usedCount int, fingerprint *string) *mockRow {
	return &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*bool)) = banned
		*(dest[1].(*time.Time)) = createdAt
		*(dest[2].(*int)) = expiryDays
		*(dest[3].(*int)) = maxUses
		*(dest[4].(*int)) = usedCount
		*(dest[5].(**string)) = fingerprint
		return nil
	}}
}

func TestValidationService_Validate_Accepted(t *testing.T) {
	db := &mockDB{}
	svc := NewValidationService(db)
	ctx := context.Background()

	created := time.Now().Truncate(time.Microsecond)
	db.On("QueryRow", ctx, mock.MatchedBy(isConsumeSQL), []any{"ContentalX-abc", "dev1", "203.0.113.9"}).
		Return(acceptedRow("key-1", "owner-1", "alice", "laptop", created))

	res, err := svc.Validate(ctx, "ContentalX-abc", "dev1", "203.0.113.9")
	require.NoError(t, err)
	require.True(t, res.Accepted)
	assert.Equal(t, "key-1", res.KeyID)
	assert.Equal(t, "owner-1", res.OwnerID)
	assert.Equal(t, "alice", res.OwnerUsername)
	assert.Equal(t, "laptop", res.Label)
	assert.Equal(t, created, res.CreatedAt)
	assert.Empty(t, res.Reason)
	db.AssertExpectations(t)
}

func TestValidationService_Validate_NotFound(t *testing.T) {
	db := &mockDB{}
	svc := NewValidationService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.MatchedBy(isConsumeSQL), mock.Anything).Return(errRow(pgx.ErrNoRows))
	db.On("QueryRow", ctx, mock.MatchedBy(isClassifySQL), []any{"ContentalX-nope"}).Return(errRow(pgx.ErrNoRows))

	res, err := svc.Validate(ctx, "ContentalX-nope", "dev1", "")
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, RejectNotFound, res.Reason)
	db.AssertExpectations(t)
}

func TestValidationService_Validate_BannedBeatsExpired(t *testing.T) {
	db := &mockDB{}
	svc := NewValidationService(db)
	ctx := context.Background()

	// Banned and long expired; the ban must be the named reason.
	created := time.Now().Add(-90 * 24 * time.Hour)
	db.On("QueryRow", ctx, mock.MatchedBy(isConsumeSQL), mock.Anything).Return(errRow(pgx.ErrNoRows))
	db.On("QueryRow", ctx, mock.MatchedBy(isClassifySQL), mock.Anything).
		Return(keyStateRow(true, created, 30, 1, 0, nil))

	res, err := svc.Validate(ctx, "ContentalX-abc", "dev1", "")
	require.NoError(t, err)
	assert.Equal(t, RejectBanned, res.Reason)
	db.AssertExpectations(t)
}

func TestValidationService_Validate_Expired(t *testing.T) {
	db := &mockDB{}
	svc := NewValidationService(db)
	ctx := context.Background()

	created := time.Now().Add(-48 * time.Hour)
	db.On("QueryRow", ctx, mock.MatchedBy(isConsumeSQL), mock.Anything).Return(errRow(pgx.ErrNoRows))
	db.On("QueryRow", ctx, mock.MatchedBy(isClassifySQL), mock.Anything).
		Return(keyStateRow(false, created, 1, 1, 0, nil))

	res, err := svc.Validate(ctx, "ContentalX-abc", "dev1", "")
	require.NoError(t, err)
	assert.Equal(t, RejectExpired, res.Reason)
	db.AssertExpectations(t)
}

func TestValidationService_Validate_ExpiryDaysZero(t *testing.T) {
	db := &mockDB{}
	svc := NewValidationService(db)
	ctx := context.Background()

	// A zero-day key is already expired a moment after creation.
	created := time.Now().Add(-time.Second)
	db.On("QueryRow", ctx, mock.MatchedBy(isConsumeSQL), mock.Anything).Return(errRow(pgx.ErrNoRows))
	db.On("QueryRow", ctx, mock.MatchedBy(isClassifySQL), mock.Anything).
		Return(keyStateRow(false, created, 0, 1, 0, nil))

	res, err := svc.Validate(ctx, "ContentalX-abc", "dev1", "")
	require.NoError(t, err)
	assert.Equal(t, RejectExpired, res.Reason)
	db.AssertExpectations(t)
}

func TestValidationService_Validate_ExhaustedUses(t *testing.T) {
	db := &mockDB{}
	svc := NewValidationService(db)
	ctx := context.Background()

	fp := "dev1"
	db.On("QueryRow", ctx, mock.MatchedBy(isConsumeSQL), mock.Anything).Return(errRow(pgx.ErrNoRows))
	db.On("QueryRow", ctx, mock.MatchedBy(isClassifySQL), mock.Anything).
		Return(keyStateRow(false, time.Now(), 30, 2, 2, &fp))

	res, err := svc.Validate(ctx, "ContentalX-abc", "dev1", "")
	require.NoError(t, err)
	assert.Equal(t, RejectExhaustedUses, res.Reason)
	db.AssertExpectations(t)
}

func TestValidationService_Validate_DeviceMismatch(t *testing.T) {
	db := &mockDB{}
	svc := NewValidationService(db)
	ctx := context.Background()

	fp := "dev1"
	db.On("QueryRow", ctx, mock.MatchedBy(isConsumeSQL), mock.Anything).Return(errRow(pgx.ErrNoRows))
	db.On("QueryRow", ctx, mock.MatchedBy(isClassifySQL), mock.Anything).
		Return(keyStateRow(false, time.Now(), 30, 1, 1, &fp))

	res, err := svc.Validate(ctx, "ContentalX-abc", "dev2", "")
	require.NoError(t, err)
	assert.Equal(t, RejectDeviceMismatch, res.Reason)
	db.AssertExpectations(t)
}

func TestValidationService_Validate_SingleUseCapNotEnforced(t *testing.T) {
	db := &mockDB{}
	svc := NewValidationService(db)
	ctx := context.Background()

	// max_uses = 1 keys are bounded by device binding alone; a matching
	// fingerprint with used_count well past 1 still passes every rule, so
	// the engine retries the consume and accepts.
	fp := "dev1"
	created := time.Now()
	db.On("QueryRow", ctx, mock.MatchedBy(isConsumeSQL), mock.Anything).Return(errRow(pgx.ErrNoRows)).Once()
	db.On("QueryRow", ctx, mock.MatchedBy(isClassifySQL), mock.Anything).
		Return(keyStateRow(false, created, 30, 1, 5, &fp)).Once()
	db.On("QueryRow", ctx, mock.MatchedBy(isConsumeSQL), mock.Anything).
		Return(acceptedRow("key-1", "owner-1", "alice", "", created)).Once()

	res, err := svc.Validate(ctx, "ContentalX-abc", "dev1", "")
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	db.AssertExpectations(t)
}

func TestValidationService_Validate_ConflictExhaustsRetries(t *testing.T) {
	db := &mockDB{}
	svc := NewValidationService(db)
	ctx := context.Background()

	// The consume keeps failing while the re-read keeps passing: the row is
	// churning under concurrent writers. The engine gives up after a
	// bounded number of attempts without committing anything.
	db.On("QueryRow", ctx, mock.MatchedBy(isConsumeSQL), mock.Anything).Return(errRow(pgx.ErrNoRows))
	db.On("QueryRow", ctx, mock.MatchedBy(isClassifySQL), mock.Anything).
		Return(keyStateRow(false, time.Now(), 30, 1, 0, nil))

	res, err := svc.Validate(ctx, "ContentalX-abc", "dev1", "")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrConsumeConflict)
}

func TestValidationService_Validate_RejectionsDoNotMutate(t *testing.T) {
	db := &mockDB{}
	svc := NewValidationService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.MatchedBy(isConsumeSQL), mock.Anything).Return(errRow(pgx.ErrNoRows))
	db.On("QueryRow", ctx, mock.MatchedBy(isClassifySQL), mock.Anything).
		Return(keyStateRow(true, time.Now(), 30, 1, 0, nil))

	_, err := svc.Validate(ctx, "ContentalX-abc", "dev1", "")
	require.NoError(t, err)
	// The only write path is the conditional update itself; no Exec ever runs.
	db.AssertNotCalled(t, "Exec")
}
