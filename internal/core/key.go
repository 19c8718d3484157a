package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/contental/keyserver/internal/model"
	"github.com/contental/keyserver/internal/platform"
)

// IssueDefaults holds the configuration defaults applied when an issuance
// request omits a field.
type IssueDefaults struct {
	FormatPrefix string
	ExpiryDays   int
	MaxUses      int
}

// KeyPatch lists the owner-mutable key fields for partial updates. Nil
// fields are left unchanged. Token, owner, usage, and binding state are
// never patchable.
type KeyPatch struct {
	Label        *string
	ExpiryDays   *int
	MaxUses      *int
	FormatPrefix *string
}

// KeyService manages license key records in the core database.
type KeyService struct {
	db DB
}

// NewKeyService creates a new KeyService.
func NewKeyService(db DB) *KeyService {
	return &KeyService{db: db}
}

// Issue inserts a new key with the given token. Returns ErrDuplicateToken
// when the token collides with an existing one.
func (s *KeyService) Issue(ctx context.Context, ownerID, label string, expiryDays, maxUses int, formatPrefix, token string) (*model.Key, error) {
	key := &model.Key{
		ID:           platform.NewID(),
		OwnerID:      ownerID,
		Token:        token,
		Label:        label,
		ExpiryDays:   expiryDays,
		MaxUses:      maxUses,
		FormatPrefix: formatPrefix,
	}

	err := s.db.QueryRow(ctx,
		`INSERT INTO api_keys (id, owner_id, token, label, created_at, expiry_days, max_uses, format_prefix)
		 VALUES ($1, $2, $3, $4, now(), $5, $6, $7)
		 RETURNING created_at`,
		key.ID, key.OwnerID, key.Token, key.Label, key.ExpiryDays, key.MaxUses, key.FormatPrefix,
	).Scan(&key.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateToken
		}
		return nil, fmt.Errorf("insert key: %w", err)
	}

	return key, nil
}

// ListByOwner retrieves all keys belonging to an owner, oldest first.
func (s *KeyService) ListByOwner(ctx context.Context, ownerID string) ([]model.Key, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, owner_id, token, label, created_at, expiry_days, max_uses, used_count, banned, format_prefix, device_fingerprint, last_seen_origin
		 FROM api_keys WHERE owner_id = $1 ORDER BY created_at ASC`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []model.Key
	for rows.Next() {
		var k model.Key
		if err := rows.Scan(&k.ID, &k.OwnerID, &k.Token, &k.Label, &k.CreatedAt, &k.ExpiryDays,
			&k.MaxUses, &k.UsedCount, &k.Banned, &k.FormatPrefix, &k.DeviceFingerprint, &k.LastSeenOrigin); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

// GetByToken retrieves a key by its token. Returns nil without error when
// no such token exists.
func (s *KeyService) GetByToken(ctx context.Context, token string) (*model.Key, error) {
	var k model.Key
	err := s.db.QueryRow(ctx,
		`SELECT id, owner_id, token, label, created_at, expiry_days, max_uses, used_count, banned, format_prefix, device_fingerprint, last_seen_origin
		 FROM api_keys WHERE token = $1`, token,
	).Scan(&k.ID, &k.OwnerID, &k.Token, &k.Label, &k.CreatedAt, &k.ExpiryDays,
		&k.MaxUses, &k.UsedCount, &k.Banned, &k.FormatPrefix, &k.DeviceFingerprint, &k.LastSeenOrigin)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get key by token: %w", err)
	}
	return &k, nil
}

// UpdateFields applies a partial update to the owner-mutable fields of a
// key. Returns false when no row matched (id, owner_id).
func (s *KeyService) UpdateFields(ctx context.Context, id, ownerID string, patch KeyPatch) (bool, error) {
	var sets []string
	args := []any{}
	argIdx := 1

	addSet := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, value)
		argIdx++
	}

	if patch.Label != nil {
		addSet("label", *patch.Label)
	}
	if patch.ExpiryDays != nil {
		addSet("expiry_days", *patch.ExpiryDays)
	}
	if patch.MaxUses != nil {
		addSet("max_uses", *patch.MaxUses)
	}
	if patch.FormatPrefix != nil {
		addSet("format_prefix", *patch.FormatPrefix)
	}
	if len(sets) == 0 {
		return false, fmt.Errorf("update key: no fields to update")
	}

	query := fmt.Sprintf(`UPDATE api_keys SET %s WHERE id = $%d AND owner_id = $%d`,
		strings.Join(sets, ", "), argIdx, argIdx+1)
	args = append(args, id, ownerID)

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update key %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetBanned flips the owner-controlled kill switch on a key.
func (s *KeyService) SetBanned(ctx context.Context, id, ownerID string, banned bool) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE api_keys SET banned = $1 WHERE id = $2 AND owner_id = $3`,
		banned, id, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("set key %s banned: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ResetUsage zeroes a key's usage counter. Device binding and the banned
// flag are left untouched.
func (s *KeyService) ResetUsage(ctx context.Context, id, ownerID string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE api_keys SET used_count = 0 WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("reset key %s usage: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Delete permanently removes a key.
func (s *KeyService) Delete(ctx context.Context, id, ownerID string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM api_keys WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("delete key %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}
