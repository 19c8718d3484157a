package model

import "time"

// Key represents a license key issued by an owner. Clients present the token
// together with a device fingerprint to prove entitlement.
type Key struct {
	ID                string    `json:"id"`
	OwnerID           string    `json:"owner_id"`
	Token             string    `json:"token"`
	Label             string    `json:"label"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiryDays        int       `json:"expiry_days"`
	MaxUses           int       `json:"max_uses"`
	UsedCount         int       `json:"used_count"`
	Banned            bool      `json:"banned"`
	FormatPrefix      string    `json:"format_prefix"`
	DeviceFingerprint *string   `json:"device_fingerprint,omitempty"`
	LastSeenOrigin    *string   `json:"last_seen_origin,omitempty"`
}

// ExpiresAt returns the instant after which the key is no longer valid.
func (k *Key) ExpiresAt() time.Time {
	return k.CreatedAt.Add(time.Duration(k.ExpiryDays) * 24 * time.Hour)
}
