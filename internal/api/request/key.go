package request

// IssueKeys holds the request body for issuing one or more keys. Omitted
// fields fall back to the configured issuance defaults.
type IssueKeys struct {
	Label        string  `json:"label" validate:"max=255"`
	ExpiryDays   *int    `json:"expiry_days" validate:"omitempty,min=0"`
	MaxUses      *int    `json:"max_uses" validate:"omitempty,min=1"`
	FormatPrefix *string `json:"format_prefix" validate:"omitempty,max=64"`
	CustomSuffix string  `json:"custom_suffix" validate:"max=128"`
	Count        int     `json:"count" validate:"omitempty,min=1,max=100"`
}

// UpdateKey holds the request body for a partial key update. At least one
// field must be present; only owner-mutable fields are accepted.
type UpdateKey struct {
	Label        *string `json:"label" validate:"omitempty,max=255"`
	ExpiryDays   *int    `json:"expiry_days" validate:"omitempty,min=0"`
	MaxUses      *int    `json:"max_uses" validate:"omitempty,min=1"`
	FormatPrefix *string `json:"format_prefix" validate:"omitempty,max=64"`
}

// Empty reports whether the update carries no fields.
func (u *UpdateKey) Empty() bool {
	return u.Label == nil && u.ExpiryDays == nil && u.MaxUses == nil && u.FormatPrefix == nil
}

// BanKey holds the request body for banning or unbanning a key.
type BanKey struct {
	Banned *bool `json:"banned" validate:"required"`
}
