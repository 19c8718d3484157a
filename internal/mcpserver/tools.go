package mcpserver

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/contental/keyserver/internal/core"
	"github.com/contental/keyserver/internal/model"
	"github.com/contental/keyserver/internal/platform"
)

// issueRetries bounds how often a random-suffix issuance is retried after
// a token collision.
const issueRetries = 3

// registerTools registers all key lifecycle tools on the given server.
func (s *Server) registerTools(srv *server.MCPServer) {

	srv.AddTool(
		mcp.NewTool("keyserver_issue_keys",
			mcp.WithDescription(
				"Issue one or more license keys. Omitted fields fall back to the "+
					"configured defaults. Returns the issued tokens; tokens are only "+
					"shown at issuance time.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("label",
				mcp.Description("Free-form label attached to the issued keys"),
			),
			mcp.WithNumber("expiry_days",
				mcp.Description("Days until the keys expire, counted from issuance (0 = already expired)"),
			),
			mcp.WithNumber("max_uses",
				mcp.Description("Maximum successful validations per key (minimum 1)"),
			),
			mcp.WithString("format_prefix",
				mcp.Description("Prefix prepended verbatim to the generated token"),
			),
			mcp.WithString("custom_suffix",
				mcp.Description("Fixed token suffix instead of a random one. Incompatible with count > 1."),
			),
			mcp.WithNumber("count",
				mcp.Description("Number of keys to issue (default 1, max 100)"),
			),
		),
		s.handleIssueKeys,
	)

	srv.AddTool(
		mcp.NewTool("keyserver_list_keys",
			mcp.WithDescription(
				"List all keys on the account, oldest first, with usage counters, "+
					"ban state, expiry settings, and device binding.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListKeys,
	)

	srv.AddTool(
		mcp.NewTool("keyserver_update_key",
			mcp.WithDescription(
				"Update the mutable fields of a key. Token, usage counter, and "+
					"device binding cannot be changed this way. At least one field "+
					"besides the id must be provided.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("ID of the key to update (from keyserver_list_keys)"),
			),
			mcp.WithString("label",
				mcp.Description("New label"),
			),
			mcp.WithNumber("expiry_days",
				mcp.Description("New expiry window in days, counted from the original issuance time"),
			),
			mcp.WithNumber("max_uses",
				mcp.Description("New usage cap (minimum 1)"),
			),
			mcp.WithString("format_prefix",
				mcp.Description("New format prefix. Only affects the stored setting, not the existing token."),
			),
		),
		s.handleUpdateKey,
	)

	srv.AddTool(
		mcp.NewTool("keyserver_ban_key",
			mcp.WithDescription(
				"Set or clear the ban flag on a key. Banned keys fail every "+
					"validation until unbanned.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("ID of the key"),
			),
			mcp.WithBoolean("banned",
				mcp.Required(),
				mcp.Description("true to ban, false to unban"),
			),
		),
		s.handleBanKey,
	)

	srv.AddTool(
		mcp.NewTool("keyserver_reset_key",
			mcp.WithDescription(
				"Reset a key's usage counter to zero. Device binding and ban "+
					"state are unaffected.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("ID of the key"),
			),
		),
		s.handleResetKey,
	)

	srv.AddTool(
		mcp.NewTool("keyserver_delete_key",
			mcp.WithDescription("Permanently delete a key. This cannot be undone."),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("ID of the key"),
			),
		),
		s.handleDeleteKey,
	)

	srv.AddTool(
		mcp.NewTool("keyserver_validate_key",
			mcp.WithDescription(
				"Validate a token against a device fingerprint, consuming one use "+
					"on success. Unlike the public endpoint this reports the exact "+
					"rejection reason, so use it for diagnosing why a customer's "+
					"key stopped working. Note that a successful call increments "+
					"the usage counter and may bind the key to the fingerprint.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("key",
				mcp.Required(),
				mcp.Description("The token to validate"),
			),
			mcp.WithString("hwid",
				mcp.Required(),
				mcp.Description("Device fingerprint to validate against"),
			),
		),
		s.handleValidateKey,
	)
}

// keyView is the JSON shape of a key in tool responses.
type keyView struct {
	ID                string  `json:"id"`
	Token             string  `json:"token"`
	Label             string  `json:"label,omitempty"`
	CreatedAt         string  `json:"created_at"`
	ExpiresAt         string  `json:"expires_at"`
	ExpiryDays        int     `json:"expiry_days"`
	MaxUses           int     `json:"max_uses"`
	UsedCount         int     `json:"used_count"`
	Banned            bool    `json:"banned"`
	FormatPrefix      string  `json:"format_prefix"`
	DeviceFingerprint *string `json:"device_fingerprint,omitempty"`
	LastSeenOrigin    *string `json:"last_seen_origin,omitempty"`
}

func toKeyView(k *model.Key) keyView {
	return keyView{
		ID:                k.ID,
		Token:             k.Token,
		Label:             k.Label,
		CreatedAt:         k.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		ExpiresAt:         k.ExpiresAt().Format("2006-01-02T15:04:05Z07:00"),
		ExpiryDays:        k.ExpiryDays,
		MaxUses:           k.MaxUses,
		UsedCount:         k.UsedCount,
		Banned:            k.Banned,
		FormatPrefix:      k.FormatPrefix,
		DeviceFingerprint: k.DeviceFingerprint,
		LastSeenOrigin:    k.LastSeenOrigin,
	}
}

func (s *Server) handleIssueKeys(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	label := request.GetString("label", "")
	expiryDays := request.GetInt("expiry_days", s.defaults.ExpiryDays)
	maxUses := request.GetInt("max_uses", s.defaults.MaxUses)
	formatPrefix := request.GetString("format_prefix", s.defaults.FormatPrefix)
	customSuffix := request.GetString("custom_suffix", "")
	count := request.GetInt("count", 1)

	if expiryDays < 0 {
		return toolError("expiry_days must be >= 0")
	}
	if maxUses < 1 {
		return toolError("max_uses must be >= 1")
	}
	if count < 1 || count > 100 {
		return toolError("count must be between 1 and 100")
	}
	if customSuffix != "" && count > 1 {
		return toolError("custom_suffix cannot be combined with count > 1: every key after the first would collide")
	}

	issued := make([]keyView, 0, count)
	for i := 0; i < count; i++ {
		var key *model.Key
		var err error
		for attempt := 0; attempt < issueRetries; attempt++ {
			token := platform.Token(formatPrefix, customSuffix)
			key, err = s.services.Key.Issue(ctx, s.operator.ID, label, expiryDays, maxUses, formatPrefix, token)
			if err == nil || customSuffix != "" || !errors.Is(err, core.ErrDuplicateToken) {
				break
			}
		}
		if err != nil {
			if errors.Is(err, core.ErrDuplicateToken) {
				return toolError("Token already exists. Pick a different custom_suffix or omit it for a random one.")
			}
			s.logger.Error().Err(err).Msg("issue key failed")
			return toolError("Failed to issue key: %v", err)
		}
		issued = append(issued, toKeyView(key))
	}

	return successJSON(map[string]any{
		"issued": issued,
		"count":  len(issued),
	})
}

func (s *Server) handleListKeys(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keys, err := s.services.Key.ListByOwner(ctx, s.operator.ID)
	if err != nil {
		s.logger.Error().Err(err).Msg("list keys failed")
		return toolError("Failed to list keys: %v", err)
	}

	views := make([]keyView, len(keys))
	for i := range keys {
		views[i] = toKeyView(&keys[i])
	}
	return successJSON(map[string]any{
		"keys":  views,
		"count": len(views),
	})
}

func (s *Server) handleUpdateKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return toolError("Missing required parameter \"id\". Use keyserver_list_keys to find key IDs.")
	}

	var patch core.KeyPatch
	args := request.GetArguments()
	if _, ok := args["label"]; ok {
		v := request.GetString("label", "")
		patch.Label = &v
	}
	if _, ok := args["expiry_days"]; ok {
		v := request.GetInt("expiry_days", 0)
		if v < 0 {
			return toolError("expiry_days must be >= 0")
		}
		patch.ExpiryDays = &v
	}
	if _, ok := args["max_uses"]; ok {
		v := request.GetInt("max_uses", 0)
		if v < 1 {
			return toolError("max_uses must be >= 1")
		}
		patch.MaxUses = &v
	}
	if _, ok := args["format_prefix"]; ok {
		v := request.GetString("format_prefix", "")
		patch.FormatPrefix = &v
	}
	if patch.Label == nil && patch.ExpiryDays == nil && patch.MaxUses == nil && patch.FormatPrefix == nil {
		return toolError("No fields to update. Provide at least one of: label, expiry_days, max_uses, format_prefix.")
	}

	ok, err := s.services.Key.UpdateFields(ctx, id, s.operator.ID, patch)
	if err != nil {
		s.logger.Error().Err(err).Str("key_id", id).Msg("update key failed")
		return toolError("Failed to update key: %v", err)
	}
	if !ok {
		return toolError("No key with id %q on this account.", id)
	}
	return successJSON(map[string]any{"updated": true, "id": id})
}

func (s *Server) handleBanKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return toolError("Missing required parameter \"id\". Use keyserver_list_keys to find key IDs.")
	}
	banned, err := request.RequireBool("banned")
	if err != nil {
		return toolError("Missing required parameter \"banned\" (true to ban, false to unban).")
	}

	ok, err := s.services.Key.SetBanned(ctx, id, s.operator.ID, banned)
	if err != nil {
		s.logger.Error().Err(err).Str("key_id", id).Msg("ban key failed")
		return toolError("Failed to update ban state: %v", err)
	}
	if !ok {
		return toolError("No key with id %q on this account.", id)
	}
	return successJSON(map[string]any{"id": id, "banned": banned})
}

func (s *Server) handleResetKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return toolError("Missing required parameter \"id\". Use keyserver_list_keys to find key IDs.")
	}

	ok, err := s.services.Key.ResetUsage(ctx, id, s.operator.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("key_id", id).Msg("reset key failed")
		return toolError("Failed to reset key: %v", err)
	}
	if !ok {
		return toolError("No key with id %q on this account.", id)
	}
	return successJSON(map[string]any{"id": id, "used_count": 0})
}

func (s *Server) handleDeleteKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return toolError("Missing required parameter \"id\". Use keyserver_list_keys to find key IDs.")
	}

	ok, err := s.services.Key.Delete(ctx, id, s.operator.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("key_id", id).Msg("delete key failed")
		return toolError("Failed to delete key: %v", err)
	}
	if !ok {
		return toolError("No key with id %q on this account.", id)
	}
	return successJSON(map[string]any{"deleted": true, "id": id})
}

func (s *Server) handleValidateKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := request.RequireString("key")
	if err != nil {
		return toolError("Missing required parameter \"key\".")
	}
	hwid, err := request.RequireString("hwid")
	if err != nil {
		return toolError("Missing required parameter \"hwid\".")
	}

	res, err := s.services.Validation.Validate(ctx, key, hwid, "mcp")
	if err != nil {
		if errors.Is(err, core.ErrConsumeConflict) {
			return toolError("Validation contended with concurrent requests. Try again.")
		}
		s.logger.Error().Err(err).Msg("validate key failed")
		return toolError("Failed to validate key: %v", err)
	}

	if !res.Accepted {
		return successJSON(map[string]any{
			"valid":  false,
			"reason": string(res.Reason),
		})
	}
	return successJSON(map[string]any{
		"valid": true,
		"key": map[string]any{
			"id":         res.KeyID,
			"label":      res.Label,
			"created_at": res.CreatedAt,
		},
		"owner": map[string]any{
			"id":       res.OwnerID,
			"username": res.OwnerUsername,
		},
	})
}
