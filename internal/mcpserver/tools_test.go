package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/contental/keyserver/internal/core"
)

// mcpMockDB implements core.DB for tool handler tests.
type mcpMockDB struct {
	mock.Mock
}

func (m *mcpMockDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mcpMockDB) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Rows), args.Error(1)
}

func (m *mcpMockDB) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

type mockRow struct {
	scanFunc func(dest ...any) error
}

func (m *mockRow) Scan(dest ...any) error {
	return m.scanFunc(dest...)
}

func newTestServer(db *mcpMockDB) *Server {
	return New(
		core.NewServices(db, "test-secret", "keyserver-test"),
		Operator{ID: "operator-1", Username: "ops"},
		core.IssueDefaults{FormatPrefix: "ContentalX-", ExpiryDays: 30, MaxUses: 1},
		zerolog.Nop(),
	)
}

func toolRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultText extracts the text payload of a tool result.
func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok, "expected text content")
	return tc.Text
}

func TestIssueKeys_DefaultsApplied(t *testing.T) {
	db := &mcpMockDB{}
	s := newTestServer(db)

	var insertArgs []any
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			insertArgs = args.Get(2).([]any)
		}).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*time.Time)) = time.Now()
			return nil
		}})

	res, err := s.handleIssueKeys(context.Background(), toolRequest(map[string]any{}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var body struct {
		Issued []keyView `json:"issued"`
		Count  int       `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &body))
	require.Equal(t, 1, body.Count)
	assert.True(t, strings.HasPrefix(body.Issued[0].Token, "ContentalX-"))
	assert.Equal(t, 30, body.Issued[0].ExpiryDays)
	assert.Equal(t, 1, body.Issued[0].MaxUses)

	// INSERT args: id, owner_id, token, label, expiry_days, max_uses, format_prefix
	require.Len(t, insertArgs, 7)
	assert.Equal(t, "operator-1", insertArgs[1])
}

func TestIssueKeys_CustomSuffixWithCount(t *testing.T) {
	s := newTestServer(&mcpMockDB{})

	res, err := s.handleIssueKeys(context.Background(), toolRequest(map[string]any{
		"custom_suffix": "special",
		"count":         3,
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "custom_suffix")
}

func TestUpdateKey_NoFields(t *testing.T) {
	s := newTestServer(&mcpMockDB{})

	res, err := s.handleUpdateKey(context.Background(), toolRequest(map[string]any{
		"id": "key-1",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "No fields to update")
}

func TestUpdateKey_NoMatch(t *testing.T) {
	db := &mcpMockDB{}
	s := newTestServer(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	res, err := s.handleUpdateKey(context.Background(), toolRequest(map[string]any{
		"id":    "key-1",
		"label": "renamed",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "key-1")
}

func TestBanKey_MissingFlag(t *testing.T) {
	s := newTestServer(&mcpMockDB{})

	res, err := s.handleBanKey(context.Background(), toolRequest(map[string]any{
		"id": "key-1",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "banned")
}

func TestBanKey_ScopedToOperator(t *testing.T) {
	db := &mcpMockDB{}
	s := newTestServer(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), []any{true, "key-1", "operator-1"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	res, err := s.handleBanKey(context.Background(), toolRequest(map[string]any{
		"id":     "key-1",
		"banned": true,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	db.AssertExpectations(t)
}

func TestValidateKey_ReportsRejectionReason(t *testing.T) {
	db := &mcpMockDB{}
	s := newTestServer(db)

	// Consume fails, classification finds the key banned.
	db.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "UPDATE api_keys")
	}), mock.Anything).
		Return(&mockRow{scanFunc: func(...any) error { return pgx.ErrNoRows }})
	db.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "SELECT banned")
	}), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*bool)) = true
			*(dest[1].(*time.Time)) = time.Now()
			*(dest[2].(*int)) = 30
			*(dest[3].(*int)) = 1
			*(dest[4].(*int)) = 0
			return nil
		}})

	res, err := s.handleValidateKey(context.Background(), toolRequest(map[string]any{
		"key":  "ContentalX-dead",
		"hwid": "hw-1",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &body))
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "banned", body["reason"])
}

func TestDeleteKey_NoMatch(t *testing.T) {
	db := &mcpMockDB{}
	s := newTestServer(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), []any{"key-9", "operator-1"}).
		Return(pgconn.NewCommandTag("DELETE 0"), nil)

	res, err := s.handleDeleteKey(context.Background(), toolRequest(map[string]any{
		"id": "key-9",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	db.AssertExpectations(t)
}
