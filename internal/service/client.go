package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rickgao/gpttools-desk/internal/api"
	"github.com/rickgao/gpttools-desk/internal/connection"
	"github.com/rickgao/gpttools-desk/internal/model"
)

// Desk method names.
const (
	MethodAccountList       = "service_account_list"
	MethodAccountDelete     = "service_account_delete"
	MethodAccountUpdate     = "service_account_update"
	MethodLocalAccountDel   = "local_account_delete"
	MethodUsageRead         = "service_usage_read"
	MethodUsageList         = "service_usage_list"
	MethodUsageRefresh      = "service_usage_refresh"
	MethodLoginStart        = "service_login_start"
	MethodLoginStatus       = "service_login_status"
	MethodLoginComplete     = "service_login_complete"
	MethodAPIKeyList        = "service_apikey_list"
	MethodAPIKeyCreate      = "service_apikey_create"
	MethodAPIKeyModels      = "service_apikey_models"
	MethodAPIKeyUpdateModel = "service_apikey_update_model"
	MethodAPIKeyDelete      = "service_apikey_delete"
	MethodAPIKeyDisable     = "service_apikey_disable"
	MethodAPIKeyEnable      = "service_apikey_enable"
	MethodRequestLogList    = "service_requestlog_list"
	MethodRequestLogClear   = "service_requestlog_clear"
)

// Error is a failure reported by the service inside a successful response.
type Error struct {
	Method  string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}

// Is matches api.ErrUnknownMethod when the service did not recognize the call.
func (e *Error) Is(target error) bool {
	return target == api.ErrUnknownMethod && e.Message == api.ErrUnknownMethod.Error()
}

// IsUnknownMethod reports whether err means the method does not exist, on
// either the desk or the service side.
func IsUnknownMethod(err error) bool {
	return errors.Is(err, api.ErrUnknownMethod)
}

// Client is a typed view of the service's methods.
type Client struct {
	caller connection.Caller
	addr   func() string
}

// NewClient creates a Client. addr is consulted on every call so requests
// always follow the manager's current address; it may be nil.
func NewClient(caller connection.Caller, addr func() string) *Client {
	return &Client{caller: caller, addr: addr}
}

// LoginRequest starts an account login.
type LoginRequest struct {
	LoginType   string
	OpenBrowser bool
	Note        string
	Tags        string
	GroupName   string
	WorkspaceID string
}

// CreateKeyRequest creates a platform API key.
type CreateKeyRequest struct {
	Name            string
	ModelSlug       string
	ReasoningEffort string
}

type itemsResult[T any] struct {
	Items []T `json:"items"`
}

type failure struct {
	OK    *bool  `json:"ok"`
	Error string `json:"error"`
}

// ListAccounts returns every account.
func (c *Client) ListAccounts(ctx context.Context) ([]model.Account, error) {
	var res itemsResult[model.Account]
	if err := c.call(ctx, MethodAccountList, nil, &res); err != nil {
		return nil, err
	}
	return res.Items, nil
}

// DeleteAccount removes an account on the service.
func (c *Client) DeleteAccount(ctx context.Context, accountID string) error {
	return c.op(ctx, MethodAccountDelete, map[string]any{"accountId": accountID})
}

// DeleteLocalAccount removes the desk's local records of an account.
func (c *Client) DeleteLocalAccount(ctx context.Context, accountID string) error {
	return c.op(ctx, MethodLocalAccountDel, map[string]any{"accountId": accountID})
}

// UpdateAccountSort changes an account's sort key.
func (c *Client) UpdateAccountSort(ctx context.Context, accountID string, sort int64) error {
	return c.op(ctx, MethodAccountUpdate, map[string]any{"accountId": accountID, "sort": sort})
}

// ReadUsage returns the latest snapshot of an account, or nil.
func (c *Client) ReadUsage(ctx context.Context, accountID string) (*model.UsageSnapshot, error) {
	var res struct {
		Snapshot *model.UsageSnapshot `json:"snapshot"`
	}
	if err := c.call(ctx, MethodUsageRead, map[string]any{"accountId": accountID}, &res); err != nil {
		return nil, err
	}
	return res.Snapshot, nil
}

// ListUsage returns the latest snapshot of every account.
func (c *Client) ListUsage(ctx context.Context) ([]model.UsageSnapshot, error) {
	var res itemsResult[model.UsageSnapshot]
	if err := c.call(ctx, MethodUsageList, nil, &res); err != nil {
		return nil, err
	}
	return res.Items, nil
}

// RefreshUsage asks the service to re-read usage upstream; an empty
// accountID refreshes every account.
func (c *Client) RefreshUsage(ctx context.Context, accountID string) error {
	var params map[string]any
	if accountID != "" {
		params = map[string]any{"accountId": accountID}
	}
	return c.op(ctx, MethodUsageRefresh, params)
}

// StartLogin begins an OAuth login and returns the authorization URL.
func (c *Client) StartLogin(ctx context.Context, req LoginRequest) (*model.LoginStart, error) {
	loginType := req.LoginType
	if loginType == "" {
		loginType = "chatgpt"
	}
	params := map[string]any{
		"type":        loginType,
		"openBrowser": req.OpenBrowser,
	}
	setNonEmpty(params, "note", req.Note)
	setNonEmpty(params, "tags", req.Tags)
	setNonEmpty(params, "groupName", req.GroupName)
	setNonEmpty(params, "workspaceId", req.WorkspaceID)

	var res model.LoginStart
	if err := c.call(ctx, MethodLoginStart, params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// LoginStatus polls a login started with StartLogin.
func (c *Client) LoginStatus(ctx context.Context, loginID string) (*model.LoginStatus, error) {
	raw, err := c.raw(ctx, MethodLoginStatus, map[string]any{"loginId": loginID})
	if err != nil {
		return nil, err
	}
	// A failed login carries an error message; that is a status, not a call failure.
	var res model.LoginStatus
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode %s: %w", MethodLoginStatus, err)
	}
	if res.Status == "" {
		if f := parseFailure(raw); f != "" {
			return nil, &Error{Method: MethodLoginStatus, Message: f}
		}
	}
	return &res, nil
}

// CompleteLogin forwards a pasted OAuth callback to the service.
func (c *Client) CompleteLogin(ctx context.Context, state, code, redirectURI string) error {
	params := map[string]any{"state": state, "code": code}
	setNonEmpty(params, "redirectUri", redirectURI)
	return c.op(ctx, MethodLoginComplete, params)
}

// ListAPIKeys returns every platform key.
func (c *Client) ListAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	var res itemsResult[model.APIKey]
	if err := c.call(ctx, MethodAPIKeyList, nil, &res); err != nil {
		return nil, err
	}
	return res.Items, nil
}

// CreateAPIKey creates a key. The secret is only ever returned here.
func (c *Client) CreateAPIKey(ctx context.Context, req CreateKeyRequest) (*model.CreatedKey, error) {
	params := map[string]any{}
	setNonEmpty(params, "name", req.Name)
	setNonEmpty(params, "modelSlug", req.ModelSlug)
	if req.ModelSlug != "" {
		setNonEmpty(params, "reasoningEffort", req.ReasoningEffort)
	}

	var res model.CreatedKey
	if err := c.call(ctx, MethodAPIKeyCreate, params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListModels returns the models a key can be pinned to.
func (c *Client) ListModels(ctx context.Context) ([]model.ModelOption, error) {
	raw, err := c.raw(ctx, MethodAPIKeyModels, nil)
	if err != nil {
		return nil, err
	}
	if msg := parseFailure(raw); msg != "" {
		return nil, &Error{Method: MethodAPIKeyModels, Message: msg}
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []model.ModelOption
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode %s: %w", MethodAPIKeyModels, err)
		}
		return items, nil
	}
	var res itemsResult[model.ModelOption]
	if err := json.Unmarshal(trimmed, &res); err != nil {
		return nil, fmt.Errorf("decode %s: %w", MethodAPIKeyModels, err)
	}
	return res.Items, nil
}

// UpdateAPIKeyModel pins a key to a model. Without a model the reasoning
// effort is cleared as well.
func (c *Client) UpdateAPIKeyModel(ctx context.Context, keyID, modelSlug, effort string) error {
	params := map[string]any{"keyId": keyID}
	if modelSlug = strings.TrimSpace(modelSlug); modelSlug != "" {
		params["modelSlug"] = modelSlug
		setNonEmpty(params, "reasoningEffort", strings.TrimSpace(effort))
	}
	return c.op(ctx, MethodAPIKeyUpdateModel, params)
}

// DeleteAPIKey removes a key.
func (c *Client) DeleteAPIKey(ctx context.Context, keyID string) error {
	return c.op(ctx, MethodAPIKeyDelete, map[string]any{"keyId": keyID})
}

// SetAPIKeyEnabled enables or disables a key.
func (c *Client) SetAPIKeyEnabled(ctx context.Context, keyID string, enabled bool) error {
	method := MethodAPIKeyDisable
	if enabled {
		method = MethodAPIKeyEnable
	}
	return c.op(ctx, method, map[string]any{"keyId": keyID})
}

// ListRequestLogs returns up to limit logs matching query.
func (c *Client) ListRequestLogs(ctx context.Context, query string, limit int) ([]model.RequestLog, error) {
	params := map[string]any{"query": query}
	if limit > 0 {
		params["limit"] = limit
	}
	var res itemsResult[model.RequestLog]
	if err := c.call(ctx, MethodRequestLogList, params, &res); err != nil {
		return nil, err
	}
	return res.Items, nil
}

// ClearRequestLogs deletes every request log.
func (c *Client) ClearRequestLogs(ctx context.Context) error {
	return c.op(ctx, MethodRequestLogClear, nil)
}

// raw performs the call with the current address attached.
func (c *Client) raw(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	if c.addr != nil {
		if addr := c.addr(); addr != "" {
			if params == nil {
				params = make(map[string]any, 1)
			}
			params["addr"] = addr
		}
	}
	return c.caller.Call(ctx, method, params)
}

// call decodes a data result into out, turning {"error": ...} into *Error.
func (c *Client) call(ctx context.Context, method string, params map[string]any, out any) error {
	raw, err := c.raw(ctx, method, params)
	if err != nil {
		return err
	}
	if msg := parseFailure(raw); msg != "" {
		return &Error{Method: method, Message: msg}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", method, err)
	}
	return nil
}

// op performs a call answered with {ok, error}.
func (c *Client) op(ctx context.Context, method string, params map[string]any) error {
	raw, err := c.raw(ctx, method, params)
	if err != nil {
		return err
	}
	var f failure
	if err := json.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("decode %s: %w", method, err)
	}
	if f.Error != "" {
		return &Error{Method: method, Message: f.Error}
	}
	if f.OK != nil && !*f.OK {
		return &Error{Method: method, Message: "operation failed"}
	}
	return nil
}

func parseFailure(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ""
	}
	var f failure
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return ""
	}
	return f.Error
}

func setNonEmpty(params map[string]any, key, value string) {
	if value != "" {
		params[key] = value
	}
}
