package model

import (
	"strconv"
	"strings"
)

// -----------------------------------------------------------------------------
// Accounts
// -----------------------------------------------------------------------------

// Account is an upstream account managed by the service.
type Account struct {
	ID            string  `json:"id"`
	Label         string  `json:"label"`
	Status        string  `json:"status"`
	WorkspaceID   *string `json:"workspaceId,omitempty"`
	WorkspaceName *string `json:"workspaceName,omitempty"`
	Note          *string `json:"note,omitempty"`
	Tags          *string `json:"tags,omitempty"`
	GroupName     *string `json:"groupName,omitempty"`
	Sort          int64   `json:"sort"`
	UpdatedAt     int64   `json:"updatedAt"` // Unix seconds
}

// -----------------------------------------------------------------------------
// Usage
// -----------------------------------------------------------------------------

// UsageSnapshot is the latest rate-limit usage captured for an account.
//
// The primary window is the short one (5 hours upstream), the secondary
// window the long one (7 days). Every field is optional on the wire.
type UsageSnapshot struct {
	AccountID              *string  `json:"accountId,omitempty"`
	UsedPercent            *float64 `json:"usedPercent,omitempty"`
	WindowMinutes          *int64   `json:"windowMinutes,omitempty"`
	ResetsAt               *int64   `json:"resetsAt,omitempty"` // Unix seconds
	SecondaryUsedPercent   *float64 `json:"secondaryUsedPercent,omitempty"`
	SecondaryWindowMinutes *int64   `json:"secondaryWindowMinutes,omitempty"`
	SecondaryResetsAt      *int64   `json:"secondaryResetsAt,omitempty"`
	CreditsJSON            *string  `json:"creditsJson,omitempty"`
	CapturedAt             *int64   `json:"capturedAt,omitempty"` // Unix seconds
}

// Account returns the snapshot's account id, or "" when absent.
func (u *UsageSnapshot) Account() string {
	if u == nil || u.AccountID == nil {
		return ""
	}
	return *u.AccountID
}

// -----------------------------------------------------------------------------
// API keys
// -----------------------------------------------------------------------------

// APIKey is a platform key issued by the service gateway.
type APIKey struct {
	ID              string  `json:"id"`
	Name            *string `json:"name,omitempty"`
	Status          string  `json:"status"` // "active" or "disabled"
	CreatedAt       int64   `json:"createdAt"`
	LastUsedAt      *int64  `json:"lastUsedAt,omitempty"`
	ModelSlug       *string `json:"modelSlug,omitempty"`
	ReasoningEffort *string `json:"reasoningEffort,omitempty"`
}

// Disabled reports whether the key is disabled (case-insensitive).
func (k APIKey) Disabled() bool {
	return strings.EqualFold(k.Status, "disabled")
}

// ModelOption is a model a key can be pinned to.
type ModelOption struct {
	Slug        string `json:"slug"`
	DisplayName string `json:"displayName"`
}

// CreatedKey is returned once when a key is created; Key is never shown again.
type CreatedKey struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// -----------------------------------------------------------------------------
// Request logs
// -----------------------------------------------------------------------------

// RequestLog is one gateway request recorded by the service.
type RequestLog struct {
	ID              *int64  `json:"id,omitempty"`
	KeyID           *string `json:"keyId,omitempty"`
	Method          *string `json:"method,omitempty"`
	RequestPath     *string `json:"requestPath,omitempty"`
	Model           *string `json:"model,omitempty"`
	ReasoningEffort *string `json:"reasoningEffort,omitempty"`
	StatusCode      *int    `json:"statusCode,omitempty"`
	Error           *string `json:"error,omitempty"`
	CreatedAt       int64   `json:"createdAt"`
}

// StatusClass returns "2xx", "4xx", "5xx" (etc.) or "" when no status code.
func (r RequestLog) StatusClass() string {
	if r.StatusCode == nil || *r.StatusCode < 100 || *r.StatusCode > 999 {
		return ""
	}
	return strconv.Itoa(*r.StatusCode/100) + "xx"
}

// -----------------------------------------------------------------------------
// Login
// -----------------------------------------------------------------------------

// LoginStart is the service's answer to a login start request.
type LoginStart struct {
	AuthURL     string  `json:"authUrl"`
	LoginID     string  `json:"loginId"`
	LoginType   string  `json:"loginType"`
	Issuer      string  `json:"issuer"`
	ClientID    string  `json:"clientId"`
	RedirectURI string  `json:"redirectUri"`
	Warning     *string `json:"warning,omitempty"`
}

// Login status values.
const (
	LoginPending = "pending"
	LoginSuccess = "success"
	LoginFailed  = "failed"
)

// LoginStatus is the current state of a login attempt.
type LoginStatus struct {
	Status string  `json:"status"`
	Error  *string `json:"error,omitempty"`
}

// OpResult is the generic {ok, error} answer returned by mutating calls.
type OpResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
