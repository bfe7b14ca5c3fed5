package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	CodeChallengeMethodS256 = "S256"
)

const (
	AuditEventOAuthAuthorize = "oauth.authorize"
	AuditEventOAuthToken     = "oauth.token"
	AuditEventOAuthRefresh   = "oauth.refresh"
	AuditEventOAuthRevoke    = "oauth.revoke"
	AuditEventAppRegistered  = "oauth.application_registered"
)

// OAuthApplication is a third-party API consumer registered by a tenant.
type OAuthApplication struct {
	ID               uint           `gorm:"primary_key" json:"id"`
	ClientId         string         `gorm:"size:64;not null;uniqueIndex" json:"client_id"`
	ClientSecretHash string         `gorm:"size:100" json:"-"`
	TenantId         string         `gorm:"size:64;not null;index" json:"tenant_id"`
	Name             string         `gorm:"size:255;not null" json:"name"`
	RedirectURIs     datatypes.JSON `gorm:"column:redirect_uris;not null" json:"redirect_uris"`
	AllowedScopes    datatypes.JSON `gorm:"not null" json:"allowed_scopes"`
	RateLimitTier    string         `gorm:"size:30;not null;default:'free'" json:"rate_limit_tier"`
	IsActive         bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OAuthApplication) TableName() string { return "oauth_applications" }

func (a OAuthApplication) RedirectURIList() []string { return DecodeStrings(a.RedirectURIs) }

func (a OAuthApplication) AllowedScopeList() []string { return DecodeStrings(a.AllowedScopes) }

type OAuthAuthorizationCode struct {
	Code                string         `gorm:"primaryKey;size:64" json:"-"`
	ClientId            string         `gorm:"size:64;not null;index" json:"client_id"`
	ApplicationId       uint           `gorm:"not null" json:"application_id"`
	TenantId            string         `gorm:"size:64;not null" json:"tenant_id"`
	RedirectURI         string         `gorm:"column:redirect_uri;type:text;not null" json:"redirect_uri"`
	Scopes              datatypes.JSON `gorm:"not null" json:"scopes"`
	CodeChallenge       string         `gorm:"size:128" json:"-"`
	CodeChallengeMethod string         `gorm:"size:10" json:"code_challenge_method"`
	State               string         `gorm:"type:text" json:"state"`
	ExpiresAt           time.Time      `gorm:"not null;index" json:"expires_at"`
	Used                bool           `gorm:"not null;default:false" json:"used"`
	UsedAt              *time.Time     `json:"used_at"`
	CreatedAt           time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (OAuthAuthorizationCode) TableName() string { return "oauth_authorization_codes" }

func (c OAuthAuthorizationCode) ScopeList() []string { return DecodeStrings(c.Scopes) }

// OAuthToken stores an issued access/refresh pair by SHA-256 hash only.
type OAuthToken struct {
	ID               uint       `gorm:"primary_key" json:"id"`
	AccessTokenHash  string     `gorm:"size:64;not null;uniqueIndex" json:"-"`
	RefreshTokenHash string     `gorm:"size:64;not null;uniqueIndex" json:"-"`
	ClientId         string     `gorm:"size:64;not null;index" json:"client_id"`
	TenantId         string     `gorm:"size:64;not null" json:"tenant_id"`
	Scope            string     `gorm:"type:text" json:"scope"`
	ExpiresAt        time.Time  `gorm:"not null;index" json:"expires_at"`
	RefreshExpiresAt time.Time  `gorm:"not null" json:"refresh_expires_at"`
	RevokedAt        *time.Time `json:"revoked_at"`
	ParentTokenId    *uint      `json:"parent_token_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (OAuthToken) TableName() string { return "oauth_tokens" }

type AuditLog struct {
	ID            uint           `gorm:"primary_key" json:"id"`
	EventType     string         `gorm:"size:64;not null;index" json:"event_type"`
	TenantId      string         `gorm:"size:64;index" json:"tenant_id"`
	ClientId      string         `gorm:"size:64;index" json:"client_id"`
	ApplicationId uint           `json:"application_id"`
	Metadata      datatypes.JSON `json:"metadata"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (AuditLog) TableName() string { return "api_audit_logs" }

type ApiRequestLog struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ClientId  string    `gorm:"size:64;not null;index:idx_request_log_client_time,priority:1" json:"client_id"`
	TenantId  string    `gorm:"size:64" json:"tenant_id"`
	Method    string    `gorm:"size:10" json:"method"`
	Path      string    `gorm:"size:255" json:"path"`
	Status    int       `json:"status"`
	LatencyMs int64     `json:"latency_ms"`
	CreatedAt time.Time `gorm:"not null;index:idx_request_log_client_time,priority:2" json:"created_at"`
}
