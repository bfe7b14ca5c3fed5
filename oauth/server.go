// Package oauth is the authorization server for third-party API consumers:
// authorization codes with optional PKCE, token issue and refresh, revocation,
// introspection and bearer authentication.
package oauth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/models"
	"bitbucket.org/mmdatafocus/integration_platform/store"
	"bitbucket.org/mmdatafocus/integration_platform/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

// AuthorizationCodeTTL is fixed; codes are short-lived by protocol.
const AuthorizationCodeTTL = 600 * time.Second

const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

var tracer = otel.Tracer("integration_platform/oauth")

type Store interface {
	GetApplication(ctx context.Context, clientId string) (*models.OAuthApplication, error)
	CreateApplication(ctx context.Context, app *models.OAuthApplication) error
	CreateAuthorizationCode(ctx context.Context, code *models.OAuthAuthorizationCode) error
	GetAuthorizationCode(ctx context.Context, code string) (*models.OAuthAuthorizationCode, error)
	IssueFromCode(ctx context.Context, code string, now time.Time, tok *models.OAuthToken) error
	GetTokenByAccessHash(ctx context.Context, hash string) (*models.OAuthToken, error)
	GetTokenByRefreshHash(ctx context.Context, hash string) (*models.OAuthToken, error)
	RotateRefresh(ctx context.Context, oldId uint, now time.Time, tok *models.OAuthToken) error
	RevokeToken(ctx context.Context, id uint, now time.Time) error
	WriteAudit(ctx context.Context, entry *models.AuditLog) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, int64, error)
}

type Options struct {
	SigningKey      []byte
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type Server struct {
	store  Store
	opts   Options
	logger *logrus.Logger
	now    func() time.Time
}

func NewServer(s Store, opts Options, logger *logrus.Logger) *Server {
	if opts.AccessTokenTTL <= 0 {
		opts.AccessTokenTTL = time.Hour
	}
	if opts.RefreshTokenTTL <= 0 {
		opts.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	return &Server{store: s, opts: opts, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

type AuthorizeRequest struct {
	ClientId            string `form:"client_id" json:"client_id"`
	RedirectURI         string `form:"redirect_uri" json:"redirect_uri"`
	ResponseType        string `form:"response_type" json:"response_type"`
	Scope               string `form:"scope" json:"scope"`
	State               string `form:"state" json:"state"`
	CodeChallenge       string `form:"code_challenge" json:"code_challenge"`
	CodeChallengeMethod string `form:"code_challenge_method" json:"code_challenge_method"`
}

type AuthorizeResponse struct {
	RedirectURL string `json:"redirect_url"`
	Code        string `json:"code"`
	State       string `json:"state,omitempty"`
	ExpiresIn   int    `json:"expires_in"`
}

// Authorize issues a single-use authorization code for a registered client.
func (s *Server) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResponse, error) {
	ctx, span := tracer.Start(ctx, "oauth.Authorize")
	defer span.End()

	if strings.TrimSpace(req.ClientId) == "" {
		return nil, invalidRequest("client_id is required")
	}
	if req.ResponseType != "code" {
		return nil, newError(http.StatusBadRequest, ErrCodeUnsupportedResponseType, "only response_type=code is supported")
	}
	app, err := s.lookupApplication(ctx, req.ClientId)
	if err != nil {
		return nil, err
	}
	if !app.IsActive {
		return nil, invalidClient(http.StatusForbidden, "application is inactive")
	}

	redirectURI, ok := resolveRedirectURI(app.RedirectURIList(), req.RedirectURI)
	if !ok {
		return nil, invalidRequest("redirect_uri is not registered for this client")
	}

	scopes := ParseScope(req.Scope)
	if invalid := InvalidScopes(scopes, app.AllowedScopeList()); len(invalid) > 0 {
		return nil, newError(http.StatusBadRequest, ErrCodeInvalidScope, "invalid scopes: %s", strings.Join(invalid, ", "))
	}

	hasPKCE := req.CodeChallenge != ""
	if hasPKCE && req.CodeChallengeMethod != models.CodeChallengeMethodS256 {
		return nil, invalidRequest("code_challenge_method must be S256")
	}

	code, err := utils.GenerateToken(32)
	if err != nil {
		return nil, serverError("failed to generate authorization code")
	}
	now := s.now()
	row := &models.OAuthAuthorizationCode{
		Code:          code,
		ClientId:      app.ClientId,
		ApplicationId: app.ID,
		TenantId:      app.TenantId,
		RedirectURI:   redirectURI,
		Scopes:        models.EncodeJSON(scopes),
		State:         req.State,
		ExpiresAt:     now.Add(AuthorizationCodeTTL),
	}
	if hasPKCE {
		row.CodeChallenge = req.CodeChallenge
		row.CodeChallengeMethod = models.CodeChallengeMethodS256
	}
	if err := s.store.CreateAuthorizationCode(ctx, row); err != nil {
		s.logger.WithFields(logrus.Fields{"field": "OAuthServer", "client_id": app.ClientId}).
			Error("store authorization code: " + err.Error())
		return nil, serverError("failed to store authorization code")
	}

	s.audit(ctx, &models.AuditLog{
		EventType:     models.AuditEventOAuthAuthorize,
		TenantId:      app.TenantId,
		ClientId:      app.ClientId,
		ApplicationId: app.ID,
		Metadata: models.EncodeJSON(map[string]interface{}{
			"client_id":    app.ClientId,
			"scopes":       scopes,
			"redirect_uri": redirectURI,
			"has_pkce":     hasPKCE,
		}),
	})

	return &AuthorizeResponse{
		RedirectURL: buildRedirectURL(redirectURI, code, req.State),
		Code:        code,
		State:       req.State,
		ExpiresIn:   int(AuthorizationCodeTTL / time.Second),
	}, nil
}

type TokenRequest struct {
	GrantType    string `form:"grant_type" json:"grant_type"`
	Code         string `form:"code" json:"code"`
	RedirectURI  string `form:"redirect_uri" json:"redirect_uri"`
	ClientId     string `form:"client_id" json:"client_id"`
	ClientSecret string `form:"client_secret" json:"client_secret"`
	CodeVerifier string `form:"code_verifier" json:"code_verifier"`
	RefreshToken string `form:"refresh_token" json:"refresh_token"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

// Token dispatches on grant_type.
func (s *Server) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		return s.exchangeCode(ctx, req)
	case GrantTypeRefreshToken:
		return s.refresh(ctx, req)
	case "":
		return nil, invalidRequest("grant_type is required")
	default:
		return nil, newError(http.StatusBadRequest, ErrCodeUnsupportedGrantType, "grant_type %s is not supported", req.GrantType)
	}
}

func (s *Server) exchangeCode(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	ctx, span := tracer.Start(ctx, "oauth.ExchangeCode")
	defer span.End()

	if req.Code == "" {
		return nil, invalidGrant("code is required")
	}
	now := s.now()
	code, err := s.store.GetAuthorizationCode(ctx, req.Code)
	if err != nil {
		if utils.IsKind(err, utils.ErrKindNotFound) {
			return nil, invalidGrant("authorization code is invalid")
		}
		return nil, serverError("failed to load authorization code")
	}
	if code.Used {
		return nil, invalidGrant("authorization code was already used")
	}
	if !now.Before(code.ExpiresAt) {
		return nil, invalidGrant("authorization code expired")
	}
	if code.ClientId != req.ClientId {
		return nil, invalidGrant("authorization code was issued to another client")
	}
	if code.RedirectURI != req.RedirectURI {
		return nil, invalidGrant("redirect_uri does not match the authorization request")
	}

	app, err := s.store.GetApplication(ctx, req.ClientId)
	if err != nil {
		if utils.IsKind(err, utils.ErrKindNotFound) {
			return nil, invalidClient(http.StatusUnauthorized, "unknown client")
		}
		return nil, serverError("failed to load application")
	}
	if !app.IsActive {
		return nil, invalidClient(http.StatusUnauthorized, "application is inactive")
	}

	if code.CodeChallenge != "" {
		if req.CodeVerifier == "" || !VerifyPKCE(req.CodeVerifier, code.CodeChallenge) {
			return nil, invalidGrant("code_verifier does not match the code challenge")
		}
	} else if req.ClientSecret == "" {
		return nil, invalidClient(http.StatusUnauthorized, "client_secret is required")
	}
	if req.ClientSecret != "" && utils.CompareSecret(app.ClientSecretHash, req.ClientSecret) != nil {
		return nil, invalidClient(http.StatusUnauthorized, "client authentication failed")
	}

	scope := strings.Join(code.ScopeList(), " ")
	resp, tok, err := s.newTokenPair(app.ClientId, code.TenantId, scope, now)
	if err != nil {
		return nil, serverError("failed to issue token")
	}
	if err := s.store.IssueFromCode(ctx, code.Code, now, tok); err != nil {
		if errors.Is(err, store.ErrCodeUnavailable) {
			return nil, invalidGrant("authorization code is no longer valid")
		}
		s.logger.WithFields(logrus.Fields{"field": "OAuthServer", "client_id": app.ClientId}).
			Error("issue token: " + err.Error())
		return nil, serverError("failed to issue token")
	}

	s.audit(ctx, &models.AuditLog{
		EventType:     models.AuditEventOAuthToken,
		TenantId:      code.TenantId,
		ClientId:      app.ClientId,
		ApplicationId: app.ID,
		Metadata:      models.EncodeJSON(map[string]interface{}{"scope": scope, "has_pkce": code.CodeChallenge != ""}),
	})
	return resp, nil
}

func (s *Server) refresh(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	ctx, span := tracer.Start(ctx, "oauth.Refresh")
	defer span.End()

	if req.RefreshToken == "" {
		return nil, invalidRequest("refresh_token is required")
	}
	now := s.now()
	old, err := s.store.GetTokenByRefreshHash(ctx, utils.HashToken(req.RefreshToken))
	if err != nil {
		if utils.IsKind(err, utils.ErrKindNotFound) {
			return nil, invalidGrant("refresh token is invalid")
		}
		return nil, serverError("failed to load refresh token")
	}
	if old.RevokedAt != nil || !now.Before(old.RefreshExpiresAt) {
		return nil, invalidGrant("refresh token is no longer valid")
	}
	if req.ClientId != "" && req.ClientId != old.ClientId {
		return nil, invalidGrant("refresh token was issued to another client")
	}

	app, err := s.store.GetApplication(ctx, old.ClientId)
	if err != nil {
		if utils.IsKind(err, utils.ErrKindNotFound) {
			return nil, invalidClient(http.StatusUnauthorized, "unknown client")
		}
		return nil, serverError("failed to load application")
	}
	if !app.IsActive {
		return nil, invalidClient(http.StatusUnauthorized, "application is inactive")
	}
	if req.ClientSecret != "" && utils.CompareSecret(app.ClientSecretHash, req.ClientSecret) != nil {
		return nil, invalidClient(http.StatusUnauthorized, "client authentication failed")
	}

	resp, tok, err := s.newTokenPair(old.ClientId, old.TenantId, old.Scope, now)
	if err != nil {
		return nil, serverError("failed to issue token")
	}
	if err := s.store.RotateRefresh(ctx, old.ID, now, tok); err != nil {
		if errors.Is(err, store.ErrTokenInactive) {
			return nil, invalidGrant("refresh token is no longer valid")
		}
		return nil, serverError("failed to rotate token")
	}
	s.audit(ctx, &models.AuditLog{
		EventType:     models.AuditEventOAuthRefresh,
		TenantId:      old.TenantId,
		ClientId:      old.ClientId,
		ApplicationId: app.ID,
	})
	return resp, nil
}

func (s *Server) newTokenPair(clientId, tenantId, scope string, now time.Time) (*TokenResponse, *models.OAuthToken, error) {
	access, err := utils.JwtGenerate(s.opts.SigningKey, clientId, tenantId, scope, now, s.opts.AccessTokenTTL)
	if err != nil {
		return nil, nil, err
	}
	refresh, err := utils.GenerateToken(32)
	if err != nil {
		return nil, nil, err
	}
	tok := &models.OAuthToken{
		AccessTokenHash:  utils.HashToken(access),
		RefreshTokenHash: utils.HashToken(refresh),
		ClientId:         clientId,
		TenantId:         tenantId,
		Scope:            scope,
		ExpiresAt:        now.Add(s.opts.AccessTokenTTL),
		RefreshExpiresAt: now.Add(s.opts.RefreshTokenTTL),
	}
	return &TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(s.opts.AccessTokenTTL / time.Second),
		Scope:        scope,
	}, tok, nil
}

// Revoke revokes the pair identified by either of its tokens. Unknown tokens
// are not an error.
func (s *Server) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	hash := utils.HashToken(token)
	tok, err := s.store.GetTokenByAccessHash(ctx, hash)
	if utils.IsKind(err, utils.ErrKindNotFound) {
		tok, err = s.store.GetTokenByRefreshHash(ctx, hash)
	}
	if utils.IsKind(err, utils.ErrKindNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.store.RevokeToken(ctx, tok.ID, s.now()); err != nil {
		return err
	}
	s.audit(ctx, &models.AuditLog{EventType: models.AuditEventOAuthRevoke, TenantId: tok.TenantId, ClientId: tok.ClientId})
	return nil
}

type Introspection struct {
	Active   bool   `json:"active"`
	ClientId string `json:"client_id,omitempty"`
	TenantId string `json:"tenant_id,omitempty"`
	Scope    string `json:"scope,omitempty"`
	Exp      int64  `json:"exp,omitempty"`
}

func (s *Server) Introspect(ctx context.Context, token string) (*Introspection, error) {
	p, err := s.Authenticate(ctx, token)
	if err != nil {
		if utils.IsKind(err, utils.ErrKindUnauthorized) {
			return &Introspection{Active: false}, nil
		}
		return nil, err
	}
	return &Introspection{
		Active:   true,
		ClientId: p.ClientId,
		TenantId: p.TenantId,
		Scope:    strings.Join(p.Scopes, " "),
		Exp:      p.ExpiresAt.Unix(),
	}, nil
}

// Principal is the authenticated caller behind a bearer token.
type Principal struct {
	ClientId  string
	TenantId  string
	Scopes    []string
	ExpiresAt time.Time
}

// Authenticate checks the JWT signature and expiry, then that the stored pair
// has not been revoked.
func (s *Server) Authenticate(ctx context.Context, token string) (*Principal, error) {
	claim, err := utils.JwtValidate(s.opts.SigningKey, token)
	if err != nil {
		return nil, utils.NewUnauthorizedError("invalid access token")
	}
	tok, err := s.store.GetTokenByAccessHash(ctx, utils.HashToken(token))
	if err != nil {
		if utils.IsKind(err, utils.ErrKindNotFound) {
			return nil, utils.NewUnauthorizedError("unknown access token")
		}
		return nil, err
	}
	if tok.RevokedAt != nil || !s.now().Before(tok.ExpiresAt) {
		return nil, utils.NewUnauthorizedError("access token is no longer active")
	}
	return &Principal{
		ClientId:  claim.ClientId,
		TenantId:  claim.TenantId,
		Scopes:    strings.Fields(claim.Scope),
		ExpiresAt: tok.ExpiresAt,
	}, nil
}

type NewApplication struct {
	TenantId      string   `json:"tenant_id" binding:"required" validate:"required,max=64"`
	Name          string   `json:"name" binding:"required" validate:"required,max=255"`
	ClientId      string   `json:"client_id" validate:"omitempty,max=64"`
	RedirectURIs  []string `json:"redirect_uris" validate:"required,min=1,dive,url"`
	AllowedScopes []string `json:"allowed_scopes" validate:"required,min=1"`
	RateLimitTier string   `json:"rate_limit_tier" validate:"omitempty,oneof=free standard professional enterprise"`
}

type RegisteredApplication struct {
	Application  *models.OAuthApplication `json:"application"`
	ClientSecret string                   `json:"client_secret"`
}

// RegisterApplication creates an application and returns its secret. The raw
// secret is never stored and cannot be shown again.
func (s *Server) RegisterApplication(ctx context.Context, in NewApplication) (*RegisteredApplication, error) {
	if err := utils.ValidateStruct(in); err != nil {
		return nil, err
	}
	for _, sc := range in.AllowedScopes {
		if !IsKnownScope(sc) {
			return nil, utils.NewValidationError("unknown scope %s", sc)
		}
	}
	clientId := in.ClientId
	if clientId == "" {
		id, err := utils.GenerateToken(16)
		if err != nil {
			return nil, err
		}
		clientId = "cli_" + id
	}
	secret, err := utils.GenerateToken(32)
	if err != nil {
		return nil, err
	}
	hash, err := utils.HashSecret(secret)
	if err != nil {
		return nil, err
	}
	tier := in.RateLimitTier
	if tier == "" {
		tier = "free"
	}
	app := &models.OAuthApplication{
		ClientId:         clientId,
		ClientSecretHash: string(hash),
		TenantId:         in.TenantId,
		Name:             in.Name,
		RedirectURIs:     models.EncodeJSON(in.RedirectURIs),
		AllowedScopes:    models.EncodeJSON(in.AllowedScopes),
		RateLimitTier:    tier,
		IsActive:         true,
	}
	if err := s.store.CreateApplication(ctx, app); err != nil {
		return nil, err
	}
	s.audit(ctx, &models.AuditLog{
		EventType:     models.AuditEventAppRegistered,
		TenantId:      app.TenantId,
		ClientId:      app.ClientId,
		ApplicationId: app.ID,
	})
	return &RegisteredApplication{Application: app, ClientSecret: secret}, nil
}

type CleanupResult struct {
	CodesDeleted  int64 `json:"codes_deleted"`
	TokensDeleted int64 `json:"tokens_deleted"`
}

func (s *Server) Cleanup(ctx context.Context) (*CleanupResult, error) {
	codes, tokens, err := s.store.DeleteExpired(ctx, s.now())
	if err != nil {
		return nil, err
	}
	return &CleanupResult{CodesDeleted: codes, TokensDeleted: tokens}, nil
}

func (s *Server) lookupApplication(ctx context.Context, clientId string) (*models.OAuthApplication, error) {
	app, err := s.store.GetApplication(ctx, clientId)
	if err != nil {
		if utils.IsKind(err, utils.ErrKindNotFound) {
			return nil, invalidClient(http.StatusUnauthorized, "unknown client")
		}
		return nil, serverError("failed to load application")
	}
	return app, nil
}

// audit failures never fail the request.
func (s *Server) audit(ctx context.Context, entry *models.AuditLog) {
	if err := s.store.WriteAudit(ctx, entry); err != nil {
		s.logger.WithFields(logrus.Fields{
			"field":      "OAuthServer",
			"event_type": entry.EventType,
			"client_id":  entry.ClientId,
		}).Warn("write audit log: " + err.Error())
	}
}
