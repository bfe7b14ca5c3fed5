package store

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/models"
	"bitbucket.org/mmdatafocus/integration_platform/utils"
	"gorm.io/gorm"
)

var (
	// ErrCodeUnavailable is returned when an authorization code was already
	// redeemed, has expired, or never existed at claim time.
	ErrCodeUnavailable = errors.New("authorization code is no longer redeemable")
	// ErrTokenInactive is returned when a refresh token was revoked concurrently.
	ErrTokenInactive = errors.New("token is no longer active")
)

type OAuthStore struct {
	db *gorm.DB
}

func NewOAuthStore(db *gorm.DB) *OAuthStore {
	return &OAuthStore{db: db}
}

func (s *OAuthStore) GetApplication(ctx context.Context, clientId string) (*models.OAuthApplication, error) {
	var app models.OAuthApplication
	if err := s.db.WithContext(ctx).Where("client_id = ?", clientId).First(&app).Error; err != nil {
		return nil, notFound(err, "oauth application %s not found", clientId)
	}
	return &app, nil
}

func (s *OAuthStore) CreateApplication(ctx context.Context, app *models.OAuthApplication) error {
	if err := s.db.WithContext(ctx).Create(app).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return utils.NewConflictError("client_id %s already registered", app.ClientId)
		}
		return err
	}
	return nil
}

func (s *OAuthStore) CreateAuthorizationCode(ctx context.Context, code *models.OAuthAuthorizationCode) error {
	return s.db.WithContext(ctx).Create(code).Error
}

func (s *OAuthStore) GetAuthorizationCode(ctx context.Context, code string) (*models.OAuthAuthorizationCode, error) {
	var row models.OAuthAuthorizationCode
	if err := s.db.WithContext(ctx).Where("code = ?", code).First(&row).Error; err != nil {
		return nil, notFound(err, "authorization code not found")
	}
	return &row, nil
}

// IssueFromCode marks the code used and stores tok in one transaction. The
// claim only succeeds for an unused, unexpired code, so two concurrent
// exchanges of the same code cannot both issue tokens.
func (s *OAuthStore) IssueFromCode(ctx context.Context, code string, now time.Time, tok *models.OAuthToken) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.OAuthAuthorizationCode{}).
			Where("code = ? AND used = ? AND expires_at > ?", code, false, now).
			Updates(map[string]interface{}{"used": true, "used_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrCodeUnavailable
		}
		return tx.Create(tok).Error
	})
}

func (s *OAuthStore) GetTokenByAccessHash(ctx context.Context, hash string) (*models.OAuthToken, error) {
	var tok models.OAuthToken
	if err := s.db.WithContext(ctx).Where("access_token_hash = ?", hash).First(&tok).Error; err != nil {
		return nil, notFound(err, "token not found")
	}
	return &tok, nil
}

func (s *OAuthStore) GetTokenByRefreshHash(ctx context.Context, hash string) (*models.OAuthToken, error) {
	var tok models.OAuthToken
	if err := s.db.WithContext(ctx).Where("refresh_token_hash = ?", hash).First(&tok).Error; err != nil {
		return nil, notFound(err, "token not found")
	}
	return &tok, nil
}

// RotateRefresh revokes the old pair and stores its replacement atomically.
func (s *OAuthStore) RotateRefresh(ctx context.Context, oldId uint, now time.Time, tok *models.OAuthToken) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.OAuthToken{}).
			Where("id = ? AND revoked_at IS NULL", oldId).
			Update("revoked_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrTokenInactive
		}
		tok.ParentTokenId = &oldId
		return tx.Create(tok).Error
	})
}

func (s *OAuthStore) RevokeToken(ctx context.Context, id uint, now time.Time) error {
	return s.db.WithContext(ctx).Model(&models.OAuthToken{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", now).Error
}

func (s *OAuthStore) WriteAudit(ctx context.Context, entry *models.AuditLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

// DeleteExpired drops authorization codes past expiry and token pairs whose
// refresh side has also expired.
func (s *OAuthStore) DeleteExpired(ctx context.Context, now time.Time) (codes int64, tokens int64, err error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&models.OAuthAuthorizationCode{})
	if res.Error != nil {
		return 0, 0, res.Error
	}
	codes = res.RowsAffected
	res = s.db.WithContext(ctx).Where("refresh_expires_at < ?", now).Delete(&models.OAuthToken{})
	if res.Error != nil {
		return codes, 0, res.Error
	}
	return codes, res.RowsAffected, nil
}
