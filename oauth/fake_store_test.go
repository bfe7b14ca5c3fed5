package oauth

import (
	"context"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/models"
	"bitbucket.org/mmdatafocus/integration_platform/store"
	"bitbucket.org/mmdatafocus/integration_platform/utils"
)

type fakeStore struct {
	mu     sync.Mutex
	apps   map[string]*models.OAuthApplication
	codes  map[string]*models.OAuthAuthorizationCode
	tokens []*models.OAuthToken
	audits []*models.AuditLog

	failCodeInsert bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		apps:  map[string]*models.OAuthApplication{},
		codes: map[string]*models.OAuthAuthorizationCode{},
	}
}

func (f *fakeStore) GetApplication(_ context.Context, clientId string) (*models.OAuthApplication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	app, ok := f.apps[clientId]
	if !ok {
		return nil, utils.NewNotFoundError("application not found")
	}
	cp := *app
	return &cp, nil
}

func (f *fakeStore) CreateApplication(_ context.Context, app *models.OAuthApplication) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.apps[app.ClientId]; ok {
		return utils.NewConflictError("client_id %s already registered", app.ClientId)
	}
	app.ID = uint(len(f.apps) + 1)
	f.apps[app.ClientId] = app
	return nil
}

func (f *fakeStore) CreateAuthorizationCode(_ context.Context, code *models.OAuthAuthorizationCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCodeInsert {
		return context.DeadlineExceeded
	}
	cp := *code
	f.codes[code.Code] = &cp
	return nil
}

func (f *fakeStore) GetAuthorizationCode(_ context.Context, code string) (*models.OAuthAuthorizationCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.codes[code]
	if !ok {
		return nil, utils.NewNotFoundError("code not found")
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) IssueFromCode(_ context.Context, code string, now time.Time, tok *models.OAuthToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.codes[code]
	if !ok || c.Used || !now.Before(c.ExpiresAt) {
		return store.ErrCodeUnavailable
	}
	c.Used = true
	c.UsedAt = &now
	tok.ID = uint(len(f.tokens) + 1)
	f.tokens = append(f.tokens, tok)
	return nil
}

func (f *fakeStore) GetTokenByAccessHash(_ context.Context, hash string) (*models.OAuthToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens {
		if t.AccessTokenHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, utils.NewNotFoundError("token not found")
}

func (f *fakeStore) GetTokenByRefreshHash(_ context.Context, hash string) (*models.OAuthToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens {
		if t.RefreshTokenHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, utils.NewNotFoundError("token not found")
}

func (f *fakeStore) RotateRefresh(_ context.Context, oldId uint, now time.Time, tok *models.OAuthToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens {
		if t.ID == oldId {
			if t.RevokedAt != nil {
				return store.ErrTokenInactive
			}
			t.RevokedAt = &now
			tok.ID = uint(len(f.tokens) + 1)
			tok.ParentTokenId = &oldId
			f.tokens = append(f.tokens, tok)
			return nil
		}
	}
	return store.ErrTokenInactive
}

func (f *fakeStore) RevokeToken(_ context.Context, id uint, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens {
		if t.ID == id && t.RevokedAt == nil {
			t.RevokedAt = &now
		}
	}
	return nil
}

func (f *fakeStore) WriteAudit(_ context.Context, entry *models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, entry)
	return nil
}

func (f *fakeStore) DeleteExpired(_ context.Context, now time.Time) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var codes int64
	for k, c := range f.codes {
		if c.ExpiresAt.Before(now) {
			delete(f.codes, k)
			codes++
		}
	}
	return codes, 0, nil
}
