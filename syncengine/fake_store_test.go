package syncengine

import (
	"context"
	"io"
	"strconv"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/config"
	"bitbucket.org/mmdatafocus/integration_platform/models"
	"bitbucket.org/mmdatafocus/integration_platform/platforms"
	"bitbucket.org/mmdatafocus/integration_platform/utils"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeStore struct {
	mu           sync.Mutex
	integrations map[uint]*models.Integration
	canonical    map[string]*models.CanonicalRecord
	mappings     []*models.IntegrationEntityMapping
	logs         []models.SyncLog
	syncErrors   []models.SyncError
	conflicts    map[uint]*models.SyncConflict
	saves        int
	nextId       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		integrations: map[uint]*models.Integration{},
		canonical:    map[string]*models.CanonicalRecord{},
		conflicts:    map[uint]*models.SyncConflict{},
	}
}

func (f *fakeStore) addIntegration(platform, status string) *models.Integration {
	f.mu.Lock()
	defer f.mu.Unlock()
	in := &models.Integration{
		ID:               uint(len(f.integrations) + 1),
		TenantId:         "tenant-1",
		Platform:         platform,
		Status:           status,
		AuthType:         models.AuthTypeAPIKey,
		AccessToken:      "key",
		ConflictStrategy: "newest_wins",
	}
	if status == models.IntegrationStatusSyncing {
		started := testClock
		in.SyncStartedAt = &started
	}
	f.integrations[in.ID] = in
	return in
}

func (f *fakeStore) integration(id uint) models.Integration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.integrations[id]
}

// addCanonical seeds a record already linked to externalId on integration 1.
func (f *fakeStore) addCanonical(entity, externalId string, data map[string]any, updatedAt time.Time) *models.CanonicalRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextId++
	rec := &models.CanonicalRecord{
		ID:         "rec-" + strconv.Itoa(f.nextId),
		TenantId:   "tenant-1",
		EntityType: entity,
		Data:       models.EncodeJSON(data),
		UpdatedAt:  updatedAt,
	}
	f.canonical[rec.ID] = rec
	if externalId != "" {
		f.mappings = append(f.mappings, &models.IntegrationEntityMapping{
			ID:            uint(len(f.mappings) + 1),
			IntegrationId: 1,
			TenantId:      "tenant-1",
			EntityType:    entity,
			ExternalId:    externalId,
			CanonicalId:   rec.ID,
		})
	}
	return rec
}

func (f *fakeStore) record(id string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.DecodeObject(f.canonical[id].Data)
}

func (f *fakeStore) GetIntegration(_ context.Context, id uint) (*models.Integration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.integrations[id]
	if !ok {
		return nil, utils.NewNotFoundError("integration %d not found", id)
	}
	cp := *in
	return &cp, nil
}

func (f *fakeStore) ListIntegrations(_ context.Context, tenantId string) ([]models.Integration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Integration
	for i := uint(1); i <= uint(len(f.integrations)); i++ {
		if in := f.integrations[i]; in.TenantId == tenantId {
			out = append(out, *in)
		}
	}
	return out, nil
}

func (f *fakeStore) SaveConnection(_ context.Context, in *models.Integration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.integrations {
		if existing.TenantId == in.TenantId && existing.Platform == in.Platform {
			in.ID = existing.ID
			break
		}
	}
	if in.ID == 0 {
		in.ID = uint(len(f.integrations) + 1)
	}
	in.Status = models.IntegrationStatusConnected
	cp := *in
	f.integrations[in.ID] = &cp
	return nil
}

func (f *fakeStore) Disconnect(_ context.Context, id uint, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in := f.integrations[id]
	if in.Status == models.IntegrationStatusSyncing {
		return false, nil
	}
	in.Status = models.IntegrationStatusDisconnected
	in.AccessToken = ""
	in.DisconnectedAt = &now
	return true, nil
}

func (f *fakeStore) BeginSync(_ context.Context, id uint, now, staleBefore time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in := f.integrations[id]
	switch {
	case in.Status == models.IntegrationStatusConnected:
	case in.Status == models.IntegrationStatusSyncing && in.SyncAbandoned(staleBefore):
	default:
		return false, nil
	}
	in.Status = models.IntegrationStatusSyncing
	in.SyncStartedAt = &now
	return true, nil
}

func (f *fakeStore) FinishSync(_ context.Context, id uint, logStatus, errMessage string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	in := f.integrations[id]
	in.Status = models.IntegrationStatusConnected
	if errMessage != "" {
		in.Status = models.IntegrationStatusError
	}
	in.ErrorMessage = errMessage
	in.LastSyncStatus = logStatus
	in.LastSyncAt = &at
	in.SyncStartedAt = nil
	return nil
}

func (f *fakeStore) UpdateCredentials(_ context.Context, id uint, access, refresh string, exp *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	in := f.integrations[id]
	in.AccessToken, in.RefreshToken, in.TokenExpiresAt = access, refresh, exp
	return nil
}

func (f *fakeStore) FindMapping(_ context.Context, integrationId uint, entityType, externalId string) (*models.IntegrationEntityMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.mappings {
		if m.IntegrationId == integrationId && m.EntityType == entityType && m.ExternalId == externalId {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetCanonical(_ context.Context, id string) (*models.CanonicalRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.canonical[id]
	if !ok {
		return nil, utils.NewNotFoundError("canonical record %s not found", id)
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) SaveCanonical(_ context.Context, rec *models.CanonicalRecord, mapping *models.IntegrationEntityMapping, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	created := false
	if rec.ID == "" {
		f.nextId++
		rec.ID = "rec-" + strconv.Itoa(f.nextId)
		created = true
	}
	rec.UpdatedAt = now
	cp := *rec
	f.canonical[rec.ID] = &cp
	mapping.CanonicalId = rec.ID
	f.upsertMapping(mapping)
	return created, nil
}

func (f *fakeStore) upsertMapping(m *models.IntegrationEntityMapping) {
	for i, existing := range f.mappings {
		if existing.IntegrationId == m.IntegrationId && existing.EntityType == m.EntityType && existing.ExternalId == m.ExternalId {
			cp := *m
			cp.ID = existing.ID
			f.mappings[i] = &cp
			return
		}
	}
	cp := *m
	cp.ID = uint(len(f.mappings) + 1)
	f.mappings = append(f.mappings, &cp)
}

func (f *fakeStore) ListForPush(_ context.Context, tenantId, entityType string, ids []string, since *time.Time) ([]models.CanonicalRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.CanonicalRecord
	for i := 1; i <= f.nextId; i++ {
		rec, ok := f.canonical["rec-"+strconv.Itoa(i)]
		if !ok || rec.TenantId != tenantId || rec.EntityType != entityType {
			continue
		}
		if len(ids) > 0 && !utils.ContainsString(ids, rec.ID) {
			continue
		}
		if since != nil && rec.UpdatedAt.Before(*since) {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (f *fakeStore) ExternalIds(_ context.Context, integrationId uint, entityType string, canonicalIds []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]string{}
	for _, m := range f.mappings {
		if m.IntegrationId == integrationId && m.EntityType == entityType && utils.ContainsString(canonicalIds, m.CanonicalId) {
			out[m.CanonicalId] = m.ExternalId
		}
	}
	return out, nil
}

func (f *fakeStore) SaveMapping(_ context.Context, m *models.IntegrationEntityMapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertMapping(m)
	return nil
}

func (f *fakeStore) CreateSyncLog(_ context.Context, log *models.SyncLog, syncErrors []models.SyncError) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	log.ID = uint(len(f.logs) + 1)
	f.logs = append(f.logs, *log)
	for _, e := range syncErrors {
		e.SyncLogId = log.ID
		f.syncErrors = append(f.syncErrors, e)
	}
	return nil
}

func (f *fakeStore) ListSyncLogs(_ context.Context, integrationId uint, limit, offset int) ([]models.SyncLog, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []models.SyncLog
	for i := len(f.logs) - 1; i >= 0; i-- {
		if f.logs[i].IntegrationId == integrationId {
			all = append(all, f.logs[i])
		}
	}
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (f *fakeStore) ListSyncLogsBetween(_ context.Context, integrationId uint, from, to time.Time) ([]models.SyncLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.SyncLog
	for _, l := range f.logs {
		if l.IntegrationId == integrationId && !l.FinishedAt.Before(from) && l.FinishedAt.Before(to) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeStore) ListSyncErrors(_ context.Context, syncLogId uint) ([]models.SyncError, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.SyncError
	for _, e := range f.syncErrors {
		if e.SyncLogId == syncLogId {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateConflict(_ context.Context, c *models.SyncConflict) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = uint(len(f.conflicts) + 1)
	cp := *c
	f.conflicts[c.ID] = &cp
	return nil
}

func (f *fakeStore) ListConflicts(_ context.Context, integrationId uint, status string) ([]models.SyncConflict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.SyncConflict
	for i := uint(1); i <= uint(len(f.conflicts)); i++ {
		c := f.conflicts[i]
		if c.IntegrationId == integrationId && (status == "" || c.Status == status) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeStore) GetConflict(_ context.Context, id uint) (*models.SyncConflict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conflicts[id]
	if !ok {
		return nil, utils.NewNotFoundError("conflict %d not found", id)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) ResolveConflict(_ context.Context, id uint, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.conflicts[id]
	if c.Status != models.SyncConflictStatusOpen {
		return false, nil
	}
	c.Status = models.SyncConflictStatusResolved
	c.ResolvedAt = &now
	return true, nil
}

type fakeAdapter struct {
	platform string
	mu       sync.Mutex
	pulled   []platforms.ExternalRecord
	pullErr  error
	since    *time.Time
	pushed   []platforms.OutboundRecord
	pushFail map[string]error
	nextExt  int
}

func (a *fakeAdapter) Platform() string { return a.platform }
func (a *fakeAdapter) Category() string { return models.PlatformCategoryPOS }

func (a *fakeAdapter) Pull(_ context.Context, _ platforms.Credentials, _ string, since *time.Time) ([]platforms.ExternalRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.since = since
	return a.pulled, a.pullErr
}

func (a *fakeAdapter) Push(_ context.Context, _ platforms.Credentials, _ string, records []platforms.OutboundRecord) ([]platforms.PushResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []platforms.PushResult
	for _, r := range records {
		a.pushed = append(a.pushed, r)
		if err := a.pushFail[r.CanonicalId]; err != nil {
			out = append(out, platforms.PushResult{CanonicalId: r.CanonicalId, ExternalId: r.ExternalId, Err: err})
			continue
		}
		if r.ExternalId != "" {
			out = append(out, platforms.PushResult{CanonicalId: r.CanonicalId, ExternalId: r.ExternalId})
			continue
		}
		a.nextExt++
		out = append(out, platforms.PushResult{CanonicalId: r.CanonicalId, ExternalId: "ext-new-" + strconv.Itoa(a.nextExt), Created: true})
	}
	return out, nil
}

type publishedEvent struct {
	TenantId  string
	EventType string
	Data      interface{}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *fakePublisher) Publish(_ context.Context, tenantId, eventType string, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{tenantId, eventType, data})
	return nil
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *fakeLocker) Obtain(_ context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, config.ErrLockNotObtained
	}
	l.held[key] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		return nil
	}, nil
}

type fakeArchiver struct {
	names []string
}

func (a *fakeArchiver) Archive(_ context.Context, name string, _ []platforms.ExternalRecord) error {
	a.names = append(a.names, name)
	return nil
}

type fakeIdempotency struct {
	mu     sync.Mutex
	status map[string]models.IdempotencyStatus
}

func (f *fakeIdempotency) Begin(_ context.Context, _, handler, messageId string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == nil {
		f.status = map[string]models.IdempotencyStatus{}
	}
	if f.status[handler+"/"+messageId] == models.IdempotencyStatusSucceeded {
		return true, nil
	}
	f.status[handler+"/"+messageId] = models.IdempotencyStatusStarted
	return false, nil
}

func (f *fakeIdempotency) Succeeded(_ context.Context, handler, messageId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[handler+"/"+messageId] = models.IdempotencyStatusSucceeded
	return nil
}

func (f *fakeIdempotency) Failed(_ context.Context, handler, messageId string, _ error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[handler+"/"+messageId] = models.IdempotencyStatusFailed
	return nil
}

type testEnv struct {
	store    *fakeStore
	adapter  *fakeAdapter
	events   *fakePublisher
	locker   *fakeLocker
	archiver *fakeArchiver
	engine   *Engine
	clock    time.Time
}

var testClock = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestEnv() *testEnv {
	env := &testEnv{
		store:    newFakeStore(),
		adapter:  &fakeAdapter{platform: "square"},
		events:   &fakePublisher{},
		locker:   &fakeLocker{},
		archiver: &fakeArchiver{},
		clock:    testClock,
	}
	env.engine = NewEngine(Deps{
		Integrations: env.store,
		Records:      env.store,
		Logs:         env.store,
		Registry:     platforms.NewRegistry(env.adapter),
		Events:       env.events,
		Archiver:     env.archiver,
		Locker:       env.locker,
		Logger:       quietLogger(),
	})
	env.engine.now = func() time.Time { return env.clock }
	return env
}
