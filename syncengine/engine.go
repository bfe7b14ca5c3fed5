// Package syncengine runs pull and push syncs between a tenant's canonical
// records and its connected platforms.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/config"
	"bitbucket.org/mmdatafocus/integration_platform/conflict"
	"bitbucket.org/mmdatafocus/integration_platform/fieldmap"
	"bitbucket.org/mmdatafocus/integration_platform/models"
	"bitbucket.org/mmdatafocus/integration_platform/platforms"
	"bitbucket.org/mmdatafocus/integration_platform/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("integration_platform/syncengine")

const syncLockTTL = 15 * time.Minute

type IntegrationStore interface {
	GetIntegration(ctx context.Context, id uint) (*models.Integration, error)
	ListIntegrations(ctx context.Context, tenantId string) ([]models.Integration, error)
	SaveConnection(ctx context.Context, in *models.Integration) error
	Disconnect(ctx context.Context, id uint, now time.Time) (bool, error)
	BeginSync(ctx context.Context, id uint, now, staleBefore time.Time) (bool, error)
	FinishSync(ctx context.Context, id uint, logStatus string, errMessage string, at time.Time) error
	UpdateCredentials(ctx context.Context, id uint, accessToken, refreshToken string, expiresAt *time.Time) error
}

type RecordStore interface {
	FindMapping(ctx context.Context, integrationId uint, entityType, externalId string) (*models.IntegrationEntityMapping, error)
	GetCanonical(ctx context.Context, id string) (*models.CanonicalRecord, error)
	SaveCanonical(ctx context.Context, rec *models.CanonicalRecord, mapping *models.IntegrationEntityMapping, now time.Time) (bool, error)
	ListForPush(ctx context.Context, tenantId, entityType string, ids []string, since *time.Time) ([]models.CanonicalRecord, error)
	ExternalIds(ctx context.Context, integrationId uint, entityType string, canonicalIds []string) (map[string]string, error)
	SaveMapping(ctx context.Context, mapping *models.IntegrationEntityMapping) error
}

type LogStore interface {
	CreateSyncLog(ctx context.Context, log *models.SyncLog, syncErrors []models.SyncError) error
	ListSyncLogs(ctx context.Context, integrationId uint, limit, offset int) ([]models.SyncLog, int64, error)
	ListSyncLogsBetween(ctx context.Context, integrationId uint, from, to time.Time) ([]models.SyncLog, error)
	ListSyncErrors(ctx context.Context, syncLogId uint) ([]models.SyncError, error)
	CreateConflict(ctx context.Context, c *models.SyncConflict) error
	ListConflicts(ctx context.Context, integrationId uint, status string) ([]models.SyncConflict, error)
	GetConflict(ctx context.Context, id uint) (*models.SyncConflict, error)
	ResolveConflict(ctx context.Context, id uint, now time.Time) (bool, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, tenantId, eventType string, data interface{}) error
}

// Archiver keeps a copy of each raw pulled batch.
type Archiver interface {
	Archive(ctx context.Context, objectName string, records []platforms.ExternalRecord) error
}

type Engine struct {
	integrations IntegrationStore
	records      RecordStore
	logs         LogStore
	registry     *platforms.Registry
	refresher    *platforms.TokenRefresher
	events       EventPublisher
	archiver     Archiver
	locker       config.Locker
	logger       *logrus.Logger
	syncTopic    string
	publishJSON  func(ctx context.Context, topic string, obj interface{}, attrs map[string]string) (string, error)
	now          func() time.Time
}

type Deps struct {
	Integrations IntegrationStore
	Records      RecordStore
	Logs         LogStore
	Registry     *platforms.Registry
	Refresher    *platforms.TokenRefresher
	Events       EventPublisher
	Archiver     Archiver
	Locker       config.Locker
	Logger       *logrus.Logger
	// SyncTopic enables PublishSync.
	SyncTopic string
}

func NewEngine(d Deps) *Engine {
	if d.Refresher == nil {
		d.Refresher = platforms.NewTokenRefresher(0)
	}
	if d.Logger == nil {
		d.Logger = config.GetLogger()
	}
	return &Engine{
		integrations: d.Integrations,
		records:      d.Records,
		logs:         d.Logs,
		registry:     d.Registry,
		refresher:    d.Refresher,
		events:       d.Events,
		archiver:     d.Archiver,
		locker:       d.Locker,
		logger:       d.Logger,
		syncTopic:    d.SyncTopic,
		publishJSON:  config.PublishJSON,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

type SyncRequest struct {
	IntegrationId    uint       `json:"integration_id" validate:"required"`
	EntityType       string     `json:"entity_type" validate:"required,max=50"`
	Direction        string     `json:"direction" validate:"required,oneof=inbound outbound"`
	SyncType         string     `json:"sync_type" validate:"required,oneof=pull push"`
	ConflictStrategy string     `json:"conflict_strategy,omitempty" validate:"omitempty,oneof=canonical_wins external_wins newest_wins manual"`
	RecordIds        []string   `json:"record_ids,omitempty"`
	Since            *time.Time `json:"since,omitempty"`
	TriggeredBy      string     `json:"-"`
}

type SyncResult struct {
	Success           bool   `json:"success"`
	RecordsProcessed  int    `json:"records_processed"`
	RecordsCreated    int    `json:"records_created"`
	RecordsUpdated    int    `json:"records_updated"`
	RecordsFailed     int    `json:"records_failed"`
	RecordsConflicted int    `json:"records_conflicted"`
	RecordsUnchanged  int    `json:"records_unchanged"`
	DurationMs        int64  `json:"duration_ms"`
	Status            string `json:"status"`
	SyncLogId         uint   `json:"sync_log_id"`
	Error             string `json:"error,omitempty"`
}

func (r *SyncResult) succeeded() int { return r.RecordsCreated + r.RecordsUpdated + r.RecordsUnchanged }

// run is the mutable state of one sync.
type run struct {
	integ    *models.Integration
	req      SyncRequest
	fields   fieldmap.Map
	strategy string
	result   SyncResult
	errors   []models.SyncError
	// fatal is an adapter-level failure; the whole run is failed.
	fatal error
}

func (r *run) fail(externalId, code, message string, payload interface{}) {
	r.result.RecordsFailed++
	r.errors = append(r.errors, models.SyncError{
		IntegrationId: r.integ.ID,
		TenantId:      r.integ.TenantId,
		EntityType:    r.req.EntityType,
		ExternalId:    externalId,
		ErrorCode:     code,
		Message:       message,
		Payload:       models.EncodeJSON(payload),
	})
}

// Sync runs one pull or push for an integration. Records are committed one
// at a time; a failure partway through keeps what was already written.
func (e *Engine) Sync(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	if (req.SyncType == models.SyncTypePull) != (req.Direction == models.SyncDirectionInbound) {
		return nil, utils.NewValidationError("sync_type %s does not match direction %s", req.SyncType, req.Direction)
	}

	integ, err := e.integrations.GetIntegration(ctx, req.IntegrationId)
	if err != nil {
		return nil, err
	}
	if tenantId, ok := utils.GetTenantIdFromContext(ctx); ok && tenantId != "" && tenantId != integ.TenantId {
		return nil, utils.NewNotFoundError("integration %d not found", req.IntegrationId)
	}
	staleBefore := e.now().Add(-syncLockTTL)
	switch integ.Status {
	case models.IntegrationStatusConnected:
	case models.IntegrationStatusSyncing:
		if !integ.SyncAbandoned(staleBefore) {
			return nil, utils.NewConflictError("integration %d is already syncing", integ.ID)
		}
		e.log(integ).Warn("reclaiming integration left in syncing by an interrupted run")
	default:
		return nil, utils.NewConflictError("integration %d is %s", integ.ID, integ.Status)
	}

	overrides, err := fieldmap.ParseOverrides(integ.FieldMappings)
	if err != nil {
		return nil, utils.NewValidationError("integration %d has invalid field mappings", integ.ID)
	}
	fields, ok := fieldmap.Resolve(integ.Platform, req.EntityType, overrides)
	if !ok {
		return nil, utils.NewValidationError("no field map for %s %s", integ.Platform, req.EntityType)
	}
	if req.SyncType == models.SyncTypePush {
		if err := fieldmap.CheckOutbound(fields); err != nil {
			return nil, &utils.AppError{Kind: utils.ErrKindValidation, Message: "field map cannot be pushed", Err: err}
		}
	}

	ctx, span := tracer.Start(ctx, "syncengine.Sync")
	defer span.End()
	span.SetAttributes(
		attribute.Int("integration.id", int(integ.ID)),
		attribute.String("integration.platform", integ.Platform),
		attribute.String("sync.entity_type", req.EntityType),
		attribute.String("sync.type", req.SyncType),
	)

	if e.locker != nil {
		release, err := e.locker.Obtain(ctx, "sync:"+strconv.FormatUint(uint64(integ.ID), 10), syncLockTTL)
		if errors.Is(err, config.ErrLockNotObtained) {
			return nil, utils.NewConflictError("integration %d is already syncing", integ.ID)
		}
		if err != nil {
			e.log(integ).Warn("error obtaining sync lock; relying on status guard: " + err.Error())
		} else {
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					e.log(integ).Warn("failed to release sync lock: " + err.Error())
				}
			}()
		}
	}

	started, err := e.integrations.BeginSync(ctx, integ.ID, e.now(), staleBefore)
	if err != nil {
		return nil, err
	}
	if !started {
		return nil, utils.NewConflictError("integration %d is already syncing", integ.ID)
	}

	strategy := req.ConflictStrategy
	if strategy == "" {
		strategy = integ.ConflictStrategy
	}
	if !conflict.IsKnownStrategy(strategy) {
		strategy = conflict.StrategyNewestWins
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = models.SyncTriggeredAPI
	}

	r := &run{integ: integ, req: req, fields: fields, strategy: strategy}
	startedAt := e.now()
	e.execute(ctx, r)
	return e.finish(context.WithoutCancel(ctx), r, startedAt), nil
}

func (e *Engine) execute(ctx context.Context, r *run) {
	adapter, err := e.registry.Get(r.integ.Platform)
	if err != nil {
		r.fatal = fmt.Errorf("no adapter for platform %s", r.integ.Platform)
		return
	}
	creds, err := e.credentials(ctx, r.integ)
	if err != nil {
		r.fatal = err
		return
	}
	if r.req.SyncType == models.SyncTypePull {
		e.pull(ctx, r, adapter, creds)
		return
	}
	e.push(ctx, r, adapter, creds)
}

// credentials returns usable platform credentials, refreshing and persisting
// expired OAuth2 tokens first.
func (e *Engine) credentials(ctx context.Context, integ *models.Integration) (platforms.Credentials, error) {
	creds := platforms.Credentials{
		AccessToken:  integ.AccessToken,
		RefreshToken: integ.RefreshToken,
		ExpiresAt:    integ.TokenExpiresAt,
		Account:      integ.ExternalAccount,
	}
	if integ.AuthType != models.AuthTypeOAuth2 {
		return creds, nil
	}
	refreshed, ok, err := e.refresher.Refresh(ctx, integ.Platform, creds)
	if err != nil {
		return creds, err
	}
	if !ok {
		return creds, nil
	}
	if err := e.integrations.UpdateCredentials(ctx, integ.ID, refreshed.AccessToken, refreshed.RefreshToken, refreshed.ExpiresAt); err != nil {
		return creds, fmt.Errorf("persist refreshed credentials: %w", err)
	}
	e.log(integ).Info("platform credentials refreshed")
	return refreshed, nil
}

func (e *Engine) pull(ctx context.Context, r *run, adapter platforms.Adapter, creds platforms.Credentials) {
	since := r.req.Since
	if since == nil && r.integ.LastSyncStatus == models.SyncLogStatusCompleted {
		since = r.integ.LastSyncAt
	}
	records, err := adapter.Pull(ctx, creds, r.req.EntityType, since)
	if err != nil {
		r.fatal = err
		return
	}
	e.archive(ctx, r, records)

	for _, rec := range records {
		r.result.RecordsProcessed++
		if rec.ExternalId == "" {
			r.fail("", "missing_id", "record has no external id", rec.Data)
			continue
		}
		if err := e.upsert(ctx, r, rec); err != nil {
			r.fail(rec.ExternalId, "store_failed", err.Error(), rec.Data)
		}
	}
}

func (e *Engine) upsert(ctx context.Context, r *run, rec platforms.ExternalRecord) error {
	mapped, err := fieldmap.MapFields(rec.Data, r.fields, false)
	if err != nil {
		return err
	}
	now := e.now()
	externalUpdated := rec.UpdatedAt

	mapping, err := e.records.FindMapping(ctx, r.integ.ID, r.req.EntityType, rec.ExternalId)
	if err != nil {
		return err
	}
	if mapping == nil {
		mapping = &models.IntegrationEntityMapping{
			IntegrationId: r.integ.ID,
			TenantId:      r.integ.TenantId,
			EntityType:    r.req.EntityType,
			ExternalId:    rec.ExternalId,
		}
	}
	mapping.ExternalUpdatedAt = &externalUpdated

	var canonical *models.CanonicalRecord
	if mapping.CanonicalId != "" {
		canonical, err = e.records.GetCanonical(ctx, mapping.CanonicalId)
		if err != nil && !utils.IsKind(err, utils.ErrKindNotFound) {
			return err
		}
	}
	if canonical == nil {
		rec := &models.CanonicalRecord{TenantId: r.integ.TenantId, EntityType: r.req.EntityType, Data: models.EncodeJSON(mapped)}
		if _, err := e.records.SaveCanonical(ctx, rec, mapping, now); err != nil {
			return err
		}
		r.result.RecordsCreated++
		return nil
	}

	current := models.DecodeObject(canonical.Data)
	res, err := conflict.Resolve(current, mapped, canonical.UpdatedAt, externalUpdated, r.strategy)
	if err != nil {
		return err
	}
	if !res.Resolved {
		c := &models.SyncConflict{
			IntegrationId: r.integ.ID,
			TenantId:      r.integ.TenantId,
			EntityType:    r.req.EntityType,
			ExternalId:    rec.ExternalId,
			CanonicalId:   canonical.ID,
			Conflicts:     models.EncodeJSON(res.Conflicts),
			ExternalData:  models.EncodeJSON(mapped),
			Status:        models.SyncConflictStatusOpen,
		}
		if err := e.logs.CreateConflict(ctx, c); err != nil {
			return err
		}
		r.result.RecordsConflicted++
		return nil
	}
	if res.Strategy == conflict.StrategyNoConflict {
		added := conflict.Additions(current, mapped)
		if len(added) == 0 {
			r.result.RecordsUnchanged++
			return nil
		}
		res.Merged = conflict.Merge(res.Merged, added)
	}
	canonical.Data = models.EncodeJSON(res.Merged)
	if _, err := e.records.SaveCanonical(ctx, canonical, mapping, now); err != nil {
		return err
	}
	r.result.RecordsUpdated++
	return nil
}

func (e *Engine) push(ctx context.Context, r *run, adapter platforms.Adapter, creds platforms.Credentials) {
	rows, err := e.records.ListForPush(ctx, r.integ.TenantId, r.req.EntityType, r.req.RecordIds, r.req.Since)
	if err != nil {
		r.fatal = err
		return
	}
	if len(rows) == 0 {
		return
	}
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	external, err := e.records.ExternalIds(ctx, r.integ.ID, r.req.EntityType, ids)
	if err != nil {
		r.fatal = err
		return
	}

	outbound := make([]platforms.OutboundRecord, 0, len(rows))
	for _, row := range rows {
		data, err := fieldmap.MapFields(models.DecodeObject(row.Data), r.fields, true)
		if err != nil {
			r.result.RecordsProcessed++
			r.fail(external[row.ID], "mapping_failed", err.Error(), row.Data)
			continue
		}
		outbound = append(outbound, platforms.OutboundRecord{CanonicalId: row.ID, ExternalId: external[row.ID], Data: data})
	}

	results, err := adapter.Push(ctx, creds, r.req.EntityType, outbound)
	for _, res := range results {
		r.result.RecordsProcessed++
		if res.Err != nil {
			r.fail(res.ExternalId, "push_failed", res.Err.Error(), map[string]string{"canonical_id": res.CanonicalId})
			continue
		}
		if !res.Created {
			r.result.RecordsUpdated++
			continue
		}
		r.result.RecordsCreated++
		if res.ExternalId == "" {
			e.log(r.integ).WithField("canonical_id", res.CanonicalId).Warn("platform did not return an id for a created record")
			continue
		}
		now := e.now()
		if err := e.records.SaveMapping(ctx, &models.IntegrationEntityMapping{
			IntegrationId: r.integ.ID,
			TenantId:      r.integ.TenantId,
			EntityType:    r.req.EntityType,
			ExternalId:    res.ExternalId,
			CanonicalId:   res.CanonicalId,
			LastSeenAt:    &now,
		}); err != nil {
			e.log(r.integ).Error("save mapping for pushed record: " + err.Error())
		}
	}
	if err != nil {
		r.fatal = err
	}
}

func (e *Engine) archive(ctx context.Context, r *run, records []platforms.ExternalRecord) {
	if e.archiver == nil || len(records) == 0 {
		return
	}
	name := fmt.Sprintf("sync-archive/%s/%d/%s/%s.json",
		r.integ.TenantId, r.integ.ID, r.req.EntityType, e.now().Format("20060102T150405.000Z"))
	if err := e.archiver.Archive(ctx, name, records); err != nil {
		e.log(r.integ).Warn("archive pulled batch: " + err.Error())
	}
}

// outcome decides the log status: any adapter-level failure or a run where
// nothing succeeded is failed; failures next to successes are partial.
func outcome(r *run) (string, string) {
	switch {
	case r.fatal != nil:
		return models.SyncLogStatusFailed, r.fatal.Error()
	case r.result.RecordsFailed == 0:
		return models.SyncLogStatusCompleted, ""
	case r.result.succeeded() > 0:
		return models.SyncLogStatusPartial, ""
	default:
		return models.SyncLogStatusFailed, fmt.Sprintf("all %d records failed", r.result.RecordsFailed)
	}
}

func (e *Engine) finish(ctx context.Context, r *run, startedAt time.Time) *SyncResult {
	finishedAt := e.now()
	status, errMessage := outcome(r)
	r.result.Status = status
	r.result.Success = status != models.SyncLogStatusFailed
	r.result.Error = errMessage
	r.result.DurationMs = finishedAt.Sub(startedAt).Milliseconds()

	log := &models.SyncLog{
		IntegrationId:     r.integ.ID,
		TenantId:          r.integ.TenantId,
		Platform:          r.integ.Platform,
		SyncType:          r.req.SyncType,
		EntityType:        r.req.EntityType,
		Direction:         r.req.Direction,
		RecordsProcessed:  r.result.RecordsProcessed,
		RecordsCreated:    r.result.RecordsCreated,
		RecordsUpdated:    r.result.RecordsUpdated,
		RecordsFailed:     r.result.RecordsFailed,
		RecordsConflicted: r.result.RecordsConflicted,
		Status:            status,
		ErrorMessage:      errMessage,
		TriggeredBy:       r.req.TriggeredBy,
		StartedAt:         startedAt,
		FinishedAt:        finishedAt,
		DurationMs:        r.result.DurationMs,
	}
	if err := e.logs.CreateSyncLog(ctx, log, r.errors); err != nil {
		config.LogFailure(e.logger, "SyncEngine", "create sync log", r.result, err)
	}
	r.result.SyncLogId = log.ID

	if err := e.integrations.FinishSync(ctx, r.integ.ID, status, errMessage, finishedAt); err != nil {
		config.LogFailure(e.logger, "SyncEngine", "finish sync", r.integ.ID, err)
	}

	eventType := models.EventSyncCompleted
	if status == models.SyncLogStatusFailed {
		eventType = models.EventSyncFailed
	}
	e.publish(ctx, r.integ, eventType, map[string]interface{}{
		"integration_id":     r.integ.ID,
		"platform":           r.integ.Platform,
		"entity_type":        r.req.EntityType,
		"sync_type":          r.req.SyncType,
		"status":             status,
		"sync_log_id":        log.ID,
		"records_processed":  r.result.RecordsProcessed,
		"records_created":    r.result.RecordsCreated,
		"records_updated":    r.result.RecordsUpdated,
		"records_failed":     r.result.RecordsFailed,
		"records_conflicted": r.result.RecordsConflicted,
		"error_message":      errMessage,
	})

	entry := e.log(r.integ).WithFields(logrus.Fields{
		"entity_type": r.req.EntityType,
		"sync_type":   r.req.SyncType,
		"status":      status,
		"processed":   r.result.RecordsProcessed,
		"failed":      r.result.RecordsFailed,
		"duration_ms": r.result.DurationMs,
	})
	if status == models.SyncLogStatusFailed {
		entry.Warn("sync failed: " + errMessage)
	} else {
		entry.Info("sync finished")
	}
	return &r.result
}

func (e *Engine) publish(ctx context.Context, integ *models.Integration, eventType string, data interface{}) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, integ.TenantId, eventType, data); err != nil {
		e.log(integ).WithField("event_type", eventType).Warn("publish event: " + err.Error())
	}
}

func (e *Engine) log(integ *models.Integration) *logrus.Entry {
	return e.logger.WithFields(logrus.Fields{
		"field":          "SyncEngine",
		"integration_id": integ.ID,
		"platform":       integ.Platform,
	})
}
