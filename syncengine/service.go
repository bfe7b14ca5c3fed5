package syncengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/conflict"
	"bitbucket.org/mmdatafocus/integration_platform/fieldmap"
	"bitbucket.org/mmdatafocus/integration_platform/models"
	"bitbucket.org/mmdatafocus/integration_platform/store"
	"bitbucket.org/mmdatafocus/integration_platform/utils"
	"github.com/xuri/excelize/v2"
	"gorm.io/datatypes"
)

type ConnectRequest struct {
	TenantId         string         `json:"tenant_id" validate:"required,max=64"`
	Platform         string         `json:"platform" validate:"required,max=50"`
	AuthType         string         `json:"auth_type" validate:"required,oneof=oauth2 api_key"`
	AccessToken      string         `json:"access_token"`
	RefreshToken     string         `json:"refresh_token"`
	ExpiresIn        int64          `json:"expires_in" validate:"gte=0"`
	APIKey           string         `json:"api_key"`
	ExternalAccount  string         `json:"external_account" validate:"max=255"`
	ConflictStrategy string         `json:"conflict_strategy" validate:"omitempty,oneof=canonical_wins external_wins newest_wins manual"`
	FieldMappings    datatypes.JSON `json:"field_mappings"`
}

// Connect stores credentials for a tenant's platform and marks the
// integration connected. Reconnecting replaces the stored credentials.
func (e *Engine) Connect(ctx context.Context, req ConnectRequest) (*models.Integration, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	adapter, err := e.registry.Get(req.Platform)
	if err != nil {
		return nil, utils.NewValidationError("unknown platform %q", req.Platform)
	}
	if len(req.FieldMappings) > 0 {
		if _, err := fieldmap.ParseOverrides(req.FieldMappings); err != nil {
			return nil, utils.NewValidationError("field_mappings must map entity types to field maps")
		}
	}

	integ := &models.Integration{
		TenantId:         req.TenantId,
		Platform:         adapter.Platform(),
		Category:         adapter.Category(),
		AuthType:         req.AuthType,
		ExternalAccount:  strings.TrimSpace(req.ExternalAccount),
		ConflictStrategy: req.ConflictStrategy,
		FieldMappings:    req.FieldMappings,
	}
	switch req.AuthType {
	case models.AuthTypeOAuth2:
		if req.AccessToken == "" {
			return nil, utils.NewValidationError("access_token is required for oauth2")
		}
		integ.AccessToken = req.AccessToken
		integ.RefreshToken = req.RefreshToken
		if req.ExpiresIn > 0 {
			exp := e.now().Add(time.Duration(req.ExpiresIn) * time.Second)
			integ.TokenExpiresAt = &exp
		}
	case models.AuthTypeAPIKey:
		if req.APIKey == "" {
			return nil, utils.NewValidationError("api_key is required for api_key auth")
		}
		integ.AccessToken = req.APIKey
	}
	if integ.ConflictStrategy == "" {
		integ.ConflictStrategy = conflict.StrategyNewestWins
	}

	if err := e.integrations.SaveConnection(ctx, integ); err != nil {
		if errors.Is(err, store.ErrIntegrationBusy) {
			return nil, utils.NewConflictError("integration for %s is syncing", req.Platform)
		}
		return nil, err
	}
	e.log(integ).Info("integration connected")
	e.publish(ctx, integ, models.EventIntegrationConnected, map[string]interface{}{
		"integration_id":   integ.ID,
		"platform":         integ.Platform,
		"category":         integ.Category,
		"external_account": integ.ExternalAccount,
	})
	return integ, nil
}

// Disconnect clears an integration's credentials. History and mappings stay.
func (e *Engine) Disconnect(ctx context.Context, id uint) (*models.Integration, error) {
	integ, err := e.integrations.GetIntegration(ctx, id)
	if err != nil {
		return nil, err
	}
	if integ.Status == models.IntegrationStatusDisconnected {
		return integ, nil
	}
	now := e.now()
	ok, err := e.integrations.Disconnect(ctx, id, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, utils.NewConflictError("integration %d is syncing", id)
	}
	integ.Status = models.IntegrationStatusDisconnected
	integ.AccessToken = ""
	integ.RefreshToken = ""
	integ.TokenExpiresAt = nil
	integ.DisconnectedAt = &now

	e.log(integ).Info("integration disconnected")
	e.publish(ctx, integ, models.EventIntegrationDisconnected, map[string]interface{}{
		"integration_id": integ.ID,
		"platform":       integ.Platform,
	})
	return integ, nil
}

func (e *Engine) Integrations(ctx context.Context, tenantId string) ([]models.Integration, error) {
	return e.integrations.ListIntegrations(ctx, tenantId)
}

type SyncHistory struct {
	Data   []models.SyncLog `json:"data"`
	Total  int64            `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

func (e *Engine) History(ctx context.Context, integrationId uint, limit, offset int) (*SyncHistory, error) {
	if _, err := e.integrations.GetIntegration(ctx, integrationId); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, total, err := e.logs.ListSyncLogs(ctx, integrationId, limit, offset)
	if err != nil {
		return nil, err
	}
	return &SyncHistory{Data: rows, Total: total, Limit: limit, Offset: offset}, nil
}

var exportColumns = []string{
	"Sync Log ID", "Started At", "Finished At", "Sync Type", "Entity Type", "Direction", "Status",
	"Processed", "Created", "Updated", "Failed", "Conflicted", "Duration (ms)", "Triggered By", "Error",
}

const exportSheet = "Sync Logs"

// ExportSyncLogs renders the sync logs finished in [from, to) as an XLSX workbook.
func (e *Engine) ExportSyncLogs(ctx context.Context, integrationId uint, from, to time.Time) ([]byte, error) {
	if !from.Before(to) {
		return nil, utils.NewValidationError("from must be before to")
	}
	if _, err := e.integrations.GetIntegration(ctx, integrationId); err != nil {
		return nil, err
	}
	rows, err := e.logs.ListSyncLogsBetween(ctx, integrationId, from, to)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, err
	}
	for i, h := range exportColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			return nil, err
		}
	}
	for r, l := range rows {
		values := []interface{}{
			l.ID, l.StartedAt.UTC().Format(time.RFC3339), l.FinishedAt.UTC().Format(time.RFC3339),
			l.SyncType, l.EntityType, l.Direction, l.Status,
			l.RecordsProcessed, l.RecordsCreated, l.RecordsUpdated, l.RecordsFailed, l.RecordsConflicted,
			l.DurationMs, l.TriggeredBy, l.ErrorMessage,
		}
		for c, v := range values {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(exportSheet, cell, v); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *Engine) SyncErrors(ctx context.Context, syncLogId uint) ([]models.SyncError, error) {
	return e.logs.ListSyncErrors(ctx, syncLogId)
}

func (e *Engine) Conflicts(ctx context.Context, integrationId uint, status string) ([]models.SyncConflict, error) {
	if status != "" && status != models.SyncConflictStatusOpen && status != models.SyncConflictStatusResolved {
		return nil, utils.NewValidationError("status must be open or resolved")
	}
	if _, err := e.integrations.GetIntegration(ctx, integrationId); err != nil {
		return nil, err
	}
	return e.logs.ListConflicts(ctx, integrationId, status)
}

type ResolveConflictRequest struct {
	Choices map[string]conflict.Choice `json:"choices" validate:"required,min=1,dive,oneof=canonical external"`
}

// ResolveConflict applies per-field choices to an open conflict and writes the
// merged record back to the canonical store.
func (e *Engine) ResolveConflict(ctx context.Context, conflictId uint, req ResolveConflictRequest) (*models.CanonicalRecord, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	c, err := e.logs.GetConflict(ctx, conflictId)
	if err != nil {
		return nil, err
	}
	if c.Status != models.SyncConflictStatusOpen {
		return nil, utils.NewConflictError("conflict %d is already resolved", conflictId)
	}
	canonical, err := e.records.GetCanonical(ctx, c.CanonicalId)
	if err != nil {
		return nil, err
	}
	var fields []conflict.FieldConflict
	if err := json.Unmarshal(c.Conflicts, &fields); err != nil {
		return nil, fmt.Errorf("decode conflict %d: %w", conflictId, err)
	}
	merged, err := conflict.ApplyChoices(models.DecodeObject(canonical.Data), models.DecodeObject(c.ExternalData), fields, req.Choices)
	if err != nil {
		return nil, err
	}

	mapping, err := e.records.FindMapping(ctx, c.IntegrationId, c.EntityType, c.ExternalId)
	if err != nil {
		return nil, err
	}
	if mapping == nil {
		mapping = &models.IntegrationEntityMapping{
			IntegrationId: c.IntegrationId,
			TenantId:      c.TenantId,
			EntityType:    c.EntityType,
			ExternalId:    c.ExternalId,
		}
	}
	now := e.now()
	ok, err := e.logs.ResolveConflict(ctx, conflictId, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, utils.NewConflictError("conflict %d is already resolved", conflictId)
	}
	canonical.Data = models.EncodeJSON(merged)
	if _, err := e.records.SaveCanonical(ctx, canonical, mapping, now); err != nil {
		return nil, err
	}
	canonical.UpdatedAt = now
	return canonical, nil
}
