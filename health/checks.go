// Package health audits connected integrations for stale syncs, failures and
// expiring credentials.
package health

import (
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/models"
)

const (
	StatusPass = "pass"
	StatusWarn = "warn"
	StatusFail = "fail"
)

const (
	VerdictHealthy   = "healthy"
	VerdictDegraded  = "degraded"
	VerdictUnhealthy = "unhealthy"
)

const (
	CheckSyncRecency      = "sync_recency"
	CheckLastSyncOutcome  = "last_sync_outcome"
	CheckErrorRate        = "error_rate"
	CheckCredentialExpiry = "credential_expiry"
)

const (
	staleAfter        = 24 * time.Hour
	errorRateWindow   = 24 * time.Hour
	errorRateFailures = 3
	expiryWarning     = time.Hour
)

// ExpiredCredentialsMessage is written to integrations whose token has lapsed.
const ExpiredCredentialsMessage = "Credentials expired"

type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

func syncRecency(lastSyncAt *time.Time, now time.Time) Check {
	c := Check{Name: CheckSyncRecency}
	switch {
	case lastSyncAt == nil:
		c.Status, c.Detail = StatusFail, "Never synced"
	case now.Sub(*lastSyncAt) > staleAfter:
		c.Status = StatusWarn
		c.Detail = fmt.Sprintf("Last sync %s ago", now.Sub(*lastSyncAt).Truncate(time.Minute))
	default:
		c.Status, c.Detail = StatusPass, "Synced at "+lastSyncAt.UTC().Format(time.RFC3339)
	}
	return c
}

func lastSyncOutcome(last *models.SyncLog) Check {
	c := Check{Name: CheckLastSyncOutcome}
	if last == nil {
		c.Status, c.Detail = StatusPass, "No sync history"
		return c
	}
	switch last.Status {
	case models.SyncLogStatusFailed:
		c.Status = StatusFail
		c.Detail = "Last sync failed"
		if last.ErrorMessage != "" {
			c.Detail += ": " + last.ErrorMessage
		}
	case models.SyncLogStatusPartial:
		c.Status = StatusWarn
		c.Detail = fmt.Sprintf("Last sync partial: %d of %d records failed", last.RecordsFailed, last.RecordsProcessed)
	default:
		c.Status, c.Detail = StatusPass, "Last sync "+last.Status
	}
	return c
}

func errorRate(failures int64) Check {
	c := Check{Name: CheckErrorRate, Detail: fmt.Sprintf("%d failed syncs in the last 24h", failures)}
	switch {
	case failures >= errorRateFailures:
		c.Status = StatusFail
	case failures > 0:
		c.Status = StatusWarn
	default:
		c.Status = StatusPass
	}
	return c
}

func credentialExpiry(expiresAt *time.Time, now time.Time) Check {
	c := Check{Name: CheckCredentialExpiry}
	switch {
	case expiresAt == nil:
		c.Status, c.Detail = StatusPass, "Credentials do not expire"
	case !expiresAt.After(now):
		c.Status, c.Detail = StatusFail, ExpiredCredentialsMessage
	case expiresAt.Sub(now) <= expiryWarning:
		c.Status = StatusWarn
		c.Detail = fmt.Sprintf("Credentials expire in %s", expiresAt.Sub(now).Truncate(time.Second))
	default:
		c.Status, c.Detail = StatusPass, "Credentials valid until "+expiresAt.UTC().Format(time.RFC3339)
	}
	return c
}

// Verdict folds check statuses: any fail is unhealthy, any warn degraded.
func Verdict(checks []Check) string {
	verdict := VerdictHealthy
	for _, c := range checks {
		switch c.Status {
		case StatusFail:
			return VerdictUnhealthy
		case StatusWarn:
			verdict = VerdictDegraded
		}
	}
	return verdict
}
