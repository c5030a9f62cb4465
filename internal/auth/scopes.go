package auth

// Known OAuth scopes used by the management API.
const (
	ScopeBackfillRun = "backfill:run"
	ScopeReportsRead = "reports:read"
)
