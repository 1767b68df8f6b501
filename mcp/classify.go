package mcp

import "strings"

// Classification is the fixed error taxonomy the Session Manager assigns to
// every failure, mechanically, before any optional LLM enrichment. It is the
// authoritative source the Executor's retry policy consults.
type Classification string

const (
	ClassAuthInvalidAPIKey     Classification = "auth.invalid_api_key"
	ClassAuthExpired           Classification = "auth.expired"
	ClassAuthWrongPassword     Classification = "auth.wrong_password"
	ClassAuthMissingParams     Classification = "auth.missing_params"
	ClassAuthInsufficientPerms Classification = "auth.insufficient_permissions"

	ClassConnTimeout     Classification = "connection.timeout"
	ClassConnRefused     Classification = "connection.refused"
	ClassConnNetwork     Classification = "connection.network"
	ClassConnUnavailable Classification = "connection.unavailable"

	ClassConfigInvalid           Classification = "config.invalid"
	ClassConfigMissingDependency Classification = "config.missing_dependency"
	ClassConfigInvalidCommand    Classification = "config.invalid_command"

	ClassServerInternal   Classification = "server.internal"
	ClassServerRateLimit  Classification = "server.rate_limit"
	ClassServerQuota      Classification = "server.quota"

	ClassMCPInitFailed       Classification = "mcp.init_failed"
	ClassMCPConnectionFailed Classification = "mcp.connection_failed"
	ClassMCPAuthRequired     Classification = "mcp.auth_required"

	// ClassUnknown is returned when no rule matches; treated as
	// non-retryable invalid_argument-equivalent by callers that need a
	// binary retry decision, but surfaced as-is in events.
	ClassUnknown Classification = "unknown"
)

// IsAuth reports whether c is one of the auth.* classes; the Session
// Manager moves the session to failed for these and the engine emits
// mcp_connection_error.
func (c Classification) IsAuth() bool {
	return strings.HasPrefix(string(c), "auth.") || c == ClassMCPAuthRequired
}

// RetryGroup buckets a classification into the Executor's retry decision:
// transient classes are retried with backoff, the rest surface immediately.
type RetryGroup string

const (
	RetryTransient             RetryGroup = "transient"
	RetryRateLimit             RetryGroup = "rate_limit"
	RetryTimeout               RetryGroup = "timeout"
	RetryConnectionRecoverable RetryGroup = "connection_recoverable"
	RetryNone                  RetryGroup = "none"
)

// rule is one entry in the mechanical classification table: a substring
// match (case-insensitive) against the raw error text.
type rule struct {
	substr string
	class  Classification
}

// rules is the authoritative, ordered rule table. Earlier entries win on
// overlap (e.g. "token expired" before generic "expired").
var rules = []rule{
	{"invalid api key", ClassAuthInvalidAPIKey},
	{"invalid_api_key", ClassAuthInvalidAPIKey},
	{"unauthorized", ClassAuthInvalidAPIKey},
	{"token expired", ClassAuthExpired},
	{"expired", ClassAuthExpired},
	{"wrong password", ClassAuthWrongPassword},
	{"incorrect password", ClassAuthWrongPassword},
	{"missing required param", ClassAuthMissingParams},
	{"missing credential", ClassAuthMissingParams},
	{"insufficient permission", ClassAuthInsufficientPerms},
	{"forbidden", ClassAuthInsufficientPerms},

	{"timeout", ClassConnTimeout},
	{"timed out", ClassConnTimeout},
	{"connection refused", ClassConnRefused},
	{"econnrefused", ClassConnRefused},
	{"network is unreachable", ClassConnNetwork},
	{"no route to host", ClassConnNetwork},
	{"service unavailable", ClassConnUnavailable},
	{"unavailable", ClassConnUnavailable},

	{"invalid configuration", ClassConfigInvalid},
	{"invalid config", ClassConfigInvalid},
	{"missing dependency", ClassConfigMissingDependency},
	{"command not found", ClassConfigInvalidCommand},
	{"invalid command", ClassConfigInvalidCommand},

	{"rate limit", ClassServerRateLimit},
	{"too many requests", ClassServerRateLimit},
	{"quota exceeded", ClassServerQuota},
	{"quota", ClassServerQuota},
	{"internal server error", ClassServerInternal},
	{"internal error", ClassServerInternal},

	{"failed to initialize", ClassMCPInitFailed},
	{"init failed", ClassMCPInitFailed},
	{"failed to connect", ClassMCPConnectionFailed},
	{"connection failed", ClassMCPConnectionFailed},
	{"authentication required", ClassMCPAuthRequired},
	{"auth required", ClassMCPAuthRequired},
}

// Classify pattern-matches raw error text against the rule table and
// returns the first matching classification, or ClassUnknown.
func Classify(errText string) Classification {
	lower := strings.ToLower(errText)
	for _, r := range rules {
		if strings.Contains(lower, r.substr) {
			return r.class
		}
	}
	return ClassUnknown
}

// Group maps a classification to its Executor retry bucket.
func Group(c Classification) RetryGroup {
	switch {
	case c.IsAuth():
		return RetryNone
	case c == ClassConfigInvalid, c == ClassConfigMissingDependency, c == ClassConfigInvalidCommand:
		return RetryNone
	case c == ClassServerRateLimit:
		return RetryRateLimit
	case c == ClassConnTimeout:
		return RetryTimeout
	case c == ClassConnRefused, c == ClassConnNetwork, c == ClassConnUnavailable, c == ClassMCPConnectionFailed:
		return RetryConnectionRecoverable
	case c == ClassServerInternal, c == ClassServerQuota, c == ClassMCPInitFailed:
		return RetryTransient
	default:
		return RetryNone
	}
}
