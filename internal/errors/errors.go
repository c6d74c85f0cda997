package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// ParseFailure indicates a source file could not be parsed
	ParseFailure ErrorCode = "PARSE_FAILURE"
	// RuleApplicationError indicates a rule-based transformer failed mid-rewrite
	RuleApplicationError ErrorCode = "RULE_APPLICATION_ERROR"
	// GenerativeUnavailable indicates no model access is configured
	GenerativeUnavailable ErrorCode = "GENERATIVE_UNAVAILABLE"
	// GenerativeInvalidOutput indicates model output failed syntax validation after repair
	GenerativeInvalidOutput ErrorCode = "GENERATIVE_INVALID_OUTPUT"
	// QuotaExhausted indicates a quota reservation was refused
	QuotaExhausted ErrorCode = "QUOTA_EXHAUSTED"
	// KnowledgeBaseUnreadable indicates the breaking-change catalogue could not be loaded
	KnowledgeBaseUnreadable ErrorCode = "KNOWLEDGE_BASE_UNREADABLE"
	// CacheUnavailable indicates the migration cache store could not be opened
	CacheUnavailable ErrorCode = "CACHE_UNAVAILABLE"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// OpenDocs suggests opening documentation
	OpenDocs FixActionType = "open-docs"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Safe        bool          `json:"safe,omitempty"`
	Description string        `json:"description,omitempty"`
	URL         string        `json:"url,omitempty"`
}

// MigrationError represents an upshift error with code, message, and suggestions
type MigrationError struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// New creates a new MigrationError
func New(code ErrorCode, message string, cause error) *MigrationError {
	return &MigrationError{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: GetSuggestedFixes(code),
	}
}

// Error implements the error interface
func (e *MigrationError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *MigrationError) Unwrap() error {
	return e.cause
}

// CodeOf extracts the error code from err's chain, or InternalError
// when no MigrationError is present.
func CodeOf(err error) ErrorCode {
	var me *MigrationError
	if errors.As(err, &me) {
		return me.Code
	}
	return InternalError
}

// WithDetails adds details to the error
func (e *MigrationError) WithDetails(details interface{}) *MigrationError {
	e.Details = details
	return e
}

// IsBatchFatal reports whether the error must abort a whole migration run.
// Per-file failures recover locally; only configuration-level failures are fatal.
func (e *MigrationError) IsBatchFatal() bool {
	return e.Code == KnowledgeBaseUnreadable || e.Code == CacheUnavailable
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	GenerativeUnavailable: {
		{
			Type:        RunCommand,
			Command:     "upshift config --check=model",
			Safe:        true,
			Description: "Verify model endpoint and API key configuration",
		},
	},
	QuotaExhausted: {
		{
			Type:        RunCommand,
			Command:     "upshift migrate --tier1-only ${file}",
			Safe:        true,
			Description: "Re-run with rule-based tier only, or wait for quota to recover",
		},
	},
	KnowledgeBaseUnreadable: {
		{
			Type:        RunCommand,
			Command:     "upshift rules --validate",
			Safe:        true,
			Description: "Validate knowledge-base catalogue files",
		},
	},
	CacheUnavailable: {
		{
			Type:        RunCommand,
			Command:     "upshift cache clear",
			Safe:        false,
			Description: "Reset the migration cache database",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
