package core

// # Error Codes Reference
//
// Every failure a run can end with maps to a code the operator can quote.
//
//	CFG001   - Configuration missing: a required environment variable is unset
//	           Action: Set WIS2BOX_HOST_DATADIR and WIS2BOX_API_BACKEND_URL
//
//	RES001   - Codelist missing: a mapping table is missing or malformed
//	           Action: Rebuild the binary; codelists are embedded at build time
//
//	IO001    - Station file error: the registry could not be read or written
//	           Action: Check the path and permissions; the document store was not touched
//
//	STORE001 - Store unavailable: the document store could not be queried
//	           Action: Check the endpoint, then re-run; completed batches are kept
//
//	STORE002 - Update rejected: the document store refused a bulk update
//	           Action: Inspect the rejected documents, then re-run; re-running is safe
//
//	VER001   - Unknown version: no migration matches the requested version
//	           Action: Run "wis2box-migrate list" for the available versions
//
//	ERR000   - Unknown error
//	           Action: Check the log for the technical error
//
// Classified errors (see package failure) map by kind. Unclassified errors
// fall back to case-insensitive pattern matching, first match wins.

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/wis2box-migrate/internal/failure"
)

// UserMessage provides operator-facing error information.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var kindMessages = map[failure.Kind]UserMessage{
	failure.ConfigurationMissing: {
		Message: "Required configuration is missing",
		Action:  "Set WIS2BOX_HOST_DATADIR and WIS2BOX_API_BACKEND_URL",
		Code:    "CFG001",
	},
	failure.ResourceNotFound: {
		Message: "A codelist mapping table is missing or malformed",
		Action:  "Rebuild the binary; codelists are embedded at build time",
		Code:    "RES001",
	},
	failure.IOError: {
		Message: "The station file could not be read or written",
		Action:  "Check the path and permissions; the document store was not touched",
		Code:    "IO001",
	},
	failure.StoreUnavailable: {
		Message: "The document store is unavailable",
		Action:  "Check the endpoint, then re-run; completed batches are kept",
		Code:    "STORE001",
	},
	failure.UpdateRejected: {
		Message: "The document store rejected an update",
		Action:  "Inspect the rejected documents, then re-run; re-running is safe",
		Code:    "STORE002",
	},
	failure.UnknownVersion: {
		Message: "No migration exists for the requested version",
		Action:  `Run "wis2box-migrate list" for the available versions`,
		Code:    "VER001",
	},
}

// errorPattern defines a pattern to match and its corresponding message.
type errorPattern struct {
	pattern string
	kind    failure.Kind
}

// errorPatterns classify errors that reached the CLI without a kind.
var errorPatterns = []errorPattern{
	{pattern: "connection refused", kind: failure.StoreUnavailable},
	{pattern: "no such host", kind: failure.StoreUnavailable},
	{pattern: "context deadline exceeded", kind: failure.StoreUnavailable},
	{pattern: "version_conflict_engine_exception", kind: failure.UpdateRejected},
	{pattern: "no such file or directory", kind: failure.IOError},
	{pattern: "permission denied", kind: failure.IOError},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the log for the technical error",
	Code:    "ERR000",
}

// MapError converts an error to an operator-facing message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	if kind, ok := failure.KindOf(err); ok {
		if msg, ok := kindMessages[kind]; ok {
			return msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return kindMessages[ep.kind]
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
