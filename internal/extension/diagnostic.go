// SPDX-License-Identifier: MPL-2.0

package extension

const (
	// SeverityWarning marks a skipped search path or manifest.
	SeverityWarning Severity = "warning"
	// SeverityError marks a manifest that will never load as written.
	SeverityError Severity = "error"

	// CodeSearchPathUnreadable is reported when a search directory exists but
	// cannot be listed.
	CodeSearchPathUnreadable = "search_path_unreadable"
	// CodeManifestSkipped is reported for a manifest that failed to parse.
	CodeManifestSkipped = "manifest_skipped"
	// CodeDuplicateName is reported when a lower-priority manifest reuses a
	// name that is already registered.
	CodeDuplicateName = "duplicate_name"
	// CodeManifestIncomplete is reported when description or author is empty.
	CodeManifestIncomplete = "manifest_incomplete"
	// CodeIntegrityRejected is reported when Load drops an extension whose
	// library no longer matches its digest.
	CodeIntegrityRejected = "integrity_rejected"
)

type (
	// Severity is the level of a discovery Diagnostic.
	Severity string

	// Diagnostic is a non-fatal finding from discovery, returned to callers so
	// the CLI decides how to render it.
	Diagnostic struct {
		Severity Severity
		Code     string
		Message  string
		Path     string
		Cause    error
	}
)
