// Package notifications delivers stage outcomes to operators.
//
// Two transports live here. Email carries the report itself: the markdown is
// rendered to HTML with goldmark, wrapped in an embedded template and sent
// over SMTP with optional STARTTLS and file attachments. ntfy carries short
// push alerts for failures. Both degrade to no-ops when unconfigured and
// callers treat every delivery error as best effort.
package notifications
