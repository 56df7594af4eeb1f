package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries. The string
// filters apply to audit queries and are ignored when empty.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	Event  string
	Op     string
	Caller string // lowercase hex address
	Code   string
}

// Audit event names.
const (
	AuditCommandApplied  = "command_applied"
	AuditCommandRejected = "command_rejected"
	AuditJournalArchived = "archive.journal"
)

// AuditEntry is a single audit log row: an applied or rejected command, or
// an archive run. Command rows carry the command id, op and caller, and a
// rejected command carries its error code; Detail holds everything else.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	CommandID string         `json:"command_id,omitempty"`
	Op        string         `json:"op,omitempty"`
	Caller    string         `json:"caller,omitempty"`
	Code      string         `json:"code,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log. ID and CreatedAt of a
// logged entry are assigned by the store.
type AuditStore interface {
	Log(ctx context.Context, entry AuditEntry) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
