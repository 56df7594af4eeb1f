package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/groupmarket/internal/command"
	"github.com/alanyoungcy/groupmarket/internal/domain"
)

const (
	defaultBatchSize = 1000
	jsonlContentType = "application/x-ndjson"
	maxLineSize      = 1 << 20
)

// JournalArchiver implements domain.Archiver. It copies journaled commands
// older than a cutoff to object storage as JSONL, checks the object landed,
// and only then marks the rows archived. Rows are never deleted from the
// journal, so replay keeps working from Postgres alone.
type JournalArchiver struct {
	journal   command.Journal
	writer    domain.BlobWriter
	reader    domain.BlobReader
	audit     domain.AuditStore
	batchSize int
	logger    *slog.Logger
}

// NewJournalArchiver creates a JournalArchiver. A batchSize <= 0 uses 1000
// commands per object.
func NewJournalArchiver(
	journal command.Journal,
	writer domain.BlobWriter,
	reader domain.BlobReader,
	audit domain.AuditStore,
	batchSize int,
	logger *slog.Logger,
) *JournalArchiver {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &JournalArchiver{
		journal:   journal,
		writer:    writer,
		reader:    reader,
		audit:     audit,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "journal_archiver")),
	}
}

// ArchiveJournal exports every unarchived command stamped before the cutoff
// and returns how many were archived.
func (a *JournalArchiver) ArchiveJournal(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for {
		cmds, err := a.journal.ListUnarchived(ctx, before, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive journal query: %w", err)
		}
		if len(cmds) == 0 {
			break
		}

		n, err := a.archiveBatch(ctx, cmds)
		total += n
		if err != nil {
			return total, err
		}
		if len(cmds) < a.batchSize {
			break
		}
	}

	if total > 0 {
		a.logger.InfoContext(ctx, "journal archived",
			slog.Int64("commands", total),
			slog.Time("before", before),
		)
	}
	return total, nil
}

func (a *JournalArchiver) archiveBatch(ctx context.Context, cmds []command.Command) (int64, error) {
	first, last := cmds[0], cmds[len(cmds)-1]

	buf, err := marshalJSONL(cmds)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive journal marshal: %w", err)
	}

	path := JournalPath(first.At, first.Seq, last.Seq)

	// An earlier pass may have uploaded this batch and then failed to mark
	// it; the object is reused rather than written twice.
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive journal exists: %w", err)
	}
	if !exists {
		if int64(len(buf)) > minPartSize {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
		}
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive journal upload: %w", err)
		}
	}

	stored, err := a.ReadArchive(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive journal verify: %w", err)
	}
	if len(stored) != len(cmds) || stored[len(stored)-1].Seq != last.Seq {
		return 0, fmt.Errorf("s3blob: archive journal verify %s: have %d commands, want %d", path, len(stored), len(cmds))
	}

	marked, err := a.journal.MarkArchived(ctx, last.Seq)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive journal mark: %w", err)
	}

	// Audit log.
	if err := a.audit.Log(ctx, domain.AuditEntry{
		Event: domain.AuditJournalArchived,
		Detail: map[string]any{
			"path":     path,
			"from_seq": first.Seq,
			"to_seq":   last.Seq,
			"count":    len(cmds),
			"marked":   marked,
			"reused":   exists,
		},
	}); err != nil {
		a.logger.WarnContext(ctx, "audit log failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
	return int64(len(cmds)), nil
}

// ReadArchive loads the commands stored in one archive object.
func (a *JournalArchiver) ReadArchive(ctx context.Context, path string) ([]command.Command, error) {
	rc, err := a.reader.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var cmds []command.Command
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		var c command.Command
		if err := json.Unmarshal(sc.Bytes(), &c); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, len(cmds)+1, err)
		}
		cmds = append(cmds, c)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cmds, nil
}

// Archives lists the journal archive objects already in the bucket.
func (a *JournalArchiver) Archives(ctx context.Context) ([]domain.BlobInfo, error) {
	infos, err := a.reader.List(ctx, journalPrefix)
	if err != nil {
		return nil, fmt.Errorf("s3blob: list journal archives: %w", err)
	}
	return infos, nil
}

const journalPrefix = "journal/"

// JournalPath builds the object key for a batch of commands, partitioned by
// the day of the first command.
//
//	journal/2025/01/31/commands-101-200.jsonl
func JournalPath(day time.Time, fromSeq, toSeq int64) string {
	return fmt.Sprintf("%s%s/commands-%d-%d.jsonl", journalPrefix, day.UTC().Format("2006/01/02"), fromSeq, toSeq)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*JournalArchiver)(nil)
