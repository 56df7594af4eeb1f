package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/groupmarket/internal/command"
	"github.com/alanyoungcy/groupmarket/internal/domain"
)

type memJournal struct {
	mu       sync.Mutex
	cmds     []command.Command
	archived int64
	failNext error
}

func (j *memJournal) Append(_ context.Context, cmd command.Command) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.failNext != nil {
		err := j.failNext
		j.failNext = nil
		return 0, err
	}
	cmd.Seq = int64(len(j.cmds) + 1)
	j.cmds = append(j.cmds, cmd)
	return cmd.Seq, nil
}

func (j *memJournal) Stream(ctx context.Context, afterSeq int64, fn func(command.Command) error) error {
	j.mu.Lock()
	cmds := append([]command.Command(nil), j.cmds...)
	j.mu.Unlock()
	for _, c := range cmds {
		if c.Seq <= afterSeq {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func (j *memJournal) ListUnarchived(_ context.Context, before time.Time, limit int) ([]command.Command, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []command.Command
	for _, c := range j.cmds {
		if c.Seq <= j.archived || !c.At.Before(before) {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (j *memJournal) MarkArchived(_ context.Context, throughSeq int64) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := throughSeq - j.archived
	if n < 0 {
		n = 0
	}
	j.archived = max(j.archived, throughSeq)
	return n, nil
}

func (j *memJournal) LastSeq(context.Context) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return int64(len(j.cmds)), nil
}

func (j *memJournal) len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.cmds)
}

type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *memAudit) Log(_ context.Context, e domain.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	e.ID = int64(len(a.entries) + 1)
	a.entries = append(a.entries, e)
	return nil
}

func (a *memAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := append([]domain.AuditEntry(nil), a.entries...)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (a *memAudit) last() domain.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.entries[len(a.entries)-1]
}

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streams   map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{published: map[string][][]byte{}, streams: map[string][][]byte{}}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *memBus) StreamRead(_ context.Context, stream string, _ string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for i, p := range b.streams[stream] {
		if count > 0 && len(out) == count {
			break
		}
		out = append(out, domain.StreamMessage{ID: strconv.Itoa(i), Payload: p})
	}
	return out, nil
}

type memCache struct {
	mu          sync.Mutex
	entries     map[string][]byte
	invalidated []string
}

func newMemCache() *memCache { return &memCache{entries: map[string][]byte{}} }

func (c *memCache) Set(_ context.Context, key string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = payload
	return nil
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key], nil
}

func (c *memCache) Invalidate(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	c.invalidated = append(c.invalidated, keys...)
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

type sentNote struct {
	event, title, message string
}

type memNotifier struct {
	mu   sync.Mutex
	sent []sentNote
}

func (n *memNotifier) Notify(_ context.Context, event, title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNote{event: event, title: title, message: message})
	return nil
}
