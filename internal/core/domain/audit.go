package domain

import (
	"sync"
	"time"
)

const DefaultAuditLogSize = 100

type AuditOperation string

const (
	AuditDecrypt AuditOperation = "decrypt"
	AuditSign    AuditOperation = "sign"
	AuditExpire  AuditOperation = "expire"
	AuditClear   AuditOperation = "clear"
)

type AuditLogEntry struct {
	Timestamp  time.Time
	Operation  AuditOperation
	Success    bool
	ErrorClass string
}

// AuditLog is an append-only ring buffer of custody operations. Once full,
// the oldest entries are dropped.
type AuditLog struct {
	lock    *sync.Mutex
	entries []AuditLogEntry
	next    int
	full    bool
	now     func() time.Time
}

func NewAuditLog(size int) *AuditLog {
	if size <= 0 {
		size = DefaultAuditLogSize
	}
	return &AuditLog{
		lock:    &sync.Mutex{},
		entries: make([]AuditLogEntry, size),
		now:     time.Now,
	}
}

// WithClock replaces the time source used to stamp entries.
func (l *AuditLog) WithClock(now func() time.Time) *AuditLog {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.now = now
	return l
}

func (l *AuditLog) Append(op AuditOperation, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.entries[l.next] = AuditLogEntry{
		Timestamp:  l.now(),
		Operation:  op,
		Success:    err == nil,
		ErrorClass: ErrorClass(err),
	}
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
}

// Entries returns a copy of the log, oldest first.
func (l *AuditLog) Entries() []AuditLogEntry {
	l.lock.Lock()
	defer l.lock.Unlock()

	if !l.full {
		return append([]AuditLogEntry{}, l.entries[:l.next]...)
	}
	out := make([]AuditLogEntry, 0, len(l.entries))
	out = append(out, l.entries[l.next:]...)
	return append(out, l.entries[:l.next]...)
}

func (l *AuditLog) Len() int {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.full {
		return len(l.entries)
	}
	return l.next
}
