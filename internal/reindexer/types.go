// Package reindexer drives reindexing of document types across a fleet of
// identically configured processes. Every process schedules ticks on its
// own slot; a tick only does work while holding the tenant's coordination
// lock, so at most one process reindexes at a time.
package reindexer

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// DocumentType is a handle to a registered document type. Name is stable
// and used as the persistence key.
type DocumentType struct {
	Name string
}

func (d DocumentType) String() string { return d.Name }

// Cluster describes the content cluster being reindexed.
type Cluster struct {
	Name     string
	ConfigID string
	// BucketSpaces maps each document type in the cluster to its bucket space.
	BucketSpaces map[DocumentType]string
}

// BucketSpaceOf returns the bucket space of typ, or false if typ is not
// part of the cluster.
func (c Cluster) BucketSpaceOf(typ DocumentType) (string, bool) {
	space, ok := c.BucketSpaces[typ]
	return space, ok
}

// ReadyMap holds, per document type, the instant after which it should be
// reindexed. Moving an instant later starts a new reindexing cycle.
type ReadyMap map[DocumentType]time.Time

// readyType is one entry of a ReadyMap in processing order.
type readyType struct {
	typ     DocumentType
	readyAt time.Time
}

// ordered returns the entries ready at now, sorted by ready instant and then name.
func (m ReadyMap) ordered(now time.Time) []readyType {
	out := make([]readyType, 0, len(m))
	for typ, at := range m {
		if now.Before(at) {
			continue
		}
		out = append(out, readyType{typ: typ, readyAt: at})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].readyAt.Equal(out[j].readyAt) {
			return out[i].readyAt.Before(out[j].readyAt)
		}
		return out[i].typ.Name < out[j].typ.Name
	})
	return out
}

// ProgressState is the lifecycle state of one document type's reindexing.
type ProgressState string

const (
	StatePending    ProgressState = "PENDING"
	StateRunning    ProgressState = "RUNNING"
	StateSuccessful ProgressState = "SUCCESSFUL"
	StateFailed     ProgressState = "FAILED"
)

// Valid reports whether s is a known state.
func (s ProgressState) Valid() bool {
	switch s {
	case StatePending, StateRunning, StateSuccessful, StateFailed:
		return true
	}
	return false
}

// Terminal reports whether s ends a cycle.
func (s ProgressState) Terminal() bool {
	return s == StateSuccessful || s == StateFailed
}

// ErrInvalidTransition is returned when a Progress is moved along an edge
// its state machine does not have.
var ErrInvalidTransition = errors.New("invalid progress transition")

// Progress records how far reindexing of one document type has come.
//
//	PENDING -> RUNNING -> SUCCESSFUL
//	              |  ^-- resumed from Cursor after a restart
//	              +-> FAILED
//
// Terminal states only go back to PENDING through Reset, when the type's
// ready instant moves past StartedAt.
type Progress struct {
	State     ProgressState
	StartedAt *time.Time
	EndedAt   *time.Time
	Cursor    string
	Message   *string

	extra fields
}

// NewProgress returns a pending record.
func NewProgress() *Progress {
	return &Progress{State: StatePending}
}

// Start moves a pending record to RUNNING. Starting a running record is a
// no-op so a new leader resumes where the last one stopped.
func (p *Progress) Start(now time.Time) error {
	switch p.State {
	case StateRunning:
		return nil
	case StatePending:
		p.State = StateRunning
		p.StartedAt = timePtr(now)
		p.EndedAt = nil
		p.Message = nil
		return nil
	}
	return p.invalid("start")
}

// Advance records a new cursor on a running record.
func (p *Progress) Advance(cursor string) error {
	if p.State != StateRunning {
		return p.invalid("advance")
	}
	p.Cursor = cursor
	return nil
}

// Succeed completes a running record and clears its cursor.
func (p *Progress) Succeed(now time.Time) error {
	if p.State != StateRunning {
		return p.invalid("succeed")
	}
	p.State = StateSuccessful
	p.EndedAt = timePtr(now)
	p.Cursor = ""
	p.Message = nil
	return nil
}

// Fail ends a running record with a diagnostic message.
func (p *Progress) Fail(now time.Time, message string) error {
	if p.State != StateRunning {
		return p.invalid("fail")
	}
	p.State = StateFailed
	p.EndedAt = timePtr(now)
	p.Message = &message
	return nil
}

// Reset starts a new cycle. Unknown persisted fields survive.
func (p *Progress) Reset() {
	p.State = StatePending
	p.StartedAt = nil
	p.EndedAt = nil
	p.Cursor = ""
	p.Message = nil
}

// StaleFor reports whether the record belongs to a cycle older than readyAt.
func (p *Progress) StaleFor(readyAt time.Time) bool {
	return p.StartedAt != nil && p.StartedAt.Before(readyAt)
}

func (p *Progress) invalid(op string) error {
	return fmt.Errorf("%w: cannot %s from %s", ErrInvalidTransition, op, p.State)
}

func timePtr(t time.Time) *time.Time {
	t = time.UnixMilli(t.UnixMilli()).UTC()
	return &t
}
