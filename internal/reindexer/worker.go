package reindexer

import "context"

// OutcomeKind tags the result of one Worker call.
type OutcomeKind int

const (
	// OutcomeDone means every document of the type was visited.
	OutcomeDone OutcomeKind = iota + 1
	// OutcomeProgress means a batch was visited; call again from Cursor.
	OutcomeProgress
	// OutcomeFailed means the type cannot be reindexed; Message says why.
	OutcomeFailed
	// OutcomeInterrupted means the worker saw cancellation and stopped at Cursor.
	OutcomeInterrupted
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDone:
		return "done"
	case OutcomeProgress:
		return "progress"
	case OutcomeFailed:
		return "failed"
	case OutcomeInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of Worker.Reindex.
type Outcome struct {
	Kind    OutcomeKind
	Cursor  string
	Message string
}

func Done() Outcome                    { return Outcome{Kind: OutcomeDone} }
func Progressed(cursor string) Outcome { return Outcome{Kind: OutcomeProgress, Cursor: cursor} }
func Failed(message string) Outcome    { return Outcome{Kind: OutcomeFailed, Message: message} }
func Interrupted(cursor string) Outcome {
	return Outcome{Kind: OutcomeInterrupted, Cursor: cursor}
}

// Worker visits and re-feeds the documents of one type, one batch per call,
// resuming after cursor. It must poll ctx between batches and return
// Interrupted with its position once ctx is done. It may revisit documents;
// re-feeding is idempotent.
//
// A non-nil error is an infrastructure failure that a later call may not
// hit again. The type stays running and is resumed on a later tick.
type Worker interface {
	Reindex(ctx context.Context, typ DocumentType, cursor string) (Outcome, error)
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc func(ctx context.Context, typ DocumentType, cursor string) (Outcome, error)

func (f WorkerFunc) Reindex(ctx context.Context, typ DocumentType, cursor string) (Outcome, error) {
	return f(ctx, typ, cursor)
}
