package service

import (
	"context"
	"errors"

	"github.com/okian/palate/internal/adapters/mq/queue"
	"github.com/okian/palate/internal/domain/dedupe"
	"github.com/okian/palate/internal/domain/model"
	"github.com/okian/palate/pkg/logger"
	"github.com/okian/palate/pkg/metrics"
)

// Reaction is a user's response to someone else's note.
type Reaction string

// Known reactions. Only echo and diverge carry a rating of their own.
const (
	ReactionEcho     Reaction = "echo"
	ReactionDiverge  Reaction = "diverge"
	ReactionBookmark Reaction = "bookmark"
)

// Signal is a persisted reaction from SenderID on a note by AuthorID.
type Signal struct {
	SenderID string         `json:"sender_id" validate:"required"`
	AuthorID string         `json:"author_id" validate:"required"`
	NoteType model.NoteType `json:"note_type" validate:"required"`
	Reaction Reaction       `json:"reaction" validate:"required"`
}

// Disposition is what the trigger did with a signal.
type Disposition string

// Signal dispositions.
const (
	DispositionAccepted  Disposition = "accepted"
	DispositionCoalesced Disposition = "coalesced"
	DispositionIgnored   Disposition = "ignored"
	DispositionDropped   Disposition = "dropped"
)

// Trigger turns qualifying signals into queued pair jobs. It never blocks
// the caller on the recompute itself.
type Trigger struct {
	queue     queue.Queue
	coalescer dedupe.Coalescer
	logger    logger.Logger
}

// Submit classifies and enqueues sig.
func (t *Trigger) Submit(ctx context.Context, sig Signal) Disposition {
	d := t.submit(ctx, sig)
	metrics.RecordSignal(string(d))
	return d
}

func (t *Trigger) submit(ctx context.Context, sig Signal) Disposition {
	if sig.Reaction != ReactionEcho && sig.Reaction != ReactionDiverge {
		return DispositionIgnored
	}
	if sig.SenderID == "" || sig.AuthorID == "" || sig.SenderID == sig.AuthorID {
		return DispositionIgnored
	}
	c, ok := model.CategoryForNoteType(sig.NoteType)
	if !ok {
		return DispositionIgnored
	}

	job := queue.PairJob{UserA: sig.SenderID, UserB: sig.AuthorID, Category: c}
	key := job.Key()
	if t.coalescer.SeenAndRecord(ctx, key) {
		return DispositionCoalesced
	}
	if err := t.queue.Enqueue(ctx, job); err != nil {
		t.coalescer.Unrecord(ctx, key)
		if errors.Is(err, queue.ErrFull) {
			t.logger.Warn(ctx, "recompute queue full, dropping job",
				logger.String("pair", key), logger.Int("capacity", t.queue.Cap()))
		} else {
			t.logger.Warn(ctx, "recompute job not enqueued", logger.String("pair", key), logger.Error(err))
		}
		return DispositionDropped
	}
	return DispositionAccepted
}

// OnSignal reports whether a recompute for the signal's pair is now pending.
func (t *Trigger) OnSignal(ctx context.Context, sig Signal) bool {
	switch t.Submit(ctx, sig) {
	case DispositionAccepted, DispositionCoalesced:
		return true
	}
	return false
}
