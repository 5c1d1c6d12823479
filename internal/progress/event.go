package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage names the milestone an Event records.
type Stage string

// Batch lifecycle stages.
const (
	StageBatchStart  Stage = "BATCH_START"
	StageBatchDone   Stage = "BATCH_DONE"
	StageBatchPaused Stage = "BATCH_PAUSED"
	StageBatchError  Stage = "BATCH_ERROR"
)

// Per-URL stages, one per persisted result phase plus the decode marker.
const (
	StageCrawlStarted     Stage = "CRAWL_STARTED"
	StageCrawlCrawled     Stage = "CRAWL_CRAWLED"
	StageCrawlFinished    Stage = "CRAWL_FINISHED"
	StageCrawlFailed      Stage = "CRAWL_FAILED"
	StageCrawlDecodeError Stage = "CRAWL_DECODE_ERROR"
)

// IsBatch reports whether s is a batch lifecycle stage.
func (s Stage) IsBatch() bool {
	switch s {
	case StageBatchStart, StageBatchDone, StageBatchPaused, StageBatchError:
		return true
	}
	return false
}

// IsCrawl reports whether s is a per-URL stage.
func (s Stage) IsCrawl() bool {
	switch s {
	case StageCrawlStarted, StageCrawlCrawled, StageCrawlFinished, StageCrawlFailed, StageCrawlDecodeError:
		return true
	}
	return false
}

// Event is one progress milestone.
type Event struct {
	// RunID is the batch run the event belongs to. Single crawls outside a
	// batch leave it zero.
	RunID [16]byte
	TS    time.Time
	Stage Stage
	// URL and Type identify the target for crawl stages.
	URL  string
	Type string
	// Backend is the extraction backend that produced content, if any.
	Backend string
	// Total is the target count announced by BATCH_START.
	Total int
	// Dur is the elapsed time for terminal stages.
	Dur time.Duration
	// Note carries low-volume context such as an error message.
	Note string
}

// Validate rejects events the sinks cannot interpret.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch {
	case e.Stage.IsBatch():
		if e.RunID == [16]byte{} {
			return fmt.Errorf("%s requires run id", e.Stage)
		}
		if e.Total < 0 {
			return errors.New("total must be >= 0")
		}
	case e.Stage.IsCrawl():
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts RunID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// HasRun reports whether the event is tied to a batch run.
func (e Event) HasRun() bool {
	return e.RunID != [16]byte{}
}

// UUIDToBytes encodes id into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

type runKey struct{}

// WithRunID tags ctx so events emitted below it carry runID.
func WithRunID(ctx context.Context, runID uuid.UUID) context.Context {
	return context.WithValue(ctx, runKey{}, UUIDToBytes(runID))
}

// RunIDFrom returns the run id stored by WithRunID, or the zero id.
func RunIDFrom(ctx context.Context) [16]byte {
	if ctx == nil {
		return [16]byte{}
	}
	id, _ := ctx.Value(runKey{}).([16]byte)
	return id
}
