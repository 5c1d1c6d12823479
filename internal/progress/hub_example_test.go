package progress

import (
	"context"
	"fmt"
	"time"
)

// ExampleHub_Emit shows events reaching a sink once the hub is closed.
func ExampleHub_Emit() {
	finished := 0
	count := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Stage == StageCrawlFinished {
				finished++
			}
		}
		return nil
	})
	hub := NewHub(Config{MaxBatchEvents: 10, MaxBatchWait: time.Second}, nil, count)

	for _, stage := range []Stage{StageCrawlStarted, StageCrawlCrawled, StageCrawlFinished} {
		hub.Emit(Event{TS: time.Unix(0, 0), Stage: stage, URL: "https://example.com"})
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("finished: %d\n", finished)
	// Output:
	// finished: 1
}
