//go:build property

package watcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestDebouncerProperties validates the batching of the debouncer
func TestDebouncerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(9876)
	parameters.MinSuccessfulTests = 30

	properties := gopter.NewProperties(parameters)

	properties.Property("a burst yields one batch with one event per path", prop.ForAll(
		func(changes, files int) bool {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			d := NewDebouncer(20 * time.Millisecond)
			go d.Run(ctx)

			for i := 0; i < changes; i++ {
				d.Add(ctx, ChangeEvent{Type: EventTypeModified, Path: fmt.Sprintf("f%d.html", i%files)})
			}

			want := files
			if changes < files {
				want = changes
			}
			select {
			case events := <-d.Output():
				for i := 1; i < len(events); i++ {
					if events[i-1].Path >= events[i].Path {
						return false
					}
				}
				return len(events) == want
			case <-time.After(2 * time.Second):
				return false
			}
		},
		gen.IntRange(1, 50),
		gen.IntRange(1, 10),
	))

	properties.Property("filters never accept hidden paths", prop.ForAll(
		func(dir, name string) bool {
			return !NoHiddenFilter(dir+"/."+name) && !NoHiddenFilter("."+dir+"/"+name)
		},
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}
