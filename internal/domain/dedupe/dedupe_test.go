package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	dedupe "github.com/okian/backr/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	Convey("Given a new InMemoryDeduper", t, func() {
		ctx := context.Background()

		Convey("When creating a deduper with default options", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("Then it should be empty", func() {
				So(d, ShouldNotBeNil)
				So(d.Size(), ShouldEqual, 0)
			})
		})

		Convey("When recording keys", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("And the key is new", func() {
				prior, seen := d.SeenAndRecord(ctx, "key-1", "cmd-1")

				Convey("Then it should return false and record the key", func() {
					So(seen, ShouldBeFalse)
					So(prior, ShouldBeEmpty)
					So(d.Size(), ShouldEqual, 1)
				})
			})

			Convey("And the key was already seen", func() {
				d.SeenAndRecord(ctx, "key-1", "cmd-1")
				prior, seen := d.SeenAndRecord(ctx, "key-1", "cmd-2")

				Convey("Then it should return the first value", func() {
					So(seen, ShouldBeTrue)
					So(prior, ShouldEqual, "cmd-1")
					So(d.Size(), ShouldEqual, 1)
				})
			})

			Convey("And the key is unrecorded", func() {
				d.SeenAndRecord(ctx, "key-1", "cmd-1")
				d.Unrecord(ctx, "key-1")
				d.Unrecord(ctx, "missing")
				_, seen := d.SeenAndRecord(ctx, "key-1", "cmd-2")

				Convey("Then it can be recorded again", func() {
					So(seen, ShouldBeFalse)
					So(d.Size(), ShouldEqual, 1)
				})
			})
		})

		Convey("When the deduper is bounded", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
			for i := 0; i < 5; i++ {
				d.SeenAndRecord(ctx, fmt.Sprintf("key-%d", i), fmt.Sprintf("cmd-%d", i))
			}

			Convey("Then the oldest keys are evicted", func() {
				So(d.Size(), ShouldEqual, 3)
				_, seen0 := d.SeenAndRecord(ctx, "key-0", "again")
				So(seen0, ShouldBeFalse)
				prior, seen4 := d.SeenAndRecord(ctx, "key-4", "again")
				So(seen4, ShouldBeTrue)
				So(prior, ShouldEqual, "cmd-4")
			})
		})

		Convey("When the deduper is unbounded", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
			for i := 0; i < 100; i++ {
				d.SeenAndRecord(ctx, fmt.Sprintf("key-%d", i), "v")
			}

			Convey("Then nothing is evicted", func() {
				So(d.Size(), ShouldEqual, 100)
			})
		})

		Convey("When many goroutines race on one key", func() {
			d := dedupe.NewInMemoryDeduper()
			var wg sync.WaitGroup
			var mu sync.Mutex
			fresh := 0
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					if _, seen := d.SeenAndRecord(ctx, "shared", fmt.Sprintf("cmd-%d", i)); !seen {
						mu.Lock()
						fresh++
						mu.Unlock()
					}
				}(i)
			}
			wg.Wait()

			Convey("Then exactly one records it", func() {
				So(fresh, ShouldEqual, 1)
				So(d.Size(), ShouldEqual, 1)
			})
		})
	})
}
