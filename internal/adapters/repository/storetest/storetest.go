// Package storetest holds the behaviour every repository.Store must show.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/backr/internal/adapters/repository"
	"github.com/okian/backr/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) repository.Store

// Timeout bounds every wait on a subscription.
const Timeout = 2 * time.Second

// Run exercises store against the repository.Store contract.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	Convey("Given an empty store", t, func() {
		ctx := context.Background()
		store := newStore(t)
		Reset(func() { _ = store.Close() })

		Convey("When getting a missing document", func() {
			_, err := store.Get(ctx, repository.CollectionEvents, "nope")

			Convey("Then it reports not found", func() {
				So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When creating a document", func() {
			doc, created, err := store.Create(ctx, repository.CollectionEvents, "ev-1", map[string]any{
				"title": "Final", "open": true, "quota": 3,
			})

			Convey("Then it is stored with normalized fields", func() {
				So(err, ShouldBeNil)
				So(created, ShouldBeTrue)
				So(doc.ID, ShouldEqual, "ev-1")
				So(doc.Version, ShouldEqual, 1)
				So(doc.Seq, ShouldBeGreaterThan, 0)

				got, err := store.Get(ctx, repository.CollectionEvents, "ev-1")
				So(err, ShouldBeNil)
				So(got.String("title"), ShouldEqual, "Final")
				So(got.Bool("open"), ShouldBeTrue)
				So(got.Int("quota"), ShouldEqual, 3)
			})

			Convey("And creating the same id again", func() {
				again, created, err := store.Create(ctx, repository.CollectionEvents, "ev-1", map[string]any{"title": "Other"})

				Convey("Then the original is kept and returned", func() {
					So(err, ShouldBeNil)
					So(created, ShouldBeFalse)
					So(again.String("title"), ShouldEqual, "Final")
					So(again.Seq, ShouldEqual, doc.Seq)
				})
			})

			Convey("And merging a field with Put", func() {
				merged, err := store.Put(ctx, repository.CollectionEvents, "ev-1", map[string]any{"open": false})

				Convey("Then only that field changes", func() {
					So(err, ShouldBeNil)
					So(merged.Bool("open"), ShouldBeFalse)
					So(merged.String("title"), ShouldEqual, "Final")
					So(merged.Int("quota"), ShouldEqual, 3)
					So(merged.Version, ShouldEqual, 2)
					So(merged.Seq, ShouldEqual, doc.Seq)
				})
			})
		})

		Convey("When putting a new document", func() {
			doc, err := store.Put(ctx, repository.CollectionManagedParticipants, "m-1", map[string]any{"eventId": "E", "points": -4})

			Convey("Then Put creates it", func() {
				So(err, ShouldBeNil)
				So(doc.Version, ShouldEqual, 1)
				So(doc.Int("points"), ShouldEqual, -4)
			})
		})

		Convey("When documents of several events are stored", func() {
			for i, ev := range []string{"E", "F", "E", "E"} {
				_, _, err := store.Create(ctx, repository.CollectionParticipations, fmt.Sprintf("p-%d", i), map[string]any{
					"eventId": ev, "userId": fmt.Sprintf("u%d", i),
				})
				So(err, ShouldBeNil)
			}

			Convey("Then List filters and keeps insertion order", func() {
				docs, err := store.List(ctx, repository.CollectionParticipations, repository.Filter{"eventId": "E"})
				So(err, ShouldBeNil)
				So(len(docs), ShouldEqual, 3)
				So(docs[0].ID, ShouldEqual, "p-0")
				So(docs[1].ID, ShouldEqual, "p-2")
				So(docs[2].ID, ShouldEqual, "p-3")
			})

			Convey("Then a conjunction narrows further", func() {
				docs, err := store.List(ctx, repository.CollectionParticipations, repository.Filter{"eventId": "E", "userId": "u2"})
				So(err, ShouldBeNil)
				So(len(docs), ShouldEqual, 1)
				So(docs[0].ID, ShouldEqual, "p-2")
			})

			Convey("Then the id key selects one document", func() {
				docs, err := store.List(ctx, repository.CollectionParticipations, repository.Filter{repository.KeyID: "p-1"})
				So(err, ShouldBeNil)
				So(len(docs), ShouldEqual, 1)
				So(docs[0].String("eventId"), ShouldEqual, "F")
			})

			Convey("Then Count agrees with List", func() {
				n, err := store.Count(ctx, repository.CollectionParticipations, repository.Filter{"eventId": "E"})
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 3)
				all, err := store.Count(ctx, repository.CollectionParticipations, nil)
				So(err, ShouldBeNil)
				So(all, ShouldEqual, 4)
			})

			Convey("Then an unknown collection is empty", func() {
				docs, err := store.List(ctx, "nothing", nil)
				So(err, ShouldBeNil)
				So(docs, ShouldBeEmpty)
			})
		})

		Convey("When many goroutines create the same id", func() {
			var wg sync.WaitGroup
			var createdCount atomic.Int32
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, created, err := store.Create(ctx, repository.CollectionBackings, "b-1", map[string]any{"eventId": "E", "n": i})
					if err == nil && created {
						createdCount.Add(1)
					}
				}(i)
			}
			wg.Wait()

			Convey("Then exactly one insert wins", func() {
				So(createdCount.Load(), ShouldEqual, 1)
				n, err := store.Count(ctx, repository.CollectionBackings, repository.Filter{"eventId": "E"})
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
			})
		})

		Convey("When subscribing to a filtered collection", func() {
			_, _, err := store.Create(ctx, repository.CollectionBackings, "b-0", map[string]any{"eventId": "E"})
			So(err, ShouldBeNil)

			sub, err := store.Subscribe(ctx, repository.CollectionBackings, repository.Filter{"eventId": "E"})
			So(err, ShouldBeNil)
			Reset(sub.Close)

			Convey("Then the current snapshot arrives immediately", func() {
				docs := Next(sub)
				So(len(docs), ShouldEqual, 1)
				So(docs[0].ID, ShouldEqual, "b-0")
			})

			Convey("Then a matching change delivers a new snapshot", func() {
				So(len(Next(sub)), ShouldEqual, 1)
				_, _, err := store.Create(ctx, repository.CollectionBackings, "b-1", map[string]any{"eventId": "E"})
				So(err, ShouldBeNil)

				docs := Next(sub)
				So(len(docs), ShouldEqual, 2)
				So(docs[1].ID, ShouldEqual, "b-1")
			})

			Convey("Then a change outside the filter delivers nothing", func() {
				So(len(Next(sub)), ShouldEqual, 1)
				_, _, err := store.Create(ctx, repository.CollectionBackings, "b-2", map[string]any{"eventId": "F"})
				So(err, ShouldBeNil)

				select {
				case docs := <-sub.Snapshots():
					So(docs, ShouldBeNil)
				case <-time.After(200 * time.Millisecond):
				}
			})

			Convey("Then nothing arrives after Close", func() {
				So(len(Next(sub)), ShouldEqual, 1)
				sub.Close()
				_, _, err := store.Create(ctx, repository.CollectionBackings, "b-3", map[string]any{"eventId": "E"})
				So(err, ShouldBeNil)

				select {
				case docs := <-sub.Snapshots():
					So(docs, ShouldBeNil)
				case <-time.After(200 * time.Millisecond):
				}
			})
		})

		Convey("When a field value has an unsupported type", func() {
			_, _, err := store.Create(ctx, repository.CollectionEvents, "bad", map[string]any{"x": []int{1}})

			Convey("Then it is rejected as invalid", func() {
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			})
		})
	})
}

// Next waits for the next snapshot on sub. It returns nil on timeout or
// stream failure.
func Next(sub repository.Subscription) []repository.Document {
	select {
	case docs := <-sub.Snapshots():
		return docs
	case <-sub.Err():
		return nil
	case <-time.After(Timeout):
		return nil
	}
}
