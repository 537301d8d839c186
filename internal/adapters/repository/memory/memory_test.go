package memory_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/backr/internal/adapters/repository"
	"github.com/okian/backr/internal/adapters/repository/memory"
	"github.com/okian/backr/internal/adapters/repository/storetest"
	"github.com/okian/backr/internal/domain/model"
	"github.com/okian/backr/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

func TestMemoryStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store {
		s, err := memory.New()
		if err != nil {
			t.Fatalf("new store: %v", err)
		}
		return s
	})
}

func TestMemoryStoreOffline(t *testing.T) {
	Convey("Given a memory store with a live subscription", t, func() {
		ctx := context.Background()
		s, err := memory.New()
		So(err, ShouldBeNil)
		Reset(func() { _ = s.Close() })

		sub, err := s.Subscribe(ctx, repository.CollectionEvents, nil)
		So(err, ShouldBeNil)
		Reset(sub.Close)
		So(storetest.Next(sub), ShouldBeEmpty)

		Convey("When the store goes offline", func() {
			s.SetOnline(false)

			Convey("Then the subscription reports a transport error", func() {
				select {
				case err := <-sub.Err():
					So(errors.Is(err, model.ErrTransport), ShouldBeTrue)
				case <-time.After(storetest.Timeout):
					So("no error delivered", ShouldBeEmpty)
				}
			})

			Convey("Then calls fail with ErrTransport", func() {
				_, _, err := s.Create(ctx, repository.CollectionEvents, "x", nil)
				So(errors.Is(err, model.ErrTransport), ShouldBeTrue)
				_, err = s.Subscribe(ctx, repository.CollectionEvents, nil)
				So(errors.Is(err, model.ErrTransport), ShouldBeTrue)
			})

			Convey("And back online", func() {
				s.SetOnline(true)

				Convey("Then new subscriptions work again", func() {
					again, err := s.Subscribe(ctx, repository.CollectionEvents, nil)
					So(err, ShouldBeNil)
					again.Close()
				})
			})
		})

		Convey("When the store is closed", func() {
			So(s.Close(), ShouldBeNil)

			Convey("Then calls fail with ErrTransport", func() {
				_, err := s.Get(ctx, repository.CollectionEvents, "x")
				So(errors.Is(err, model.ErrTransport), ShouldBeTrue)
			})
		})
	})
}

func TestMemoryStoreSnapshot(t *testing.T) {
	Convey("Given a store persisted to a snapshot file", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "backr.snap")
		s, err := memory.New(memory.WithSnapshotPath(path), memory.WithSnapshotInterval(time.Hour))
		So(err, ShouldBeNil)

		_, _, err = s.Create(ctx, repository.CollectionEvents, "ev-1", map[string]any{"title": "Final", "quota": 2})
		So(err, ShouldBeNil)
		_, err = s.Put(ctx, repository.CollectionEvents, "ev-1", map[string]any{"open": true})
		So(err, ShouldBeNil)
		_, _, err = s.Create(ctx, repository.CollectionBackings, "b-1", map[string]any{"eventId": "ev-1"})
		So(err, ShouldBeNil)

		Convey("When it is closed and reopened", func() {
			So(s.Close(), ShouldBeNil)
			reopened, err := memory.New(memory.WithSnapshotPath(path))
			So(err, ShouldBeNil)
			Reset(func() { _ = reopened.Close() })

			Convey("Then documents, versions and ordering survive", func() {
				ev, err := reopened.Get(ctx, repository.CollectionEvents, "ev-1")
				So(err, ShouldBeNil)
				So(ev.String("title"), ShouldEqual, "Final")
				So(ev.Int("quota"), ShouldEqual, 2)
				So(ev.Bool("open"), ShouldBeTrue)
				So(ev.Version, ShouldEqual, 2)

				doc, created, err := reopened.Create(ctx, repository.CollectionBackings, "b-2", map[string]any{"eventId": "ev-1"})
				So(err, ShouldBeNil)
				So(created, ShouldBeTrue)
				So(doc.Seq, ShouldBeGreaterThan, ev.Seq)
			})
		})
	})
}
