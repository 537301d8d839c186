package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/okian/backr/internal/adapters/repository/memory"
	"github.com/okian/backr/internal/adapters/session"
	service "github.com/okian/backr/internal/app"
	"github.com/okian/backr/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// waitView reads updates until cond holds or the deadline passes.
func waitView(v *service.View, cond func(service.ViewSnapshot) bool) (service.ViewSnapshot, bool) {
	if snap := v.Current(); cond(snap) {
		return snap, true
	}
	timeout := time.After(3 * time.Second)
	for {
		select {
		case snap, ok := <-v.Updates():
			if !ok {
				return v.Current(), false
			}
			if cond(snap) {
				return snap, true
			}
		case <-timeout:
			snap := v.Current()
			return snap, cond(snap)
		}
	}
}

func live(s service.ViewSnapshot) bool { return s.State == service.ViewLive }

func TestCoordinator_PublicEvent(t *testing.T) {
	Convey("Given a live view of a public event", t, func() {
		svc, _ := newService(service.WithDebounce(5 * time.Millisecond))
		defer stop(svc)
		ctx := context.Background()

		ev, err := svc.CreateEvent(ctx, creator, publicEvent(1))
		So(err, ShouldBeNil)
		_, _ = svc.Register(ctx, ev.ID, "u1")

		who := session.NewSwitchable("voter")
		view, err := svc.OpenView(ctx, ev.ID, who)
		So(err, ShouldBeNil)
		defer view.Close()

		Convey("When the initial snapshots arrive", func() {
			snap, ok := waitView(view, live)

			Convey("Then the view is live with the zero-backing participant listed", func() {
				So(ok, ShouldBeTrue)
				So(snap.Entries, ShouldHaveLength, 1)
				So(snap.Entries[0].Score, ShouldEqual, 0)
				So(snap.Stale, ShouldBeFalse)
				So(snap.Viewer.RemainingBackings, ShouldEqual, 1)
			})
		})

		Convey("When a new participant registers and is backed", func() {
			_, ok := waitView(view, live)
			So(ok, ShouldBeTrue)
			_, _ = svc.Register(ctx, ev.ID, "u2")
			_, err := svc.Back(ctx, ev.ID, "voter", "u2")
			So(err, ShouldBeNil)

			Convey("Then the projection follows", func() {
				snap, ok := waitView(view, func(s service.ViewSnapshot) bool {
					return len(s.Entries) == 2 && s.Entries[0].Score == 1
				})
				So(ok, ShouldBeTrue)
				So(snap.Entries[0].SubjectID, ShouldEqual, "u2")
				So(snap.Viewer.QuotaReached, ShouldBeTrue)
			})
		})

		Convey("When the signed-in user changes", func() {
			_, ok := waitView(view, live)
			So(ok, ShouldBeTrue)
			who.Set(creator)

			Convey("Then the viewer state is recomputed", func() {
				snap, ok := waitView(view, func(s service.ViewSnapshot) bool { return s.Viewer.IsCreator })
				So(ok, ShouldBeTrue)
				So(snap.Viewer.UserID, ShouldEqual, creator)
			})
		})

		Convey("When the creator closes backing", func() {
			_, ok := waitView(view, live)
			So(ok, ShouldBeTrue)
			_, err := svc.SetToggle(ctx, ev.ID, model.ToggleBacking, false, creator, "")
			So(err, ShouldBeNil)

			Convey("Then the view eventually shows the new event state", func() {
				_, ok := waitView(view, func(s service.ViewSnapshot) bool { return !s.Event.BackingEnabled && s.State == service.ViewLive })
				So(ok, ShouldBeTrue)
			})
		})

		Convey("When the view is closed with a snapshot still unread", func() {
			_, ok := waitView(view, live)
			So(ok, ShouldBeTrue)
			_, _ = svc.Register(ctx, ev.ID, "u2")
			time.Sleep(50 * time.Millisecond)
			view.Close()

			Convey("Then nothing more is delivered and the view is released", func() {
				select {
				case _, ok := <-view.Updates():
					So(ok, ShouldBeFalse)
				default:
					So("updates channel left open", ShouldBeEmpty)
				}
				So(svc.GetStats()["activeViews"], ShouldEqual, 0)
			})
		})
	})
}

func TestCoordinator_StoreFailure(t *testing.T) {
	Convey("Given a live view over a store that fails", t, func() {
		store, err := memory.New()
		So(err, ShouldBeNil)
		svc := service.New(service.WithStore(store), service.WithDebounce(0), service.WithReconnectBackoff(20*time.Millisecond))
		So(svc.Start(context.Background()), ShouldBeNil)
		defer stop(svc)
		ctx := context.Background()

		ev, err := svc.CreateEvent(ctx, creator, publicEvent(2))
		So(err, ShouldBeNil)
		_, _ = svc.Register(ctx, ev.ID, "u1")

		view, err := svc.OpenView(ctx, ev.ID, nil)
		So(err, ShouldBeNil)
		defer view.Close()
		_, ok := waitView(view, live)
		So(ok, ShouldBeTrue)

		Convey("When the store goes offline", func() {
			store.SetOnline(false)

			Convey("Then the view enters Error and keeps the last projection as stale", func() {
				snap, ok := waitView(view, func(s service.ViewSnapshot) bool { return s.State == service.ViewError })
				So(ok, ShouldBeTrue)
				So(snap.Stale, ShouldBeTrue)
				So(snap.Entries, ShouldHaveLength, 1)
				So(snap.Error, ShouldNotBeEmpty)
			})

			Convey("Then it recovers once the store is back", func() {
				_, ok := waitView(view, func(s service.ViewSnapshot) bool { return s.State == service.ViewError })
				So(ok, ShouldBeTrue)
				store.SetOnline(true)

				snap, ok := waitView(view, live)
				So(ok, ShouldBeTrue)
				So(snap.Stale, ShouldBeFalse)
				So(snap.Error, ShouldBeEmpty)
			})
		})
	})
}

func TestCoordinator_ManagedEvent(t *testing.T) {
	Convey("Given a live view of an admin event", t, func() {
		svc, _ := newService()
		defer stop(svc)
		ctx := context.Background()

		ev, managed, err := svc.CreateAdminEvent(ctx, creator, service.AdminEventInput{
			Title: "Hackathon", Description: "Judged", Tag: "hack", Participants: []string{"H1", "H2"},
		})
		So(err, ShouldBeNil)
		view, err := svc.OpenView(ctx, ev.ID, nil)
		So(err, ShouldBeNil)
		defer view.Close()

		Convey("When points change", func() {
			_, _ = svc.SetPoints(ctx, ev.ID, managed[0].ID, 5, creator)
			_, _ = svc.SetPoints(ctx, ev.ID, managed[1].ID, 8, creator)

			Convey("Then the view ranks by points", func() {
				snap, ok := waitView(view, func(s service.ViewSnapshot) bool {
					return s.State == service.ViewLive && len(s.Entries) == 2 && s.Entries[0].Score == 8 && s.Entries[1].Score == 5
				})
				So(ok, ShouldBeTrue)
				So(snap.Entries[0].DisplayName, ShouldEqual, "H2")
				So(snap.Entries[0].Tier, ShouldEqual, model.TierFirst)
				So(snap.Entries[1].Tier, ShouldEqual, model.TierSecond)
			})
		})
	})
}

func TestCoordinator_UnknownEvent(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc, _ := newService()
		defer stop(svc)

		Convey("When a view of a missing event is opened", func() {
			_, err := svc.OpenView(context.Background(), "missing", nil)

			Convey("Then it is not found", func() {
				So(err, ShouldNotBeNil)
				So(model.KindOf(err), ShouldEqual, model.ErrNotFound)
			})
		})
	})
}

func TestCoordinator_Debounce(t *testing.T) {
	Convey("Given a live view with a debounce window", t, func() {
		svc, _ := newService(service.WithDebounce(100 * time.Millisecond))
		defer stop(svc)
		ctx := context.Background()

		ev, err := svc.CreateEvent(ctx, creator, publicEvent(1))
		So(err, ShouldBeNil)
		_, _ = svc.Register(ctx, ev.ID, "u1")

		view, err := svc.OpenView(ctx, ev.ID, nil)
		So(err, ShouldBeNil)
		defer view.Close()
		first, ok := waitView(view, live)
		So(ok, ShouldBeTrue)

		Convey("When a burst of registrations lands inside the window", func() {
			for i := 0; i < 6; i++ {
				_, err := svc.Register(ctx, ev.ID, fmt.Sprintf("p%d", i))
				So(err, ShouldBeNil)
			}

			Convey("Then the burst is projected together", func() {
				snap, ok := waitView(view, func(s service.ViewSnapshot) bool { return len(s.Entries) == 7 })
				So(ok, ShouldBeTrue)
				So(snap.Revision-first.Revision, ShouldBeLessThanOrEqualTo, 2)
			})
		})
	})
}

func TestCoordinator_Reconnect(t *testing.T) {
	Convey("Given a view that lost its store", t, func() {
		store, err := memory.New()
		So(err, ShouldBeNil)
		svc := service.New(service.WithStore(store),
			service.WithDebounce(100*time.Millisecond),
			service.WithReconnectBackoff(20*time.Millisecond))
		So(svc.Start(context.Background()), ShouldBeNil)
		defer stop(svc)
		ctx := context.Background()

		ev, err := svc.CreateEvent(ctx, creator, publicEvent(2))
		So(err, ShouldBeNil)
		_, _ = svc.Register(ctx, ev.ID, "u1")

		view, err := svc.OpenView(ctx, ev.ID, nil)
		So(err, ShouldBeNil)
		defer view.Close()
		_, ok := waitView(view, live)
		So(ok, ShouldBeTrue)

		store.SetOnline(false)
		_, ok = waitView(view, func(s service.ViewSnapshot) bool { return s.State == service.ViewError })
		So(ok, ShouldBeTrue)

		Convey("When the store comes back", func() {
			store.SetOnline(true)

			Convey("Then the view reloads as stale before going live", func() {
				var before service.ViewSnapshot
				snap, ok := waitView(view, func(s service.ViewSnapshot) bool {
					if s.State == service.ViewLive {
						return true
					}
					before = s
					return false
				})
				So(ok, ShouldBeTrue)
				So(before.State, ShouldEqual, service.ViewLoading)
				So(before.Stale, ShouldBeTrue)
				So(before.Entries, ShouldHaveLength, 1)
				So(snap.Stale, ShouldBeFalse)
			})
		})
	})
}
