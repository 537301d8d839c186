package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/backr/internal/adapters/directory"
	repository "github.com/okian/backr/internal/adapters/repository"
	"github.com/okian/backr/internal/adapters/repository/memory"
	service "github.com/okian/backr/internal/app"
	"github.com/okian/backr/internal/domain/model"
	"github.com/okian/backr/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

const creator = "creator-1"

func newService(opts ...service.Option) (*service.Service, *memory.Store) {
	store, err := memory.New()
	So(err, ShouldBeNil)
	base := []service.Option{
		service.WithStore(store),
		service.WithDirectory(directory.NewStatic(map[string]string{
			creator: "Casey",
			"u1":    "Uma",
			"u2":    "Ravi",
		})),
		service.WithWorkerCount(2),
		service.WithQueueSize(16),
		service.WithDebounce(0),
	}
	svc := service.New(append(base, opts...)...)
	So(svc.Start(context.Background()), ShouldBeNil)
	return svc, store
}

func stop(svc *service.Service) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = svc.Stop(ctx)
}

func publicEvent(quota int) service.EventInput {
	return service.EventInput{
		Title:              "Best street food",
		Description:        "Vote for your favourite stall",
		Tag:                "#Food",
		MaxBackingsPerUser: quota,
	}
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New(service.WithWorkerCount(1))

		Convey("When it is used before Start", func() {
			_, err := svc.GetEvent(context.Background(), "ev")

			Convey("Then it should refuse", func() {
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})

		Convey("When started and stopped", func() {
			So(svc.Start(context.Background()), ShouldBeNil)
			So(svc.Start(context.Background()), ShouldBeNil)
			So(svc.GetStats()["started"], ShouldEqual, true)
			stop(svc)

			Convey("Then it should be marked as stopped", func() {
				So(svc.GetStats()["started"], ShouldEqual, false)
				So(svc.Stop(context.Background()), ShouldBeNil)
			})
		})
	})
}

func TestService_CreateEvent(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc, _ := newService()
		defer stop(svc)
		ctx := context.Background()

		Convey("When a valid public event is created", func() {
			ev, err := svc.CreateEvent(ctx, creator, publicEvent(2))

			Convey("Then it should be stored with both toggles on", func() {
				So(err, ShouldBeNil)
				So(ev.ID, ShouldNotBeEmpty)
				So(ev.Tag, ShouldEqual, "Food")
				So(ev.TagLower, ShouldEqual, "food")
				So(ev.CreatorName, ShouldEqual, "Casey")
				So(ev.RegistrationEnabled, ShouldBeTrue)
				So(ev.BackingEnabled, ShouldBeTrue)

				got, err := svc.GetEvent(ctx, ev.ID)
				So(err, ShouldBeNil)
				So(got.Title, ShouldEqual, ev.Title)
				So(got.MaxBackingsPerUser, ShouldEqual, 2)
			})
		})

		Convey("When the quota is zero", func() {
			_, err := svc.CreateEvent(ctx, creator, publicEvent(0))

			Convey("Then it should be a validation error", func() {
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			})
		})

		Convey("When an unknown event is read", func() {
			_, err := svc.GetEvent(ctx, "missing")

			Convey("Then it should not be found", func() {
				So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When an admin event is created", func() {
			ev, managed, err := svc.CreateAdminEvent(ctx, creator, service.AdminEventInput{
				Title:        "Chess ladder",
				Description:  "Points set by the referee",
				Tag:          "chess",
				Participants: []string{"H1", " ", "H2"},
			})

			Convey("Then toggles are off and participants start at zero", func() {
				So(err, ShouldBeNil)
				So(ev.IsAdminOnly, ShouldBeTrue)
				So(ev.RegistrationEnabled, ShouldBeFalse)
				So(ev.BackingEnabled, ShouldBeFalse)
				So(ev.MaxBackingsPerUser, ShouldEqual, 0)
				So(managed, ShouldHaveLength, 2)
				So(managed[0].Points, ShouldEqual, 0)
			})
		})
	})
}

func TestService_RegisterAndBack(t *testing.T) {
	Convey("Given a public event with quota 1", t, func() {
		svc, store := newService()
		defer stop(svc)
		ctx := context.Background()

		ev, err := svc.CreateEvent(ctx, creator, publicEvent(1))
		So(err, ShouldBeNil)

		Convey("When a user registers twice", func() {
			first, err1 := svc.Register(ctx, ev.ID, "u1")
			second, err2 := svc.Register(ctx, ev.ID, "u1")

			Convey("Then one participation exists and the repeat is a duplicate notice", func() {
				So(err1, ShouldBeNil)
				So(first.DisplayName, ShouldEqual, "Uma")
				So(errors.Is(err2, model.ErrDuplicate), ShouldBeTrue)
				So(second.UserID, ShouldEqual, "u1")

				board, err := svc.Leaderboard(ctx, ev.ID, "")
				So(err, ShouldBeNil)
				So(board.Entries, ShouldHaveLength, 1)
			})
		})

		Convey("When an unknown user registers", func() {
			p, err := svc.Register(ctx, ev.ID, "stranger")

			Convey("Then the name falls back to anon", func() {
				So(err, ShouldBeNil)
				So(p.DisplayName, ShouldEqual, model.AnonymousName)
			})
		})

		Convey("When backing follows the quota rules", func() {
			_, _ = svc.Register(ctx, ev.ID, "u1")
			_, _ = svc.Register(ctx, ev.ID, "u2")

			_, errA := svc.Back(ctx, ev.ID, "voter", "u1")
			_, errB := svc.Back(ctx, ev.ID, "voter", "u2")
			_, errAgain := svc.Back(ctx, ev.ID, "voter", "u1")
			_, errUnknown := svc.Back(ctx, ev.ID, "other", "nobody")

			Convey("Then the second target exceeds the quota and the repeat is a duplicate", func() {
				So(errA, ShouldBeNil)
				So(errors.Is(errB, model.ErrQuotaExceeded), ShouldBeTrue)
				So(errors.Is(errAgain, model.ErrDuplicate), ShouldBeTrue)
				So(errors.Is(errUnknown, model.ErrUnknownTarget), ShouldBeTrue)

				board, err := svc.Leaderboard(ctx, ev.ID, "voter")
				So(err, ShouldBeNil)
				So(board.Entries[0].SubjectID, ShouldEqual, "u1")
				So(board.Entries[0].Score, ShouldEqual, 1)
				So(board.Entries[0].Tier, ShouldEqual, model.TierFirst)
				So(board.Entries[1].Score, ShouldEqual, 0)
				So(board.Viewer.QuotaReached, ShouldBeTrue)
				So(board.Viewer.BackedTargets, ShouldResemble, []string{"u1"})
			})
		})

		Convey("When the same backer arrives with padded ids", func() {
			_, _ = svc.Register(ctx, ev.ID, "u1")
			_, _ = svc.Register(ctx, ev.ID, "u2")

			_, errA := svc.Back(ctx, ev.ID, "voter", "u1")
			_, errB := svc.Back(ctx, ev.ID, " voter ", "u2")
			_, errC := svc.Back(ctx, ev.ID, "voter\t", " u1 ")

			Convey("Then they share one quota", func() {
				So(errA, ShouldBeNil)
				So(errors.Is(errB, model.ErrQuotaExceeded), ShouldBeTrue)
				So(errors.Is(errC, model.ErrDuplicate), ShouldBeTrue)

				n, err := store.Count(ctx, repository.CollectionBackings, repository.Filter{"eventId": ev.ID})
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
			})
		})

		Convey("When a participant backs themselves", func() {
			_, _ = svc.Register(ctx, ev.ID, "u1")
			_, err := svc.Back(ctx, ev.ID, "u1", "u1")

			Convey("Then it is allowed", func() {
				So(err, ShouldBeNil)
			})
		})
	})
}

func TestService_ConcurrentQuota(t *testing.T) {
	Convey("Given a public event with quota 2 and five participants", t, func() {
		svc, store := newService()
		defer stop(svc)
		ctx := context.Background()

		ev, err := svc.CreateEvent(ctx, creator, publicEvent(2))
		So(err, ShouldBeNil)
		for i := 0; i < 5; i++ {
			_, err := svc.Register(ctx, ev.ID, fmt.Sprintf("p%d", i))
			So(err, ShouldBeNil)
		}

		Convey("When one backer backs all five at once", func() {
			var wg sync.WaitGroup
			var mu sync.Mutex
			results := map[string]int{}
			for i := 0; i < 5; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := svc.Back(ctx, ev.ID, "voter", fmt.Sprintf("p%d", i))
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						results["ok"]++
					case errors.Is(err, model.ErrQuotaExceeded):
						results["quota"]++
					default:
						results["other"]++
					}
				}(i)
			}
			wg.Wait()

			Convey("Then exactly the quota is stored", func() {
				So(results["ok"], ShouldEqual, 2)
				So(results["quota"], ShouldEqual, 3)
				n, err := store.Count(ctx, repository.CollectionBackings, repository.Filter{"backerId": "voter"})
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 2)
			})
		})
	})
}

func TestService_SetToggle(t *testing.T) {
	Convey("Given a public event", t, func() {
		svc, _ := newService()
		defer stop(svc)
		ctx := context.Background()

		ev, err := svc.CreateEvent(ctx, creator, publicEvent(1))
		So(err, ShouldBeNil)
		_, _ = svc.Register(ctx, ev.ID, "u1")

		Convey("When someone other than the creator toggles", func() {
			_, err := svc.SetToggle(ctx, ev.ID, model.ToggleBacking, false, "u1", "")

			Convey("Then it is refused synchronously", func() {
				So(errors.Is(err, model.ErrAuthorization), ShouldBeTrue)
			})
		})

		Convey("When an unknown toggle is named", func() {
			_, err := svc.SetToggle(ctx, ev.ID, model.ToggleField("votingEnabled"), false, creator, "")

			Convey("Then it is a validation error", func() {
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			})
		})

		Convey("When the creator disables backing", func() {
			receipt, err := svc.SetToggle(ctx, ev.ID, model.ToggleBacking, false, creator, "")
			So(err, ShouldBeNil)
			So(receipt.CommandID, ShouldNotBeEmpty)

			Convey("Then the very next backing is refused without mutation", func() {
				_, err := svc.Back(ctx, ev.ID, "voter", "u1")
				So(errors.Is(err, model.ErrDisabled), ShouldBeTrue)
				board, _ := svc.Leaderboard(ctx, ev.ID, "")
				So(board.Entries[0].Score, ShouldEqual, 0)
				So(svc.PendingToggles(), ShouldEqual, 0)
			})
		})

		Convey("When the same idempotency key is sent twice", func() {
			first, err1 := svc.SetToggle(ctx, ev.ID, model.ToggleRegistration, false, creator, "key-1")
			second, err2 := svc.SetToggle(ctx, ev.ID, model.ToggleRegistration, false, creator, "key-1")

			Convey("Then the second returns the first command", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(second.Duplicate, ShouldBeTrue)
				So(second.CommandID, ShouldEqual, first.CommandID)

				_, err := svc.Register(ctx, ev.ID, "u2")
				So(errors.Is(err, model.ErrDisabled), ShouldBeTrue)
			})
		})

		Convey("When toggles are flipped repeatedly", func() {
			for i := 0; i < 6; i++ {
				_, err := svc.SetToggle(ctx, ev.ID, model.ToggleBacking, i%2 == 1, creator, "")
				So(err, ShouldBeNil)
			}

			Convey("Then the last value wins", func() {
				got, err := svc.GetEvent(ctx, ev.ID)
				So(err, ShouldBeNil)
				So(got.BackingEnabled, ShouldBeTrue)
			})
		})
	})

	Convey("Given many events toggled in a row with a small queue", t, func() {
		svc, _ := newService()
		defer stop(svc)
		ctx := context.Background()

		Convey("Then every disable is visible to the backing that follows it", func() {
			accepted := 0
			for i := 0; i < 50; i++ {
				ev, err := svc.CreateEvent(ctx, creator, publicEvent(1))
				So(err, ShouldBeNil)
				_, err = svc.Register(ctx, ev.ID, "u1")
				So(err, ShouldBeNil)

				_, err = svc.SetToggle(ctx, ev.ID, model.ToggleBacking, false, creator, "")
				So(err, ShouldBeNil)
				if _, err := svc.Back(ctx, ev.ID, "voter", "u1"); err == nil {
					accepted++
				}
			}
			So(accepted, ShouldEqual, 0)
		})
	})
}

func TestService_ManagedParticipants(t *testing.T) {
	Convey("Given an admin event with H1 and H2", t, func() {
		svc, _ := newService()
		defer stop(svc)
		ctx := context.Background()

		ev, managed, err := svc.CreateAdminEvent(ctx, creator, service.AdminEventInput{
			Title:        "Hackathon",
			Description:  "Judged",
			Tag:          "hack",
			Participants: []string{"H1", "H2"},
		})
		So(err, ShouldBeNil)

		Convey("When the creator sets H1 to 5 and H2 to 8", func() {
			_, err1 := svc.SetPoints(ctx, ev.ID, managed[0].ID, 5, creator)
			_, err2 := svc.SetPoints(ctx, ev.ID, managed[1].ID, 8, creator)

			Convey("Then H2 leads", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				board, err := svc.Leaderboard(ctx, ev.ID, creator)
				So(err, ShouldBeNil)
				So(board.Entries[0].DisplayName, ShouldEqual, "H2")
				So(board.Entries[0].Score, ShouldEqual, 8)
				So(board.Entries[1].DisplayName, ShouldEqual, "H1")
				So(board.Viewer.IsCreator, ShouldBeTrue)
			})
		})

		Convey("When another user sets points", func() {
			_, err := svc.SetPoints(ctx, ev.ID, managed[0].ID, 5, "u1")

			Convey("Then it is not authorized", func() {
				So(errors.Is(err, model.ErrAuthorization), ShouldBeTrue)
			})
		})

		Convey("When a participant is added", func() {
			m, err := svc.AddManagedParticipant(ctx, ev.ID, "  H3 ", creator)
			_, errBlank := svc.AddManagedParticipant(ctx, ev.ID, " ", creator)

			Convey("Then it joins with zero points", func() {
				So(err, ShouldBeNil)
				So(m.Name, ShouldEqual, "H3")
				So(errors.Is(errBlank, model.ErrValidation), ShouldBeTrue)
				board, _ := svc.Leaderboard(ctx, ev.ID, "")
				So(board.Entries, ShouldHaveLength, 3)
			})
		})

		Convey("When points are set on another event's participant", func() {
			other, otherManaged, err := svc.CreateAdminEvent(ctx, creator, service.AdminEventInput{
				Title: "Other", Description: "Other", Tag: "x", Participants: []string{"Z"},
			})
			So(err, ShouldBeNil)
			_, err = svc.SetPoints(ctx, ev.ID, otherManaged[0].ID, 1, creator)

			Convey("Then it is not found", func() {
				So(other.ID, ShouldNotEqual, ev.ID)
				So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When someone registers", func() {
			_, err := svc.Register(ctx, ev.ID, "u1")

			Convey("Then registration is disabled", func() {
				So(errors.Is(err, model.ErrDisabled), ShouldBeTrue)
			})
		})
	})
}

func TestService_SearchAndStats(t *testing.T) {
	Convey("Given a few events", t, func() {
		clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		svc, _ := newService(
			service.WithMaxSearchResults(2),
			service.WithClock(func() time.Time {
				clock = clock.Add(time.Minute)
				return clock
			}),
		)
		defer stop(svc)
		ctx := context.Background()

		food, err := svc.CreateEvent(ctx, creator, publicEvent(3))
		So(err, ShouldBeNil)
		music := publicEvent(3)
		music.Title, music.Tag = "Open mic night", "music"
		mic, err := svc.CreateEvent(ctx, "u1", music)
		So(err, ShouldBeNil)
		_, _ = svc.Register(ctx, food.ID, "u1")
		_, _ = svc.Register(ctx, food.ID, "u2")
		_, _ = svc.Back(ctx, food.ID, "u2", "u1")
		_, _ = svc.Back(ctx, food.ID, "u1", "u1")

		Convey("When searching by tag", func() {
			hits, err := svc.SearchEvents(ctx, "#FOOD")

			Convey("Then the matching event is returned with its participant count", func() {
				So(err, ShouldBeNil)
				So(hits, ShouldHaveLength, 1)
				So(hits[0].ID, ShouldEqual, food.ID)
				So(hits[0].Participants, ShouldEqual, 2)
			})
		})

		Convey("When searching by creator name", func() {
			hits, err := svc.SearchEvents(ctx, "uma")

			Convey("Then events of that creator match", func() {
				So(err, ShouldBeNil)
				So(hits, ShouldHaveLength, 1)
				So(hits[0].ID, ShouldEqual, mic.ID)
			})
		})

		Convey("When listing everything", func() {
			hits, err := svc.SearchEvents(ctx, "")

			Convey("Then newest comes first", func() {
				So(err, ShouldBeNil)
				So(hits, ShouldHaveLength, 2)
				So(hits[0].ID, ShouldEqual, mic.ID)
			})
		})

		Convey("When reading user statistics", func() {
			stats, err := svc.UserStats(ctx, "u1")
			_, errBlank := svc.UserStats(ctx, "")

			Convey("Then every counter is derived from the store", func() {
				So(err, ShouldBeNil)
				So(stats.EventsCreated, ShouldEqual, 1)
				So(stats.EventsJoined, ShouldEqual, 1)
				So(stats.BackingsGiven, ShouldEqual, 1)
				So(stats.BackersReceived, ShouldEqual, 2)
				So(errors.Is(errBlank, model.ErrValidation), ShouldBeTrue)
			})
		})
	})
}

func TestService_StoreOffline(t *testing.T) {
	Convey("Given a service whose store goes offline", t, func() {
		svc, store := newService()
		defer stop(svc)
		ctx := context.Background()

		ev, err := svc.CreateEvent(ctx, creator, publicEvent(1))
		So(err, ShouldBeNil)
		store.SetOnline(false)

		Convey("When an operation is attempted", func() {
			_, err := svc.Register(ctx, ev.ID, "u1")

			Convey("Then it reports a transport error", func() {
				So(errors.Is(err, model.ErrTransport), ShouldBeTrue)
			})
		})
	})
}
