package eventcfg_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/backr/internal/domain/eventcfg"
	"github.com/okian/backr/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func validConfig() eventcfg.Config {
	return eventcfg.Config{
		Title:              "  Friday Final ",
		Description:        "Best of three",
		Tag:                " #Chess",
		MaxBackingsPerUser: 2,
		CreatorID:          "creator",
		CreatorName:        "Cora",
	}
}

func TestCreateEvent(t *testing.T) {
	Convey("Given a valid public event config", t, func() {
		cfg := validConfig()

		Convey("When creating the event", func() {
			ev, err := eventcfg.CreateEvent("ev-1", cfg, now)

			Convey("Then it is normalized and open", func() {
				So(err, ShouldBeNil)
				So(ev.ID, ShouldEqual, "ev-1")
				So(ev.Title, ShouldEqual, "Friday Final")
				So(ev.Tag, ShouldEqual, "Chess")
				So(ev.TagLower, ShouldEqual, "chess")
				So(ev.IsAdminOnly, ShouldBeFalse)
				So(ev.RegistrationEnabled, ShouldBeTrue)
				So(ev.BackingEnabled, ShouldBeTrue)
				So(ev.MaxBackingsPerUser, ShouldEqual, 2)
				So(ev.CreatorName, ShouldEqual, "Cora")
				So(ev.CreatedAt, ShouldEqual, now)
			})
		})

		Convey("When a field is invalid", func() {
			cases := []func(c *eventcfg.Config){
				func(c *eventcfg.Config) { c.Title = "  " },
				func(c *eventcfg.Config) { c.Title = "ab" },
				func(c *eventcfg.Config) { c.Description = "" },
				func(c *eventcfg.Config) { c.Tag = " # " },
				func(c *eventcfg.Config) { c.MaxBackingsPerUser = 0 },
				func(c *eventcfg.Config) { c.MaxBackingsPerUser = -1 },
				func(c *eventcfg.Config) { c.Tag = "#" },
			}
			for _, mutate := range cases {
				c := validConfig()
				mutate(&c)
				_, err := eventcfg.CreateEvent("ev", c, now)
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			}
		})

		Convey("When only one leading marker is stripped", func() {
			cfg.Tag = "##go"
			ev, err := eventcfg.CreateEvent("ev", cfg, now)
			So(err, ShouldBeNil)
			So(ev.Tag, ShouldEqual, "#go")
		})

		Convey("When the creator is missing", func() {
			cfg.CreatorID = ""
			_, err := eventcfg.CreateEvent("ev", cfg, now)
			So(errors.Is(err, model.ErrAuthorization), ShouldBeTrue)
		})

		Convey("When the creator has no display name", func() {
			cfg.CreatorName = ""
			ev, err := eventcfg.CreateEvent("ev", cfg, now)
			So(err, ShouldBeNil)
			So(ev.CreatorName, ShouldEqual, model.AnonymousName)
		})
	})
}

func TestCreateAdminEvent(t *testing.T) {
	Convey("Given an admin event config", t, func() {
		cfg := eventcfg.AdminConfig{
			Title:        "Hackathon",
			Description:  "Judged",
			Tag:          "hack",
			CreatorID:    "creator",
			Participants: []string{" H1 ", "", "H2"},
		}

		Convey("When creating it", func() {
			ev, names, err := eventcfg.CreateAdminEvent("ev", cfg, now)

			Convey("Then the structural mode is forced", func() {
				So(err, ShouldBeNil)
				So(ev.IsAdminOnly, ShouldBeTrue)
				So(ev.RegistrationEnabled, ShouldBeFalse)
				So(ev.BackingEnabled, ShouldBeFalse)
				So(ev.MaxBackingsPerUser, ShouldEqual, 0)
				So(names, ShouldResemble, []string{"H1", "H2"})
			})
		})

		Convey("When no participant names are given", func() {
			cfg.Participants = []string{" ", ""}
			_, _, err := eventcfg.CreateAdminEvent("ev", cfg, now)
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
		})
	})
}

func TestSetToggle(t *testing.T) {
	Convey("Given a public event", t, func() {
		ev, err := eventcfg.CreateEvent("ev", validConfig(), now)
		So(err, ShouldBeNil)

		Convey("When the creator turns backing off", func() {
			updated, err := eventcfg.SetToggle(ev, model.ToggleBacking, false, "creator")

			Convey("Then only that toggle changes", func() {
				So(err, ShouldBeNil)
				So(updated.BackingEnabled, ShouldBeFalse)
				So(updated.RegistrationEnabled, ShouldBeTrue)
			})
		})

		Convey("When someone else tries", func() {
			_, err := eventcfg.SetToggle(ev, model.ToggleRegistration, false, "intruder")
			So(errors.Is(err, model.ErrAuthorization), ShouldBeTrue)
		})

		Convey("When the field is unknown", func() {
			_, err := eventcfg.SetToggle(ev, model.ToggleField("isAdminOnly"), true, "creator")
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
		})

		Convey("When the event is admin-only", func() {
			ev.IsAdminOnly = true
			_, err := eventcfg.SetToggle(ev, model.ToggleBacking, true, "creator")
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
		})

		Convey("When checking manage rights on a public event", func() {
			So(errors.Is(eventcfg.AuthorizeManage(ev, "creator"), model.ErrValidation), ShouldBeTrue)
			So(errors.Is(eventcfg.AuthorizeManage(ev, "other"), model.ErrAuthorization), ShouldBeTrue)
		})
	})
}

func TestValidateParticipantName(t *testing.T) {
	Convey("Given participant names", t, func() {
		name, err := eventcfg.ValidateParticipantName("  Team Red ")
		So(err, ShouldBeNil)
		So(name, ShouldEqual, "Team Red")

		_, err = eventcfg.ValidateParticipantName("   ")
		So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
	})
}
