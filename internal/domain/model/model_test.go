package model_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/okian/backr/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestCompositeKeys(t *testing.T) {
	Convey("Given composite identities", t, func() {
		Convey("When the same parts are hashed twice", func() {
			a := model.BackingKey("ev", "u1", "u2")
			b := model.BackingKey("ev", "u1", "u2")

			Convey("Then the keys are equal and prefixed", func() {
				So(a, ShouldEqual, b)
				So(a, ShouldStartWith, "b_")
				So(len(a), ShouldEqual, 2+32)
			})
		})

		Convey("When parts contain the separator characters", func() {
			a := model.ParticipationKey("a_b", "c")
			b := model.ParticipationKey("a", "b_c")

			Convey("Then the keys differ", func() {
				So(a, ShouldNotEqual, b)
			})
		})

		Convey("When backer and target are swapped", func() {
			Convey("Then the identities differ", func() {
				So(model.BackingKey("ev", "u1", "u2"), ShouldNotEqual, model.BackingKey("ev", "u2", "u1"))
			})
		})

		Convey("When a record computes its own key", func() {
			p := model.Participation{EventID: "ev", UserID: "u"}
			b := model.Backing{EventID: "ev", BackerID: "x", TargetUserID: "u"}

			Convey("Then it matches the package helpers", func() {
				So(p.Key(), ShouldEqual, model.ParticipationKey("ev", "u"))
				So(b.Key(), ShouldEqual, model.BackingKey("ev", "x", "u"))
			})
		})
	})
}

func TestErrors(t *testing.T) {
	Convey("Given a domain error", t, func() {
		err := model.NewError("ledger.attempt_back", model.ErrQuotaExceeded, "backer %s used %d of %d", "u1", 2, 2)

		Convey("Then errors.Is matches its kind only", func() {
			So(errors.Is(err, model.ErrQuotaExceeded), ShouldBeTrue)
			So(errors.Is(err, model.ErrDuplicate), ShouldBeFalse)
			So(model.KindOf(err), ShouldEqual, model.ErrQuotaExceeded)
			So(err.Error(), ShouldContainSubstring, "ledger.attempt_back")
		})

		Convey("When it is wrapped again", func() {
			wrapped := fmt.Errorf("service: %w", err)

			Convey("Then the kind is still found", func() {
				So(model.KindOf(wrapped), ShouldEqual, model.ErrQuotaExceeded)
			})
		})

		Convey("When a cause is wrapped", func() {
			cause := errors.New("connection reset")
			err := model.WrapError("store.get", model.ErrTransport, cause)

			Convey("Then both kind and cause match", func() {
				So(errors.Is(err, model.ErrTransport), ShouldBeTrue)
				So(errors.Is(err, cause), ShouldBeTrue)
			})
		})

		Convey("When wrapping nil", func() {
			So(model.WrapError("x", model.ErrTransport, nil), ShouldBeNil)
			So(model.KindOf(nil), ShouldBeNil)
		})
	})
}

func TestTiers(t *testing.T) {
	Convey("Given positions", t, func() {
		So(model.TierFor(1), ShouldEqual, model.TierFirst)
		So(model.TierFor(2), ShouldEqual, model.TierSecond)
		So(model.TierFor(3), ShouldEqual, model.TierThird)
		So(model.TierFor(4), ShouldEqual, model.TierNone)
		So(model.ToggleBacking.Valid(), ShouldBeTrue)
		So(model.ToggleField("isAdminOnly").Valid(), ShouldBeFalse)
	})
}
