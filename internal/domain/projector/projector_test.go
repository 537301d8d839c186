package projector_test

import (
	"testing"

	"github.com/okian/backr/internal/domain/model"
	"github.com/okian/backr/internal/domain/projector"
	. "github.com/smartystreets/goconvey/convey"
)

func participants(users ...string) []model.Participation {
	out := make([]model.Participation, 0, len(users))
	for i, u := range users {
		out = append(out, model.Participation{EventID: "E", UserID: u, DisplayName: "name-" + u, Seq: int64(i + 1)})
	}
	return out
}

func back(backer, target string) model.Backing {
	return model.Backing{EventID: "E", BackerID: backer, TargetUserID: target}
}

func TestProjectBacked(t *testing.T) {
	Convey("Given a public event", t, func() {
		event := model.Event{ID: "E", BackingEnabled: true, MaxBackingsPerUser: 3}

		Convey("When participants have different backer counts", func() {
			roster := participants("A", "B", "C", "D")
			ledgerState := []model.Backing{
				back("u1", "C"), back("u2", "C"), back("u3", "B"),
				back("u1", "D"), back("u2", "D"), back("u3", "D"),
			}
			entries := projector.Project(event, roster, ledgerState, nil)

			Convey("Then they are ranked by count with tiers on the top three", func() {
				So(len(entries), ShouldEqual, 4)
				So(entries[0].SubjectID, ShouldEqual, "D")
				So(entries[0].Score, ShouldEqual, 3)
				So(entries[0].Tier, ShouldEqual, model.TierFirst)
				So(entries[1].SubjectID, ShouldEqual, "C")
				So(entries[1].Tier, ShouldEqual, model.TierSecond)
				So(entries[2].SubjectID, ShouldEqual, "B")
				So(entries[2].Tier, ShouldEqual, model.TierThird)
				So(entries[3].SubjectID, ShouldEqual, "A")
				So(entries[3].Score, ShouldEqual, 0)
				So(entries[3].Tier, ShouldEqual, model.TierNone)
				So(entries[3].Position, ShouldEqual, 4)
				So(entries[0].DisplayName, ShouldEqual, "name-D")
			})
		})

		Convey("When scores tie", func() {
			roster := participants("Z", "A", "M")
			entries := projector.Project(event, roster, []model.Backing{back("u", "M"), back("u", "A")}, nil)

			Convey("Then roster order breaks the tie, not name or id", func() {
				So(entries[0].SubjectID, ShouldEqual, "A")
				So(entries[1].SubjectID, ShouldEqual, "M")
				So(entries[2].SubjectID, ShouldEqual, "Z")
			})
		})

		Convey("When a participant has no backings", func() {
			entries := projector.Project(event, participants("P"), nil, nil)

			Convey("Then they still appear at score 0", func() {
				So(len(entries), ShouldEqual, 1)
				So(entries[0].SubjectID, ShouldEqual, "P")
				So(entries[0].Score, ShouldEqual, 0)
				So(entries[0].Tier, ShouldEqual, model.TierFirst)
			})
		})

		Convey("When a backing references a participant not seen yet", func() {
			entries := projector.Project(event, participants("A"), []model.Backing{back("u", "late")}, nil)

			Convey("Then the backing is ignored", func() {
				So(len(entries), ShouldEqual, 1)
				So(entries[0].SubjectID, ShouldEqual, "A")
				So(entries[0].Score, ShouldEqual, 0)
			})
		})

		Convey("When the same inputs are projected twice", func() {
			roster := participants("A", "B", "C", "D", "E")
			ledgerState := []model.Backing{back("x", "B"), back("y", "D"), back("z", "E")}
			first := projector.Project(event, roster, ledgerState, nil)
			second := projector.Project(event, roster, ledgerState, nil)

			Convey("Then the output is identical, including tie order", func() {
				So(second, ShouldResemble, first)
			})
		})

		Convey("When the roster is empty", func() {
			So(projector.Project(event, nil, nil, nil), ShouldBeEmpty)
		})

		Convey("When records of other events are mixed in", func() {
			roster := append(participants("A"), model.Participation{EventID: "F", UserID: "B"})
			ledgerState := []model.Backing{{EventID: "F", BackerID: "u", TargetUserID: "A"}}
			entries := projector.Project(event, roster, ledgerState, nil)

			Convey("Then only this event counts", func() {
				So(len(entries), ShouldEqual, 1)
				So(entries[0].Score, ShouldEqual, 0)
			})
		})
	})
}

func TestProjectManaged(t *testing.T) {
	Convey("Given an admin-only event with H1 at 120 and H2 at 300", t, func() {
		event := model.Event{ID: "E", IsAdminOnly: true}
		managed := []model.ManagedParticipant{
			{ID: "h1", EventID: "E", Name: "H1", Points: 120, Seq: 1},
			{ID: "h2", EventID: "E", Name: "H2", Points: 300, Seq: 2},
		}

		Convey("When projecting", func() {
			entries := projector.Project(event, participants("ignored"), nil, managed)

			Convey("Then H2 is first and H1 second", func() {
				So(len(entries), ShouldEqual, 2)
				So(entries[0].DisplayName, ShouldEqual, "H2")
				So(entries[0].Score, ShouldEqual, 300)
				So(entries[0].Tier, ShouldEqual, model.TierFirst)
				So(entries[1].DisplayName, ShouldEqual, "H1")
				So(entries[1].Score, ShouldEqual, 120)
				So(entries[1].Tier, ShouldEqual, model.TierSecond)
			})
		})

		Convey("When points are negative or tied", func() {
			managed = append(managed,
				model.ManagedParticipant{ID: "h3", EventID: "E", Name: "H3", Points: -5, Seq: 3},
				model.ManagedParticipant{ID: "h4", EventID: "E", Name: "H4", Points: 120, Seq: 4},
			)
			entries := projector.Project(event, nil, nil, managed)

			Convey("Then negative scores sort last and ties keep insertion order", func() {
				So(entries[1].SubjectID, ShouldEqual, "h1")
				So(entries[2].SubjectID, ShouldEqual, "h4")
				So(entries[3].SubjectID, ShouldEqual, "h3")
				So(entries[3].Score, ShouldEqual, -5)
			})
		})
	})
}

func TestViewer(t *testing.T) {
	Convey("Given a public event with quota 2", t, func() {
		event := model.Event{ID: "E", CreatorID: "boss", BackingEnabled: true, MaxBackingsPerUser: 2}
		roster := participants("A", "B", "C")
		ledgerState := []model.Backing{back("U", "A"), back("U", "B"), back("V", "A")}

		Convey("When U views it", func() {
			v := projector.Viewer(event, roster, ledgerState, "U")

			Convey("Then U has reached the quota", func() {
				So(v.IsCreator, ShouldBeFalse)
				So(v.IsParticipant, ShouldBeFalse)
				So(v.BackedTargets, ShouldResemble, []string{"A", "B"})
				So(v.RemainingBackings, ShouldEqual, 0)
				So(v.QuotaReached, ShouldBeTrue)
			})
		})

		Convey("When participant A views it", func() {
			v := projector.Viewer(event, roster, ledgerState, "A")

			Convey("Then A can still back twice", func() {
				So(v.IsParticipant, ShouldBeTrue)
				So(v.RemainingBackings, ShouldEqual, 2)
				So(v.QuotaReached, ShouldBeFalse)
			})
		})

		Convey("When the creator views it", func() {
			So(projector.Viewer(event, roster, ledgerState, "boss").IsCreator, ShouldBeTrue)
		})

		Convey("When nobody is signed in", func() {
			v := projector.Viewer(event, roster, ledgerState, "")
			So(v.IsCreator, ShouldBeFalse)
			So(v.BackedTargets, ShouldBeEmpty)
		})
	})
}
