package roster_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/TinchoF/gym-score-be/internal/domain/model"
	"github.com/TinchoF/gym-score-be/internal/domain/roster"
)

func TestExpectedJudges(t *testing.T) {
	Convey("Given a roster of judges", t, func() {
		judges := []model.Judge{
			{ID: "a", Assignments: []model.ApparatusAssignment{{TournamentID: "t1", Shift: "1", Apparatus: []string{"vault", "beam"}}}},
			{ID: "b", Assignments: []model.ApparatusAssignment{
				{TournamentID: "t1", Shift: "1", Apparatus: []string{"vault"}},
				{TournamentID: "t1", Shift: "1", Apparatus: []string{"vault", "floor"}},
			}},
			{ID: "c", Assignments: []model.ApparatusAssignment{{TournamentID: "t1", Shift: "2", Apparatus: []string{"vault"}}}},
			{ID: "d", Assignments: []model.ApparatusAssignment{{TournamentID: "t2", Shift: "1", Apparatus: []string{"vault"}}}},
			{ID: "e"},
		}

		Convey("Then only exact tournament and shift matches count", func() {
			So(roster.ExpectedJudges(judges, "t1", "1", "vault"), ShouldEqual, 2)
			So(roster.ExpectedJudges(judges, "t1", "2", "vault"), ShouldEqual, 1)
			So(roster.ExpectedJudges(judges, "t1", "1", "beam"), ShouldEqual, 1)
			So(roster.ExpectedJudges(judges, "t1", "1", "bars"), ShouldEqual, 0)
		})

		Convey("Then an empty roster expects nobody", func() {
			So(roster.ExpectedJudges(nil, "t1", "1", "vault"), ShouldEqual, 0)
		})
	})
}
