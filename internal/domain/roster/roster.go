// Package roster answers questions about the judge roster of a tenant.
package roster

import (
	"slices"

	"github.com/TinchoF/gym-score-be/internal/domain/model"
)

// ExpectedJudges counts the judges assigned to apparatus in the given
// tournament shift. Each judge counts once even with duplicate assignments.
func ExpectedJudges(judges []model.Judge, tournamentID, shift, apparatus string) int {
	count := 0
	for _, j := range judges {
		if assigned(j, tournamentID, shift, apparatus) {
			count++
		}
	}
	return count
}

func assigned(j model.Judge, tournamentID, shift, apparatus string) bool {
	for _, a := range j.Assignments {
		if a.TournamentID == tournamentID && a.Shift == shift && slices.Contains(a.Apparatus, apparatus) {
			return true
		}
	}
	return false
}
