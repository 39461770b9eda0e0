package model

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/TinchoF/gym-score-be/internal/domain/scoring"
)

// ErrInvalidSubmission is returned when a submission fails boundary validation.
var ErrInvalidSubmission = errors.New("invalid submission")

var validate = validator.New()

// Submission is the inbound form of a judge mark.
type Submission struct {
	GymnastID        string         `json:"gymnastId" validate:"required"`
	JudgeID          string         `json:"judgeId" validate:"required"`
	Apparatus        string         `json:"apparatus" validate:"required"`
	TournamentID     string         `json:"tournamentId" validate:"required"`
	Shift            string         `json:"shift,omitempty"`
	Deductions       *float64       `json:"deductions,omitempty" validate:"omitempty,gte=0,lte=10"`
	StartValue       *float64       `json:"startValue,omitempty" validate:"omitempty,gte=0"`
	DifficultyBonus  *float64       `json:"difficultyBonus,omitempty" validate:"omitempty,gte=0"`
	DScore           *float64       `json:"dScore,omitempty" validate:"omitempty,gte=0"`
	NeutralDeduction *float64       `json:"neutralDeduction,omitempty" validate:"omitempty,gte=0,lte=10"`
	JudgeType        JudgeType      `json:"judgeType,omitempty" validate:"omitempty,oneof=E D"`
	ScoringMethod    scoring.Method `json:"scoringMethod,omitempty" validate:"omitempty,oneof=deductions start_value start_value_bonus fig_code"`
	Level            string         `json:"level,omitempty"`

	// InstitutionID is pinned from the caller, never read from the body.
	InstitutionID string `json:"-"`
	// ResolvedMethod is the registry's method for Level, stored on insert
	// when ScoringMethod is empty.
	ResolvedMethod scoring.Method `json:"-"`
}

// Validate checks the boundary shape of the submission.
func (s Submission) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q", ErrInvalidSubmission, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	return nil
}

// IsRetraction reports whether the submission clears the judge's mark.
// Start value and method fields alone do not keep a mark alive.
func (s Submission) IsRetraction() bool {
	return s.Deductions == nil && s.DScore == nil && s.DifficultyBonus == nil && s.NeutralDeduction == nil
}

// Key returns the natural key targeted by the submission.
func (s Submission) Key() MarkKey {
	return MarkKey{
		InstitutionID: s.InstitutionID,
		JudgeID:       s.JudgeID,
		GymnastID:     s.GymnastID,
		Apparatus:     s.Apparatus,
		TournamentID:  s.TournamentID,
	}
}
