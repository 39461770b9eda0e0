// Package aggregate turns the judge marks of one score group into the
// consensus view served to clients.
package aggregate

import (
	"fmt"
	"sort"
	"time"

	"github.com/TinchoF/gym-score-be/internal/domain/levels"
	"github.com/TinchoF/gym-score-be/internal/domain/model"
	"github.com/TinchoF/gym-score-be/internal/domain/roster"
	"github.com/TinchoF/gym-score-be/internal/domain/scoring"
)

// LevelResolver returns the scoring configuration for a level. It must be
// total: unknown levels resolve to a fallback.
type LevelResolver func(level string) levels.Config

// Group is the computed consensus of one score group.
type Group struct {
	ID string `json:"groupId"`
	model.GroupKey
	Shift         string         `json:"shift,omitempty"`
	Level         string         `json:"level,omitempty"`
	ScoringMethod scoring.Method `json:"scoringMethod,omitempty"`

	// Scored is false while the method's required inputs are missing.
	Scored                bool     `json:"scored"`
	BaseScore             *float64 `json:"baseScore,omitempty"`
	StartValue            *float64 `json:"startValue,omitempty"`
	DifficultyBonus       *float64 `json:"difficultyBonus,omitempty"`
	DScore                *float64 `json:"dScore,omitempty"`
	EScore                *float64 `json:"eScore,omitempty"`
	FinalDeduction        *float64 `json:"finalDeduction"`
	FinalNeutralDeduction *float64 `json:"finalNeutralDeduction,omitempty"`
	FinalScore            *float64 `json:"finalScore"`

	CompletedJudgeIDs   []string  `json:"completedJudgeIds"`
	SubmittedJudgeIDs   []string  `json:"submittedJudgeIds"`
	ExpectedJudgesCount int       `json:"expectedJudgesCount"`
	UpdatedAt           time.Time `json:"updatedAt,omitzero"`

	marks []model.JudgeMark
	done  map[string]bool
}

// Empty reports whether the group has no marks, i.e. "no scores yet".
func (g Group) Empty() bool { return len(g.marks) == 0 }

// Marks returns a copy of the marks the group was built from.
func (g Group) Marks() []model.JudgeMark {
	return append([]model.JudgeMark(nil), g.marks...)
}

// Build computes the consensus for key from marks. Marks are ordered by
// creation time; the first one fixes the group's method and level. A mark
// belonging to another tenant or group is rejected with ErrCrossTenant or
// ErrForeignMark.
func Build(key model.GroupKey, institutionID string, marks []model.JudgeMark, resolve LevelResolver, judges []model.Judge) (Group, error) {
	g := Group{
		ID:                key.ID(),
		GroupKey:          key,
		CompletedJudgeIDs: []string{},
		SubmittedJudgeIDs: []string{},
		done:              make(map[string]bool),
	}
	if len(marks) == 0 {
		return g, nil
	}

	ordered := make([]model.JudgeMark, len(marks))
	copy(ordered, marks)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})
	for _, m := range ordered {
		if m.InstitutionID != institutionID {
			return Group{}, fmt.Errorf("%w: mark %s belongs to %q", ErrCrossTenant, m.ID, m.InstitutionID)
		}
		if m.Group() != key {
			return Group{}, fmt.Errorf("%w: mark %s is in %s", ErrForeignMark, m.ID, m.Group().ID())
		}
	}
	g.marks = ordered

	first := ordered[0]
	g.Level = first.Level
	cfg := resolve(first.Level)
	g.ScoringMethod = first.ScoringMethod
	if g.ScoringMethod == "" {
		g.ScoringMethod = cfg.Method
	}
	formula, err := scoring.FormulaFor(g.ScoringMethod)
	if err != nil {
		return Group{}, err
	}

	in := scoring.Inputs{BaseScore: cfg.Base()}
	for _, m := range ordered {
		if g.Shift == "" {
			g.Shift = m.Shift
		}
		if m.UpdatedAt.After(g.UpdatedAt) {
			g.UpdatedAt = m.UpdatedAt
		}
		if in.StartValue == nil && m.StartValue != nil {
			sv := *m.StartValue
			in.StartValue = &sv
		}
		if m.Deductions != nil {
			in.Deductions = append(in.Deductions, *m.Deductions)
		}
		if m.NeutralDeduction != nil {
			in.NeutralDeductions = append(in.NeutralDeductions, *m.NeutralDeduction)
		}
		if m.DifficultyBonus != nil {
			in.DifficultyBonuses = append(in.DifficultyBonuses, *m.DifficultyBonus)
		}
		if m.DScore != nil {
			in.DScores = append(in.DScores, *m.DScore)
		}

		g.SubmittedJudgeIDs = append(g.SubmittedJudgeIDs, m.JudgeID)
		if formula.Complete(m.Sheet()) {
			g.CompletedJudgeIDs = append(g.CompletedJudgeIDs, m.JudgeID)
			g.done[m.JudgeID] = true
		}
	}
	if in.StartValue == nil && cfg.BaseStartValue != nil {
		sv := *cfg.BaseStartValue
		in.StartValue = &sv
	}

	g.FinalDeduction = scoring.ConsensusDeduction(in.Deductions)
	if res := formula.Compute(in); res != nil {
		g.Scored = true
		g.BaseScore = res.BaseScore
		g.StartValue = res.StartValue
		g.DifficultyBonus = res.DifficultyBonus
		g.DScore = res.DScore
		g.EScore = res.EScore
		g.FinalNeutralDeduction = res.FinalNeutralDeduction
		score := res.FinalScore
		g.FinalScore = &score
	}
	g.ExpectedJudgesCount = roster.ExpectedJudges(judges, key.TournamentID, g.Shift, key.Apparatus)
	return g, nil
}

// MarkView is one judge's mark as shown to staff.
type MarkView struct {
	JudgeID          string          `json:"judgeId"`
	JudgeType        model.JudgeType `json:"judgeType,omitempty"`
	Deductions       *float64        `json:"deductions"`
	StartValue       *float64        `json:"startValue"`
	DifficultyBonus  *float64        `json:"difficultyBonus"`
	DScore           *float64        `json:"dScore"`
	NeutralDeduction *float64        `json:"neutralDeduction"`
	Completed        bool            `json:"completed"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// OwnMarks is the calling judge's own entry.
type OwnMarks struct {
	MyScore  *float64 `json:"myScore"`
	MyDScore *float64 `json:"myDScore"`
	MyBonus  *float64 `json:"myBonus"`
}

// View is a Group shaped for one caller. Staff views carry JudgeMarks;
// judge views carry OwnMarks and never another judge's values.
type View struct {
	Group
	JudgeMarks []MarkView `json:"judgeMarks,omitempty"`
	*OwnMarks
}

// For shapes the group for caller.
func (g Group) For(caller model.Caller) View {
	v := View{Group: g}
	if caller.IsStaff() {
		v.JudgeMarks = make([]MarkView, 0, len(g.marks))
		for _, m := range g.marks {
			v.JudgeMarks = append(v.JudgeMarks, MarkView{
				JudgeID:          m.JudgeID,
				JudgeType:        m.JudgeType,
				Deductions:       m.Deductions,
				StartValue:       m.StartValue,
				DifficultyBonus:  m.DifficultyBonus,
				DScore:           m.DScore,
				NeutralDeduction: m.NeutralDeduction,
				Completed:        g.done[m.JudgeID],
				UpdatedAt:        m.UpdatedAt,
			})
		}
		return v
	}

	own := &OwnMarks{}
	for _, m := range g.marks {
		if m.JudgeID == caller.ID {
			own.MyScore = m.Deductions
			own.MyDScore = m.DScore
			own.MyBonus = m.DifficultyBonus
			break
		}
	}
	v.OwnMarks = own
	return v
}
