// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"time"

	"github.com/TinchoF/gym-score-be/internal/domain/scoring"
)

// JudgeType distinguishes execution judges from difficulty judges.
type JudgeType string

// Judge panel types.
const (
	JudgeTypeExecution  JudgeType = "E"
	JudgeTypeDifficulty JudgeType = "D"
)

// MarkKey is the natural key of a JudgeMark. Shift is not part of it, so a
// gymnast moving shifts keeps the marks already given.
type MarkKey struct {
	InstitutionID string
	JudgeID       string
	GymnastID     string
	Apparatus     string
	TournamentID  string
}

// Group returns the score group the key belongs to.
func (k MarkKey) Group() GroupKey {
	return GroupKey{TournamentID: k.TournamentID, GymnastID: k.GymnastID, Apparatus: k.Apparatus}
}

// GroupKey identifies a ScoreGroup inside one tenant.
type GroupKey struct {
	TournamentID string `json:"tournament"`
	GymnastID    string `json:"gymnast"`
	Apparatus    string `json:"apparatus"`
}

// ID is the stable group identifier exposed to clients.
func (g GroupKey) ID() string {
	return fmt.Sprintf("%s/%s/%s", g.TournamentID, g.GymnastID, g.Apparatus)
}

// JudgeMark is one judge's stored mark for a gymnast on an apparatus.
// Nil score fields are absent; zero is a real value.
type JudgeMark struct {
	ID               string         `json:"id"`
	InstitutionID    string         `json:"institutionId"`
	JudgeID          string         `json:"judgeId"`
	GymnastID        string         `json:"gymnastId"`
	Apparatus        string         `json:"apparatus"`
	TournamentID     string         `json:"tournamentId"`
	Shift            string         `json:"shift,omitempty"`
	JudgeType        JudgeType      `json:"judgeType,omitempty"`
	Deductions       *float64       `json:"deductions"`
	StartValue       *float64       `json:"startValue"`
	DifficultyBonus  *float64       `json:"difficultyBonus"`
	DScore           *float64       `json:"dScore"`
	NeutralDeduction *float64       `json:"neutralDeduction"`
	ScoringMethod    scoring.Method `json:"scoringMethod,omitempty"`
	Level            string         `json:"level,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// Key returns the mark's natural key.
func (m JudgeMark) Key() MarkKey {
	return MarkKey{
		InstitutionID: m.InstitutionID,
		JudgeID:       m.JudgeID,
		GymnastID:     m.GymnastID,
		Apparatus:     m.Apparatus,
		TournamentID:  m.TournamentID,
	}
}

// Group returns the score group of the mark.
func (m JudgeMark) Group() GroupKey { return m.Key().Group() }

// Sheet returns the fields that decide completeness.
func (m JudgeMark) Sheet() scoring.Sheet {
	return scoring.Sheet{Deductions: m.Deductions, DScore: m.DScore, DifficultyBonus: m.DifficultyBonus}
}

// MarkFilter selects marks of one tenant. Empty fields match everything
// except InstitutionID, which is required.
type MarkFilter struct {
	InstitutionID string
	TournamentID  string
	GymnastID     string
	Apparatus     string
	Shift         string
}

// Matches reports whether m passes the filter.
func (f MarkFilter) Matches(m JudgeMark) bool {
	return m.InstitutionID == f.InstitutionID &&
		(f.TournamentID == "" || m.TournamentID == f.TournamentID) &&
		(f.GymnastID == "" || m.GymnastID == f.GymnastID) &&
		(f.Apparatus == "" || m.Apparatus == f.Apparatus) &&
		(f.Shift == "" || m.Shift == f.Shift)
}
