package model

import (
	"errors"
	"fmt"
)

// ErrInvalidAssignment is returned for malformed judge assignments.
var ErrInvalidAssignment = errors.New("invalid judge assignment")

// ApparatusAssignment declares what a judge scores in one tournament shift.
type ApparatusAssignment struct {
	TournamentID string   `json:"tournamentId" yaml:"tournament" validate:"required"`
	Shift        string   `json:"shift" yaml:"shift"`
	Apparatus    []string `json:"apparatus" yaml:"apparatus" validate:"required,min=1,dive,required"`
}

// Judge is the roster entry read by the expected-judges resolver.
type Judge struct {
	ID            string                `json:"id"`
	InstitutionID string                `json:"institutionId"`
	Assignments   []ApparatusAssignment `json:"assignments"`
}

// ValidateAssignments checks a replacement assignment list.
func ValidateAssignments(assignments []ApparatusAssignment) error {
	for i, a := range assignments {
		if err := validate.Struct(a); err != nil {
			return fmt.Errorf("%w: entry %d: %v", ErrInvalidAssignment, i, err)
		}
	}
	return nil
}
