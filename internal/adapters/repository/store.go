// Package repository persists judge marks, the judge roster and tenant
// level overrides.
package repository

import (
	"context"

	"github.com/TinchoF/gym-score-be/internal/domain/levels"
	"github.com/TinchoF/gym-score-be/internal/domain/model"
)

// Outcome reports what a Submit did.
type Outcome struct {
	// Mark is the stored mark after an upsert. It is the zero value for a
	// retraction.
	Mark model.JudgeMark
	// Deleted is true when the submission was a retraction.
	Deleted bool
	// Existed is true when a row was present at the key before the write.
	Existed bool
}

// Store provides tenant-scoped access to scoring state.
type Store interface {
	// Submit atomically upserts the mark at the submission's key, or
	// deletes it when the submission is a retraction. Fields absent from
	// the submission keep their stored values.
	Submit(ctx context.Context, s model.Submission) (Outcome, error)

	// GroupMarks returns every mark of one score group.
	GroupMarks(ctx context.Context, institutionID string, key model.GroupKey) ([]model.JudgeMark, error)

	// ListMarks returns the marks matching filter.
	ListMarks(ctx context.Context, filter model.MarkFilter) ([]model.JudgeMark, error)

	// Judges returns the roster of a tenant.
	Judges(ctx context.Context, institutionID string) ([]model.Judge, error)

	// PutJudge replaces a judge's assignments.
	PutJudge(ctx context.Context, judge model.Judge) error

	// LevelOverrides returns the level configurations a tenant has set.
	LevelOverrides(ctx context.Context, institutionID string) ([]levels.Config, error)

	// PutLevelOverride installs or replaces a tenant level configuration.
	PutLevelOverride(ctx context.Context, institutionID string, cfg levels.Config) error

	// Count returns the number of stored marks across tenants.
	Count(ctx context.Context) int

	Close() error
}
