package jobs

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"transcript-bot/database"
)

// CachedFragment persists one transcribed segment keyed by (job, segment
// index). It survives process restarts so an interrupted job resumes without
// re-dispatching finished segments.
type CachedFragment struct {
	gorm.Model
	JobID        string `gorm:"uniqueIndex:idx_job_segment"`
	SegmentIndex int    `gorm:"uniqueIndex:idx_job_segment"`
	Payload      []byte // fragment JSON, opaque to the store
}

// FragmentCache is the gorm-backed fragment store.
type FragmentCache struct{}

func NewFragmentCache() *FragmentCache {
	return &FragmentCache{}
}

func (c *FragmentCache) Get(jobID string, segmentIndex int) ([]byte, bool, error) {
	db := database.Get()
	var row CachedFragment
	err := db.Where("job_id = ? AND segment_index = ?", jobID, segmentIndex).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return row.Payload, true, nil
}

// Put stores a fragment, replacing any existing row for the same key. A
// stale row can linger when a cached payload turned out undecodable and the
// segment was re-transcribed.
func (c *FragmentCache) Put(jobID string, segmentIndex int, payload []byte) error {
	db := database.Get()
	row := CachedFragment{JobID: jobID, SegmentIndex: segmentIndex, Payload: payload}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}, {Name: "segment_index"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&row).Error
}

// Drop removes all cached fragments for a job. Called once the job reaches a
// terminal state and the transcript is persisted.
func Drop(jobID string) error {
	db := database.Get()
	return db.Unscoped().Where("job_id = ?", jobID).Delete(&CachedFragment{}).Error
}
