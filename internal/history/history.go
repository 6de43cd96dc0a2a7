// Package history persists closed dialogs and their quality ratings.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// TimeLayout is the format of leg timestamps inside history records.
const TimeLayout = "02.01.2006 15:04:05"

// ListSep joins supervisor names and leg timestamps.
const ListSep = ";"

// ErrNotParticipant is returned when a supervisor rates a dialog they never held.
var ErrNotParticipant = errors.New("history: supervisor did not take part in the dialog")

// ErrNotFound is returned by rating operations for an unknown token.
var ErrNotFound = errors.New("history: record not found")

// Store is the GORM-backed history table.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store on db. Tables must already be migrated.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("history: db is required")
	}
	return &Store{db: db}, nil
}

// FindByToken returns the record for token, or nil if none exists.
func (s *Store) FindByToken(ctx context.Context, token string) (*models.DialogHistory, error) {
	return s.findOne(ctx, "token = ?", token)
}

// FindByThread returns the most recent record for a thread, or nil.
func (s *Store) FindByThread(ctx context.Context, threadID string) (*models.DialogHistory, error) {
	return s.findOne(ctx, "thread_id = ?", threadID)
}

func (s *Store) findOne(ctx context.Context, query string, arg string) (*models.DialogHistory, error) {
	var rec models.DialogHistory
	err := s.db.WithContext(ctx).Where(query, arg).Order("updated_at DESC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: find %s: %w", arg, err)
	}
	return &rec, nil
}

// Upsert stores rec keyed by its token. An existing record is only written
// when the dialog fields differ; ratings already recorded are kept. It reports
// whether anything was written.
func (s *Store) Upsert(ctx context.Context, rec models.DialogHistory) (bool, error) {
	if rec.Token == "" {
		return false, fmt.Errorf("history: upsert: token is required")
	}
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.DialogHistory
		err := tx.Where("token = ?", rec.Token).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			changed = true
			return tx.Create(&rec).Error
		}
		if err != nil {
			return err
		}
		if sameDialog(existing, rec) {
			return nil
		}
		changed = true
		return tx.Model(&existing).Updates(map[string]interface{}{
			"asker_id":           rec.AskerID,
			"asker_name":         rec.AskerName,
			"supervisors":        rec.Supervisors,
			"start_times":        rec.StartTimes,
			"end_times":          rec.EndTimes,
			"question_at":        rec.QuestionAt,
			"first_message_chat": rec.FirstMessageChat,
			"first_message_id":   rec.FirstMessageID,
			"thread_id":          rec.ThreadID,
			"policy_link":        rec.PolicyLink,
			"return_forbidden":   rec.ReturnForbidden,
		}).Error
	})
	if err != nil {
		return false, fmt.Errorf("history: upsert %s: %w", rec.Token, err)
	}
	return changed, nil
}

func sameDialog(a, b models.DialogHistory) bool {
	return a.AskerID == b.AskerID &&
		a.AskerName == b.AskerName &&
		a.Supervisors == b.Supervisors &&
		a.StartTimes == b.StartTimes &&
		a.EndTimes == b.EndTimes &&
		a.QuestionAt.Equal(b.QuestionAt) &&
		a.FirstMessageChat == b.FirstMessageChat &&
		a.FirstMessageID == b.FirstMessageID &&
		a.ThreadID == b.ThreadID &&
		a.PolicyLink == b.PolicyLink &&
		a.ReturnForbidden == b.ReturnForbidden
}

// RateByAsker stores the asker's quality rating for token.
func (s *Store) RateByAsker(ctx context.Context, token string, good bool) error {
	res := s.db.WithContext(ctx).Model(&models.DialogHistory{}).
		Where("token = ?", token).
		Update("asker_rating", good)
	if res.Error != nil {
		return fmt.Errorf("history: rate %s: %w", token, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RateBySupervisor stores a supervisor's rating for token. The supervisor
// must appear in the record's supervisor list.
func (s *Store) RateBySupervisor(ctx context.Context, token, supervisor string, good bool) error {
	rec, err := s.FindByToken(ctx, token)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNotFound
	}
	if !contains(SplitList(rec.Supervisors), ListItem(supervisor)) {
		return ErrNotParticipant
	}
	err = s.db.WithContext(ctx).Model(&models.DialogHistory{}).
		Where("token = ?", token).
		Update("supervisor_rating", good).Error
	if err != nil {
		return fmt.Errorf("history: rate %s: %w", token, err)
	}
	return nil
}

// SetReturnAllowed records whether the asker may return the question. Only
// a supervisor who took part may change it.
func (s *Store) SetReturnAllowed(ctx context.Context, token, supervisor string, allowed bool) error {
	rec, err := s.FindByToken(ctx, token)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNotFound
	}
	if !contains(SplitList(rec.Supervisors), ListItem(supervisor)) {
		return ErrNotParticipant
	}
	err = s.db.WithContext(ctx).Model(&models.DialogHistory{}).
		Where("token = ?", token).
		Update("return_forbidden", !allowed).Error
	if err != nil {
		return fmt.Errorf("history: set return %s: %w", token, err)
	}
	return nil
}

// RecentForAsker returns up to limit records for askerID whose question was
// asked after since, newest first.
func (s *Store) RecentForAsker(ctx context.Context, askerID string, since time.Time, limit int) ([]models.DialogHistory, error) {
	var recs []models.DialogHistory
	q := s.db.WithContext(ctx).
		Where("asker_id = ? AND question_at >= ?", askerID, since).
		Order("question_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("history: recent for %s: %w", askerID, err)
	}
	return recs, nil
}

// ReturnableForAsker is RecentForAsker without the records a supervisor
// closed to returns.
func (s *Store) ReturnableForAsker(ctx context.Context, askerID string, since time.Time, limit int) ([]models.DialogHistory, error) {
	var recs []models.DialogHistory
	q := s.db.WithContext(ctx).
		Where("asker_id = ? AND question_at >= ? AND return_forbidden = ?", askerID, since, false).
		Order("question_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("history: returnable for %s: %w", askerID, err)
	}
	return recs, nil
}

// SplitList splits a ";"-joined history field. An empty field yields nil.
func SplitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ListSep)
}

// ListItem makes s safe to store as one element of a ";"-joined list.
func ListItem(s string) string {
	return strings.ReplaceAll(s, ListSep, ",")
}

// JoinList is the inverse of SplitList.
func JoinList(items []string) string {
	return strings.Join(items, ListSep)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
