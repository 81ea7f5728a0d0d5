// Package stats is the gamification ledger: per-user prediction counters,
// streaks, points and badges persisted through the store contract, plus
// leaderboard and history queries over them.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/krishimitra/pdr-api/internal/store"
)

// Collection is the store collection user records live in.
const Collection = "farmers"

// PointsPerPrediction is awarded on every recorded prediction. There is no
// deduction path, so total_points stays exactly 10x predictions_made.
const PointsPerPrediction = 10

// logCapacity bounds the per-user prediction log; the oldest entries are
// evicted first.
const logCapacity = 100

// PredictionRecord is one entry of a user's prediction log.
type PredictionRecord struct {
	Disease      string    `json:"disease"`
	Confidence   float64   `json:"confidence"`
	Timestamp    time.Time `json:"timestamp"`
	PointsEarned int       `json:"points_earned"`
}

// Profile is the full per-user record. It is created lazily with zeroed
// counters on first read and mutated only through UpdatePrediction and
// ResetStreak.
type Profile struct {
	UserID             string             `json:"user_id"`
	CreatedAt          time.Time          `json:"created_at"`
	PredictionsMade    int                `json:"predictions_made"`
	CurrentStreak      int                `json:"current_streak"`
	MaxStreak          int                `json:"max_streak"`
	TotalPoints        int                `json:"total_points"`
	Badges             []string           `json:"badges"`
	DiseasePredictions []PredictionRecord `json:"disease_predictions"`
	LastPrediction     *time.Time         `json:"last_prediction,omitempty"`
}

// Entry is one leaderboard row.
type Entry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"user_id"`
	Points      int    `json:"points"`
	Predictions int    `json:"predictions"`
	Badges      int    `json:"badges"`
}

// DiseaseCount is one row of a user's grouped disease history.
type DiseaseCount struct {
	Disease string `json:"disease"`
	Count   int    `json:"count"`
}

// Summary is the profile view with derived fields for display.
type Summary struct {
	Profile
	BadgeCount       int     `json:"badges_count"`
	DiseasesSeen     int     `json:"total_diseases_identified"`
	AvgConfidencePct float64 `json:"avg_confidence,omitempty"`
}

// Ledger applies prediction events to user records. The underlying store is
// a plain get/set contract with no compare-and-swap, so the ledger
// serializes read-modify-write per user id with keyed mutexes; concurrent
// updates for the same user cannot lose an increment.
type Ledger struct {
	store  store.Store
	logger *zap.Logger
	clock  func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLedger(st store.Store, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:  st,
		logger: logger,
		clock:  func() time.Time { return time.Now().UTC() },
		locks:  map[string]*sync.Mutex{},
	}
}

func (l *Ledger) userLock(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	return m
}

// load fetches a user's record, lazily creating a zeroed profile for unknown
// ids. Never an error path for absence.
func (l *Ledger) load(ctx context.Context, userID string) (*Profile, error) {
	doc, err := l.store.Get(ctx, Collection, userID)
	if errors.Is(err, store.ErrNotFound) {
		return &Profile{
			UserID:             userID,
			CreatedAt:          l.clock(),
			Badges:             []string{},
			DiseasePredictions: []PredictionRecord{},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", userID, err)
	}
	return docToProfile(doc)
}

func (l *Ledger) persist(ctx context.Context, p *Profile) error {
	doc, err := profileToDoc(p)
	if err != nil {
		return err
	}
	if err := l.store.Set(ctx, Collection, p.UserID, doc); err != nil {
		return fmt.Errorf("failed to persist profile %s: %w", p.UserID, err)
	}
	return nil
}

// GetProfile returns the user's record; unknown users get a zero-valued
// profile without creating a stored document.
func (l *Ledger) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	return l.load(ctx, userID)
}

// UpdatePrediction records one completed prediction event: counters, streak,
// points, the bounded prediction log and any newly crossed badges, persisted
// as a single logical transaction and returned in full.
func (l *Ledger) UpdatePrediction(ctx context.Context, userID, disease string, confidence float64) (*Profile, error) {
	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	p, err := l.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := l.clock()
	p.PredictionsMade++
	p.CurrentStreak++
	if p.CurrentStreak > p.MaxStreak {
		p.MaxStreak = p.CurrentStreak
	}
	p.TotalPoints += PointsPerPrediction

	p.DiseasePredictions = append(p.DiseasePredictions, PredictionRecord{
		Disease:      disease,
		Confidence:   confidence,
		Timestamp:    now,
		PointsEarned: PointsPerPrediction,
	})
	if n := len(p.DiseasePredictions); n > logCapacity {
		p.DiseasePredictions = p.DiseasePredictions[n-logCapacity:]
	}
	p.LastPrediction = &now

	for _, badge := range newlyEarnedBadges(p) {
		p.Badges = append(p.Badges, badge)
		l.logger.Info("badge unlocked",
			zap.String("user_id", userID), zap.String("badge", badge))
	}

	if err := l.persist(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ResetStreak zeroes the current streak. It is a caller-driven trigger for a
// missed day; nothing in the service invokes it on a timer, and max streak,
// points and badges are untouched.
func (l *Ledger) ResetStreak(ctx context.Context, userID string) error {
	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	p, err := l.load(ctx, userID)
	if err != nil {
		return err
	}
	if p.CurrentStreak == 0 {
		return nil
	}
	p.CurrentStreak = 0
	return l.persist(ctx, p)
}

// Leaderboard returns the top users by points, ranks assigned by position.
// Ties order by user id ascending so results are stable across backends.
func (l *Ledger) Leaderboard(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	docs, err := l.store.Query(ctx, Collection, "total_points", true, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	entries := make([]Entry, 0, len(docs))
	for i, doc := range docs {
		p, err := docToProfile(doc)
		if err != nil {
			l.logger.Warn("skipping corrupt profile document", zap.Error(err))
			continue
		}
		entries = append(entries, Entry{
			Rank:        i + 1,
			UserID:      p.UserID,
			Points:      p.TotalPoints,
			Predictions: p.PredictionsMade,
			Badges:      len(p.Badges),
		})
	}
	return entries, nil
}

// DiseaseHistory groups the user's prediction log by disease, most frequent
// first, ties by disease name ascending.
func (l *Ledger) DiseaseHistory(ctx context.Context, userID string) ([]DiseaseCount, error) {
	p, err := l.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, rec := range p.DiseasePredictions {
		counts[rec.Disease]++
	}
	out := make([]DiseaseCount, 0, len(counts))
	for disease, n := range counts {
		out = append(out, DiseaseCount{Disease: disease, Count: n})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Count != out[b].Count {
			return out[a].Count > out[b].Count
		}
		return out[a].Disease < out[b].Disease
	})
	return out, nil
}

// ProfileSummary is the display view: the profile plus badge count, distinct
// diseases seen and average confidence over the retained log, as a
// percentage rounded to one decimal.
func (l *Ledger) ProfileSummary(ctx context.Context, userID string) (*Summary, error) {
	p, err := l.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	s := &Summary{Profile: *p, BadgeCount: len(p.Badges)}

	seen := map[string]struct{}{}
	var sum float64
	for _, rec := range p.DiseasePredictions {
		seen[rec.Disease] = struct{}{}
		sum += rec.Confidence
	}
	s.DiseasesSeen = len(seen)
	if n := len(p.DiseasePredictions); n > 0 {
		s.AvgConfidencePct = float64(int(sum/float64(n)*1000+0.5)) / 10
	}
	return s, nil
}

func docToProfile(doc map[string]any) (*Profile, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode profile document: %w", err)
	}
	p := &Profile{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to decode profile document: %w", err)
	}
	if p.Badges == nil {
		p.Badges = []string{}
	}
	if p.DiseasePredictions == nil {
		p.DiseasePredictions = []PredictionRecord{}
	}
	return p, nil
}

func profileToDoc(p *Profile) (map[string]any, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode profile %s: %w", p.UserID, err)
	}
	doc := map[string]any{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode profile %s: %w", p.UserID, err)
	}
	return doc, nil
}
