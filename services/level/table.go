package level

import (
	"context"
	"sync"
	"time"

	"feedshop-rewards/pkg/db/option"
	"feedshop-rewards/pkg/errutil"
	"feedshop-rewards/pkg/repository"

	"golang.org/x/sync/singleflight"
)

const defaultLevelTTL = time.Minute

// table caches the level thresholds in ascending order. Concurrent misses share one query.
type table struct {
	repo  repository.Repository[UserLevel]
	group singleflight.Group
	ttl   time.Duration
	now   func() time.Time

	mu       sync.RWMutex
	levels   []*UserLevel
	loadedAt time.Time
}

func newTable(repo repository.Repository[UserLevel], ttl time.Duration) *table {
	return &table{repo: repo, ttl: ttl, now: time.Now}
}

func (t *table) Levels(ctx context.Context) ([]*UserLevel, error) {
	t.mu.RLock()
	levels, loadedAt := t.levels, t.loadedAt
	t.mu.RUnlock()

	if levels != nil && t.now().Sub(loadedAt) < t.ttl {
		return levels, nil
	}

	// the shared load ignores cancellation of whichever caller started it
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := t.group.Do("levels", func() (any, error) {
		loaded, err := t.repo.Find(loadCtx, nil,
			option.WithSortBy(option.QuerySortBy{
				SortBy:  "min_points_required",
				OrderBy: "asc",
				Allow:   map[string]bool{"min_points_required": true},
			}),
		)
		if err != nil {
			return nil, err
		}
		if loaded == nil {
			loaded = []*UserLevel{}
		}

		t.mu.Lock()
		t.levels, t.loadedAt = loaded, t.now()
		t.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*UserLevel), nil
}

func (t *table) Invalidate() {
	t.mu.Lock()
	t.levels = nil
	t.mu.Unlock()
}

// base returns the zero-threshold level every new user starts at.
func base(levels []*UserLevel) (*UserLevel, error) {
	if len(levels) == 0 || levels[0].MinPointsRequired != 0 {
		return nil, errutil.ConfigurationError("no user level with min_points_required = 0 is configured")
	}
	return levels[0], nil
}

// levelFor returns the highest level whose threshold is at most points and its 1-based rank.
func levelFor(levels []*UserLevel, points int64) (*UserLevel, int) {
	var current *UserLevel
	rank := 0
	for i, l := range levels {
		if l.MinPointsRequired > points {
			break
		}
		current, rank = l, i+1
	}
	return current, rank
}

func rankOf(levels []*UserLevel, id string) int {
	for i, l := range levels {
		if l.ID == id {
			return i + 1
		}
	}
	return 0
}

func nextLevel(levels []*UserLevel, points int64) *UserLevel {
	for _, l := range levels {
		if l.MinPointsRequired > points {
			return l
		}
	}
	return nil
}
