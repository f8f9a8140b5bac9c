// Package changeclock keeps the modification timestamps that polling clients
// use as a cursor. Touching an amendement or an article bubbles the time up
// to its lecture, whose modified_at never goes backwards.
package changeclock

import (
	"context"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"repondeur/api/internal/store"
)

// Check is the polling response. Timestamps are Unix seconds.
type Check struct {
	ModifiedAt                 int64    `json:"modified_at"`
	ModifiedAmendementsNumbers []string `json:"modified_amendements_numbers"`
}

type Clock struct {
	now   func() time.Time
	ttl   time.Duration
	cache *gocache.Cache
}

// New caches lecture timestamps read by Check for ttl. A zero ttl disables
// the cache.
func New(ttl time.Duration) *Clock {
	return NewWithNow(ttl, func() time.Time { return time.Now().UTC() })
}

func NewWithNow(ttl time.Duration, now func() time.Time) *Clock {
	cleanup := 2 * ttl
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &Clock{now: now, ttl: ttl, cache: gocache.New(ttl, cleanup)}
}

func (c *Clock) Now() time.Time {
	return c.now()
}

func lectureKey(id int64) string {
	return "lecture:" + strconv.FormatInt(id, 10)
}

// TouchAmendement stamps the amendement and bumps its lecture.
func (c *Clock) TouchAmendement(ctx context.Context, tx store.Tx, a store.Amendement) (time.Time, error) {
	now := c.now()
	if err := tx.TouchAmendement(ctx, a.ID, now); err != nil {
		return time.Time{}, err
	}
	return now, c.bump(ctx, tx, a.LectureID, now)
}

// TouchArticle stamps the article and bumps its lecture.
func (c *Clock) TouchArticle(ctx context.Context, tx store.Tx, article store.Article) (time.Time, error) {
	now := c.now()
	if err := tx.TouchArticle(ctx, article.ID, now); err != nil {
		return time.Time{}, err
	}
	return now, c.bump(ctx, tx, article.LectureID, now)
}

// TouchLecture bumps the lecture alone, for lecture-level journal entries.
func (c *Clock) TouchLecture(ctx context.Context, tx store.Tx, lectureID int64) error {
	return c.bump(ctx, tx, lectureID, c.now())
}

func (c *Clock) bump(ctx context.Context, tx store.Tx, lectureID int64, at time.Time) error {
	if _, err := tx.BumpLecture(ctx, lectureID, at); err != nil {
		return err
	}
	c.cache.Delete(lectureKey(lectureID))
	return nil
}

// Check lists the amendements modified after since. An amendement counts
// when its modified_at, truncated to the second, is strictly greater than
// since. When the lecture itself has not moved past since, no amendement is
// read.
func (c *Clock) Check(ctx context.Context, tx store.Tx, lectureID, since int64) (Check, error) {
	modifiedAt, err := c.lectureModifiedAt(ctx, tx, lectureID)
	if err != nil {
		return Check{}, err
	}
	result := Check{ModifiedAt: modifiedAt.Unix(), ModifiedAmendementsNumbers: []string{}}
	if result.ModifiedAt <= since {
		return result, nil
	}
	nums, err := tx.ModifiedSince(ctx, lectureID, time.Unix(since+1, 0).UTC())
	if err != nil {
		return Check{}, err
	}
	for _, num := range nums {
		result.ModifiedAmendementsNumbers = append(result.ModifiedAmendementsNumbers, strconv.Itoa(num))
	}
	return result, nil
}

func (c *Clock) lectureModifiedAt(ctx context.Context, tx store.Tx, lectureID int64) (time.Time, error) {
	key := lectureKey(lectureID)
	if c.ttl > 0 {
		if cached, ok := c.cache.Get(key); ok {
			return cached.(time.Time), nil
		}
	}
	lecture, err := tx.GetLecture(ctx, lectureID)
	if err != nil {
		return time.Time{}, err
	}
	if c.ttl > 0 {
		c.cache.Set(key, lecture.ModifiedAt, c.ttl)
	}
	return lecture.ModifiedAt, nil
}
