package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/conversion-relay/models"
	"github.com/amirphl/conversion-relay/utils"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// CachedClickRepository adds a Redis read-through cache to ByClickID.
// Clicks never change after insert, so eviction only happens on retention deletes.
type CachedClickRepository struct {
	ClickRepository
	rc     *redis.Client
	prefix string
	ttl    time.Duration
	log    logrus.FieldLogger
}

// NewCachedClickRepository wraps next; a nil client returns next unchanged
func NewCachedClickRepository(next ClickRepository, rc *redis.Client, prefix string, ttl time.Duration, log logrus.FieldLogger) ClickRepository {
	if rc == nil {
		return next
	}
	if ttl <= 0 {
		ttl = utils.DefaultClickCacheTTL
	}
	return &CachedClickRepository{ClickRepository: next, rc: rc, prefix: prefix, ttl: ttl, log: log}
}

func (r *CachedClickRepository) key(clickID string) string {
	return r.prefix + fmt.Sprintf(utils.ClickCacheKey, clickID)
}

func (r *CachedClickRepository) ByClickID(ctx context.Context, clickID string) (*models.Click, error) {
	if bs, err := r.rc.Get(ctx, r.key(clickID)).Bytes(); err == nil && len(bs) > 0 {
		var click models.Click
		if err := json.Unmarshal(bs, &click); err == nil {
			return &click, nil
		}
	} else if err != nil && !errors.Is(err, redis.Nil) {
		r.log.WithError(err).WithField("click_id", clickID).Warn("click cache read failed")
	}

	click, err := r.ClickRepository.ByClickID(ctx, clickID)
	if err != nil || click == nil {
		return click, err
	}
	r.store(ctx, click)
	return click, nil
}

func (r *CachedClickRepository) SaveIfAbsent(ctx context.Context, click *models.Click) (bool, error) {
	created, err := r.ClickRepository.SaveIfAbsent(ctx, click)
	if err == nil && created {
		r.store(ctx, click)
	}
	return created, err
}

func (r *CachedClickRepository) DeleteReceivedBefore(ctx context.Context, cutoff time.Time, batch int) ([]string, error) {
	ids, err := r.ClickRepository.DeleteReceivedBefore(ctx, cutoff, batch)
	if err != nil || len(ids) == 0 {
		return ids, err
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, r.key(id))
	}
	if err := r.rc.Del(ctx, keys...).Err(); err != nil {
		r.log.WithError(err).WithField("count", len(keys)).Warn("click cache eviction failed")
	}
	return ids, nil
}

func (r *CachedClickRepository) store(ctx context.Context, click *models.Click) {
	bs, err := json.Marshal(click)
	if err != nil {
		return
	}
	if err := r.rc.Set(ctx, r.key(click.ClickID), bs, r.ttl).Err(); err != nil {
		r.log.WithError(err).WithField("click_id", click.ClickID).Warn("click cache write failed")
	}
}
