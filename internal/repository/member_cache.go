package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/member-onboarding/internal/config"
	"github.com/iliyamo/member-onboarding/internal/model"
)

// CachedMemberDirectory is a Redis read-through cache in front of another
// MemberDirectory.  Misses are never cached, so a member created after a
// failed lookup is found on the next call.  Redis errors fall through to
// the wrapped directory.
type CachedMemberDirectory struct {
	next   MemberDirectory
	rdb    *redis.Client
	cfg    config.CacheConfig
	logger *zap.Logger
}

var _ MemberDirectory = (*CachedMemberDirectory)(nil)

// NewCachedMemberDirectory wraps next.  It returns next unchanged when
// caching is disabled or no Redis client is available.
func NewCachedMemberDirectory(next MemberDirectory, rdb *redis.Client, cfg config.CacheConfig, logger *zap.Logger) MemberDirectory {
	if !cfg.Enabled || rdb == nil {
		return next
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedMemberDirectory{next: next, rdb: rdb, cfg: cfg, logger: logger}
}

func (d *CachedMemberDirectory) key(id string) string {
	return d.cfg.Prefix + ":member:" + id
}

func (d *CachedMemberDirectory) GetMember(ctx context.Context, id string) (model.Member, error) {
	raw, err := d.rdb.Get(ctx, d.key(id)).Bytes()
	switch {
	case err == nil:
		var m model.Member
		if jerr := json.Unmarshal(raw, &m); jerr == nil {
			return m, nil
		}
		d.logger.Warn("discarding undecodable member cache entry", zap.String("member_id", id))
	case !errors.Is(err, redis.Nil):
		d.logger.Warn("member cache read failed", zap.String("member_id", id), zap.Error(err))
	}

	m, err := d.next.GetMember(ctx, id)
	if err != nil {
		return model.Member{}, err
	}
	if b, jerr := json.Marshal(m); jerr == nil {
		if serr := d.rdb.Set(ctx, d.key(id), b, d.cfg.TTL).Err(); serr != nil {
			d.logger.Warn("member cache write failed", zap.String("member_id", id), zap.Error(serr))
		}
	}
	return m, nil
}
