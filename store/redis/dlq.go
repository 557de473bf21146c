package redis

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/notifyd/notifyd/dlq"
	"github.com/notifyd/notifyd/id"
)

type dlqStore Store

func (s *dlqStore) Push(ctx context.Context, entry *dlq.Entry) error {
	if err := (*Store)(s).setJSON(ctx, entityKey(prefixDLQ, entry.ID.String()), entry); err != nil {
		return fmt.Errorf("notifyd/redis: push DLQ entry: %w", err)
	}

	score := scoreFromTime(entry.FailedAt)
	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zDLQAll, goredis.Z{Score: score, Member: entry.ID.String()})
	pipe.ZAdd(ctx, zDLQChan+string(entry.Channel), goredis.Z{Score: score, Member: entry.ID.String()})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("notifyd/redis: index DLQ entry: %w", err)
	}
	return nil
}

func (s *dlqStore) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	index := zDLQAll
	if opts.Channel != "" {
		index = zDLQChan + string(opts.Channel)
	}

	minScore := math.Inf(-1)
	maxScore := math.Inf(1)
	if opts.From != nil {
		minScore = scoreFromTime(*opts.From)
	}
	if opts.To != nil {
		maxScore = scoreFromTime(*opts.To)
	}

	ids, err := s.rdb.ZRangeByScore(ctx, index, &goredis.ZRangeBy{
		Min: formatScore(minScore, "-inf"),
		Max: formatScore(maxScore, "+inf"),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("notifyd/redis: list DLQ: %w", err)
	}

	out := make([]*dlq.Entry, 0, len(ids))
	for _, dlqID := range ids {
		var entry dlq.Entry
		if err := (*Store)(s).getJSON(ctx, entityKey(prefixDLQ, dlqID), &entry); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, fmt.Errorf("notifyd/redis: list DLQ: %w", err)
		}
		out = append(out, &entry)
	}
	return applyPagination(out, opts.Offset, opts.Limit), nil
}

func (s *dlqStore) GetDLQ(ctx context.Context, dlqID id.ID) (*dlq.Entry, error) {
	var entry dlq.Entry
	if err := (*Store)(s).getJSON(ctx, entityKey(prefixDLQ, dlqID.String()), &entry); err != nil {
		if isRedisNil(err) {
			return nil, dlq.ErrNotFound
		}
		return nil, fmt.Errorf("notifyd/redis: get DLQ entry: %w", err)
	}
	return &entry, nil
}

func (s *dlqStore) MarkReplayed(ctx context.Context, dlqID id.ID, at time.Time) error {
	entry, err := s.GetDLQ(ctx, dlqID)
	if err != nil {
		return err
	}
	entry.ReplayedAt = &at
	entry.UpdatedAt = now()
	if err := (*Store)(s).setJSON(ctx, entityKey(prefixDLQ, dlqID.String()), entry); err != nil {
		return fmt.Errorf("notifyd/redis: mark replayed: %w", err)
	}
	return nil
}

func (s *dlqStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	maxScore := formatScore(scoreFromTime(before), "+inf")
	ids, err := s.rdb.ZRangeByScore(ctx, zDLQAll, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + maxScore,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("notifyd/redis: purge DLQ: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.rdb.Pipeline()
	for _, dlqID := range ids {
		var entry dlq.Entry
		if err := (*Store)(s).getJSON(ctx, entityKey(prefixDLQ, dlqID), &entry); err == nil {
			pipe.ZRem(ctx, zDLQChan+string(entry.Channel), dlqID)
		}
		pipe.Del(ctx, entityKey(prefixDLQ, dlqID))
		pipe.ZRem(ctx, zDLQAll, dlqID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("notifyd/redis: purge DLQ: %w", err)
	}
	return int64(len(ids)), nil
}

func (s *dlqStore) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.rdb.ZCard(ctx, zDLQAll).Result()
	if err != nil {
		return 0, fmt.Errorf("notifyd/redis: count DLQ: %w", err)
	}
	return count, nil
}

func formatScore(score float64, inf string) string {
	if math.IsInf(score, -1) || math.IsInf(score, 1) {
		return inf
	}
	return strconv.FormatFloat(score, 'f', -1, 64)
}
