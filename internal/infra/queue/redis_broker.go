package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"practice-pipeline/internal/domain"
	"practice-pipeline/internal/domain/model"
)

var _ Broker = (*RedisBroker)(nil)

// RedisBroker is a reliable list queue. Per queue it keeps
//
//	<prefix>:<queue>:wait     list, LPUSH in / BRPOPLPUSH out
//	<prefix>:<queue>:active   list of claimed ids
//	<prefix>:<queue>:leases   zset id -> lease expiry (ms)
//	<prefix>:<queue>:delayed  zset id -> run at (ms)
//	<prefix>:<queue>:failed   zset id -> failed at (ms)
//	<prefix>:job:<id>         job JSON
type RedisBroker struct {
	rdb    *redis.Client
	prefix string
	lease  time.Duration
	now    func() time.Time
}

func NewRedisBroker(rdb *redis.Client, prefix string, lease time.Duration) *RedisBroker {
	if prefix == "" {
		prefix = "pipeline"
	}
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	return &RedisBroker{rdb: rdb, prefix: prefix, lease: lease, now: time.Now}
}

func (b *RedisBroker) key(q model.QueueName, part string) string {
	return b.prefix + ":" + string(q) + ":" + part
}

func (b *RedisBroker) jobKey(id string) string { return b.prefix + ":job:" + id }

func ms(t time.Time) float64 { return float64(t.UnixMilli()) }

func (b *RedisBroker) Push(ctx context.Context, job *model.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, b.jobKey(job.ID), raw, 0)
		if job.RunAt.After(b.now()) {
			p.ZAdd(ctx, b.key(job.Queue, "delayed"), &redis.Z{Score: ms(job.RunAt), Member: job.ID})
		} else {
			p.LPush(ctx, b.key(job.Queue, "wait"), job.ID)
		}
		return nil
	})
	return err
}

func (b *RedisBroker) Claim(ctx context.Context, q model.QueueName, wait time.Duration) (*model.Job, error) {
	if _, err := b.Promote(ctx, q, b.now()); err != nil {
		return nil, err
	}
	id, err := b.rdb.BRPopLPush(ctx, b.key(q, "wait"), b.key(q, "active"), wait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	raw, err := b.rdb.Get(ctx, b.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		// Job body vanished; drop the orphan id.
		_ = b.rdb.LRem(ctx, b.key(q, "active"), 1, id).Err()
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var job model.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	job.Attempt++
	updated, err := json.Marshal(&job)
	if err != nil {
		return nil, err
	}
	_, err = b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, b.jobKey(id), updated, 0)
		p.ZAdd(ctx, b.key(q, "leases"), &redis.Z{Score: ms(b.now().Add(b.lease)), Member: id})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (b *RedisBroker) release(ctx context.Context, p redis.Pipeliner, job *model.Job) {
	p.LRem(ctx, b.key(job.Queue, "active"), 1, job.ID)
	p.ZRem(ctx, b.key(job.Queue, "leases"), job.ID)
}

func (b *RedisBroker) Ack(ctx context.Context, job *model.Job) error {
	_, err := b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		b.release(ctx, p, job)
		p.Del(ctx, b.jobKey(job.ID))
		return nil
	})
	return err
}

func (b *RedisBroker) Retry(ctx context.Context, job *model.Job, at time.Time) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		b.release(ctx, p, job)
		p.Set(ctx, b.jobKey(job.ID), raw, 0)
		p.ZAdd(ctx, b.key(job.Queue, "delayed"), &redis.Z{Score: ms(at), Member: job.ID})
		return nil
	})
	return err
}

func (b *RedisBroker) Fail(ctx context.Context, job *model.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	at := b.now()
	if job.FailedAt != nil {
		at = *job.FailedAt
	}
	_, err = b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		b.release(ctx, p, job)
		p.Set(ctx, b.jobKey(job.ID), raw, 0)
		p.ZAdd(ctx, b.key(job.Queue, "failed"), &redis.Z{Score: ms(at), Member: job.ID})
		return nil
	})
	return err
}

// KEYS[1]=delayed KEYS[2]=wait ARGV[1]=now ms ARGV[2]=batch
var luaPromote = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
	redis.call("ZREM", KEYS[1], id)
	redis.call("LPUSH", KEYS[2], id)
end
return #ids`)

func (b *RedisBroker) Promote(ctx context.Context, q model.QueueName, now time.Time) (int, error) {
	n, err := luaPromote.Run(ctx, b.rdb,
		[]string{b.key(q, "delayed"), b.key(q, "wait")},
		now.UnixMilli(), 100,
	).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// KEYS[1]=leases KEYS[2]=active KEYS[3]=wait ARGV[1]=now ms ARGV[2]=batch
// ARGV[3]=orphan lease expiry ms
// RPUSH puts recovered jobs at the claim end of the list. An active id with no
// lease (its claimer died before writing one) gets a lease here, so a later
// pass recovers it unless the claimer catches up and overwrites it.
var luaRequeueStale = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
	redis.call("ZREM", KEYS[1], id)
	redis.call("LREM", KEYS[2], 1, id)
	redis.call("RPUSH", KEYS[3], id)
end
for _, id in ipairs(redis.call("LRANGE", KEYS[2], 0, -1)) do
	if not redis.call("ZSCORE", KEYS[1], id) then
		redis.call("ZADD", KEYS[1], ARGV[3], id)
	end
end
return #ids`)

func (b *RedisBroker) RequeueStale(ctx context.Context, q model.QueueName, now time.Time) (int, error) {
	n, err := luaRequeueStale.Run(ctx, b.rdb,
		[]string{b.key(q, "leases"), b.key(q, "active"), b.key(q, "wait")},
		now.UnixMilli(), 100, now.Add(b.lease).UnixMilli(),
	).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (b *RedisBroker) Failed(ctx context.Context, q model.QueueName, limit int) ([]*model.Job, error) {
	ids, err := b.rdb.ZRevRange(ctx, b.key(q, "failed"), 0, int64(limit-1)).Result()
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = b.jobKey(id)
	}
	vals, err := b.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*model.Job, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var j model.Job
		if err := json.Unmarshal([]byte(s), &j); err != nil {
			continue
		}
		out = append(out, &j)
	}
	return out, nil
}

func (b *RedisBroker) Redeliver(ctx context.Context, q model.QueueName, id string) error {
	removed, err := b.rdb.ZRem(ctx, b.key(q, "failed"), id).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return domain.ErrNotFound
	}
	raw, err := b.rdb.Get(ctx, b.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	var job model.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return err
	}
	job.Attempt = 0
	job.FailedAt = nil
	job.RunAt = b.now().UTC()
	return b.Push(ctx, &job)
}

func (b *RedisBroker) Stats(ctx context.Context, q model.QueueName) (model.QueueStats, error) {
	var waiting, active, delayed, failed *redis.IntCmd
	_, err := b.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		waiting = p.LLen(ctx, b.key(q, "wait"))
		active = p.LLen(ctx, b.key(q, "active"))
		delayed = p.ZCard(ctx, b.key(q, "delayed"))
		failed = p.ZCard(ctx, b.key(q, "failed"))
		return nil
	})
	if err != nil {
		return model.QueueStats{}, err
	}
	return model.QueueStats{
		Queue:   q,
		Waiting: waiting.Val(),
		Active:  active.Val(),
		Delayed: delayed.Val(),
		Failed:  failed.Val(),
	}, nil
}

// Close is a no-op; the client belongs to the caller.
func (b *RedisBroker) Close() error { return nil }
