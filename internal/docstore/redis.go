package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls the Redis backend. Zero values get conservative
// defaults.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingTimeout  time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.Prefix == "" {
		out.Prefix = "goopcall"
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

const mergeRetries = 8

// Redis is a Backend on a Redis server. Documents live under
// {prefix}:doc:{collection}:{id}, each collection keeps a set of its ids, and
// every write is announced on {prefix}:changes.
type Redis struct {
	rdb    *redis.Client
	prefix string

	mu     sync.Mutex
	notify func(Ref)
	sub    *redis.PubSub
	wg     sync.WaitGroup

	pingTimeout time.Duration
	// beforeCommit runs between the read and the commit of a merge.
	beforeCommit func(key string)
}

// OpenRedis connects and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Redis{rdb: rdb, prefix: cfg.Prefix, pingTimeout: cfg.PingTimeout}, nil
}

func (r *Redis) docKey(collection, id string) string {
	return r.prefix + ":doc:" + collection + ":" + id
}

func (r *Redis) indexKey(collection string) string {
	return r.prefix + ":idx:" + collection
}

func (r *Redis) channel() string { return r.prefix + ":changes" }

func (r *Redis) announce(ctx context.Context, pipe redis.Pipeliner, collection, id string) {
	msg, _ := json.Marshal(Ref{Collection: collection, ID: id})
	pipe.Publish(ctx, r.channel(), msg)
}

func (r *Redis) Get(ctx context.Context, collection, id string) (Doc, error) {
	b, err := r.rdb.Get(ctx, r.docKey(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var d Doc
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *Redis) Set(ctx context.Context, collection, id string, doc Doc) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.docKey(collection, id), b, 0)
		pipe.SAdd(ctx, r.indexKey(collection), id)
		r.announce(ctx, pipe, collection, id)
		return nil
	})
	return err
}

// Merge is an optimistic read-modify-write under WATCH, retried on conflict.
func (r *Redis) Merge(ctx context.Context, collection, id string, patch Doc) error {
	return r.merge(ctx, collection, id, patch, false)
}

func (r *Redis) MergeExisting(ctx context.Context, collection, id string, patch Doc) error {
	return r.merge(ctx, collection, id, patch, true)
}

func (r *Redis) merge(ctx context.Context, collection, id string, patch Doc, mustExist bool) error {
	key := r.docKey(collection, id)
	txf := func(tx *redis.Tx) error {
		cur := Doc{}
		b, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if mustExist {
				return ErrNotFound
			}
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(b, &cur); err != nil {
				return err
			}
		}
		DeepMerge(cur, patch)
		next, err := json.Marshal(cur)
		if err != nil {
			return err
		}
		if r.beforeCommit != nil {
			r.beforeCommit(key)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			pipe.SAdd(ctx, r.indexKey(collection), id)
			r.announce(ctx, pipe, collection, id)
			return nil
		})
		return err
	}
	for i := 0; i < mergeRetries; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("merge %s/%s: too much contention", collection, id)
}

func (r *Redis) Delete(ctx context.Context, collection, id string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.docKey(collection, id))
		pipe.SRem(ctx, r.indexKey(collection), id)
		r.announce(ctx, pipe, collection, id)
		return nil
	})
	return err
}

func (r *Redis) List(ctx context.Context, collection string) ([]Entry, error) {
	ids, err := r.rdb.SMembers(ctx, r.indexKey(collection)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.docKey(collection, id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(ids))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var d Doc
		if err := json.Unmarshal([]byte(s), &d); err != nil {
			return nil, err
		}
		out = append(out, Entry{ID: ids[i], Doc: d})
	}
	return out, nil
}

// OnRemoteChange subscribes to the change channel. It returns once the server
// confirmed the subscription, so later writes by anyone are announced.
func (r *Redis) OnRemoteChange(fn func(Ref)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notify = fn
	if r.sub != nil {
		return
	}
	r.sub = r.rdb.Subscribe(context.Background(), r.channel())
	ctx, cancel := context.WithTimeout(context.Background(), r.pingTimeout)
	if _, err := r.sub.Receive(ctx); err != nil {
		log.Warnw("change subscription not confirmed", "channel", r.channel(), "err", err)
	}
	cancel()
	ch := r.sub.Channel()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for msg := range ch {
			var ref Ref
			if err := json.Unmarshal([]byte(msg.Payload), &ref); err != nil {
				log.Debugw("bad change message", "payload", msg.Payload, "err", err)
				continue
			}
			r.mu.Lock()
			fn := r.notify
			r.mu.Unlock()
			if fn != nil {
				fn(ref)
			}
		}
	}()
}

func (r *Redis) Close() error {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
	r.wg.Wait()
	return r.rdb.Close()
}
