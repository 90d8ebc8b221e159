package kv

import (
	"context"
	"time"
)

// SamplerConfig tunes the adaptive active-expiry sampler (spec.md §4.B):
// "sample M keys per shard; if over threshold fraction are expired,
// resample immediately; else yield" — the same algorithm Redis calls
// active expiry cycles.
type SamplerConfig struct {
	SampleSize     int           // keys sampled per shard per round
	Threshold      float64       // resample immediately if expired fraction exceeds this
	YieldInterval  time.Duration // sleep between rounds when under threshold
	MaxConsecutive int           // safety cap on immediate-resample rounds per shard per tick
}

func (c SamplerConfig) withDefaults() SamplerConfig {
	if c.SampleSize <= 0 {
		c.SampleSize = 20
	}
	if c.Threshold <= 0 {
		c.Threshold = 0.25
	}
	if c.YieldInterval <= 0 {
		c.YieldInterval = 100 * time.Millisecond
	}
	if c.MaxConsecutive <= 0 {
		c.MaxConsecutive = 10
	}
	return c
}

// RunTTLSampler runs the active-expiry loop until ctx is canceled. It is
// meant to be started once per Store in its own goroutine.
func (s *Store) RunTTLSampler(ctx context.Context, cfg SamplerConfig) {
	cfg = cfg.withDefaults()
	ticker := time.NewTicker(cfg.YieldInterval)
	defer ticker.Stop()

	shards := s.data.ShardCount()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().Unix()
			for shard := 0; shard < shards; shard++ {
				s.sampleShard(now, shard, cfg)
			}
		}
	}
}

// sampleShard samples cfg.SampleSize keys from one shard, deleting expired
// ones, and resamples immediately (bounded by MaxConsecutive) while the
// expired fraction stays over cfg.Threshold.
func (s *Store) sampleShard(now int64, shard int, cfg SamplerConfig) {
	for round := 0; round < cfg.MaxConsecutive; round++ {
		var sampled, expired int
		s.data.RangeSample(shard, cfg.SampleSize, func(key string, v StoredValue) {
			sampled++
			if v.Expired(now) {
				expired++
				s.removeExpired(key, v)
			}
		})
		if sampled == 0 || float64(expired)/float64(sampled) <= cfg.Threshold {
			return
		}
	}
}
