package wbrb

import (
	"context"
	"time"
)

// processRead executes (or retries) the initial storage read for key.
func (c *Cache[K, V, U, R, W]) processRead(key K) {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	if e.payload.status != ReadPending {
		e.mu.Unlock()
		return
	}
	e.payload.inflightReadGen++
	gen := e.payload.inflightReadGen
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, c.readTimeout())
	defer cancel()
	result, err := c.adapter.Read(ctx, key)

	now := c.cfg.now()
	e.mu.Lock()
	if e.payload.inflightReadGen != gen {
		// superseded by a newer read dispatch; drop this result.
		e.mu.Unlock()
		return
	}
	if err != nil {
		e.payload.failureCountRead++
		if e.payload.failureCountRead > c.cfg.ReadFailureMaxRetryCount {
			e.payload.status = ReadFailedFinal
			e.mu.Unlock()
			c.log.WithError(err).Warn(`wbrb: read failed final`, c.cfg.CacheName)
			if c.cfg.InitialReadFailedFinalAction == RemoveFromCacheOnReadFailure {
				c.evict(key)
			}
			return
		}
		e.mu.Unlock()
		c.mon.incrReadRetry()
		c.requeueRead(key)
		return
	}

	e.payload.value = c.adapter.ConvertToCacheValue(result)
	e.payload.hasValue = true
	e.payload.status = Ready
	e.payload.failureCountRead = 0
	e.payload.touch(now)
	e.mu.Unlock()

	c.scheduleMainQueue(key, now.Add(c.cfg.MainQueueCacheTime))
}

// processWrite executes (or retries) a WRITE_PENDING or RESYNC_PENDING
// dispatch, per job.doResync.
func (c *Cache[K, V, U, R, W]) processWrite(job writeJob[K]) {
	if job.doResync {
		c.processResync(job.key)
		return
	}
	c.processFlush(job.key)
}

func (c *Cache[K, V, U, R, W]) processFlush(key K) {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	if e.payload.status != WritePending {
		e.mu.Unlock()
		return
	}
	pending := append([]U(nil), e.payload.pending...)
	value := e.payload.value
	e.payload.status = WriteSent
	e.payload.inflightWriteGen++
	gen := e.payload.inflightWriteGen
	dispatchedAt := c.cfg.now()
	e.mu.Unlock()

	data, remaining := c.adapter.SplitForWrite(key, value, pending)
	consumed := len(pending) - len(remaining)

	ctx, cancel := context.WithTimeout(c.ctx, c.writeTimeout())
	defer cancel()
	err := c.adapter.Write(ctx, data)

	now := c.cfg.now()
	e.mu.Lock()
	if e.payload.inflightWriteGen != gen {
		// superseded by a newer write/resync dispatch; drop this result.
		e.mu.Unlock()
		return
	}
	if err != nil {
		e.payload.failureCountWrite++
		if e.payload.failureCountWrite > c.cfg.WriteFailureMaxRetryCount {
			e.payload.failureCountFullCycle++
			e.payload.failureCountWrite = 0
			if e.payload.failureCountFullCycle > c.cfg.FullCacheCycleFailureMaxRetryCount {
				e.payload.status = ResyncFailedFinal
				e.mu.Unlock()
				c.log.WithError(err).Error(`wbrb: write failed final (full cycle retries exhausted)`, c.cfg.CacheName)
				c.applyResyncFailedFinalAction(key)
				return
			}
		}
		e.payload.status = WritePending
		e.mu.Unlock()
		c.mon.incrWriteRetry()
		c.requeueWrite(writeJob[K]{key: key, doResync: false})
		return
	}

	if consumed > 0 && consumed <= len(e.payload.pending) {
		e.payload.pending = e.payload.pending[consumed:]
	}
	e.payload.failureCountWrite = 0
	e.payload.failureCountFullCycle = 0
	e.payload.touch(now)

	// §4.1 tie-break: if another full cycle interval elapsed while this
	// write was in flight and no new updates arrived, go straight into a
	// resync instead of round-tripping through Ready/Main Queue.
	if len(e.payload.pending) == 0 && now.Sub(dispatchedAt) >= c.cfg.MainQueueCacheTime {
		e.payload.status = WritePendingResyncScheduled
		e.mu.Unlock()
		c.scheduleWrite(key, true)
		return
	}

	e.payload.status = Ready
	e.mu.Unlock()
	c.scheduleReturnQueue(key, now.Add(c.cfg.ReturnQueueCacheTimeMin))
}

func (c *Cache[K, V, U, R, W]) processResync(key K) {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	if e.payload.status != ResyncPending && e.payload.status != WritePendingResyncScheduled {
		e.mu.Unlock()
		return
	}
	sinceStart := len(e.payload.pending)
	e.payload.status = ResyncSent
	e.payload.inflightWriteGen++
	gen := e.payload.inflightWriteGen
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, c.writeTimeout())
	defer cancel()
	result, err := c.adapter.Resync(ctx, key)

	now := c.cfg.now()
	e.mu.Lock()
	if e.payload.inflightWriteGen != gen {
		// superseded by a newer write/resync dispatch; drop this result.
		e.mu.Unlock()
		return
	}
	if err != nil {
		e.payload.failureCountFullCycle++
		if e.payload.failureCountFullCycle > c.cfg.FullCacheCycleFailureMaxRetryCount {
			e.payload.status = ResyncFailedFinal
			e.mu.Unlock()
			c.log.WithError(err).Error(`wbrb: resync failed final`, c.cfg.CacheName)
			c.applyResyncFailedFinalAction(key)
			return
		}
		e.payload.status = ResyncPending
		e.mu.Unlock()
		c.mon.incrWriteRetry()
		c.requeueWrite(writeJob[K]{key: key, doResync: true})
		return
	}

	// §4.1 "update collection while resync is in flight": if pendingUpdates
	// overflowed maxUpdatesToCollect since this resync started, the
	// collected tail is incomplete and the configured resyncTooLateAction
	// decides how to reconcile, instead of the normal merge.
	truncated := e.payload.truncatedDuringResync
	e.payload.truncatedDuringResync = false

	if truncated && c.cfg.ResyncTooLateAction == RemoveFromCacheOnTooLate {
		e.mu.Unlock()
		c.evict(key)
		return
	}

	switch {
	case truncated && c.cfg.ResyncTooLateAction == SetDirectly:
		// discard any tail updates entirely; storage is taken as-is.
		e.payload.value = c.adapter.ConvertToCacheValue(result)
		e.payload.pending = nil
	case truncated && c.cfg.ResyncTooLateAction == ClearReadPendingStatus:
		// per the literal scenario: transition to READY without setting the
		// storage value; the in-memory value (already carrying whatever
		// updates were applied via WriteIfCached) stands as-is.
		e.payload.pending = nil
	default:
		// MergeData, DoNothing, and the non-truncated case all take the
		// normal best-effort merge of storage plus the updates accumulated
		// since resync start.
		sinceStartUpdates := append([]U(nil), e.payload.pending[minInt(sinceStart, len(e.payload.pending)):]...)
		e.payload.value = c.adapter.MergeAfterResync(e.payload.value, result, sinceStartUpdates)
		e.payload.pending = nil
	}

	e.payload.hasValue = true
	e.payload.failureCountFullCycle = 0
	e.payload.creationCycleCount++
	cycles := e.payload.creationCycleCount
	e.payload.status = Ready
	e.payload.touch(now)
	e.mu.Unlock()

	c.mon.observeFullCycle(cycles)
	c.scheduleReturnQueue(key, now.Add(c.cfg.ReturnQueueCacheTimeMin))
}

func (c *Cache[K, V, U, R, W]) applyResyncFailedFinalAction(key K) {
	switch c.cfg.ResyncFailedFinalAction {
	case RemoveFromCacheOnResyncFailure:
		c.evict(key)
	case StopCollectingUpdates, KeepCollectingUpdates:
		// entry remains in the table at ResyncFailedFinal; WriteIfCached /
		// Read gate visibility via AllowDataWritingAfterResyncFailedFinal /
		// AllowDataReadingAfterResyncFailedFinal.
	}
}

func (c *Cache[K, V, U, R, W]) scheduleMainQueue(key K, due time.Time) {
	c.mu.Lock()
	c.mainQueue.push(due.UnixNano(), key)
	c.mu.Unlock()
}

func (c *Cache[K, V, U, R, W]) scheduleReturnQueue(key K, due time.Time) {
	c.mu.Lock()
	c.returnQueue.push(due.UnixNano(), key)
	c.mu.Unlock()
}

func (c *Cache[K, V, U, R, W]) scheduleWrite(key K, doResync bool) {
	select {
	case c.writeQueue <- writeJob[K]{key: key, doResync: doResync}:
	case <-c.ctx.Done():
	}
}

func (c *Cache[K, V, U, R, W]) evict(key K) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.mu.Lock()
		e.payload.status = Removed
		e.mu.Unlock()
		delete(c.entries, key)
		c.entryCount--
	}
	c.mu.Unlock()
}

func (c *Cache[K, V, U, R, W]) readTimeout() time.Duration {
	if c.cfg.MaxSleepTime > 0 {
		return c.cfg.MaxSleepTime * 10
	}
	return time.Minute
}

func (c *Cache[K, V, U, R, W]) writeTimeout() time.Duration {
	return c.readTimeout()
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
