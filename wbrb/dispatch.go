package wbrb

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/joeycumines/go-wbrb-rrl/internal/logx"
)

// runReadLoop is the Read Queue processor: it batches pending read
// requests over ReadQueueBatchingDelay, then hands the batch to the Read
// Pool (or runs it inline, for the {-1,-1} sentinel). Mirrors
// microbatch.Batcher.run's flush-on-timer-or-context-done shape.
func (c *Cache[K, V, U, R, W]) runReadLoop() {
	defer c.wg.Done()

	var batch []K
	var timer *time.Timer
	var timerCh <-chan time.Time

	flush := func() {
		if len(batch) == 0 {
			return
		}
		b := batch
		batch = nil
		c.dispatchReadBatch(b)
	}

	for {
		if timer == nil && len(batch) > 0 && c.cfg.ReadQueueBatchingDelay > 0 {
			timer = time.NewTimer(c.cfg.ReadQueueBatchingDelay)
			timerCh = timer.C
		}

		select {
		case <-c.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			flush()
			return

		case key := <-c.readQueue:
			batch = append(batch, key)
			if c.cfg.ReadQueueBatchingDelay <= 0 {
				flush()
			}

		case <-timerCh:
			timer = nil
			timerCh = nil
			flush()
		}
	}
}

// runWriteLoop is the Write Queue processor for both WRITE_PENDING and
// RESYNC_PENDING dispatch.
func (c *Cache[K, V, U, R, W]) runWriteLoop() {
	defer c.wg.Done()

	var batch []writeJob[K]
	var timer *time.Timer
	var timerCh <-chan time.Time

	flush := func() {
		if len(batch) == 0 {
			return
		}
		b := batch
		batch = nil
		c.dispatchWriteBatch(b)
	}

	for {
		if timer == nil && len(batch) > 0 && c.cfg.WriteQueueBatchingDelay > 0 {
			timer = time.NewTimer(c.cfg.WriteQueueBatchingDelay)
			timerCh = timer.C
		}

		select {
		case <-c.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			flush()
			return

		case job := <-c.writeQueue:
			batch = append(batch, job)
			if c.cfg.WriteQueueBatchingDelay <= 0 {
				flush()
			}

		case <-timerCh:
			timer = nil
			timerCh = nil
			flush()
		}
	}
}

// dispatchReadBatch hands a batch to the Read Pool, or runs it inline for
// the {-1,-1} sentinel (caller-must-batch mode).
func (c *Cache[K, V, U, R, W]) dispatchReadBatch(batch []K) {
	run := func() {
		for _, key := range batch {
			c.processRead(key)
		}
	}

	if c.readSem == nil {
		run()
		return
	}

	if err := c.acquireWithHandoverWait(c.readSem); err != nil {
		c.logHandoverTimeout(`read`)
		for _, key := range batch {
			c.requeueRead(key)
		}
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.readSem.Release(1)
		run()
	}()
}

func (c *Cache[K, V, U, R, W]) dispatchWriteBatch(batch []writeJob[K]) {
	run := func() {
		for _, job := range batch {
			c.processWrite(job)
		}
	}

	if c.writeSem == nil {
		run()
		return
	}

	if err := c.acquireWithHandoverWait(c.writeSem); err != nil {
		c.logHandoverTimeout(`write`)
		for _, job := range batch {
			c.requeueWrite(job)
		}
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.writeSem.Release(1)
		run()
	}()
}

// acquireWithHandoverWait bounds the wait for a saturated pool to
// MainQueueMaxRequestHandoverWaitTime, per §4.2.
func (c *Cache[K, V, U, R, W]) acquireWithHandoverWait(sem *semaphore.Weighted) error {
	wait := c.cfg.MainQueueMaxRequestHandoverWaitTime
	if wait <= 0 {
		wait = c.cfg.MaxSleepTime
	}
	ctx, cancel := context.WithTimeout(c.ctx, wait)
	defer cancel()
	return sem.Acquire(ctx, 1)
}

func (c *Cache[K, V, U, R, W]) logHandoverTimeout(pool string) {
	c.mon.observeLog(logx.LevelWarn)
	c.throt.Log(logx.LevelWarn, `handover_timeout_`+pool, c.cfg.now(), `wbrb: pool saturated, batch requeued`, c.cfg.CacheName, pool)
}

func (c *Cache[K, V, U, R, W]) requeueRead(key K) {
	select {
	case c.readQueue <- key:
	case <-c.ctx.Done():
	}
}

func (c *Cache[K, V, U, R, W]) requeueWrite(job writeJob[K]) {
	select {
	case c.writeQueue <- job:
	case <-c.ctx.Done():
	}
}
