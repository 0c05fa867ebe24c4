package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"responder/internal/engine"
	inputredis "responder/internal/input/redis"
	"responder/internal/logger"
	"responder/internal/metrics"
	"responder/pkg/models"
)

// IncidentWriter archives incident snapshots.
type IncidentWriter interface {
	WriteIncidents(incidents []*models.Incident) error
	Close() error
}

// RedisEventPipeline consumes raw security events from Redis, feeds them
// through the engine, and batches incident snapshots to the archive sink.
type RedisEventPipeline struct {
	consumer      *inputredis.Consumer
	engine        *engine.Engine
	writer        IncidentWriter
	workers       int
	batchSize     int
	flushInterval time.Duration

	archiveCh chan *models.Incident
}

// NewRedisEventPipeline creates a pipeline.
func NewRedisEventPipeline(consumer *inputredis.Consumer, eng *engine.Engine, writer IncidentWriter, workers, batchSize int, flushInterval time.Duration) *RedisEventPipeline {
	if workers <= 0 {
		workers = 8
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	p := &RedisEventPipeline{
		consumer:      consumer,
		engine:        eng,
		writer:        writer,
		workers:       workers,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		archiveCh:     make(chan *models.Incident, workers*8),
	}
	if writer != nil {
		eng.SetArchiveHook(p.enqueueSnapshot)
	}
	return p
}

// Run starts the pipeline loop.
func (p *RedisEventPipeline) Run(ctx context.Context) error {
	logger.Infof("Event pipeline started (workers=%d)", p.workers)

	msgCh := make(chan []byte, p.workers*4)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.readLoop(ctx, msgCh)
		close(msgCh)
	}()

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.workerLoop(ctx, msgCh)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.archiveLoop(ctx)
	}()

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close releases pipeline resources.
func (p *RedisEventPipeline) Close() error {
	if p.writer != nil {
		if err := p.writer.Close(); err != nil {
			logger.Errorf("Failed to close incident writer: %v", err)
		}
	}
	if p.consumer != nil {
		return p.consumer.Close()
	}
	return nil
}

// enqueueSnapshot never blocks the engine; a full archive queue drops the
// snapshot and the next change re-archives the incident anyway.
func (p *RedisEventPipeline) enqueueSnapshot(snap *models.Incident) {
	select {
	case p.archiveCh <- snap:
	default:
		logger.Warnf("Archive queue full, dropping snapshot of incident %s", snap.ID)
	}
}

func (p *RedisEventPipeline) readLoop(ctx context.Context, out chan<- []byte) {
	for {
		payload, err := p.consumer.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Failed to pop redis message: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if payload == nil {
			continue
		}
		metrics.EventsConsumed.Inc()
		select {
		case out <- payload:
		case <-ctx.Done():
			return
		}
	}
}

func (p *RedisEventPipeline) workerLoop(ctx context.Context, in <-chan []byte) {
	for payload := range in {
		var event models.SecurityEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			logger.Warnf("Failed to parse security event: %v", err)
			continue
		}

		// A malformed event must never stop processing of later ones.
		if _, err := p.engine.ProcessEvent(ctx, &event); err != nil {
			logger.Warnf("Event rejected: %v", err)
		}
	}
}

func (p *RedisEventPipeline) archiveLoop(ctx context.Context) {
	if p.writer == nil {
		return
	}

	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	var batch []*models.Incident

	flush := func() {
		if len(batch) == 0 {
			return
		}
		for {
			if err := p.writer.WriteIncidents(batch); err != nil {
				logger.Errorf("Failed to archive incidents: %v", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(1 * time.Second):
				}
				continue
			}
			batch = nil
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-ticker.C:
			flush()
		case snap := <-p.archiveCh:
			batch = append(batch, snap)
			if len(batch) >= p.batchSize {
				flush()
			}
		}
	}
}
