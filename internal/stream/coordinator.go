// Package stream consumes the transaction topic and drives each
// message through the scoring pipeline: feature update, extraction,
// scoring, alert evaluation, offset commit.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/banking/fraud-detection/internal/config"
	"github.com/banking/fraud-detection/internal/domain"
	"github.com/banking/fraud-detection/internal/pkg/logger"
	"github.com/banking/fraud-detection/internal/pkg/metrics"
	"github.com/banking/fraud-detection/internal/pkg/telemetry"
)

// FeatureStore is the rolling-aggregate capability.
type FeatureStore interface {
	UpdateAndSnapshot(ctx context.Context, tx *domain.Transaction) (*domain.UserProfileSnapshot, error)
}

// Extractor derives the model input vector.
type Extractor interface {
	Extract(tx *domain.Transaction, snap *domain.UserProfileSnapshot) *domain.FeatureVector
}

// Scorer invokes the model capability.
type Scorer interface {
	Score(ctx context.Context, fv *domain.FeatureVector) (*domain.ScoreResult, error)
}

// AlertEvaluator applies the threshold policy.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, result *domain.ScoreResult) (*domain.Alert, error)
}

// DeadLetterer routes irrecoverable messages for offline inspection.
type DeadLetterer interface {
	PublishDeadLetter(ctx context.Context, env *DeadLetterEnvelope) error
}

// ScoreCache persists score results across redeliveries so a crash
// between scoring and offset commit does not re-invoke the model.
type ScoreCache interface {
	SaveScore(ctx context.Context, result *domain.ScoreResult) error
	GetScore(ctx context.Context, txID string) (*domain.ScoreResult, error)
}

// DriftObserver ingests feature vectors for drift monitoring.
type DriftObserver interface {
	Observe(fv *domain.FeatureVector)
}

// OffsetMarker is the slice of sarama.ConsumerGroupSession the
// coordinator needs; narrowed for testability.
type OffsetMarker interface {
	MarkOffset(topic string, partition int32, offset int64, metadata string)
}

// Stats is a point-in-time view of pipeline counters, exposed on the
// health endpoint.
type Stats struct {
	Processed    int64 `json:"processed"`
	Duplicates   int64 `json:"duplicates"`
	DeadLettered int64 `json:"dead_lettered"`
}

// Coordinator owns the user-partitioned worker pool. All transactions
// for one user hash to the same worker, giving per-user ordering
// without a global lock; distinct users pipeline in parallel.
type Coordinator struct {
	store     FeatureStore
	extractor Extractor
	scorer    Scorer
	alerts    AlertEvaluator
	dlq       DeadLetterer
	scores    ScoreCache
	drift     DriftObserver

	pipelineCfg *config.PipelineConfig
	scoringCfg  *config.ScoringConfig
	log         *logger.Logger

	queues []chan *task
	wg     sync.WaitGroup

	trackerMu sync.Mutex
	trackers  map[string]*offsetTracker

	processed    atomic.Int64
	duplicates   atomic.Int64
	deadLettered atomic.Int64

	fatal chan error
}

type task struct {
	tx      *domain.Transaction
	raw     []byte
	topic   string
	part    int32
	offset  int64
	session OffsetMarker
}

// NewCoordinator wires the pipeline stages together. scores and drift
// may be nil.
func NewCoordinator(
	store FeatureStore,
	extractor Extractor,
	scorer Scorer,
	alerts AlertEvaluator,
	dlq DeadLetterer,
	scores ScoreCache,
	drift DriftObserver,
	pipelineCfg *config.PipelineConfig,
	scoringCfg *config.ScoringConfig,
	log *logger.Logger,
) *Coordinator {
	queues := make([]chan *task, pipelineCfg.Workers)
	for i := range queues {
		queues[i] = make(chan *task, pipelineCfg.WorkerQueueSize)
	}

	return &Coordinator{
		store:       store,
		extractor:   extractor,
		scorer:      scorer,
		alerts:      alerts,
		dlq:         dlq,
		scores:      scores,
		drift:       drift,
		pipelineCfg: pipelineCfg,
		scoringCfg:  scoringCfg,
		log:         log.Named("coordinator"),
		queues:      queues,
		trackers:    make(map[string]*offsetTracker),
		fatal:       make(chan error, 1),
	}
}

// Start launches the worker pool.
func (c *Coordinator) Start() {
	for i := range c.queues {
		c.wg.Add(1)
		go c.worker(c.queues[i])
	}
}

// Fatal reports unrecoverable pipeline failures (e.g. the alert sink
// staying unavailable through every retry). The consumer must stop
// without committing further offsets.
func (c *Coordinator) Fatal() <-chan error {
	return c.fatal
}

// Stats returns current pipeline counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Processed:    c.processed.Load(),
		Duplicates:   c.duplicates.Load(),
		DeadLettered: c.deadLettered.Load(),
	}
}

// Dispatch decodes a consumed message and hands it to the worker that
// owns its user partition. Undecodable and structurally invalid
// messages are dead-lettered immediately; their offsets still commit
// so one poison message cannot stall the stream.
func (c *Coordinator) Dispatch(session OffsetMarker, msg *sarama.ConsumerMessage) {
	c.trackerFor(msg.Topic, msg.Partition).track(msg.Offset)

	t := &task{
		raw:     msg.Value,
		topic:   msg.Topic,
		part:    msg.Partition,
		offset:  msg.Offset,
		session: session,
	}

	var event domain.TransactionCreatedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil || event.Transaction == nil {
		if c.deadLetter(context.Background(), t, "corrupt", 1, fmt.Errorf("decode event: %w", err)) {
			c.completeOffset(t)
		}
		return
	}
	if err := event.Transaction.Validate(); err != nil {
		t.tx = event.Transaction
		if c.deadLetter(context.Background(), t, "corrupt", 1, fmt.Errorf("%w: %v", domain.ErrCorruptTransaction, err)) {
			c.completeOffset(t)
		}
		return
	}

	t.tx = event.Transaction
	c.queues[c.partitionFor(t.tx.UserID)] <- t
}

// Drain closes the worker queues and waits for in-flight transactions
// to finish, up to the configured drain timeout. No partial
// per-transaction state is left committed: an unfinished transaction
// simply never commits its offset and is redelivered.
func (c *Coordinator) Drain() error {
	for _, q := range c.queues {
		close(q)
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(c.pipelineCfg.DrainTimeout):
		return fmt.Errorf("drain timed out after %s", c.pipelineCfg.DrainTimeout)
	}
}

func (c *Coordinator) worker(queue <-chan *task) {
	defer c.wg.Done()

	for t := range queue {
		if c.handle(t) {
			c.completeOffset(t)
		}
	}
}

// handle runs the full pipeline for one transaction. The return value
// reports whether the offset may commit; false means an unrecoverable
// pipeline-wide failure occurred and redelivery is required.
func (c *Coordinator) handle(t *task) bool {
	ctx, span := telemetry.Tracer().Start(context.Background(), "pipeline.process",
		trace.WithAttributes(
			attribute.String("transaction.id", t.tx.ID),
			attribute.String("user.id", t.tx.UserID),
		))
	defer span.End()

	start := time.Now()

	snap, err := c.store.UpdateAndSnapshot(ctx, t.tx)
	if err != nil {
		// Feature store failures are isolated per transaction: log,
		// dead-letter, keep the worker alive.
		c.log.Warn("feature store update failed", logger.ErrorField(err))
		return c.deadLetter(ctx, t, "store_failure", 1, err)
	}

	result, err := c.scoreWithRetry(ctx, t, snap)
	if err != nil {
		return c.deadLetter(ctx, t, "scoring_failure", c.scoringCfg.MaxRetries+1, err)
	}

	if c.scores != nil {
		if err := c.scores.SaveScore(ctx, result); err != nil {
			c.log.Warn("score cache write failed", logger.ErrorField(err))
		}
	}

	if err := c.evaluateWithRetry(ctx, result); err != nil {
		// The alert sink stayed unavailable through every retry. Do
		// not commit: surfacing the failure and redelivering is the
		// only way to avoid losing the alert decision.
		c.failPipeline("alert evaluation failed, stopping pipeline", err)
		return false
	}

	if snap.Duplicate {
		c.duplicates.Add(1)
		metrics.TransactionsProcessedTotal.WithLabelValues("duplicate").Inc()
	} else {
		c.processed.Add(1)
		metrics.TransactionsProcessedTotal.WithLabelValues("scored").Inc()
	}

	c.log.TransactionScored(t.tx.ID, result.AnomalyScore, result.FraudProbability,
		time.Since(start).Milliseconds())
	return true
}

// scoreWithRetry extracts features and scores them, retrying transient
// scoring failures with exponential backoff. Redelivered transactions
// reuse the cached score so the model is invoked once per transaction.
func (c *Coordinator) scoreWithRetry(ctx context.Context, t *task, snap *domain.UserProfileSnapshot) (*domain.ScoreResult, error) {
	if snap.Duplicate && c.scores != nil {
		if cached, err := c.scores.GetScore(ctx, t.tx.ID); err == nil && cached != nil {
			return cached, nil
		}
	}

	fv := c.extractor.Extract(t.tx, snap)
	if c.drift != nil {
		c.drift.Observe(fv)
	}

	var result *domain.ScoreResult
	attempt := func() error {
		var err error
		result, err = c.scorer.Score(ctx, fv)
		if err != nil && !domain.IsTransientScoringFailure(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(attempt, c.retryPolicy(ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

// evaluateWithRetry applies the alert policy, retrying sink failures.
func (c *Coordinator) evaluateWithRetry(ctx context.Context, result *domain.ScoreResult) error {
	attempt := func() error {
		_, err := c.alerts.Evaluate(ctx, result)
		return err
	}
	return backoff.Retry(attempt, c.retryPolicy(ctx))
}

func (c *Coordinator) retryPolicy(ctx context.Context) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.scoringCfg.RetryBackoff
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.scoringCfg.MaxRetries)), ctx)
}

// deadLetter publishes a failed transaction to the dead-letter topic,
// retrying with backoff. The return value reports whether the offset
// may commit: if the publish fails through every retry, committing
// would silently drop the transaction, so the pipeline stops instead
// and the message is redelivered.
func (c *Coordinator) deadLetter(ctx context.Context, t *task, reason string, attempts int, cause error) bool {
	env := &DeadLetterEnvelope{
		ID:       uuid.New(),
		Reason:   reason,
		Error:    cause.Error(),
		Attempts: attempts,
		Payload:  t.raw,
		FailedAt: time.Now().UTC(),
	}
	txID := ""
	if t.tx != nil {
		txID = t.tx.ID
		env.TransactionID = txID
	}

	publish := func() error {
		return c.dlq.PublishDeadLetter(ctx, env)
	}
	if err := backoff.Retry(publish, c.retryPolicy(ctx)); err != nil {
		c.failPipeline("dead-letter publish failed, stopping pipeline", err)
		return false
	}

	c.deadLettered.Add(1)
	metrics.DeadLetterTotal.WithLabelValues(reason).Inc()
	metrics.TransactionsProcessedTotal.WithLabelValues("dead_letter").Inc()
	c.log.DeadLettered(txID, reason, attempts)
	return true
}

// failPipeline records an unrecoverable failure for the consumer to
// observe. Only the first failure is kept.
func (c *Coordinator) failPipeline(msg string, err error) {
	c.log.Error(msg, logger.ErrorField(err))
	select {
	case c.fatal <- err:
	default:
	}
}

func (c *Coordinator) completeOffset(t *task) {
	if commit, ok := c.trackerFor(t.topic, t.part).complete(t.offset); ok {
		t.session.MarkOffset(t.topic, t.part, commit, "")
	}
}

func (c *Coordinator) partitionFor(userID string) int {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return int(h.Sum32() % uint32(len(c.queues)))
}

func (c *Coordinator) trackerFor(topic string, partition int32) *offsetTracker {
	key := fmt.Sprintf("%s/%d", topic, partition)

	c.trackerMu.Lock()
	defer c.trackerMu.Unlock()

	tr, ok := c.trackers[key]
	if !ok {
		tr = newOffsetTracker()
		c.trackers[key] = tr
	}
	return tr
}
