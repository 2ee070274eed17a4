package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/face-verify/internal/facerec"
	"github.com/example/face-verify/internal/imagecodec"
	"github.com/example/face-verify/internal/logging"
	"github.com/example/face-verify/internal/matcher"
	"github.com/example/face-verify/internal/repository"
	"github.com/example/face-verify/internal/settings"
)

// Recorder defines the persistence operations needed by the use case.
type Recorder interface {
	Save(ctx context.Context, record *repository.VerificationRecord) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.VerificationRecord, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Outcome is the structured result of one verification request. It is built
// once and never mutated; a failed pipeline stage produces an Outcome with
// Success false and the Error field populated, never a Go error.
type Outcome struct {
	RequestID     string   `json:"request_id,omitempty"`
	Success       bool     `json:"success"`
	Match         bool     `json:"match"`
	Confidence    float64  `json:"confidence"`
	Distance      *float64 `json:"distance,omitempty"`
	Error         string   `json:"error,omitempty"`
	Timestamp     string   `json:"timestamp,omitempty"`
	ThresholdUsed *float64 `json:"threshold_used,omitempty"`
}

// VerificationUseCase sequences decode, face location, and matching for a
// pair of images, and handles the outcome cache and audit trail around the
// pipeline.
type VerificationUseCase struct {
	recorder       Recorder
	cache          Cache
	locator        facerec.Locator
	config         *settings.Store
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewVerificationUseCase constructs a new use case instance.
func NewVerificationUseCase(recorder Recorder, cache Cache, locator facerec.Locator, config *settings.Store, logger *zap.Logger) *VerificationUseCase {
	return &VerificationUseCase{
		recorder:       recorder,
		cache:          cache,
		locator:        locator,
		config:         config,
		logger:         logger.Named("verification_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Config exposes the injected settings store for the transport layer.
func (uc *VerificationUseCase) Config() *settings.Store {
	return uc.config
}

// Verify decides whether the two base64 images depict the same person. The
// stages run in declared order (profile decode, profile detect, id decode,
// id detect, compare) and the first failure wins. Failures and panics are
// absorbed into the returned Outcome; nothing escapes to the transport layer.
func (uc *VerificationUseCase) Verify(ctx context.Context, profileImage, idImage string) (outcome *Outcome) {
	requestID := uuid.NewString()
	started := time.Now()
	opLogger := logging.WithOperation(uc.logger, "usecase.verify", requestID)

	defer func() {
		if r := recover(); r != nil {
			opLogger.Error("panic during verification", zap.Any("panic", r))
			outcome = failure(fmt.Sprintf("%v", r))
			outcome.RequestID = requestID
		}
	}()

	// Tolerance is read once here; a concurrent config update does not
	// affect a comparison already in flight.
	tolerance := uc.config.Tolerance()

	cacheKey := outcomeCacheKey(profileImage, idImage, tolerance)
	if cached, ok := uc.cachedOutcome(ctx, requestID, cacheKey); ok {
		opLogger.Debug("outcome served from cache")
		return cached
	}

	outcome = uc.runPipeline(opLogger, profileImage, idImage, tolerance)
	outcome.RequestID = requestID

	uc.storeOutcome(ctx, requestID, cacheKey, outcome)
	uc.record(ctx, opLogger, requestID, outcome, tolerance, time.Since(started))
	return outcome
}

func (uc *VerificationUseCase) runPipeline(opLogger *zap.Logger, profileImage, idImage string, tolerance float64) *Outcome {
	profileBuf, err := imagecodec.Decode(profileImage)
	if err != nil {
		return failure("Profile image: " + err.Error())
	}

	profileEmbedding, err := uc.selectFace(opLogger, "profile", profileBuf)
	if err != nil {
		return failure("Profile image: " + err.Error())
	}

	idBuf, err := imagecodec.Decode(idImage)
	if err != nil {
		return failure("ID image: " + err.Error())
	}

	idEmbedding, err := uc.selectFace(opLogger, "id", idBuf)
	if err != nil {
		return failure("ID image: " + err.Error())
	}

	result, err := matcher.Compare(profileEmbedding, idEmbedding, tolerance)
	if err != nil {
		opLogger.Error("comparison failed", zap.Error(err))
		return failure("Face comparison error: " + err.Error())
	}

	return &Outcome{
		Success:       true,
		Match:         result.Matched,
		Confidence:    result.Confidence,
		Distance:      &result.Distance,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		ThresholdUsed: &tolerance,
	}
}

// selectFace runs detection on one image and picks exactly one face. With
// multiple detections the first region in detector order is used; that is a
// deliberate, deterministic fallback and is only logged, never surfaced as an
// error.
func (uc *VerificationUseCase) selectFace(opLogger *zap.Logger, which string, buf *imagecodec.PixelBuffer) (facerec.Embedding, error) {
	detections, err := uc.locator.LocateAndEncode(buf)
	if err != nil {
		return nil, err
	}
	if len(detections) == 0 {
		return nil, facerec.ErrNoFace
	}
	if len(detections) > 1 {
		opLogger.Warn("multiple faces detected, using the first one",
			zap.String("image", which),
			zap.Int("faces", len(detections)))
	}
	if len(detections[0].Embedding) == 0 {
		return nil, facerec.ErrEncodingFailed
	}
	return detections[0].Embedding, nil
}

func failure(message string) *Outcome {
	return &Outcome{Success: false, Match: false, Confidence: 0, Error: message}
}

// outcomeCacheKey fingerprints the request. Tolerance is part of the key so
// a config change never replays a decision made under the old threshold.
func outcomeCacheKey(profileImage, idImage string, tolerance float64) string {
	h := sha1.New()
	h.Write([]byte(profileImage))
	h.Write([]byte{'|'})
	h.Write([]byte(idImage))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatFloat(tolerance, 'f', -1, 64)))
	return "verification:" + hex.EncodeToString(h.Sum(nil))
}

// GetResult retrieves the persisted record of a completed verification by
// its request identifier.
func (uc *VerificationUseCase) GetResult(ctx context.Context, requestID string) (*repository.VerificationRecord, error) {
	return uc.recorder.FindByRequestID(ctx, requestID)
}

// cachedOutcome replays a previously computed outcome for an identical
// request. The replayed outcome keeps its original request id, which is the
// one its audit record was written under. Cache trouble is logged and
// treated as a miss.
func (uc *VerificationUseCase) cachedOutcome(ctx context.Context, requestID, cacheKey string) (*Outcome, bool) {
	serialized, err := uc.withRedisGet(ctx, requestID, "cache.get.outcome", cacheKey)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.WithOperation(uc.logger, "usecase.cached_outcome", requestID).Warn("failed to read cache", zap.Error(err))
		}
		return nil, false
	}

	var outcome Outcome
	if err := json.Unmarshal([]byte(serialized), &outcome); err != nil {
		logging.WithOperation(uc.logger, "usecase.cached_outcome", requestID).Warn("failed to decode cached outcome", zap.Error(err))
		return nil, false
	}
	return &outcome, true
}

// storeOutcome caches the outcome best-effort; a cache failure never changes
// the verification result.
func (uc *VerificationUseCase) storeOutcome(ctx context.Context, requestID, cacheKey string, outcome *Outcome) {
	serialized, err := json.Marshal(outcome)
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.store_outcome", requestID).Warn("failed to serialize outcome", zap.Error(err))
		return
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.outcome", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), 5*time.Minute)
	}); err != nil {
		logging.WithOperation(uc.logger, "usecase.store_outcome", requestID).Warn("failed to cache outcome", zap.Error(err))
	}
}

// record appends the audit entry. Persistence is best-effort as well: the
// caller already has a complete outcome by the time this runs.
func (uc *VerificationUseCase) record(ctx context.Context, opLogger *zap.Logger, requestID string, outcome *Outcome, tolerance float64, elapsed time.Duration) {
	record := &repository.VerificationRecord{
		RequestID:  requestID,
		Success:    outcome.Success,
		Matched:    outcome.Match,
		Confidence: outcome.Confidence,
		Threshold:  tolerance,
		Error:      outcome.Error,
		LatencyMs:  float64(elapsed.Microseconds()) / 1000.0,
		CreatedAt:  time.Now().UTC(),
	}
	if outcome.Distance != nil {
		record.Distance = *outcome.Distance
	}
	if err := uc.recorder.Save(ctx, record); err != nil {
		opLogger.Warn("failed to persist verification record", zap.Error(err))
	}
}

func (uc *VerificationUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, requestID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, redis.Nil) {
			return err
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *VerificationUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
