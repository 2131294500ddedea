package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/xray-check/internal/decision"
	"github.com/example/xray-check/internal/imageprocessor"
	"github.com/example/xray-check/internal/logging"
	"github.com/example/xray-check/internal/model"
	"github.com/example/xray-check/internal/navigation"
	"github.com/example/xray-check/internal/repository"
	"github.com/example/xray-check/internal/session"
)

// PredictionRepository defines the persistence operations needed by the use case.
type PredictionRepository interface {
	SaveLog(ctx context.Context, log *repository.PredictionLog) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*repository.PredictionLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// SessionStore loads and saves per-session state.
type SessionStore interface {
	Load(ctx context.Context, id string) (*session.Session, error)
	Save(ctx context.Context, sess *session.Session) error
	Delete(ctx context.Context, id string) error
}

// InferenceEngine returns the pneumonia probability for a tensor.
type InferenceEngine interface {
	Infer(ctx context.Context, input imageprocessor.Tensor) (float64, error)
}

// Upload is one uploaded file, discarded after preprocessing.
type Upload struct {
	Filename string
	Data     []byte
}

// SessionView is the resolved screen together with the session's last decision.
type SessionView struct {
	SessionID string             `json:"session_id"`
	View      navigation.View    `json:"view"`
	Decision  *decision.Decision `json:"decision,omitempty"`
}

// DetectionResult is returned after a successful inference.
type DetectionResult struct {
	RequestID string
	Decision  decision.Decision
	Session   SessionView
}

// DetectorUseCase runs the inference pipeline and the per-session navigation.
type DetectorUseCase struct {
	repo    PredictionRepository
	store   SessionStore
	engine  InferenceEngine
	logger  *zap.Logger
	now     func() time.Time
	history int
}

// NewDetectorUseCase constructs a new use case instance.
func NewDetectorUseCase(repo PredictionRepository, store SessionStore, engine InferenceEngine, logger *zap.Logger) *DetectorUseCase {
	return &DetectorUseCase{
		repo:    repo,
		store:   store,
		engine:  engine,
		logger:  logger.Named("detector_usecase"),
		now:     time.Now,
		history: 50,
	}
}

// Detect validates and preprocesses the upload, runs inference, applies the
// decision policy and stores the new decision in the session. On any error
// the stored session is left as it was.
func (uc *DetectorUseCase) Detect(ctx context.Context, sessionID string, upload Upload) (*DetectionResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithSession(logging.WithOperation(uc.logger, "usecase.detect", requestID), sessionID)

	sess, err := uc.store.Load(ctx, sessionID)
	if err != nil {
		opLogger.Error("failed to load session", zap.Error(err))
		return nil, err
	}

	if _, err := imageprocessor.ValidateUpload(upload.Filename, upload.Data); err != nil {
		wrapped := logging.NewKindError("usecase.validate_upload", requestID, imageprocessor.ErrUnsupportedFormat, err)
		opLogger.Warn("rejected upload", zap.String("filename", upload.Filename), zap.Error(err))
		return nil, wrapped
	}

	started := uc.now()
	tensor, err := imageprocessor.Preprocess(upload.Data)
	if err != nil {
		wrapped := logging.NewKindError("usecase.preprocess", requestID, imageprocessor.ErrUnsupportedFormat, err)
		opLogger.Warn("failed to decode upload", zap.Error(err))
		return nil, wrapped
	}

	probability, err := uc.engine.Infer(ctx, tensor)
	if err != nil {
		wrapped := logging.NewKindError("usecase.infer", requestID, model.ErrModelInvocation, err)
		opLogger.Error("inference failed", zap.Error(wrapped))
		return nil, wrapped
	}
	latency := uc.now().Sub(started)

	d := decision.Decide(probability)
	next := sess.Clone()
	next.Apply(d)
	if err := next.Navigation.Navigate(navigation.ScreenDetector); err != nil {
		return nil, err
	}
	view := next.Navigation.Resolve()
	if err := uc.store.Save(ctx, next); err != nil {
		opLogger.Error("failed to save session", zap.Error(err))
		return nil, err
	}

	opLogger.Info("classified upload",
		zap.String("label", string(d.Label)),
		zap.Float64("probability", probability),
		zap.Duration("latency", latency),
	)

	hash := sha1.Sum(upload.Data)
	entry := &repository.PredictionLog{
		RequestID:         requestID,
		SessionID:         sessionID,
		Filename:          upload.Filename,
		SHA1Hash:          hex.EncodeToString(hash[:]),
		Label:             string(d.Label),
		Probability:       probability,
		ConfidencePercent: d.ConfidencePercent,
		LatencyMs:         latency.Milliseconds(),
		CreatedAt:         uc.now().UTC(),
	}
	if err := uc.repo.SaveLog(ctx, entry); err != nil {
		// The decision is already the session's state; history is best effort.
		opLogger.Error("failed to persist prediction log", zap.Error(err))
	}

	return &DetectionResult{
		RequestID: requestID,
		Decision:  d,
		Session:   SessionView{SessionID: sessionID, View: view, Decision: next.Decision},
	}, nil
}

// Navigate records a screen selection and returns what should be rendered.
func (uc *DetectorUseCase) Navigate(ctx context.Context, sessionID, screen string) (*SessionView, error) {
	sess, err := uc.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	target, err := navigation.ParseScreen(screen)
	if err != nil {
		return nil, err
	}
	if err := sess.Navigation.Navigate(target); err != nil {
		return nil, err
	}
	view := sess.Navigation.Resolve()
	if err := uc.store.Save(ctx, sess); err != nil {
		return nil, err
	}

	if view.Screen == navigation.ScreenAdviceLocked {
		logging.WithSession(logging.WithOperation(uc.logger, "usecase.navigate", ""), sessionID).
			Info("advice requested while locked, redirecting to detector")
	}
	return &SessionView{SessionID: sessionID, View: view, Decision: sess.Decision}, nil
}

// Current resolves the session's active screen without changing the selection
// (other than the locked-advice redirect).
func (uc *DetectorUseCase) Current(ctx context.Context, sessionID string) (*SessionView, error) {
	sess, err := uc.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	before := sess.Navigation.Active
	view := sess.Navigation.Resolve()
	if sess.Navigation.Active != before {
		if err := uc.store.Save(ctx, sess); err != nil {
			return nil, err
		}
	}
	return &SessionView{SessionID: sessionID, View: view, Decision: sess.Decision}, nil
}

// Start creates and stores a new session in the initial state.
func (uc *DetectorUseCase) Start(ctx context.Context) (*SessionView, error) {
	sess := session.New("")
	view := sess.Navigation.Resolve()
	if err := uc.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	return &SessionView{SessionID: sess.ID, View: view}, nil
}

// End discards the session's navigation and decision state.
func (uc *DetectorUseCase) End(ctx context.Context, sessionID string) error {
	if err := uc.store.Delete(ctx, sessionID); err != nil {
		logging.WithSession(logging.WithOperation(uc.logger, "usecase.end", ""), sessionID).
			Error("failed to delete session", zap.Error(err))
		return err
	}
	return nil
}

// History returns the session's recent predictions, newest first.
func (uc *DetectorUseCase) History(ctx context.Context, sessionID string) ([]*repository.PredictionLog, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	return uc.repo.ListBySession(ctx, sessionID, uc.history)
}
