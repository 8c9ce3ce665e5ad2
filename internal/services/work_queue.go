package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/vkomlev/LMS/internal/cache"
	"github.com/vkomlev/LMS/internal/data/repos/attempts"
	"github.com/vkomlev/LMS/internal/data/repos/events"
	"github.com/vkomlev/LMS/internal/data/repos/queue"
	"github.com/vkomlev/LMS/internal/data/serial"
	types "github.com/vkomlev/LMS/internal/domain"
	"github.com/vkomlev/LMS/internal/pkg/dbctx"
	"github.com/vkomlev/LMS/internal/pkg/logger"
	"github.com/vkomlev/LMS/internal/utils"
)

// ClaimedHelpRequest is the claim triple handed to a teacher.
type ClaimedHelpRequest struct {
	Request   *types.HelpRequest `json:"request,omitempty"`
	Token     string             `json:"token,omitempty"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
	Empty     bool               `json:"empty"`
	Replayed  bool               `json:"replayed"`
}

// ClaimedReview is the claim triple for a manual-review item.
type ClaimedReview struct {
	Result    *types.TaskResult `json:"result,omitempty"`
	Token     string            `json:"token,omitempty"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	Empty     bool              `json:"empty"`
	Replayed  bool              `json:"replayed"`
}

// ClosedHelpRequest reports a close call, idempotently.
type ClosedHelpRequest struct {
	Request       *types.HelpRequest `json:"request"`
	AlreadyClosed bool               `json:"already_closed"`
}

// Workload is a teacher-facing queue snapshot.
type Workload struct {
	OpenHelpRequests  int64 `json:"open_help_requests"`
	OverdueRequests   int64 `json:"overdue_requests"`
	PendingReviews    int64 `json:"pending_reviews"`
	MyClaimedRequests int64 `json:"my_claimed_requests"`
	MyClaimedReviews  int64 `json:"my_claimed_reviews"`
}

type WorkQueueService interface {
	ClaimNextHelpRequest(ctx context.Context, teacherID uuid.UUID, filter queue.ClaimFilter, ttlSec *int, idemKey string) (*ClaimedHelpRequest, error)
	ClaimNextReview(ctx context.Context, teacherID uuid.UUID, ttlSec *int, idemKey string) (*ClaimedReview, error)
	ReleaseHelpRequest(ctx context.Context, requestID, teacherID uuid.UUID, token string) error
	ReleaseReview(ctx context.Context, resultID, teacherID uuid.UUID, token string) error
	CloseHelpRequest(ctx context.Context, requestID, closedBy uuid.UUID, resolution *string) (*ClosedHelpRequest, error)
	ReplyHelpRequest(ctx context.Context, requestID, teacherID uuid.UUID, body string, closeAfterReply bool, idemKey *string) (*types.HelpRequestReply, bool, error)
	GetWorkload(ctx context.Context, teacherID uuid.UUID) (*Workload, error)
	AdjustReviewScore(ctx context.Context, resultID, reviewerID uuid.UUID, token string, score int, comment *string) (*types.TaskResult, error)
}

type workQueueService struct {
	db         *gorm.DB
	log        *logger.Logger
	runner     serial.TxRunner
	helpRepo   queue.HelpRequestRepo
	resultRepo attempts.TaskResultRepo
	eventRepo  events.LearningEventRepo
	idemCache  cache.IdempotencyCache

	claimTTL   time.Duration
	claimLocks *keyedMutex
}

func NewWorkQueueService(
	db *gorm.DB,
	baseLog *logger.Logger,
	runner serial.TxRunner,
	helpRepo queue.HelpRequestRepo,
	resultRepo attempts.TaskResultRepo,
	eventRepo events.LearningEventRepo,
	idemCache cache.IdempotencyCache,
) WorkQueueService {
	serviceLog := baseLog.With("service", "WorkQueueService")
	ttlSec := utils.GetEnvAsInt("CLAIM_TTL_SEC", 900, baseLog)
	return &workQueueService{
		db:         db,
		log:        serviceLog,
		runner:     runner,
		helpRepo:   helpRepo,
		resultRepo: resultRepo,
		eventRepo:  eventRepo,
		idemCache:  idemCache,
		claimTTL:   time.Duration(ttlSec) * time.Second,
		claimLocks: newKeyedMutex(),
	}
}

// effectiveClaimTTL resolves the per-call TTL override, falling back to the
// CLAIM_TTL_SEC default.
func (s *workQueueService) effectiveClaimTTL(op string, ttlSec *int) (time.Duration, error) {
	if ttlSec == nil {
		return s.claimTTL, nil
	}
	if *ttlSec <= 0 {
		return 0, types.ValidationError(op, "ttl_sec must be positive")
	}
	return time.Duration(*ttlSec) * time.Second, nil
}

// ClaimNextHelpRequest hands the teacher the most urgent open request and a
// claim token. The filter narrows selection by request type or course; a
// per-call ttl overrides the configured claim TTL. The idempotency key makes
// retries safe: a replayed key returns the original claim (or the original
// empty answer) instead of claiming a second row, and concurrent calls with
// the same key are serialized so exactly one of them performs the claim.
func (s *workQueueService) ClaimNextHelpRequest(ctx context.Context, teacherID uuid.UUID, filter queue.ClaimFilter, ttlSec *int, idemKey string) (*ClaimedHelpRequest, error) {
	const op = "queue.claim_help_request"
	if teacherID == uuid.Nil {
		return nil, types.ValidationError(op, "teacher_id is required")
	}
	if filter.RequestType != nil {
		switch *filter.RequestType {
		case types.HelpRequestTypeManualHelp, types.HelpRequestTypeBlockedLimit:
		default:
			return nil, types.ValidationError(op, fmt.Sprintf("unknown request_type %q", *filter.RequestType))
		}
	}
	ttl, err := s.effectiveClaimTTL(op, ttlSec)
	if err != nil {
		return nil, err
	}

	cacheKey := claimCacheKey("help", teacherID, idemKey)
	if cacheKey != "" {
		unlock := s.claimLocks.Lock(cacheKey)
		defer unlock()
		if outcome, ok, err := s.idemCache.Lookup(ctx, cacheKey); err != nil {
			s.log.Warn("idempotency lookup failed", "error", err)
		} else if ok {
			return s.replayHelpClaim(ctx, outcome)
		}
	}

	now := time.Now().UTC()
	token := uuid.NewString()
	var claimed *types.HelpRequest
	err = s.runner.InTx(ctx, func(dbc dbctx.Context) error {
		var cErr error
		claimed, cErr = s.helpRepo.ClaimNextOpen(dbc, teacherID, filter, token, ttl, now)
		if cErr != nil {
			return types.MapError(op, cErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	outcome := &cache.ClaimOutcome{Empty: claimed == nil}
	answer := &ClaimedHelpRequest{Empty: claimed == nil}
	if claimed != nil {
		outcome.ItemID = claimed.ID
		outcome.Token = token
		outcome.ExpiresAt = *claimed.ClaimExpiresAt
		answer.Request = claimed
		answer.Token = token
		answer.ExpiresAt = claimed.ClaimExpiresAt
	}
	if cacheKey != "" {
		if err := s.idemCache.Store(ctx, cacheKey, outcome, outcome.TTL(now)); err != nil {
			s.log.Warn("idempotency store failed", "error", err)
		}
	}
	return answer, nil
}

func (s *workQueueService) replayHelpClaim(ctx context.Context, outcome *cache.ClaimOutcome) (*ClaimedHelpRequest, error) {
	const op = "queue.replay_help_claim"
	if outcome.Empty {
		return &ClaimedHelpRequest{Empty: true, Replayed: true}, nil
	}
	req, err := s.helpRepo.GetByID(dbctx.Context{Ctx: ctx}, outcome.ItemID)
	if err != nil {
		return nil, types.MapError(op, err)
	}
	expiresAt := outcome.ExpiresAt
	return &ClaimedHelpRequest{
		Request:   req,
		Token:     outcome.Token,
		ExpiresAt: &expiresAt,
		Replayed:  true,
	}, nil
}

// ClaimNextReview hands the teacher the oldest unreviewed answer, FIFO.
func (s *workQueueService) ClaimNextReview(ctx context.Context, teacherID uuid.UUID, ttlSec *int, idemKey string) (*ClaimedReview, error) {
	const op = "queue.claim_review"
	if teacherID == uuid.Nil {
		return nil, types.ValidationError(op, "teacher_id is required")
	}
	ttl, err := s.effectiveClaimTTL(op, ttlSec)
	if err != nil {
		return nil, err
	}

	cacheKey := claimCacheKey("review", teacherID, idemKey)
	if cacheKey != "" {
		unlock := s.claimLocks.Lock(cacheKey)
		defer unlock()
		if outcome, ok, err := s.idemCache.Lookup(ctx, cacheKey); err != nil {
			s.log.Warn("idempotency lookup failed", "error", err)
		} else if ok {
			return s.replayReviewClaim(ctx, outcome)
		}
	}

	now := time.Now().UTC()
	token := uuid.NewString()
	var claimed *types.TaskResult
	err = s.runner.InTx(ctx, func(dbc dbctx.Context) error {
		var cErr error
		claimed, cErr = s.resultRepo.ClaimNextReviewable(dbc, teacherID, token, ttl, now)
		if cErr != nil {
			return types.MapError(op, cErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	outcome := &cache.ClaimOutcome{Empty: claimed == nil}
	answer := &ClaimedReview{Empty: claimed == nil}
	if claimed != nil {
		outcome.ItemID = claimed.ID
		outcome.Token = token
		outcome.ExpiresAt = *claimed.ReviewClaimExpiresAt
		answer.Result = claimed
		answer.Token = token
		answer.ExpiresAt = claimed.ReviewClaimExpiresAt
	}
	if cacheKey != "" {
		if err := s.idemCache.Store(ctx, cacheKey, outcome, outcome.TTL(now)); err != nil {
			s.log.Warn("idempotency store failed", "error", err)
		}
	}
	return answer, nil
}

func (s *workQueueService) replayReviewClaim(ctx context.Context, outcome *cache.ClaimOutcome) (*ClaimedReview, error) {
	const op = "queue.replay_review_claim"
	if outcome.Empty {
		return &ClaimedReview{Empty: true, Replayed: true}, nil
	}
	result, err := s.resultRepo.GetByID(dbctx.Context{Ctx: ctx}, outcome.ItemID)
	if err != nil {
		return nil, types.MapError(op, err)
	}
	expiresAt := outcome.ExpiresAt
	return &ClaimedReview{
		Result:    result,
		Token:     outcome.Token,
		ExpiresAt: &expiresAt,
		Replayed:  true,
	}, nil
}

// ReleaseHelpRequest gives a claim back. Releasing an already-free request is
// a no-op; an expired claim is cleared regardless of the token; a live claim
// requires the holder and token to match.
func (s *workQueueService) ReleaseHelpRequest(ctx context.Context, requestID, teacherID uuid.UUID, token string) error {
	const op = "queue.release_help_request"
	return s.runner.InTx(ctx, func(dbc dbctx.Context) error {
		req, err := s.helpRepo.GetByIDForUpdate(dbc, requestID)
		if err != nil {
			return types.MapError(op, err)
		}
		now := time.Now().UTC()
		decision := releaseDecision(req.ClaimedBy, req.ClaimToken, req.ClaimExpiresAt, teacherID, token, now)
		switch decision {
		case releaseNoop:
			return nil
		case releaseConflict:
			return types.LockConflictError(op, "claim is held by another teacher or token mismatch")
		}
		return types.MapError(op, s.helpRepo.UpdateFields(dbc, req.ID, map[string]interface{}{
			"claimed_by":       nil,
			"claim_token":      nil,
			"claim_expires_at": nil,
			"updated_at":       now,
		}))
	})
}

// ReleaseReview is the review-queue twin of ReleaseHelpRequest.
func (s *workQueueService) ReleaseReview(ctx context.Context, resultID, teacherID uuid.UUID, token string) error {
	const op = "queue.release_review"
	return s.runner.InTx(ctx, func(dbc dbctx.Context) error {
		result, err := s.resultRepo.GetByIDForUpdate(dbc, resultID)
		if err != nil {
			return types.MapError(op, err)
		}
		now := time.Now().UTC()
		decision := releaseDecision(result.ReviewClaimedBy, result.ReviewClaimToken, result.ReviewClaimExpiresAt, teacherID, token, now)
		switch decision {
		case releaseNoop:
			return nil
		case releaseConflict:
			return types.LockConflictError(op, "claim is held by another teacher or token mismatch")
		}
		return types.MapError(op, s.resultRepo.UpdateFields(dbc, result.ID, map[string]interface{}{
			"review_claimed_by":       nil,
			"review_claim_token":      nil,
			"review_claim_expires_at": nil,
		}))
	})
}

type releaseOutcome int

const (
	releaseClear releaseOutcome = iota
	releaseNoop
	releaseConflict
)

// releaseDecision encodes the release protocol shared by both queues.
func releaseDecision(claimedBy *uuid.UUID, claimToken *string, expiresAt *time.Time, teacherID uuid.UUID, token string, now time.Time) releaseOutcome {
	if claimedBy == nil && claimToken == nil {
		return releaseNoop
	}
	if expiresAt != nil && now.After(*expiresAt) {
		// Stale claim: anyone may clear it.
		return releaseClear
	}
	if claimedBy == nil || *claimedBy != teacherID || claimToken == nil || *claimToken != token {
		return releaseConflict
	}
	return releaseClear
}

// CloseHelpRequest resolves a ticket. A second close returns the stored
// closure rather than failing, so retries and double-clicks are harmless.
func (s *workQueueService) CloseHelpRequest(ctx context.Context, requestID, closedBy uuid.UUID, resolution *string) (*ClosedHelpRequest, error) {
	const op = "queue.close_help_request"
	var out *ClosedHelpRequest
	err := s.runner.InTx(ctx, func(dbc dbctx.Context) error {
		req, err := s.helpRepo.GetByIDForUpdate(dbc, requestID)
		if err != nil {
			return types.MapError(op, err)
		}
		if req.Status == types.HelpRequestStatusClosed {
			out = &ClosedHelpRequest{Request: req, AlreadyClosed: true}
			return nil
		}
		now := time.Now().UTC()
		updates := map[string]interface{}{
			"status":             types.HelpRequestStatusClosed,
			"closed_at":          now,
			"closed_by":          closedBy,
			"resolution_comment": resolution,
			"claimed_by":         nil,
			"claim_token":        nil,
			"claim_expires_at":   nil,
			"updated_at":         now,
		}
		if err := s.helpRepo.UpdateFields(dbc, req.ID, updates); err != nil {
			return types.MapError(op, err)
		}
		if err := s.appendQueueEvent(dbc, types.EventHelpRequestClosed, req, map[string]interface{}{
			"closed_by": closedBy,
		}); err != nil {
			return err
		}
		closed, err := s.helpRepo.GetByID(dbc, req.ID)
		if err != nil {
			return types.MapError(op, err)
		}
		out = &ClosedHelpRequest{Request: closed}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !out.AlreadyClosed {
		s.log.Info("help request closed", "help_request_id", requestID, "closed_by", closedBy)
	}
	return out, nil
}

// ReplyHelpRequest stores a staff reply, optionally closing the ticket in the
// same transaction. With an idempotency key, a retried reply returns the
// stored row with replayed=true instead of posting twice.
func (s *workQueueService) ReplyHelpRequest(ctx context.Context, requestID, teacherID uuid.UUID, body string, closeAfterReply bool, idemKey *string) (*types.HelpRequestReply, bool, error) {
	const op = "queue.reply_help_request"
	if body == "" {
		return nil, false, types.ValidationError(op, "reply body is required")
	}

	var (
		reply    *types.HelpRequestReply
		replayed bool
	)
	err := s.runner.InTx(ctx, func(dbc dbctx.Context) error {
		req, err := s.helpRepo.GetByIDForUpdate(dbc, requestID)
		if err != nil {
			return types.MapError(op, err)
		}
		if idemKey != nil && *idemKey != "" {
			existing, err := s.helpRepo.GetReplyByIdempotencyKey(dbc, requestID, *idemKey)
			if err != nil {
				return types.MapError(op, err)
			}
			if existing != nil {
				reply = existing
				replayed = true
				return nil
			}
		}
		if req.Status == types.HelpRequestStatusClosed {
			return types.ConflictError(op, "cannot reply to a closed help request")
		}

		fresh := &types.HelpRequestReply{
			ID:              uuid.New(),
			HelpRequestID:   requestID,
			TeacherID:       teacherID,
			Body:            body,
			CloseAfterReply: closeAfterReply,
			IdempotencyKey:  idemKey,
			CreatedAt:       time.Now().UTC(),
		}
		if _, err := s.helpRepo.CreateReply(dbc, fresh); err != nil {
			return types.MapError(op, err)
		}
		if err := s.appendQueueEvent(dbc, types.EventHelpRequestReplied, req, map[string]interface{}{
			"reply_id":   fresh.ID,
			"teacher_id": teacherID,
		}); err != nil {
			return err
		}
		if closeAfterReply {
			now := time.Now().UTC()
			if err := s.helpRepo.UpdateFields(dbc, req.ID, map[string]interface{}{
				"status":           types.HelpRequestStatusClosed,
				"closed_at":        now,
				"closed_by":        teacherID,
				"claimed_by":       nil,
				"claim_token":      nil,
				"claim_expires_at": nil,
				"updated_at":       now,
			}); err != nil {
				return types.MapError(op, err)
			}
			if err := s.appendQueueEvent(dbc, types.EventHelpRequestClosed, req, map[string]interface{}{
				"closed_by": teacherID,
				"via_reply": true,
			}); err != nil {
				return err
			}
		}
		reply = fresh
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return reply, replayed, nil
}

func (s *workQueueService) GetWorkload(ctx context.Context, teacherID uuid.UUID) (*Workload, error) {
	const op = "queue.workload"
	dbc := dbctx.Context{Ctx: ctx}
	now := time.Now().UTC()

	open, err := s.helpRepo.CountOpen(dbc)
	if err != nil {
		return nil, types.MapError(op, err)
	}
	overdue, err := s.helpRepo.CountOverdue(dbc, now)
	if err != nil {
		return nil, types.MapError(op, err)
	}
	pending, err := s.resultRepo.CountPendingReview(dbc)
	if err != nil {
		return nil, types.MapError(op, err)
	}
	myRequests, err := s.helpRepo.CountClaimedBy(dbc, teacherID, now)
	if err != nil {
		return nil, types.MapError(op, err)
	}
	myReviews, err := s.resultRepo.CountClaimedReviewsBy(dbc, teacherID, now)
	if err != nil {
		return nil, types.MapError(op, err)
	}

	return &Workload{
		OpenHelpRequests:  open,
		OverdueRequests:   overdue,
		PendingReviews:    pending,
		MyClaimedRequests: myRequests,
		MyClaimedReviews:  myReviews,
	}, nil
}

// AdjustReviewScore completes a manual review: the reviewer must hold a live
// claim with the matching token, and the score must fit the result's range.
// An optional reviewer comment is stored with the outcome.
func (s *workQueueService) AdjustReviewScore(ctx context.Context, resultID, reviewerID uuid.UUID, token string, score int, comment *string) (*types.TaskResult, error) {
	const op = "queue.adjust_review_score"
	var adjusted *types.TaskResult
	err := s.runner.InTx(ctx, func(dbc dbctx.Context) error {
		result, err := s.resultRepo.GetByIDForUpdate(dbc, resultID)
		if err != nil {
			return types.MapError(op, err)
		}
		if result.CheckedAt != nil {
			return types.ConflictError(op, "result is already reviewed")
		}
		now := time.Now().UTC()
		if result.ReviewClaimedBy == nil || *result.ReviewClaimedBy != reviewerID ||
			result.ReviewClaimToken == nil || *result.ReviewClaimToken != token ||
			result.ReviewClaimExpiresAt == nil || now.After(*result.ReviewClaimExpiresAt) {
			return types.LockConflictError(op, "review claim is missing, expired, or held by someone else")
		}
		if score < 0 || score > result.MaxScore {
			return types.ValidationError(op, fmt.Sprintf("score %d outside [0, %d]", score, result.MaxScore))
		}

		correct := passes(score, result.MaxScore)
		updates := map[string]interface{}{
			"score":                   score,
			"is_correct":              correct,
			"checked_at":              now,
			"checked_by":              reviewerID,
			"review_claimed_by":       nil,
			"review_claim_token":      nil,
			"review_claim_expires_at": nil,
		}
		if comment != nil {
			updates["review_comment"] = *comment
		}
		if err := s.resultRepo.UpdateFields(dbc, result.ID, updates); err != nil {
			return types.MapError(op, err)
		}
		adjusted, err = s.resultRepo.GetByID(dbc, result.ID)
		if err != nil {
			return types.MapError(op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("review score set", "task_result_id", resultID, "reviewer_id", reviewerID, "score", score)
	return adjusted, nil
}

func (s *workQueueService) appendQueueEvent(dbc dbctx.Context, eventType string, req *types.HelpRequest, payload map[string]interface{}) error {
	const op = "queue.append_event"
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["help_request_id"] = req.ID
	raw, err := json.Marshal(payload)
	if err != nil {
		return types.Wrap(types.CodeInternal, op, err)
	}
	event := &types.LearningEvent{
		ID:        uuid.New(),
		StudentID: req.StudentID,
		EventType: eventType,
		TaskID:    &req.TaskID,
		CourseID:  req.CourseID,
		AttemptID: req.AttemptID,
		Payload:   datatypes.JSON(raw),
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.eventRepo.Append(dbc, event); err != nil {
		return types.MapError(op, err)
	}
	return nil
}

func claimCacheKey(queueName string, teacherID uuid.UUID, idemKey string) string {
	if idemKey == "" {
		return ""
	}
	return queueName + ":" + teacherID.String() + ":" + idemKey
}
