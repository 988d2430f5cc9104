package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/lumagen/credit-engine/internal/billing"
	"github.com/lumagen/credit-engine/internal/config"
	"github.com/lumagen/credit-engine/internal/domain/generation"
	"github.com/lumagen/credit-engine/internal/domain/ledger"
	"github.com/lumagen/credit-engine/internal/domain/outbox"
	"github.com/lumagen/credit-engine/internal/platform/provider"
	"github.com/lumagen/credit-engine/internal/platform/storage"
	"github.com/panjf2000/ants/v2"
)

// ErrValidation indicates a submission rejected before any charge
type ErrValidation struct {
	Reason string
}

func (e ErrValidation) Error() string {
	return "invalid generation request: " + e.Reason
}

// Is implements the errors.Is interface for ErrValidation
func (e ErrValidation) Is(target error) bool {
	_, ok := target.(ErrValidation)
	return ok
}

// GenerationServiceImpl implements the GenerationService interface. It is the
// sole writer of lifecycle records: pending before any charge, generating
// before the provider call, and exactly one terminal settlement per request.
type GenerationServiceImpl struct {
	generationRepo generation.Repository
	ledgerService  billing.LedgerService
	outboxRepo     outbox.Repository
	provider       provider.ImageProvider
	store          storage.Uploader
	pricing        generation.Pricing
	pool           *ants.Pool
	cfg            config.GenerationConfig
	storageFolder  string
	logger         *slog.Logger
}

// NewGenerationService creates a new generation orchestrator with a bounded
// provider worker pool
func NewGenerationService(
	cfg *config.GenerationConfig,
	storageFolder string,
	generationRepo generation.Repository,
	ledgerService billing.LedgerService,
	outboxRepo outbox.Repository,
	imageProvider provider.ImageProvider,
	store storage.Uploader,
	pricing generation.Pricing,
	logger *slog.Logger,
) (*GenerationServiceImpl, error) {
	pool, err := ants.NewPool(cfg.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider worker pool: %w", err)
	}

	return &GenerationServiceImpl{
		generationRepo: generationRepo,
		ledgerService:  ledgerService,
		outboxRepo:     outboxRepo,
		provider:       imageProvider,
		store:          store,
		pricing:        pricing,
		pool:           pool,
		cfg:            *cfg,
		storageFolder:  storageFolder,
		logger:         logger,
	}, nil
}

// Submit runs one generation end to end. Once credits are consumed the
// remaining work runs on a context detached from the caller, so a client
// disconnect can delay the response but never abandon settlement.
func (s *GenerationServiceImpl) Submit(ctx context.Context, params SubmitParams) (*generation.Request, error) {
	logger := s.logger
	if params.CorrelationID != "" {
		logger = s.logger.With("correlation_id", params.CorrelationID)
	}

	cost, err := s.validate(params)
	if err != nil {
		return nil, err
	}

	req := generation.NewRequest(params.AccountID, params.ProjectID, params.ModelID, params.Prompt, cost)
	if err := s.generationRepo.Create(ctx, req); err != nil {
		return nil, err
	}

	logger.Info("Generation submitted",
		"request_id", req.ID.String(),
		"account_id", params.AccountID.String(),
		"model", params.ModelID,
		"cost", cost,
	)

	if _, err := s.ledgerService.ReserveAndConsume(ctx, params.AccountID, req.ID, cost, params.CorrelationID); err != nil {
		// Nothing was charged; the record settles without a refund.
		if markErr := s.generationRepo.MarkFailed(ctx, req.ID, billingFailureMessage(err)); markErr != nil {
			logger.Error("Failed to settle unbilled request", "request_id", req.ID.String(), "error", markErr)
		}
		return nil, err
	}

	// Credits are consumed from here on. Settlement must survive the caller
	// going away, so the rest runs under a detached deadline.
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SubmitBudget)
	defer cancel()

	if err := s.generationRepo.MarkGenerating(detached, req.ID); err != nil {
		s.settleFailure(detached, logger, req, params.CorrelationID, "internal lifecycle error")
		return nil, err
	}

	refURLs, err := s.uploadReferences(detached, logger, req.ID, params.References)
	if err != nil {
		s.settleFailure(detached, logger, req, params.CorrelationID, "reference image upload failed")
		return s.generationRepo.GetByID(detached, req.ID)
	}

	result, err := s.callProvider(detached, provider.GenerateParams{
		Prompt:         params.Prompt,
		ModelID:        params.ModelID,
		ReferenceURLs:  refURLs,
		AspectRatio:    params.AspectRatio,
		Quality:        params.Quality,
		IdempotencyKey: req.ID.String(),
	})
	if err != nil {
		logger.Error("Provider phase failed",
			"request_id", req.ID.String(),
			"error", err,
		)
		s.settleFailure(detached, logger, req, params.CorrelationID, "image generation failed: "+err.Error())
		return s.generationRepo.GetByID(detached, req.ID)
	}

	outputURL, err := s.store.IngestURL(detached, result.ImageURL, req.ID.String()+".png", s.storageFolder)
	if err != nil {
		logger.Error("Failed to store generated image",
			"request_id", req.ID.String(),
			"error", err,
		)
		s.settleFailure(detached, logger, req, params.CorrelationID, "failed to store generated image")
		return s.generationRepo.GetByID(detached, req.ID)
	}

	if err := s.generationRepo.MarkCompleted(detached, req.ID, outputURL); err != nil {
		// The sweeper may have settled the row first; report what the row says.
		logger.Error("Failed to complete request", "request_id", req.ID.String(), "error", err)
		return s.generationRepo.GetByID(detached, req.ID)
	}

	logger.Info("Generation completed", "request_id", req.ID.String())
	return s.generationRepo.GetByID(detached, req.ID)
}

// GetByID retrieves a lifecycle record
func (s *GenerationServiceImpl) GetByID(ctx context.Context, id uuid.UUID) (*generation.Request, error) {
	return s.generationRepo.GetByID(ctx, id)
}

// ListByProjectID retrieves a paginated project history with total count
func (s *GenerationServiceImpl) ListByProjectID(ctx context.Context, projectID uuid.UUID, page, perPage int) ([]*generation.Request, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	offset := (page - 1) * perPage

	requests, err := s.generationRepo.ListByProjectID(ctx, projectID, perPage, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.generationRepo.CountByProjectID(ctx, projectID)
	if err != nil {
		return nil, 0, err
	}
	return requests, total, nil
}

// Shutdown releases the provider worker pool
func (s *GenerationServiceImpl) Shutdown() {
	s.logger.Info("Shutting down provider worker pool", "running_workers", s.pool.Running())
	s.pool.Release()
}

func (s *GenerationServiceImpl) validate(params SubmitParams) (int64, error) {
	if params.Prompt == "" {
		return 0, ErrValidation{Reason: "prompt is required"}
	}
	if len(params.Prompt) > s.cfg.MaxPromptLength {
		return 0, ErrValidation{Reason: fmt.Sprintf("prompt exceeds %d characters", s.cfg.MaxPromptLength)}
	}
	if len(params.References) > s.cfg.MaxReferenceImages {
		return 0, ErrValidation{Reason: fmt.Sprintf("at most %d reference images are allowed", s.cfg.MaxReferenceImages)}
	}
	cost, ok := s.pricing.Cost(params.ModelID)
	if !ok {
		return 0, ErrValidation{Reason: "unknown model: " + params.ModelID}
	}
	return cost, nil
}

// uploadReferences stores the raw reference payloads in parallel. Partial
// failure degrades the generation with a warning; total failure aborts it.
func (s *GenerationServiceImpl) uploadReferences(ctx context.Context, logger *slog.Logger, requestID uuid.UUID, refs []ReferenceImage) ([]string, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		urls []string
		errs []error
	)

	for i, ref := range refs {
		wg.Add(1)
		go func(idx int, ref ReferenceImage) {
			defer wg.Done()
			filename := fmt.Sprintf("%s-ref-%d-%s", requestID.String(), idx, ref.Filename)
			url, err := s.store.Upload(ctx, ref.Data, filename, ref.ContentType, s.storageFolder)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			urls = append(urls, url)
		}(i, ref)
	}
	wg.Wait()

	if len(urls) == 0 {
		return nil, fmt.Errorf("all %d reference uploads failed: %w", len(refs), errors.Join(errs...))
	}
	if len(errs) > 0 {
		logger.Warn("Some reference uploads failed, continuing with the rest",
			"request_id", requestID.String(),
			"uploaded", len(urls),
			"failed", len(errs),
		)
	}
	return urls, nil
}

type providerResult struct {
	result *provider.GenerateResult
	err    error
}

// callProvider runs the provider call on the bounded pool and waits for the
// result or the detached deadline, whichever comes first.
func (s *GenerationServiceImpl) callProvider(ctx context.Context, params provider.GenerateParams) (*provider.GenerateResult, error) {
	resultChan := make(chan providerResult, 1)

	err := s.pool.Submit(func() {
		res, err := s.provider.Generate(ctx, params)
		resultChan <- providerResult{result: res, err: err}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit generation to worker pool: %w", err)
	}

	select {
	case r := <-resultChan:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// settleFailure moves the request to failed and returns its credits. A
// refund that cannot be applied now is never dropped: it becomes a pending
// outbox task the worker retries until it lands.
func (s *GenerationServiceImpl) settleFailure(ctx context.Context, logger *slog.Logger, req *generation.Request, correlationID, message string) {
	if err := s.generationRepo.MarkFailed(ctx, req.ID, message); err != nil && !errors.Is(err, generation.ErrInvalidTransition{}) {
		logger.Error("Failed to mark request failed", "request_id", req.ID.String(), "error", err)
	}

	_, err := s.ledgerService.Refund(ctx, req.ID, ledger.ReasonGenerationRefund, correlationID)
	if err == nil || errors.Is(err, ledger.ErrAlreadyRefunded{}) {
		return
	}

	logger.Error("Inline refund failed, enqueueing retry task",
		"request_id", req.ID.String(),
		"account_id", req.AccountID.String(),
		"error", err,
	)
	task, taskErr := outbox.NewRefundTask(req.AccountID, req.ID, ledger.ReasonGenerationRefund)
	if taskErr != nil {
		logger.Error("Failed to build refund retry task", "request_id", req.ID.String(), "error", taskErr)
		return
	}
	if createErr := s.outboxRepo.Create(ctx, task); createErr != nil {
		logger.Error("Failed to enqueue refund retry task, credits remain unsettled",
			"request_id", req.ID.String(),
			"account_id", req.AccountID.String(),
			"error", createErr,
		)
	}
}

func billingFailureMessage(err error) string {
	if errors.Is(err, ledger.ErrInsufficientCredits{}) {
		return "insufficient credits"
	}
	return "billing failed"
}
