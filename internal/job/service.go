package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/maauso/kling-panel/internal/credential"
	"github.com/maauso/kling-panel/internal/generation"
	"github.com/maauso/kling-panel/internal/storage"
)

var (
	// ErrBusy is returned when the maximum number of active generations is reached.
	ErrBusy = errors.New("job: a generation is already running")
	// ErrNoCredential is returned when no API key has been configured.
	ErrNoCredential = errors.New("job: api key is not configured")
	// ErrAlreadyFinished is returned when canceling a job in a terminal state.
	ErrAlreadyFinished = errors.New("job: already finished")
	// ErrStillRunning is returned when deleting a job that has not finished.
	ErrStillRunning = errors.New("job: still running")
)

// Runner executes one generation call into the configured download directory.
type Runner interface {
	Generate(ctx context.Context, req generation.Request, credential string, onProgress generation.ProgressFunc) (generation.Artifact, error)
}

// StartInput contains the parameters for a new generation job.
type StartInput struct {
	Request generation.Request
	// StartLayer and EndLayer name the layers the reference images came from.
	StartLayer string
	EndLayer   string
	// PushToS3 mirrors the finished file to S3.
	PushToS3 bool
}

// Service runs generation calls in the background and tracks them as jobs.
type Service struct {
	repo        Repository
	runner      Runner
	credentials credential.Store
	store       storage.Storage
	sem         *semaphore.Weighted
	logger      *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates a new Service. maxActive caps concurrent generation
// calls; values below one are treated as one.
func NewService(repo Repository, runner Runner, creds credential.Store, store storage.Storage, maxActive int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if maxActive < 1 {
		maxActive = 1
	}
	return &Service{
		repo:        repo,
		runner:      runner,
		credentials: creds,
		store:       store,
		sem:         semaphore.NewWeighted(int64(maxActive)),
		logger:      logger,
		cancels:     make(map[string]context.CancelFunc),
	}
}

// Start validates the request, creates a job and runs the generation call in
// the background. The call outlives ctx; use Cancel to stop it.
func (s *Service) Start(ctx context.Context, in StartInput) (*Job, error) {
	req, err := in.Request.Validate()
	if err != nil {
		return nil, err
	}

	cred, err := s.credentials.Get(ctx)
	if err != nil {
		if errors.Is(err, credential.ErrNotConfigured) {
			return nil, ErrNoCredential
		}
		return nil, fmt.Errorf("load credential: %w", err)
	}

	if !s.sem.TryAcquire(1) {
		return nil, ErrBusy
	}

	job := New()
	job.Mode = req.Mode
	job.Prompt = req.Prompt
	job.NegativePrompt = req.NegativePrompt
	job.Duration = req.DurationSeconds
	job.StartLayer = in.StartLayer
	job.EndLayer = in.EndLayer
	job.PushToS3 = in.PushToS3

	s.logger.Info("creating generation job",
		slog.String("job_id", job.ID),
		slog.String("mode", string(req.Mode)),
		slog.Int("duration", req.DurationSeconds),
		slog.Bool("push_to_s3", in.PushToS3),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.sem.Release(1)
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancels[job.ID] = cancel
	s.mu.Unlock()

	snapshot := job.Clone()
	s.wg.Add(1)
	go s.run(runCtx, job, req, cred)

	return snapshot, nil
}

// run drives one job to a terminal state. The job is only mutated here.
func (s *Service) run(ctx context.Context, job *Job, req generation.Request, cred string) {
	defer s.wg.Done()
	defer s.sem.Release(1)
	defer func() {
		s.mu.Lock()
		if cancel, ok := s.cancels[job.ID]; ok {
			cancel()
			delete(s.cancels, job.ID)
		}
		s.mu.Unlock()
	}()

	logger := s.logger.With(slog.String("job_id", job.ID))

	if err := job.Start(); err != nil {
		logger.Error("cannot start job", slog.String("error", err.Error()))
		return
	}
	s.save(ctx, job)

	onProgress := func(e generation.ProgressEvent) {
		job.Record(e)
		s.save(ctx, job)
	}

	artifact, err := s.runner.Generate(ctx, req, cred, onProgress)
	if err != nil {
		s.finishWithError(ctx, logger, job, err)
		return
	}

	if err := job.Complete(artifact); err != nil {
		logger.Error("cannot complete job", slog.String("error", err.Error()))
	}
	s.save(ctx, job)

	if job.PushToS3 {
		s.mirror(ctx, logger, job, artifact)
	}

	logger.Info("generation job done",
		slog.String("path", artifact.LocalPath),
		slog.Int64("size_bytes", artifact.SizeBytes),
	)
}

func (s *Service) finishWithError(ctx context.Context, logger *slog.Logger, job *Job, err error) {
	var ge *generation.Error
	if !errors.As(err, &ge) {
		ge = generation.NewError(generation.KindNetwork, "", err)
	}

	if ge.Kind == generation.KindCanceled {
		_ = job.Cancel()
		logger.Info("generation job canceled", slog.String("stage", string(ge.Stage)))
	} else {
		_ = job.Fail(ge.Stage, ge.Kind, err.Error())
		logger.Warn("generation job failed",
			slog.String("stage", string(ge.Stage)),
			slog.String("error", err.Error()),
		)
	}
	s.save(ctx, job)
}

// mirror uploads the finished file to S3. A failed upload is recorded on the
// job but does not fail it: the local file is the result.
func (s *Service) mirror(ctx context.Context, logger *slog.Logger, job *Job, artifact generation.Artifact) {
	if s.store == nil {
		s.recordMirrorFailure(ctx, logger, job, storage.ErrS3NotConfigured)
		return
	}

	f, err := s.store.Open(ctx, artifact.LocalPath)
	if err != nil {
		s.recordMirrorFailure(ctx, logger, job, err)
		return
	}
	defer func() { _ = f.Close() }()

	key := fmt.Sprintf("generations/%s/%s", job.ID, filepath.Base(artifact.LocalPath))
	url, err := s.store.UploadToS3(ctx, key, f)
	if err != nil {
		s.recordMirrorFailure(ctx, logger, job, err)
		return
	}

	job.SetVideoURL(url)
	job.Record(generation.ProgressEvent{Stage: generation.StageDone, Message: "uploaded to " + url})
	s.save(ctx, job)
}

func (s *Service) recordMirrorFailure(ctx context.Context, logger *slog.Logger, job *Job, err error) {
	logger.Warn("s3 upload failed", slog.String("error", err.Error()))
	job.Record(generation.ProgressEvent{Stage: generation.StageDone, Message: "s3 upload failed: " + err.Error()})
	s.save(ctx, job)
}

// save persists the job. The repository is in memory, so failures are only logged.
func (s *Service) save(ctx context.Context, job *Job) {
	if err := s.repo.Save(context.WithoutCancel(ctx), job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// GetJob retrieves a job by ID.
func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns all jobs, newest first.
func (s *Service) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// Cancel requests cancellation of a running job. The job reaches CANCELED
// asynchronously once the call observes it.
func (s *Service) Cancel(ctx context.Context, id string) error {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()

	if !ok || job.IsTerminal() {
		return ErrAlreadyFinished
	}

	s.logger.Info("canceling generation job", slog.String("job_id", id))
	cancel()
	return nil
}

// Delete forgets a finished job. The downloaded file is left in place.
// A DONE job whose S3 upload is still in flight counts as running.
func (s *Service) Delete(ctx context.Context, id string) error {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.cancels[id]; running || !job.IsTerminal() {
		return ErrStillRunning
	}
	return s.repo.Delete(ctx, id)
}

// Shutdown cancels every running job and waits for them to finish or for
// ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for generation jobs: %w", ctx.Err())
	}
}
