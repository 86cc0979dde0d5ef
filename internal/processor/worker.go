package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jo-hoe/pinwriter/internal/images"
	"github.com/jo-hoe/pinwriter/internal/jobs"
	"github.com/jo-hoe/pinwriter/internal/llm"
	"github.com/jo-hoe/pinwriter/internal/pins"
	"github.com/jo-hoe/pinwriter/internal/publish"
	"github.com/jo-hoe/pinwriter/internal/storage"
)

// Worker runs the four pipeline steps of a job. The article step is required;
// image, wordpress and pins are best effort and never fail the job.
// Steps that already completed in an earlier run are not repeated.
type Worker struct {
	Log       *slog.Logger
	Store     jobs.Store
	LLM       llm.Client
	Assets    *storage.Assets
	Images    images.Generator  // nil skips the image step
	Publisher publish.Publisher // nil skips the wordpress step
	Pins      *pins.Builder     // nil skips the pins step
}

var _ jobs.Processor = (*Worker)(nil)

func New(log *slog.Logger, store jobs.Store, c llm.Client, assets *storage.Assets) *Worker {
	return &Worker{
		Log:    log,
		Store:  store,
		LLM:    c,
		Assets: assets,
	}
}

// Process executes the job and records its outcome. A returned error means
// the job is failed and eligible for retry.
func (w *Worker) Process(ctx context.Context, item jobs.WorkItem) error {
	// Re-read so a retry sees the step states of the previous run.
	job, err := w.Store.GetJob(ctx, item.Job.ID)
	if err != nil {
		err = fmt.Errorf("load job: %w", err)
		w.fail(ctx, item.Job.ID, err)
		return err
	}
	log := w.Log.With("job_id", job.ID)

	if err := w.Store.UpdateJob(ctx, job.ID, jobs.JobUpdate{Status: jobs.StatusPtr(jobs.StatusProcessing)}); err != nil {
		err = fmt.Errorf("update status to processing: %w", err)
		w.fail(ctx, job.ID, err)
		return err
	}

	res := jobs.Result{}
	if job.Result != nil {
		res = *job.Result
	}

	article, err := w.article(ctx, job, &res)
	if err != nil {
		w.fail(ctx, job.ID, err)
		return err
	}

	steps := []struct {
		step jobs.Step
		run  func() error
		off  bool
	}{
		{jobs.StepImage, func() error { return w.image(ctx, job.ID, article, &res) }, w.Images == nil},
		{jobs.StepWordPress, func() error { return w.publish(ctx, job.ID, article, &res) }, w.Publisher == nil},
		{jobs.StepPins, func() error { return w.pins(job.ID, article, &res) }, w.Pins == nil},
	}
	for _, s := range steps {
		if job.Steps.Status(s.step) == jobs.StepCompleted {
			continue
		}
		if err := w.optional(ctx, log, job.ID, s.step, s.off, s.run, &res); err != nil {
			w.fail(ctx, job.ID, err)
			return err
		}
	}

	if err := w.Store.UpdateJob(ctx, job.ID, jobs.JobUpdate{Status: jobs.StatusPtr(jobs.StatusCompleted), Result: &res}); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// article produces the article, either fresh or from the stored draft of an earlier run.
func (w *Worker) article(ctx context.Context, job *jobs.Job, res *jobs.Result) (llm.Article, error) {
	if job.Steps.Status(jobs.StepArticle) == jobs.StepCompleted && res.ArticlePath != "" {
		md, err := w.Assets.ReadDraft(res.ArticlePath)
		if err == nil {
			return llm.Article{Title: res.Title, Markdown: md, Excerpt: res.Excerpt, Keywords: res.Keywords}, nil
		}
		w.Log.Warn("stored draft unreadable, writing a new article", "job_id", job.ID, "err", err)
	}

	if err := w.Store.UpdateStep(ctx, job.ID, jobs.StepArticle, jobs.StepProcessing); err != nil {
		return llm.Article{}, fmt.Errorf("update article step: %w", err)
	}
	a, err := w.writeArticle(ctx, job, res)
	if err != nil {
		if serr := w.Store.UpdateStep(context.WithoutCancel(ctx), job.ID, jobs.StepArticle, jobs.StepFailed); serr != nil {
			err = errors.Join(err, serr)
		}
		return llm.Article{}, err
	}
	if err := w.Store.UpdateStep(ctx, job.ID, jobs.StepArticle, jobs.StepCompleted); err != nil {
		return llm.Article{}, fmt.Errorf("update article step: %w", err)
	}
	return a, nil
}

func (w *Worker) writeArticle(ctx context.Context, job *jobs.Job, res *jobs.Result) (llm.Article, error) {
	a, err := w.LLM.WriteArticle(ctx, job.Topic)
	if err != nil {
		return llm.Article{}, fmt.Errorf("llm write article: %w", err)
	}
	path, err := w.Assets.SaveDraft(job.ID, a.Title, a.Markdown)
	if err != nil {
		return llm.Article{}, fmt.Errorf("save draft: %w", err)
	}
	res.Title = a.Title
	res.Excerpt = a.Excerpt
	res.Keywords = a.Keywords
	res.ArticlePath = path
	if err := w.Store.UpdateJob(ctx, job.ID, jobs.JobUpdate{Result: res}); err != nil {
		return llm.Article{}, fmt.Errorf("save article result: %w", err)
	}
	return a, nil
}

// optional runs a best-effort step. Only store errors are returned; a failure
// of the step itself is recorded on the step and logged.
func (w *Worker) optional(ctx context.Context, log *slog.Logger, jobID string, step jobs.Step, off bool, run func() error, res *jobs.Result) error {
	if off {
		return w.Store.UpdateStep(ctx, jobID, step, jobs.StepSkipped)
	}
	if err := w.Store.UpdateStep(ctx, jobID, step, jobs.StepProcessing); err != nil {
		return fmt.Errorf("update %s step: %w", step, err)
	}
	if err := run(); err != nil {
		log.Warn("pipeline step failed", "step", step, "err", err)
		return w.Store.UpdateStep(context.WithoutCancel(ctx), jobID, step, jobs.StepFailed)
	}
	if err := w.Store.UpdateJob(ctx, jobID, jobs.JobUpdate{Result: res}); err != nil {
		return fmt.Errorf("save %s result: %w", step, err)
	}
	return w.Store.UpdateStep(ctx, jobID, step, jobs.StepCompleted)
}

func (w *Worker) image(ctx context.Context, jobID string, a llm.Article, res *jobs.Result) error {
	img, err := w.Images.Generate(ctx, images.Prompt(a.Title, a.Excerpt))
	if err != nil {
		return fmt.Errorf("generate image: %w", err)
	}
	path, err := w.Assets.SaveImage(jobID, a.Title, img.Data, img.MimeType)
	if err != nil {
		return err
	}
	res.ImagePaths = appendUnique(res.ImagePaths, path)
	return nil
}

func (w *Worker) publish(ctx context.Context, jobID string, a llm.Article, res *jobs.Result) error {
	out, err := w.Publisher.Publish(ctx, publish.Post{
		JobID:     jobID,
		Title:     a.Title,
		Slug:      storage.Slug(a.Title),
		Markdown:  a.Markdown,
		Excerpt:   a.Excerpt,
		Keywords:  a.Keywords,
		ImagePath: firstOrEmpty(res.ImagePaths),
	})
	if err != nil {
		return fmt.Errorf("%s publish: %w", w.Publisher.Name(), err)
	}
	res.PostID = out.ID
	res.PostURL = out.URL
	return nil
}

func (w *Worker) pins(jobID string, a llm.Article, res *jobs.Result) error {
	set := w.Pins.Build(a, firstOrEmpty(res.ImagePaths), res.PostURL)
	path, err := w.Assets.SavePins(jobID, set)
	if err != nil {
		return err
	}
	res.PinCount = len(set)
	res.PinsPath = path
	return nil
}

func (w *Worker) fail(ctx context.Context, jobID string, cause error) {
	msg := strings.TrimSpace(cause.Error())
	err := w.Store.UpdateJob(context.WithoutCancel(ctx), jobID, jobs.JobUpdate{
		Status: jobs.StatusPtr(jobs.StatusFailed),
		Error:  &msg,
	})
	if err != nil {
		w.Log.Error("failed to record job failure", "job_id", jobID, "err", err)
	}
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

func firstOrEmpty(list []string) string {
	if len(list) == 0 {
		return ""
	}
	return list[0]
}
