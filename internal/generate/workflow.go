package generate

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dmorgan81/imagegen/internal/image"
	"github.com/dmorgan81/imagegen/internal/log"
	"github.com/samber/do"
)

// ModelVersion is the Replicate model version every prediction runs against.
const ModelVersion = "a28d793df9322a8ec4bba32106e6a5eec22aec9bb783c9f06aaed981833021f0"

// PollInterval is the wait between two status checks.
const PollInterval = time.Second

type Progress int32

const (
	Idle Progress = iota
	InProgress
)

func (p Progress) String() string {
	if p == InProgress {
		return "in_progress"
	}
	return "idle"
}

// Sleeper suspends for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Workflow submits a prediction and polls it to a terminal status. Only one
// generation runs at a time.
type Workflow struct {
	Predictor image.Predictor
	Sleep     Sleeper
	// MaxWait bounds a whole generation. Zero polls until a terminal status.
	MaxWait    time.Duration
	OnProgress func(Progress)

	progress atomic.Int32
}

func NewWorkflow(i *do.Injector) (*Workflow, error) {
	return &Workflow{
		Predictor: do.MustInvoke[image.Predictor](i),
		Sleep:     Sleep,
		MaxWait:   do.MustInvokeNamed[time.Duration](i, "poll_max_wait"),
	}, nil
}

// Validate reports the input errors Generate would return without touching
// the network.
func Validate(credential, prompt string) error {
	if credential == "" {
		return ErrMissingCredential
	}
	if prompt == "" {
		return ErrMissingPrompt
	}
	return nil
}

func (w *Workflow) Progress() Progress {
	return Progress(w.progress.Load())
}

// Generate returns the first output reference of a prediction created from
// prompt. Validation failures never reach the network.
func (w *Workflow) Generate(ctx context.Context, credential, prompt string) (string, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("workflow")

	if err := Validate(credential, prompt); err != nil {
		return "", err
	}

	if !w.progress.CompareAndSwap(int32(Idle), int32(InProgress)) {
		return "", ErrInProgress
	}
	w.notify(InProgress)
	defer func() {
		w.progress.Store(int32(Idle))
		w.notify(Idle)
	}()

	if w.MaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.MaxWait)
		defer cancel()
	}

	log.Info("generating image", "prompt", prompt)
	ref, err := w.run(ctx, credential, prompt)
	if err != nil {
		log.Error("generation failed", "error", err)
		return "", err
	}
	log.Info("generated image", "image", ref)
	return ref, nil
}

func (w *Workflow) run(ctx context.Context, credential, prompt string) (string, error) {
	prediction, err := w.Predictor.CreatePrediction(ctx, credential, image.CreateRequest{
		Version: ModelVersion,
		Input:   image.Input{Prompt: prompt},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}
	if prediction.ID == "" {
		return "", fmt.Errorf("%w: response has no prediction id", ErrSubmissionFailed)
	}
	id := prediction.ID

	sleep := w.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	for {
		prediction, err := w.Predictor.GetPrediction(ctx, credential, id)
		if err != nil {
			return "", fmt.Errorf("%w: prediction %s: %w", ErrStatusCheckFailed, id, err)
		}

		switch prediction.Status {
		case image.StatusSucceeded:
			ref, ok := prediction.Image()
			if !ok {
				return "", fmt.Errorf("%w: prediction %s succeeded without output", ErrGenerationFailed, id)
			}
			return ref, nil
		case image.StatusFailed, image.StatusCanceled:
			return "", fmt.Errorf("%w: prediction %s %s: %s", ErrGenerationFailed, id, prediction.Status, prediction.Error)
		}

		if err := sleep(ctx, PollInterval); err != nil {
			return "", fmt.Errorf("waiting on prediction %s: %w", id, err)
		}
	}
}

func (w *Workflow) notify(p Progress) {
	if w.OnProgress != nil {
		w.OnProgress(p)
	}
}
