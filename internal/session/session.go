package session

import (
	"context"
	"errors"
	"sync"

	"github.com/dmorgan81/imagegen/internal/credential"
	"github.com/dmorgan81/imagegen/internal/generate"
	"github.com/dmorgan81/imagegen/internal/log"
	"github.com/samber/do"
)

// Session is the state a front end renders: the credential, whether a
// generation is running, and the outcome of the last one.
type Session struct {
	store    credential.Store
	workflow *generate.Workflow

	mu         sync.RWMutex
	credential string
	prompt     string
	running    bool
	result     string
	err        error
}

func NewSession(i *do.Injector) (*Session, error) {
	return New(
		do.MustInvoke[context.Context](i),
		do.MustInvoke[credential.Store](i),
		do.MustInvoke[*generate.Workflow](i),
	)
}

// New loads the persisted credential once.
func New(ctx context.Context, store credential.Store, workflow *generate.Workflow) (*Session, error) {
	value, ok, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	log.FromContextOrDiscard(ctx).WithGroup("session").Info("loaded credential", "set", ok)
	return &Session{store: store, workflow: workflow, credential: value}, nil
}

func (s *Session) Credential() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential
}

// SetCredential persists value before making it the active credential.
func (s *Session) SetCredential(ctx context.Context, value string) error {
	if err := s.store.Save(ctx, value); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.credential = value
	return nil
}

func (s *Session) Busy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running || s.workflow.Progress() == generate.InProgress
}

func (s *Session) Prompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prompt
}

// Result is the image reference of the last successful generation, empty
// after a failure.
func (s *Session) Result() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Generate runs a generation to completion.
func (s *Session) Generate(ctx context.Context, prompt string) (string, error) {
	credential, err := s.begin(prompt)
	if err != nil {
		return "", err
	}
	return s.run(ctx, credential, prompt)
}

// Start validates the input and runs the generation in the background.
// Input errors and ErrInProgress are returned immediately; the outcome of an
// accepted run is read back through Result and Err.
func (s *Session) Start(ctx context.Context, prompt string) error {
	credential, err := s.begin(prompt)
	if err != nil {
		return err
	}
	go func() {
		_, _ = s.run(ctx, credential, prompt)
	}()
	return nil
}

// begin claims the session for one run. A rejected call leaves the running
// generation's prompt and outcome alone.
func (s *Session) begin(prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return "", generate.ErrInProgress
	}
	s.prompt = prompt
	if err := generate.Validate(s.credential, prompt); err != nil {
		s.result, s.err = "", err
		return "", err
	}
	s.running = true
	return s.credential, nil
}

func (s *Session) run(ctx context.Context, credential, prompt string) (string, error) {
	ref, err := s.workflow.Generate(ctx, credential, prompt)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if err != nil {
		if !errors.Is(err, generate.ErrInProgress) {
			s.result, s.err = "", err
		}
		return "", err
	}
	s.result, s.err = ref, nil
	return ref, nil
}
