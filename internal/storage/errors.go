package storage

import (
	"errors"
	"fmt"

	"github.com/ashita-ai/nagare/internal/model"
)

// Not-found errors wrap model.ErrNotFound so callers outside storage can
// match on the kind without importing this package.
var (
	ErrFlowNotFound        = fmt.Errorf("storage: flow: %w", model.ErrNotFound)
	ErrFlowVersionNotFound = fmt.Errorf("storage: flow version: %w", model.ErrNotFound)
	ErrRunNotFound         = fmt.Errorf("storage: run: %w", model.ErrNotFound)
	ErrRunStepNotFound     = fmt.Errorf("storage: run step: %w", model.ErrNotFound)
	ErrPrincipalNotFound   = fmt.Errorf("storage: principal: %w", model.ErrNotFound)
)

// ErrRunFinished is returned when a terminal status is set on a run that
// already has one.
var ErrRunFinished = errors.New("storage: run already finished")
