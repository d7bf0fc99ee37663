package job

import "errors"

var (
	ErrNotFound = errors.New("job: not found")
	// ErrConflict means a conditional update matched no row because the job
	// was not in the expected predecessor status.
	ErrConflict          = errors.New("job: status transition conflict")
	ErrDuplicated        = errors.New("job: duplicated id")
	ErrInvalidTransition = errors.New("job: transition not in state graph")
	ErrUnknownKind       = errors.New("job: unknown kind")
	ErrInvalidParam      = errors.New("job: invalid param")
)
