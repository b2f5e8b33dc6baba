package common

import (
	"fmt"
	"strings"

	coreerrors "factorchain/core/errors"
)

// ErrModulePaused is re-exported so callers need not import core/errors to
// detect paused modules.
var ErrModulePaused = coreerrors.ErrModulePaused

type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused, annotated with the module name, when the
// module is paused.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%w: %s", ErrModulePaused, module)
	}
	return nil
}

// StaticPauses is a PauseView backed by a fixed set of module names.
type StaticPauses map[string]bool

// NewStaticPauses builds a pause view from module names. Names are
// case-insensitive.
func NewStaticPauses(modules ...string) StaticPauses {
	p := make(StaticPauses, len(modules))
	for _, m := range modules {
		if trimmed := strings.ToLower(strings.TrimSpace(m)); trimmed != "" {
			p[trimmed] = true
		}
	}
	return p
}

// IsPaused implements PauseView.
func (p StaticPauses) IsPaused(module string) bool {
	return p[strings.ToLower(strings.TrimSpace(module))]
}
