package guard

import (
	"errors"
	"fmt"
	"os"

	"Go2NetGuard/internal/firewall"
	"Go2NetGuard/internal/model"
)

// FlowLog is the append-only log of malicious flows.
type FlowLog interface {
	Append(lines []string) error
	Close() error
}

// Session owns the long-lived handles of the control loop. It is created
// once, passed to every cycle and released by Close when the loop exits.
type Session struct {
	WorkDir  string
	FlowLog  FlowLog
	Firewall *firewall.Manager // nil when enforcement is disabled
	Writers  []model.Writer
}

// NewSession prepares the work directory for capture artifacts.
func NewSession(workDir string, flowLog FlowLog, fw *firewall.Manager, writers ...model.Writer) (*Session, error) {
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	return &Session{WorkDir: workDir, FlowLog: flowLog, Firewall: fw, Writers: writers}, nil
}

// Close releases every handle, continuing past failures.
func (s *Session) Close() error {
	var errs []error
	if s.FlowLog != nil {
		if err := s.FlowLog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close flow log: %w", err))
		}
	}
	for _, w := range s.Writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close writer: %w", err))
		}
	}
	if s.Firewall != nil {
		if err := s.Firewall.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close firewall: %w", err))
		}
	}
	return errors.Join(errs...)
}
