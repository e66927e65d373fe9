package anomaly

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fingaurd/fraud-engine/internal/models"
)

// Manager owns the currently published model behind an atomically swappable
// reference. Readers take a snapshot with Current and keep using it for the
// duration of their request; Publish never blocks or invalidates in-flight
// reads. Publishes are serialized so the version history stays linear.
type Manager struct {
	current atomic.Pointer[Model]

	mu        sync.Mutex // serializes Publish and Rollback
	previous  *Model
	prevTimer *time.Timer
	grace     time.Duration

	schemaHash string
}

// NewManager creates an uninitialized manager. The service is not ready until
// the first Publish. grace bounds how long the replaced model is retained for
// rollback and diagnostics.
func NewManager(grace time.Duration) *Manager {
	return &Manager{
		grace:      grace,
		schemaHash: models.FeatureSchemaHash(),
	}
}

// Current returns the latest published model without blocking, or
// ErrNoModelLoaded if none has ever been published.
func (m *Manager) Current() (*Model, error) {
	model := m.current.Load()
	if model == nil {
		return nil, ErrNoModelLoaded
	}
	return model, nil
}

// Ready reports whether a model has been published. Wired into the host
// readiness signal so analyze traffic never reaches an uninitialized engine.
func (m *Manager) Ready() bool {
	return m.current.Load() != nil
}

// Publish validates the model and atomically replaces the current pointer.
// The replaced model is retained for the grace period to support rollback.
func (m *Manager) Publish(model *Model) error {
	if model == nil {
		return &ModelLoadError{Reason: "nil model"}
	}
	if model.SchemaHash() != m.schemaHash {
		return &ModelLoadError{
			Reason: fmt.Sprintf("schema hash %q does not match engine schema %q", model.SchemaHash(), m.schemaHash),
		}
	}
	if t := model.Threshold(); t <= 0 || t >= 1 {
		return &ModelLoadError{Reason: fmt.Sprintf("threshold %f out of range (0, 1)", t)}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	replaced := m.current.Swap(model)
	m.retainPrevious(replaced)

	event := log.Info().
		Str("model_version", model.Version()).
		Float64("threshold", model.Threshold())
	if replaced != nil {
		event = event.Str("replaced_version", replaced.Version())
	}
	event.Msg("Model published")

	return nil
}

// Rollback restores the previously published model if its grace period has
// not elapsed.
func (m *Manager) Rollback() (*Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.previous
	if prev == nil {
		return nil, ErrNoPreviousModel
	}

	replaced := m.current.Swap(prev)
	m.retainPrevious(replaced)

	log.Warn().
		Str("model_version", prev.Version()).
		Str("rolled_back_from", replaced.Version()).
		Msg("Model rolled back")

	return prev, nil
}

// Info reflects the current model's metadata.
func (m *Manager) Info() (models.ModelInfo, error) {
	model, err := m.Current()
	if err != nil {
		return models.ModelInfo{}, err
	}
	return model.Info(), nil
}

// retainPrevious stores the replaced model and arms its discard timer.
// Caller holds m.mu.
func (m *Manager) retainPrevious(replaced *Model) {
	if m.prevTimer != nil {
		m.prevTimer.Stop()
		m.prevTimer = nil
	}
	m.previous = replaced
	if replaced == nil {
		return
	}

	m.prevTimer = time.AfterFunc(m.grace, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.previous == replaced {
			m.previous = nil
			log.Debug().Str("model_version", replaced.Version()).Msg("Previous model discarded after grace period")
		}
	})
}
