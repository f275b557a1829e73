// Package conn holds the connection lifecycle shared by every live adapter.
package conn

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gregtusar/tradecore/pkg/models"
	"github.com/sirupsen/logrus"
)

var ErrIllegalTransition = errors.New("illegal connection transition")

type Phase string

const (
	PhaseInit           Phase = "INIT"
	PhaseConnecting     Phase = "CONNECTING"
	PhaseConnected      Phase = "CONNECTED"
	PhaseAuthenticating Phase = "AUTHENTICATING"
	PhaseReady          Phase = "READY"
	PhaseDisconnected   Phase = "DISCONNECTED"
	PhaseReconnecting   Phase = "RECONNECTING"
	PhaseParamMiss      Phase = "PARAM_MISS"
)

var transitions = map[Phase][]Phase{
	PhaseInit:           {PhaseConnecting, PhaseParamMiss},
	PhaseConnecting:     {PhaseConnected, PhaseDisconnected},
	PhaseConnected:      {PhaseAuthenticating, PhaseReady, PhaseDisconnected},
	PhaseAuthenticating: {PhaseReady, PhaseDisconnected},
	PhaseReady:          {PhaseDisconnected},
	PhaseDisconnected:   {PhaseReconnecting},
	PhaseReconnecting:   {PhaseConnecting},
}

// Notify receives every State the machine emits.
type Notify func(models.State)

// Machine tracks one connection's phase and reports each change as a State.
type Machine struct {
	platform string
	account  string
	notify   Notify
	logger   *logrus.Logger

	mu    sync.Mutex
	phase Phase
}

func NewMachine(platform, account string, notify Notify, logger *logrus.Logger) *Machine {
	if logger == nil {
		logger = logrus.New()
	}
	if notify == nil {
		notify = func(models.State) {}
	}
	return &Machine{
		platform: platform,
		account:  account,
		notify:   notify,
		logger:   logger,
		phase:    PhaseInit,
	}
}

func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Ready reports whether orders may be placed.
func (m *Machine) Ready() bool {
	return m.Phase() == PhaseReady
}

// Transition moves to next and emits the matching State, if the phase has one.
func (m *Machine) Transition(next Phase, msg string) error {
	m.mu.Lock()
	prev := m.phase
	if !allowed(prev, next) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, prev, next)
	}
	m.phase = next
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"platform": m.platform,
		"account":  m.account,
		"from":     prev,
		"to":       next,
	}).Debug("Connection transition")

	if code, ok := stateCode(prev, next); ok {
		m.notify(models.NewState(m.platform, m.account, code, msg))
	}
	return nil
}

// Error reports a non-fatal failure without changing phase.
func (m *Machine) Error(msg string) {
	m.notify(models.NewState(m.platform, m.account, models.StateGeneralError, msg))
}

func allowed(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

func stateCode(from, to Phase) (models.StateCode, bool) {
	switch to {
	case PhaseConnected:
		return models.StateConnectSuccess, true
	case PhaseReady:
		return models.StateReady, true
	case PhaseDisconnected:
		if from == PhaseConnecting {
			return models.StateConnectFailed, true
		}
		return models.StateDisconnect, true
	case PhaseReconnecting:
		return models.StateReconnecting, true
	case PhaseParamMiss:
		return models.StateParamMiss, true
	}
	return "", false
}
