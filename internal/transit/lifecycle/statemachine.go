package lifecycle

import (
	"github.com/looplab/fsm"

	fsmutil "github.com/autopeer-io/transitlive/internal/pkg/util/fsm"
	"github.com/autopeer-io/transitlive/internal/transit/model"
)

const (
	// EventConnect starts the first connection.
	EventConnect = "connect"
	// EventUp reports a completed registration and subscription.
	EventUp = "up"
	// EventDrop reports a failed attempt, heartbeat loss or subscription failure.
	EventDrop = "drop"
	// EventRetry fires when the backoff delay elapses.
	EventRetry = "retry"
	// EventExhaust gives up automatic reconnection.
	EventExhaust = "exhaust"
	// EventForeground reconnects immediately when the app becomes active.
	EventForeground = "foreground"
	// EventForce is the manual reconnect.
	EventForce = "force"
	// EventTeardown releases the connection.
	EventTeardown = "teardown"
)

var (
	phaseDisconnected = string(model.PhaseDisconnected)
	phaseConnecting   = string(model.PhaseConnecting)
	phaseConnected    = string(model.PhaseConnected)
	phaseReconnecting = string(model.PhaseReconnecting)
	phaseFailed       = string(model.PhaseFailed)

	allPhases = []string{phaseDisconnected, phaseConnecting, phaseConnected, phaseReconnecting, phaseFailed}
)

func (m *Manager) newStateMachine() *fsm.FSM {
	events := fsm.Events{
		{Name: EventConnect, Src: []string{phaseDisconnected}, Dst: phaseConnecting},
		{Name: EventUp, Src: []string{phaseConnecting}, Dst: phaseConnected},
		{Name: EventDrop, Src: []string{phaseConnecting, phaseConnected}, Dst: phaseReconnecting},
		{Name: EventRetry, Src: []string{phaseReconnecting}, Dst: phaseConnecting},
		{Name: EventExhaust, Src: []string{phaseReconnecting}, Dst: phaseFailed},

		// Bypass the backoff
		{Name: EventForeground, Src: []string{phaseDisconnected, phaseReconnecting, phaseFailed}, Dst: phaseConnecting},
		{Name: EventForce, Src: []string{phaseDisconnected, phaseReconnecting, phaseFailed, phaseConnected}, Dst: phaseConnecting},

		{Name: EventTeardown, Src: []string{phaseConnecting, phaseConnected, phaseReconnecting, phaseFailed}, Dst: phaseDisconnected},
	}

	callbacks := fsm.Callbacks{
		// Every state starts from a clean slate: timers of the old state are stopped first.
		"leave_state": fsmutil.WrapEvent(m.actionLeaveState),

		"enter_" + phaseConnecting:   fsmutil.WrapEvent(m.actionEnterConnecting),
		"enter_" + phaseConnected:    fsmutil.WrapEvent(m.actionEnterConnected),
		"enter_" + phaseReconnecting: fsmutil.WrapEvent(m.actionEnterReconnecting),
		"enter_" + phaseFailed:       fsmutil.WrapEvent(m.actionEnterFailed),

		"enter_state": fsmutil.WrapEvent(m.actionRecordTransition),
	}

	return fsm.NewFSM(phaseDisconnected, events, callbacks)
}
