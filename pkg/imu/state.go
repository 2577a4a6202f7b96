package imu

import "fmt"

// State is the task state. Only Idle may move to a transient state; that
// move is a compare-and-swap so a request racing a running operation is
// deferred to a pending flag instead.
type State int32

const (
	StateBoot State = iota
	StateVerifyID
	StateInitializing
	StateIdle
	StatePoweringUp
	StatePoweringDown
	StateConfigChanging
	StateInt1Handling
	StateInt2Handling
	StateCalibrating
	StateTesting
	StateStepCountRead
	StateTimeSync
	StateSaveCalibration
)

var stateNames = [...]string{
	"boot", "verify_id", "initializing", "idle", "powering_up", "powering_down",
	"config_changing", "int1_handling", "int2_handling", "calibrating", "testing",
	"step_count_read", "time_sync", "save_calibration",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// State returns the current task state.
func (t *Task) State() State {
	return State(t.state.Load())
}

func (t *Task) setState(s State) {
	t.state.Store(int32(s))
	t.metrics.Transition(s.String())
}

// trySwitch moves Idle to s. It fails when the task is busy.
func (t *Task) trySwitch(s State) bool {
	if t.state.CompareAndSwap(int32(StateIdle), int32(s)) {
		t.metrics.Transition(s.String())
		return true
	}
	return false
}

type initStep int

const (
	initReset initStep = iota
	initRegisters
	initOnChange
	initDone
)

type calStep int

const (
	calStart calStep = iota
	calFoc
	calWaitFocDone
	calSetOffset
	calDone
	calTimeout
)

type accTestStep int

const (
	accTestStart accTestStep = iota
	accTestConfig
	accTestRun0
	accTestRun1
	accTestVerify
	accTestDone
)

type gyrTestStep int

const (
	gyrTestStart gyrTestStep = iota
	gyrTestRun
	gyrTestVerify
	gyrTestDone
)
