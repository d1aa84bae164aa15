package supervisor

import "unitgo/address"

// Role is the supervisor's process role, set once stage 3 decides whether
// to fork into master+workers or continue single-process.
type Role int

const (
	RoleSingle Role = iota
	RoleMaster
	RoleWorker
)

func (r Role) String() string {
	switch r {
	case RoleSingle:
		return "single"
	case RoleMaster:
		return "master"
	case RoleWorker:
		return "worker"
	default:
		return "unknown"
	}
}

// State names the supervisor's position in the stage 1-4 state machine
// described by spec.md §4.6, used for logging and tests — not branched on
// directly by the stage functions, which call each other by continuation.
type State int

const (
	StateCreated State = iota
	StateStarting
	StateModulesInited
	StateLogsOpened
	StateEngineSwitched
	StateBootstrapped
	StateMasterRunning
	StateSingleRunning
	StateQuitting
	StateDrained
	StateExited
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateModulesInited:
		return "modules_inited"
	case StateLogsOpened:
		return "logs_opened"
	case StateEngineSwitched:
		return "engine_switched"
	case StateBootstrapped:
		return "bootstrapped"
	case StateMasterRunning:
		return "master_running"
	case StateSingleRunning:
		return "single_running"
	case StateQuitting:
		return "quitting"
	case StateDrained:
		return "drained"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Config is the ArgParser's (C6's) output, spec.md §4.5.
type Config struct {
	ControllerListen *address.Address
	Upstream         string
	WorkerProcesses  int
	User             string
	Group            string
	PidPath          string
	ErrorLogPath     string
	Daemon           bool
	Batch            bool
	EngineBackend    string
	EngineConns      int
	AuxiliaryThreads int
}

// DefaultConfig matches the original's defaults: daemonize unless told
// otherwise, one worker process, a goroutine-backed engine, 2 auxiliary
// threads for single-process mode.
func DefaultConfig() Config {
	return Config{
		WorkerProcesses:  1,
		PidPath:          "./unitgo.pid",
		Daemon:           true,
		EngineBackend:    "goroutine",
		AuxiliaryThreads: 2,
	}
}
