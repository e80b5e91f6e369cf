// Package backend defines the Execution Backend abstraction: the
// uniform contract every sandbox flavor (host multiplexer, container,
// Kubernetes pod, micro-VM) implements so the session manager can
// create, probe, and tear down sandboxes without caring which one it
// is talking to.
package backend

import "context"

// HealthState is the normalized sandbox health reported by
// check_health, independent of the backend's native vocabulary.
type HealthState string

const (
	HealthRunning    HealthState = "Running"
	HealthStopped    HealthState = "Stopped"
	HealthHibernated HealthState = "Hibernated"
	HealthPending    HealthState = "Pending"
	HealthError      HealthState = "Error"
	HealthCrashLoop  HealthState = "CrashLoop"
	HealthNotFound   HealthState = "NotFound"
)

// Health is the result of a check_health call. Message is set for
// HealthError and, by backends that report one, for HealthCrashLoop.
type Health struct {
	State   HealthState
	Message string
}

// ImagePullPolicy normalizes container/pod image pull behavior across
// runtimes that spell it differently.
type ImagePullPolicy string

const (
	PullAlways      ImagePullPolicy = "Always"
	PullIfNotPresent ImagePullPolicy = "IfNotPresent"
	PullNever       ImagePullPolicy = "Never"
)

// VolumeMode selects how a Pod backend's PVC is provisioned.
type VolumeMode string

const (
	VolumeModeFilesystem VolumeMode = "Filesystem"
	VolumeModeBlock      VolumeMode = "Block"
)

// Repository describes one repo to mount/clone into a sandbox.
// Primary is the repo the session was created against; the rest are
// additional repos attached via secondary mounts.
type Repository struct {
	CanonicalPath string // local path (Multiplexer/Container bind mode) or remote URL (Micro-VM)
	MountName     string
	Branch        string
	IsPrimary     bool
}

// ContainerResources is a normalized cpu/memory request, expressed the
// way Kubernetes and Docker both accept (millicores, megabytes).
type ContainerResources struct {
	CPUMillis int64
	MemoryMB  int64
}

// CreateOptions is the closed set of options a backend's create may
// consult. Backends ignore fields that don't apply to them.
type CreateOptions struct {
	Agent               string
	Model               string
	PrintMode           bool
	PlanMode             bool
	SessionProxyPort     int
	Images               []string
	DangerousSkipChecks  bool
	DangerousCopyCreds   bool
	SessionID            string
	InitialWorkdir       string
	HTTPPort             int
	ContainerImage       string
	ContainerResources   *ContainerResources
	Repositories         []Repository
	StorageClassOverride string
	VolumeMode           VolumeMode
	PullPolicy           ImagePullPolicy
	AutoDestroy          bool
}

// Capabilities is the static descriptor a backend reports once; the
// session manager consults it to decide which lifecycle operations
// (recreate, image update, wake) make sense to offer.
type Capabilities struct {
	CanRecreate                bool
	CanUpdateImage              bool
	PreservesDataOnRecreate     bool
	CanStart                    bool
	CanWake                     bool
	DataPreservationDescription string
}

// ExecutionBackend is the uniform sandbox lifecycle contract. Every
// concrete backend (Multiplexer, Container, Pod, MicroVM) implements
// it; the session manager is written entirely against this interface.
type ExecutionBackend interface {
	// Create builds a sandbox and starts the configured agent inside it
	// with the initial prompt, returning an opaque backend id. Create
	// is idempotent in the sense that if the returned id is observable
	// afterwards (Exists returns true), the sandbox exists — a caller
	// that crashes between Create succeeding and persisting the id
	// only loses the session record, never leaves an unreachable
	// sandbox behind.
	Create(ctx context.Context, name, workdir, initialPrompt string, opts CreateOptions) (string, error)

	// Exists is a cheap liveness probe.
	Exists(ctx context.Context, id string) (bool, error)

	// Delete destroys the sandbox. It must tolerate "already gone".
	Delete(ctx context.Context, id string) error

	// AttachCommand returns an argv an external attach helper could
	// exec to get an interactive session inside the sandbox. Used by
	// the legacy terminal-multiplexer attach path.
	AttachCommand(ctx context.Context, id string) ([]string, error)

	// GetOutput returns a best-effort tail of the sandbox's output
	// buffer, at most the requested number of lines.
	GetOutput(ctx context.Context, id string, lines int) (string, error)

	// CheckHealth maps the sandbox's native state to a Health.
	CheckHealth(ctx context.Context, id string) (Health, error)

	// Capabilities is a static descriptor; it does not depend on id.
	Capabilities() Capabilities

	// IsRemote is true iff the worktree backing this sandbox does not
	// live on local disk (e.g. a micro-VM clones from a Git remote
	// instead of bind-mounting the host checkout).
	IsRemote() bool
}
