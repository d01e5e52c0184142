package domain

// ContainerSpec describes one run of the containerized RTC processor. Every mount is
// bound at the same path inside the container so runconfig paths resolve unchanged.
type ContainerSpec struct {
	Image   string
	User    string
	Command []string
	Mounts  []string
}

// Container states reported by the runtime.
const (
	ContainerCreated = "created"
	ContainerRunning = "running"
	ContainerExited  = "exited"
	ContainerDead    = "dead"
)
