package domain

// Container represents a running container managed by the orchestrator.
type Container struct {
	ID       string
	Name     string
	Image    string
	Status   string
	Port     int // container port the service listens on
	HostPort int // host port the runtime mapped it to
	Labels   map[string]string
}

// ContainerConfig holds everything needed to create a container. Env is
// assembled at creation time from the secret store and is never persisted.
type ContainerConfig struct {
	Image         string
	Name          string
	Hostname      string
	Env           []string
	Port          int
	Networks      []string
	Volumes       map[string]string // map[mountPath]volumeName
	Labels        map[string]string
	RestartPolicy RestartPolicy
}

// ContainerStatus values reported by the runtime.
type ContainerStatus string

const (
	ContainerStatusRunning ContainerStatus = "running"
	ContainerStatusCreated ContainerStatus = "created"
	ContainerStatusExited  ContainerStatus = "exited"
	ContainerStatusUnknown ContainerStatus = "unknown"
)

// Label keys used by caravel for container metadata.
const (
	LabelService = "caravel.service"
	LabelDigest  = "caravel.digest"
	LabelManaged = "caravel.managed"
)

// ProxyTarget is the destination the router proxies a host's requests to.
type ProxyTarget struct {
	Host        string
	Port        int
	ContainerID string
	Scheme      string
}
