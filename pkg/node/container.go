package node

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const DefaultImage = "frr:v4"

// ContainerManager manages the lifecycle of the containers backing hosts
// and routers, and remembers the network namespace of each.
type ContainerManager struct {
	dClient *client.Client
	logger  *zap.Logger
	image   string

	mu     sync.Mutex
	netns  map[string]string // node -> /proc/<pid>/ns/net
	order  []string
	marked map[string]bool // nodes whose nftables chain exists
}

func NewContainerManager(image string, logger *zap.Logger) (*ContainerManager, error) {
	dClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create docker client")
	}
	if image == "" {
		image = DefaultImage
	}
	return &ContainerManager{
		dClient: dClient,
		logger:  logger,
		image:   image,
		netns:   make(map[string]string),
		marked:  make(map[string]bool),
	}, nil
}

// AddNode creates and starts a container named after the node with
// networking disabled and forwarding off, then records its namespace.
// Forwarding is switched on later for nodes that need it. An empty image
// selects the manager default.
func (cm *ContainerManager) AddNode(ctx context.Context, name, image string) error {
	if image == "" {
		image = cm.image
	}
	sysctls := map[string]string{
		"net.ipv4.ip_forward": "0",
	}

	_, err := cm.dClient.ContainerCreate(ctx, &container.Config{
		Image:           image,
		NetworkDisabled: true,
		User:            "root",
		Hostname:        name,
	}, &container.HostConfig{
		Privileged: true,
		Sysctls:    sysctls,
	}, nil, nil, name)
	if err != nil {
		return errors.Wrapf(err, "failed to create container %s", name)
	}

	if err = cm.dClient.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return errors.Wrapf(err, "failed to start container %s", name)
	}

	res, err := cm.dClient.ContainerInspect(ctx, name)
	if err != nil {
		return errors.Wrapf(err, "failed to inspect container %s", name)
	}

	cm.mu.Lock()
	cm.netns[name] = fmt.Sprintf("/proc/%d/ns/net", res.State.Pid)
	cm.order = append(cm.order, name)
	cm.mu.Unlock()

	cm.logger.Debug("container started", zap.String("node", name), zap.Int("pid", res.State.Pid))
	return nil
}

// NetNs returns the namespace path of a node, or "" if it has no container.
func (cm *ContainerManager) NetNs(name string) string {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.netns[name]
}

// Exec runs line through sh inside the node's container and returns its
// combined output and exit code.
func (cm *ContainerManager) Exec(ctx context.Context, name, line string) (string, int, error) {
	exec, err := cm.dClient.ContainerExecCreate(ctx, name, container.ExecOptions{
		Cmd:          []string{"sh", "-c", line},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", -1, errors.Wrapf(err, "failed to create exec on %s", name)
	}

	hijacked, err := cm.dClient.ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", -1, errors.Wrapf(err, "failed to attach exec on %s", name)
	}
	defer hijacked.Close()

	var stdout, stderr bytes.Buffer
	if _, err = stdcopy.StdCopy(&stdout, &stderr, hijacked.Reader); err != nil {
		return "", -1, errors.Wrapf(err, "failed to read exec output on %s", name)
	}

	inspect, err := cm.dClient.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return "", -1, errors.Wrapf(err, "failed to inspect exec on %s", name)
	}
	return stdout.String() + stderr.String(), inspect.ExitCode, nil
}

func (cm *ContainerManager) DeleteNode(ctx context.Context, name string) error {
	if err := cm.dClient.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
		return errors.Wrapf(err, "failed to remove container %s", name)
	}
	cm.mu.Lock()
	delete(cm.netns, name)
	delete(cm.marked, name)
	cm.mu.Unlock()
	return nil
}

// DeleteAll removes every container started by this manager.
func (cm *ContainerManager) DeleteAll(ctx context.Context) error {
	cm.mu.Lock()
	names := append([]string(nil), cm.order...)
	cm.order = nil
	cm.mu.Unlock()

	var first error
	for _, name := range names {
		if err := cm.DeleteNode(ctx, name); err != nil {
			cm.logger.Warn("container not removed", zap.String("node", name), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}
