package docker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/artpar/shipwright/internal/core/domain"
	"github.com/artpar/shipwright/internal/core/spec"
)

// =============================================================================
// Runtime - Deploys Compiled Plans
// =============================================================================

// Runtime deploys compiled plans onto a Docker engine and tears them
// down again. It owns the mapping from plan entities to engine entities:
// one bridge network per project, project-prefixed named volumes, and
// one container per service.
type Runtime struct {
	docker Client
	logger *slog.Logger
}

// NewRuntime creates a new runtime on top of a Docker client.
func NewRuntime(docker Client, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		docker: docker,
		logger: logger.With("component", "runtime"),
	}
}

// =============================================================================
// Naming
// =============================================================================

// NetworkName returns the project network name, following compose
// conventions.
func NetworkName(project string) string {
	return project + "_default"
}

// VolumeName returns the engine-level name of a project's named volume.
func VolumeName(project, volume string) string {
	return project + "_" + volume
}

// ContainerName returns the canonical container name for a service.
func ContainerName(project, service string) string {
	return project + "-" + service + "-1"
}

// =============================================================================
// Deploy
// =============================================================================

// Deploy creates the network, volumes, and containers for a compiled
// plan, starting services in dependency order (stage order with
// explicit depends_on edges respected within a stage). Containers left
// over from a previous deployment of the same project are replaced so
// the new revision takes effect; named volumes are reused so data
// survives redeployments.
func (r *Runtime) Deploy(ctx context.Context, plan *spec.Plan) ([]domain.ContainerState, error) {
	r.logger.Info("deploying plan",
		"project", plan.Project,
		"services", len(plan.Services),
	)

	// 1. Create the project network
	networkName := NetworkName(plan.Project)
	if err := r.ensureNetwork(ctx, plan.Project, networkName); err != nil {
		return nil, fmt.Errorf("failed to create network: %w", err)
	}

	// 2. Create named volumes
	for _, vol := range plan.Volumes {
		volumeName := VolumeName(plan.Project, vol)
		if _, err := r.docker.CreateVolume(ctx, VolumeSpec{
			Name: volumeName,
			Labels: map[string]string{
				spec.LabelManaged: spec.ManagedBy,
				spec.LabelPlan:    plan.Project,
			},
		}); err != nil {
			return nil, fmt.Errorf("failed to create volume %s: %w", vol, err)
		}
		r.logger.Debug("created volume", "volume_name", volumeName)
	}

	// 3. Pull missing images
	for i := range plan.Services {
		img := plan.Services[i].Image
		exists, _ := r.docker.ImageExists(ctx, img)
		if !exists {
			r.logger.Info("pulling image", "image", img)
			if err := r.docker.PullImage(ctx, img); err != nil {
				r.logger.Warn("failed to pull image, trying anyway", "image", img, "error", err)
			}
		}
	}

	// 4. Replace and start containers in dependency order
	created := make(map[string]string) // service name -> container ID
	for _, svc := range spec.ExecutionOrder(plan) {
		containerName := ContainerName(plan.Project, svc.Name)
		if err := r.removeExisting(ctx, containerName); err != nil {
			r.cleanupCreatedContainers(created)
			return nil, fmt.Errorf("failed to replace container %s: %w", containerName, err)
		}

		containerID, err := r.docker.CreateContainer(ctx, buildContainerSpec(plan, svc))
		if err != nil {
			r.cleanupCreatedContainers(created)
			return nil, fmt.Errorf("failed to create container %s: %w", svc.Name, err)
		}
		created[svc.Name] = containerID
		r.logger.Debug("created container", "service", svc.Name, "container_id", shortID(containerID))

		if err := r.docker.StartContainer(ctx, containerID); err != nil {
			r.cleanupCreatedContainers(created)
			return nil, fmt.Errorf("failed to start container %s: %w", svc.Name, err)
		}
		r.logger.Debug("started container", "service", svc.Name, "container_id", shortID(containerID))
	}

	// 5. Report the resulting container states
	states, err := r.ListProject(ctx, plan.Project)
	if err != nil {
		return nil, err
	}

	r.logger.Info("deployment complete",
		"project", plan.Project,
		"containers", len(states),
	)
	return states, nil
}

// ensureNetwork creates the project network or reuses an existing one.
func (r *Runtime) ensureNetwork(ctx context.Context, project, networkName string) error {
	_, err := r.docker.CreateNetwork(ctx, NetworkSpec{
		Name:   networkName,
		Driver: "bridge",
		Labels: map[string]string{
			spec.LabelManaged: spec.ManagedBy,
			spec.LabelPlan:    project,
		},
	})
	if err != nil {
		if errors.Is(err, ErrNetworkAlreadyExists) {
			r.logger.Debug("network already exists, reusing", "network_name", networkName)
			return nil
		}
		return err
	}
	r.logger.Debug("created network", "network_name", networkName)
	return nil
}

// removeExisting removes a previous container with this name so the new
// revision can take its place. Missing containers are fine.
func (r *Runtime) removeExisting(ctx context.Context, containerName string) error {
	info, err := r.docker.InspectContainer(ctx, containerName)
	if err != nil {
		if errors.Is(err, ErrContainerNotFound) {
			return nil
		}
		return err
	}

	if info.Running {
		timeout := 10 * time.Second
		if err := r.docker.StopContainer(ctx, info.ID, &timeout); err != nil && !errors.Is(err, ErrContainerNotRunning) {
			r.logger.Warn("failed to stop previous container", "container_id", shortID(info.ID), "error", err)
		}
	}
	if err := r.docker.RemoveContainer(ctx, info.ID, RemoveOptions{Force: true}); err != nil && !errors.Is(err, ErrContainerNotFound) {
		return err
	}
	r.logger.Debug("removed previous container", "name", containerName)
	return nil
}

// cleanupCreatedContainers stops and removes containers created during a
// failed deployment. A fresh context is used so cleanup still runs when
// the deploy context is already cancelled.
func (r *Runtime) cleanupCreatedContainers(containers map[string]string) {
	if len(containers) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	timeout := 5 * time.Second
	for name, id := range containers {
		_ = r.docker.StopContainer(ctx, id, &timeout)
		if err := r.docker.RemoveContainer(ctx, id, RemoveOptions{Force: true}); err != nil {
			r.logger.Warn("failed to clean up container", "service", name, "error", err)
		}
	}
}

// buildContainerSpec translates one compiled service into container
// create parameters. Named volume sources get the project prefix so
// projects never share volumes by accident.
func buildContainerSpec(plan *spec.Plan, svc *spec.CompiledService) ContainerSpec {
	out := ContainerSpec{
		Name:    ContainerName(plan.Project, svc.Name),
		Image:   svc.Image,
		Command: svc.Command,
		Env:     svc.Environment,
		Labels: map[string]string{
			spec.LabelPlan:    plan.Project,
			spec.LabelService: svc.Name,
		},
		Networks:      []string{NetworkName(plan.Project)},
		Aliases:       []string{svc.Name},
		RestartPolicy: RestartPolicy(svc.RestartPolicy),
		Resources: ResourceLimits{
			CPUs:        svc.Resources.CPUs,
			MemoryBytes: svc.Resources.MemoryBytes,
		},
	}

	// Compiled labels carry managed-by, environment, and stage
	for k, v := range svc.Labels {
		out.Labels[k] = v
	}

	for _, p := range svc.Ports {
		out.Ports = append(out.Ports, PortBinding{
			ContainerPort: p.ContainerPort,
			HostPort:      p.HostPort,
			Protocol:      p.Protocol,
		})
	}

	for _, v := range svc.Volumes {
		source := v.Source
		if v.Named {
			source = VolumeName(plan.Project, v.Source)
		}
		out.Mounts = append(out.Mounts, VolumeMount{
			Source:   source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	if len(svc.HealthCheck.Test) > 0 {
		out.HealthCheck = &HealthCheck{
			Test:    svc.HealthCheck.Test,
			Retries: svc.HealthCheck.Retries,
		}
		if svc.HealthCheck.Interval != "" {
			if d, err := time.ParseDuration(svc.HealthCheck.Interval); err == nil {
				out.HealthCheck.Interval = d
			}
		}
		if svc.HealthCheck.Timeout != "" {
			if d, err := time.ParseDuration(svc.HealthCheck.Timeout); err == nil {
				out.HealthCheck.Timeout = d
			}
		}
		if svc.HealthCheck.StartPeriod != "" {
			if d, err := time.ParseDuration(svc.HealthCheck.StartPeriod); err == nil {
				out.HealthCheck.StartPeriod = d
			}
		}
	}

	return out
}

// =============================================================================
// Teardown
// =============================================================================

// Teardown stops and removes a project's containers and network. Named
// volumes are preserved so the next deployment finds its data. Failures
// on individual resources are logged and the remaining resources are
// still processed.
func (r *Runtime) Teardown(ctx context.Context, project string) (string, error) {
	r.logger.Info("tearing down project", "project", project)

	// 1. List and remove containers
	containers, err := r.docker.ListContainers(ctx, ListOptions{
		All: true,
		Filters: map[string]string{
			"label": fmt.Sprintf("%s=%s", spec.LabelPlan, project),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to list containers: %w", err)
	}

	timeout := 10 * time.Second
	removed := 0
	for _, c := range containers {
		if c.Running {
			if err := r.docker.StopContainer(ctx, c.ID, &timeout); err != nil {
				r.logger.Warn("failed to stop container", "container_id", shortID(c.ID), "error", err)
			}
		}
		if err := r.docker.RemoveContainer(ctx, c.ID, RemoveOptions{Force: true, RemoveVolumes: false}); err != nil {
			if !errors.Is(err, ErrContainerNotFound) {
				r.logger.Warn("failed to remove container", "container_id", shortID(c.ID), "error", err)
			}
			continue
		}
		removed++
		r.logger.Debug("removed container", "container_id", shortID(c.ID))
	}

	// 2. Remove the project network; volumes are kept for the next deploy
	networkName := NetworkName(project)
	networkRemoved := false
	if err := r.docker.RemoveNetwork(ctx, networkName); err != nil {
		if !errors.Is(err, ErrNetworkNotFound) {
			r.logger.Warn("failed to remove network", "network", networkName, "error", err)
		}
	} else {
		networkRemoved = true
		r.logger.Debug("removed network", "network", networkName)
	}

	summary := fmt.Sprintf("removed %d of %d containers", removed, len(containers))
	if networkRemoved {
		summary += ", removed network " + networkName
	}
	summary += ", volumes preserved"

	r.logger.Info("teardown complete", "project", project, "containers_removed", removed)
	return summary, nil
}

// =============================================================================
// Inspection
// =============================================================================

// ListProject returns the current state of every container belonging to
// a project, sorted by name. Stopped containers are included.
func (r *Runtime) ListProject(ctx context.Context, project string) ([]domain.ContainerState, error) {
	containers, err := r.docker.ListContainers(ctx, ListOptions{
		All: true,
		Filters: map[string]string{
			"label": fmt.Sprintf("%s=%s", spec.LabelPlan, project),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	states := make([]domain.ContainerState, 0, len(containers))
	for _, c := range containers {
		info, err := r.docker.InspectContainer(ctx, c.ID)
		if err != nil {
			// Removed between list and inspect
			if errors.Is(err, ErrContainerNotFound) {
				continue
			}
			return nil, err
		}
		states = append(states, containerState(info))
	}

	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states, nil
}

// Exec runs a command inside a container, returning combined output and
// the exit code.
func (r *Runtime) Exec(ctx context.Context, containerID string, cmd []string) (string, int, error) {
	res, err := r.docker.ContainerExec(ctx, containerID, cmd)
	if err != nil {
		return "", 0, err
	}
	return res.Output, res.ExitCode, nil
}

// Inspect returns the current state of one container, addressed by ID
// or name.
func (r *Runtime) Inspect(ctx context.Context, containerID string) (*domain.ContainerState, error) {
	info, err := r.docker.InspectContainer(ctx, containerID)
	if err != nil {
		return nil, err
	}
	state := containerState(info)
	return &state, nil
}

// Logs returns the last tail lines of a container's output.
func (r *Runtime) Logs(ctx context.Context, containerID string, tail int) (string, error) {
	return r.docker.ContainerLogs(ctx, containerID, tail)
}

// Stats returns one resource-usage snapshot for a container.
func (r *Runtime) Stats(ctx context.Context, containerID string) (*domain.ContainerStats, error) {
	s, err := r.docker.ContainerStats(ctx, containerID)
	if err != nil {
		return nil, err
	}
	return &domain.ContainerStats{
		Name:             s.Name,
		CPUPercent:       s.CPUPercent,
		MemoryUsageBytes: s.MemoryUsageBytes,
		MemoryLimitBytes: s.MemoryLimitBytes,
		MemoryPercent:    s.MemoryPercent,
	}, nil
}

// containerState converts inspect output to the domain snapshot consumed
// by the verification checks and the monitor.
func containerState(info *ContainerInfo) domain.ContainerState {
	health := domain.ContainerHealth(info.Health)
	if info.Health == "" {
		health = domain.HealthNone
	}
	return domain.ContainerState{
		ID:           info.ID,
		Name:         info.Name,
		Service:      info.Labels[spec.LabelService],
		Image:        info.Image,
		Status:       string(info.Status),
		Running:      info.Running,
		Health:       health,
		ExitCode:     info.ExitCode,
		RestartCount: info.RestartCount,
		StartedAt:    info.StartedAt,
		Mounts:       info.Mounts,
	}
}

// shortID trims a container ID for log output.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
