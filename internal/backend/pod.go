package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	corev1 "k8s.io/api/core/v1"
	resourceapi "k8s.io/apimachinery/pkg/api/resource"
	kubeerrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const podLabelSession = "clauderon.session-id"

// gitCloneImage runs each repository clone in the workspace init
// container. It needs nothing beyond git itself, unlike the agent
// image.
const gitCloneImage = "alpine/git:latest"

// Pod runs each sandbox as a Kubernetes Pod backed by a PersistentVolumeClaim,
// so the workspace survives pod recreation as long as the PVC is not deleted.
type Pod struct {
	client    kubernetes.Interface
	namespace string
}

// NewPod wires a Pod backend to an existing Kubernetes client and the
// namespace sandboxes are created in.
func NewPod(client kubernetes.Interface, namespace string) *Pod {
	return &Pod{client: client, namespace: namespace}
}

func (p *Pod) Create(ctx context.Context, name, _ string, initialPrompt string, opts CreateOptions) (string, error) {
	if opts.ContainerImage == "" {
		return "", fmt.Errorf("pod backend requires a container image")
	}

	podName := podName(name, opts.SessionID)
	pvcName := podName + "-workspace"

	if err := p.ensurePVC(ctx, pvcName, opts); err != nil {
		return "", err
	}

	env := []corev1.EnvVar{
		{Name: "TERM", Value: "xterm-256color"},
		{Name: "CLAUDERON_SESSION_ID", Value: opts.SessionID},
	}
	if opts.SessionProxyPort != 0 {
		env = append(env,
			corev1.EnvVar{Name: "HTTPS_PROXY", Value: fmt.Sprintf("http://127.0.0.1:%d", opts.SessionProxyPort)},
			corev1.EnvVar{Name: "SSL_CERT_FILE", Value: "/etc/clauderon/proxy-ca.pem"},
		)
	}

	var pullPolicy corev1.PullPolicy
	if opts.PullPolicy != "" {
		pullPolicy = corev1.PullPolicy(opts.PullPolicy)
	}

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName,
			Namespace: p.namespace,
			Labels:    map[string]string{podLabelSession: opts.SessionID, "clauderon": "true"},
		},
		Spec: corev1.PodSpec{
			RestartPolicy:  corev1.RestartPolicyNever,
			InitContainers: cloneInitContainers(opts.Repositories, pullPolicy),
			Containers: []corev1.Container{
				{
					Name:            "agent",
					Image:           opts.ContainerImage,
					ImagePullPolicy: pullPolicy,
					Command:         agentArgv(opts.Agent, opts.Model, opts.PrintMode, opts.PlanMode, initialPrompt),
					Env:             env,
					WorkingDir:      "/workspace",
					VolumeMounts: []corev1.VolumeMount{
						{Name: "workspace", MountPath: "/workspace"},
					},
				},
			},
			Volumes: []corev1.Volume{
				{
					Name: "workspace",
					VolumeSource: corev1.VolumeSource{
						PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: pvcName},
					},
				},
			},
		},
	}

	created, err := p.client.CoreV1().Pods(p.namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		if kubeerrors.IsAlreadyExists(err) {
			return podName, nil
		}
		return "", fmt.Errorf("create pod %s: %w", podName, err)
	}
	return created.Name, nil
}

func (p *Pod) ensurePVC(ctx context.Context, pvcName string, opts CreateOptions) error {
	_, err := p.client.CoreV1().PersistentVolumeClaims(p.namespace).Get(ctx, pvcName, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !kubeerrors.IsNotFound(err) {
		return fmt.Errorf("get pvc %s: %w", pvcName, err)
	}

	volumeMode := corev1.PersistentVolumeFilesystem
	if opts.VolumeMode == VolumeModeBlock {
		volumeMode = corev1.PersistentVolumeBlock
	}

	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Name: pvcName, Namespace: p.namespace},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			VolumeMode:  &volumeMode,
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: resourceapi.MustParse("10Gi"),
				},
			},
		},
	}
	if opts.StorageClassOverride != "" {
		pvc.Spec.StorageClassName = &opts.StorageClassOverride
	}

	if _, err := p.client.CoreV1().PersistentVolumeClaims(p.namespace).Create(ctx, pvc, metav1.CreateOptions{}); err != nil && !kubeerrors.IsAlreadyExists(err) {
		return fmt.Errorf("create pvc %s: %w", pvcName, err)
	}
	return nil
}

// gitCloneScript clones a repository into the shared workspace volume
// unless it's already there (the PVC can survive a pod recreate). The
// repo URL and branch arrive as positional arguments rather than being
// interpolated into the script text: CanonicalPath reflects whatever
// `git remote get-url origin` returned on the client that created the
// session, so it's treated as attacker-influenced the same way
// MicroVM.Create treats it.
const gitCloneScript = `set -e
if [ ! -d "$1/.git" ]; then
  if [ -n "$3" ]; then
    git clone --origin origin --branch "$3" "$2" "$1"
  else
    git clone --origin origin "$2" "$1"
  fi
fi
`

// cloneInitContainers builds one init container per repository that
// clones it into the PVC-backed workspace before the agent container
// starts, since a Pod sandbox has no local filesystem to bind-mount
// the way Container and Multiplexer sandboxes do.
func cloneInitContainers(repos []Repository, pullPolicy corev1.PullPolicy) []corev1.Container {
	containers := make([]corev1.Container, 0, len(repos))
	for i, repo := range repos {
		containers = append(containers, corev1.Container{
			Name:            fmt.Sprintf("clone-%d-%s", i, sanitizeContainerName(repo.MountName)),
			Image:           gitCloneImage,
			ImagePullPolicy: pullPolicy,
			Command:         []string{"sh", "-c", gitCloneScript, "git-clone", "/workspace/" + repo.MountName, repo.CanonicalPath, repo.Branch},
			VolumeMounts: []corev1.VolumeMount{
				{Name: "workspace", MountPath: "/workspace"},
			},
		})
	}
	return containers
}

// sanitizeContainerName lowercases a mount name for use in a Pod
// container name, which Kubernetes requires to be a DNS-1123 label;
// MountName itself preserves case since it's also used as a directory
// name inside the workspace.
func sanitizeContainerName(mountName string) string {
	return strings.ToLower(mountName)
}

func podName(sessionName, sessionID string) string {
	return fmt.Sprintf("clauderon-%s-%s", sessionName, sessionID)
}

func (p *Pod) Exists(ctx context.Context, id string) (bool, error) {
	_, err := p.client.CoreV1().Pods(p.namespace).Get(ctx, id, metav1.GetOptions{})
	if err != nil {
		if kubeerrors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("get pod %s: %w", id, err)
	}
	return true, nil
}

func (p *Pod) Delete(ctx context.Context, id string) error {
	err := p.client.CoreV1().Pods(p.namespace).Delete(ctx, id, metav1.DeleteOptions{})
	if err != nil && !kubeerrors.IsNotFound(err) {
		return fmt.Errorf("delete pod %s: %w", id, err)
	}
	return nil
}

func (p *Pod) AttachCommand(_ context.Context, id string) ([]string, error) {
	return []string{"kubectl", "attach", "-n", p.namespace, "-it", id}, nil
}

func (p *Pod) GetOutput(ctx context.Context, id string, lines int) (string, error) {
	tailLines := int64(lines)
	req := p.client.CoreV1().Pods(p.namespace).GetLogs(id, &corev1.PodLogOptions{TailLines: &tailLines})
	rc, err := req.Stream(ctx)
	if err != nil {
		return "", fmt.Errorf("stream logs for pod %s: %w", id, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return buf.String(), fmt.Errorf("read logs for pod %s: %w", id, err)
	}
	return buf.String(), nil
}

func (p *Pod) CheckHealth(ctx context.Context, id string) (Health, error) {
	pod, err := p.client.CoreV1().Pods(p.namespace).Get(ctx, id, metav1.GetOptions{})
	if err != nil {
		if kubeerrors.IsNotFound(err) {
			return Health{State: HealthNotFound}, nil
		}
		return Health{}, fmt.Errorf("get pod %s: %w", id, err)
	}

	switch pod.Status.Phase {
	case corev1.PodRunning:
		return Health{State: HealthRunning}, nil
	case corev1.PodPending:
		return Health{State: HealthPending}, nil
	case corev1.PodSucceeded:
		return Health{State: HealthStopped}, nil
	case corev1.PodFailed:
		return Health{State: HealthError, Message: pod.Status.Reason}, nil
	}

	for _, cs := range pod.Status.ContainerStatuses {
		if cs.RestartCount > 3 && cs.State.Waiting != nil && cs.State.Waiting.Reason == "CrashLoopBackOff" {
			return Health{State: HealthCrashLoop, Message: cs.State.Waiting.Message}, nil
		}
	}
	return Health{State: HealthPending}, nil
}

func (p *Pod) Capabilities() Capabilities {
	return Capabilities{
		CanRecreate:                 true,
		CanUpdateImage:              true,
		PreservesDataOnRecreate:     true,
		CanStart:                    true,
		CanWake:                     false,
		DataPreservationDescription: "the workspace lives on a PersistentVolumeClaim; recreating the pod leaves the PVC intact",
	}
}

func (p *Pod) IsRemote() bool { return true }
