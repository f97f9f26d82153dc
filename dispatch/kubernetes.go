package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/zavolanlab/krini/config"
	"golang.org/x/sys/unix"
	batchv1 "k8s.io/api/batch/v1"
	k8sv1 "k8s.io/api/core/v1"
	k8sResource "k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// this file runs tasks as Kubernetes Jobs: one job per task, one pod per job, no retries

const (
	instanceLabel       = "krini/instance"
	jobNameLabel        = "job-name"
	deadlineExceeded    = "DeadlineExceeded"
	oomKilled           = "OOMKilled"
	maxJobNameBaseLen   = 40
	reasonUnschedulable = "Unschedulable"
)

var (
	invalidNameChars = regexp.MustCompile(`[^a-z0-9-]+`)
	memoryFormat     = regexp.MustCompile(`^(\d+)([KMG]?)$`)

	// pods stuck on these waiting reasons will not start without intervention
	heldWaitingReasons = map[string]bool{
		"ImagePullBackOff":           true,
		"ErrImagePull":               true,
		"InvalidImageName":           true,
		"CreateContainerConfigError": true,
	}
)

// KubernetesSession is a Session backed by the Kubernetes batch API.
type KubernetesSession struct {
	Client       kubernetes.Interface
	Sampler      UsageSampler
	Conf         config.Kubernetes
	PollInterval time.Duration
	Log          logrus.FieldLogger

	templates map[*JobTemplate]bool
	jobs      map[string]*JobTemplate
	closed    bool
}

// NewKubernetesSession connects to the cluster named by the kubeconfig in
// conf, or to the cluster the engine runs in when none is given.
func NewKubernetesSession(conf config.Kubernetes, pollInterval time.Duration, log logrus.FieldLogger) (*KubernetesSession, error) {
	restConfig, err := restConfig(conf.Kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load kubernetes config: %v", err)
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %v", err)
	}
	session := newKubernetesSession(clientset, conf, pollInterval, log)
	if conf.Metrics.Enabled {
		if session.Sampler, err = NewPodMetricsSampler(restConfig, conf.Namespace); err != nil {
			return nil, err
		}
	}
	return session, nil
}

func newKubernetesSession(client kubernetes.Interface, conf config.Kubernetes, pollInterval time.Duration, log logrus.FieldLogger) *KubernetesSession {
	return &KubernetesSession{
		Client:       client,
		Conf:         conf,
		PollInterval: pollInterval,
		Log:          log,
		templates:    make(map[*JobTemplate]bool),
		jobs:         make(map[string]*JobTemplate),
	}
}

func restConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig == "" {
		return rest.InClusterConfig()
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}

func (s *KubernetesSession) NewJobTemplate() (*JobTemplate, error) {
	if s.closed {
		return nil, fmt.Errorf("session is closed")
	}
	jt := &JobTemplate{}
	s.templates[jt] = true
	return jt, nil
}

func (s *KubernetesSession) DeleteJobTemplate(jt *JobTemplate) error {
	if !s.templates[jt] {
		return fmt.Errorf("job template does not belong to this session")
	}
	delete(s.templates, jt)
	return nil
}

func (s *KubernetesSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if n := len(s.templates); n > 0 {
		return fmt.Errorf("session closed with %d job templates still allocated", n)
	}
	return nil
}

func (s *KubernetesSession) Submit(ctx context.Context, jt *JobTemplate) (string, error) {
	job, err := s.taskJob(jt)
	if err != nil {
		return "", err
	}
	created, err := s.Client.BatchV1().Jobs(s.Conf.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to create job: %v", err)
	}
	s.jobs[created.Name] = jt
	s.Log.WithFields(logrus.Fields{"job_name": created.Name, "job_uid": created.GetUID()}).Info("created kubernetes job")
	return created.Name, nil
}

func (s *KubernetesSession) Status(ctx context.Context, jobID string) (JobState, error) {
	job, err := s.Client.BatchV1().Jobs(s.Conf.Namespace).Get(ctx, jobID, metav1.GetOptions{})
	if err != nil {
		return StateUndetermined, err
	}
	if job.Spec.Suspend != nil && *job.Spec.Suspend {
		return StateUserSuspended, nil
	}
	pod, err := s.taskPod(ctx, jobID)
	if err != nil {
		return StateUndetermined, err
	}
	if failed, _ := jobFailed(job); failed {
		if pod != nil && s.terminated(pod) != nil {
			return StateDone, nil
		}
		return StateFailed, nil
	}
	if pod == nil {
		return StateQueuedActive, nil
	}
	switch pod.Status.Phase {
	case k8sv1.PodRunning:
		return StateRunning, nil
	case k8sv1.PodSucceeded, k8sv1.PodFailed:
		return StateDone, nil
	case k8sv1.PodPending:
		if held(pod) {
			return StateSystemOnHold, nil
		}
		return StateQueuedActive, nil
	}
	return StateUndetermined, nil
}

func (s *KubernetesSession) Wait(ctx context.Context, jobID string, timeout time.Duration) (*JobInfo, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	var samples []UsageSample
	for {
		job, err := s.Client.BatchV1().Jobs(s.Conf.Namespace).Get(ctx, jobID, metav1.GetOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to get job: %v", err)
		}
		pod, err := s.taskPod(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if pod != nil && pod.Status.Phase == k8sv1.PodRunning && s.Sampler != nil {
			sample, err := s.Sampler.Sample(ctx, pod.Name)
			if err != nil {
				s.Log.Debugf("no metrics for pod %v: %v", pod.Name, err)
			} else {
				samples = append(samples, sample)
			}
		}

		failed, reason := jobFailed(job)
		var term *k8sv1.ContainerStateTerminated
		if pod != nil {
			term = s.terminated(pod)
		}
		// a failed job without a terminated container was evicted, deleted
		// or aborted by the cluster and never exited on its own
		if term != nil || failed {
			info := s.jobInfo(job, term, samples)
			info.WasAborted = reason == deadlineExceeded
			if pod != nil {
				if err := s.collectLogs(ctx, jobID, pod); err != nil {
					s.Log.Warnf("failed to collect logs of pod %v: %v", pod.Name, err)
				}
			}
			return info, nil
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, ErrExitTimeout
		}
		if err := Sleep(ctx, s.PollInterval); err != nil {
			return nil, err
		}
	}
}

func (s *KubernetesSession) Terminate(ctx context.Context, jobID string) error {
	deletionPropagation := metav1.DeletePropagationBackground
	err := s.Client.BatchV1().Jobs(s.Conf.Namespace).Delete(ctx, jobID, metav1.DeleteOptions{PropagationPolicy: &deletionPropagation})
	if err != nil {
		return fmt.Errorf("failed to delete job %v: %v", jobID, err)
	}
	s.Log.WithField("job_name", jobID).Info("deleted kubernetes job")
	return nil
}

func (s *KubernetesSession) taskJob(jt *JobTemplate) (*batchv1.Job, error) {
	resources, err := resourceRequirements(jt.Cores, jt.MemoryPerCore)
	if err != nil {
		return nil, err
	}
	name := jobName(jt.JobName)
	labels := map[string]string{}
	for k, v := range s.Conf.Labels {
		labels[k] = v
	}
	labels[instanceLabel] = sanitizeName(jt.JobName)

	// no ActiveDeadlineSeconds: the cluster would count queueing time
	// against the runtime, Wait bounds the run from its observed start
	backoffLimit := int32(0)

	container := k8sv1.Container{
		Name:            s.Conf.ContainerName,
		Image:           s.Conf.Image,
		ImagePullPolicy: s.Conf.GetPullPolicy(),
		Command:         []string{jt.RemoteCommand},
		Args:            jt.Args,
		WorkingDir:      jt.WorkingDirectory,
		Env:             envVars(jt.Env),
		Resources:       resources,
		VolumeMounts:    s.Conf.GetVolumeMounts(),
	}
	job := &batchv1.Job{
		TypeMeta: metav1.TypeMeta{
			Kind:       "Job",
			APIVersion: "batch/v1",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &backoffLimit,
			TTLSecondsAfterFinished: s.Conf.TTLSecondsAfterFinished,
			Template: k8sv1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: k8sv1.PodSpec{
					RestartPolicy:      k8sv1.RestartPolicyNever,
					ServiceAccountName: s.Conf.ServiceAccount,
					Volumes:            s.Conf.GetVolumes(),
					Containers:         []k8sv1.Container{container},
				},
			},
		},
	}
	return job, nil
}

// taskPod returns the pod of a job, or nil if none was created yet.
func (s *KubernetesSession) taskPod(ctx context.Context, jobID string) (*k8sv1.Pod, error) {
	pods, err := s.Client.CoreV1().Pods(s.Conf.Namespace).List(ctx, metav1.ListOptions{LabelSelector: jobNameLabel + "=" + jobID})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods of job %v: %v", jobID, err)
	}
	if len(pods.Items) == 0 {
		return nil, nil
	}
	sort.Slice(pods.Items, func(i, j int) bool {
		return pods.Items[i].CreationTimestamp.Before(&pods.Items[j].CreationTimestamp)
	})
	return &pods.Items[len(pods.Items)-1], nil
}

func (s *KubernetesSession) terminated(pod *k8sv1.Pod) *k8sv1.ContainerStateTerminated {
	for _, status := range pod.Status.ContainerStatuses {
		if status.Name == s.Conf.ContainerName && status.State.Terminated != nil {
			return status.State.Terminated
		}
	}
	return nil
}

func (s *KubernetesSession) jobInfo(job *batchv1.Job, term *k8sv1.ContainerStateTerminated, samples []UsageSample) *JobInfo {
	info := &JobInfo{
		JobID:     job.Name,
		Submitted: job.CreationTimestamp.Time,
	}
	if term == nil {
		return info
	}
	info.HasExited = true
	info.ExitStatus = int(term.ExitCode)
	info.Started = term.StartedAt.Time
	info.Ended = term.FinishedAt.Time
	if term.Signal != 0 {
		info.HasSignal = true
		info.TerminatedSignal = unix.SignalName(syscall.Signal(term.Signal))
	}
	if term.Reason == oomKilled {
		info.HasSignal = true
		info.TerminatedSignal = oomKilled
	}
	info.Usage = summarizeUsage(samples, s.PollInterval)
	if !info.Started.IsZero() && !info.Ended.IsZero() {
		info.Usage.WallClock = info.Ended.Sub(info.Started).Seconds()
	}
	return info
}

// collectLogs copies the pod log into the job's output file. Kubernetes
// interleaves both streams in one log.
func (s *KubernetesSession) collectLogs(ctx context.Context, jobID string, pod *k8sv1.Pod) error {
	jt := s.jobs[jobID]
	if jt == nil || jt.OutputPath == "" {
		return nil
	}
	stream, err := s.Client.CoreV1().Pods(s.Conf.Namespace).GetLogs(pod.Name, &k8sv1.PodLogOptions{Container: s.Conf.ContainerName}).Stream(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()
	f, err := os.OpenFile(jt.OutputPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, stream)
	return err
}

func jobFailed(job *batchv1.Job) (bool, string) {
	for _, c := range job.Status.Conditions {
		if c.Type == batchv1.JobFailed && c.Status == k8sv1.ConditionTrue {
			return true, c.Reason
		}
	}
	return false, ""
}

func held(pod *k8sv1.Pod) bool {
	for _, c := range pod.Status.Conditions {
		if c.Type == k8sv1.PodScheduled && c.Status == k8sv1.ConditionFalse && c.Reason == reasonUnschedulable {
			return true
		}
	}
	for _, status := range pod.Status.ContainerStatuses {
		if w := status.State.Waiting; w != nil && heldWaitingReasons[w.Reason] {
			return true
		}
	}
	return false
}

func sanitizeName(name string) string {
	name = invalidNameChars.ReplaceAllString(strings.ToLower(name), "-")
	if len(name) > maxJobNameBaseLen {
		name = name[:maxJobNameBaseLen]
	}
	name = strings.Trim(name, "-")
	if name == "" {
		name = "krini"
	}
	return name
}

func jobName(base string) string {
	return sanitizeName(base) + "-" + uuid.New().String()[:8]
}

func envVars(env map[string]string) []k8sv1.EnvVar {
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)
	vars := make([]k8sv1.EnvVar, 0, len(names))
	for _, name := range names {
		vars = append(vars, k8sv1.EnvVar{Name: name, Value: env[name]})
	}
	return vars
}

// memoryBytes converts a memory string such as "512M" into bytes.
// Units are binary; a bare number is bytes.
func memoryBytes(mem string) (int64, error) {
	m := memoryFormat.FindStringSubmatch(mem)
	if m == nil {
		return 0, fmt.Errorf("invalid memory string %q", mem)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, err
	}
	switch m[2] {
	case "K":
		n <<= 10
	case "M":
		n <<= 20
	case "G":
		n <<= 30
	}
	return n, nil
}

func resourceRequirements(cores int, memoryPerCore string) (k8sv1.ResourceRequirements, error) {
	req := k8sv1.ResourceRequirements{
		Requests: k8sv1.ResourceList{},
		Limits:   k8sv1.ResourceList{},
	}
	if cores > 0 {
		req.Requests[k8sv1.ResourceCPU] = *k8sResource.NewQuantity(int64(cores), k8sResource.DecimalSI)
	}
	if memoryPerCore != "" {
		perCore, err := memoryBytes(memoryPerCore)
		if err != nil {
			return req, err
		}
		if cores > 1 {
			perCore *= int64(cores)
		}
		if perCore > 0 {
			mem := *k8sResource.NewQuantity(perCore, k8sResource.BinarySI)
			req.Requests[k8sv1.ResourceMemory] = mem
			req.Limits[k8sv1.ResourceMemory] = mem
		}
	}
	return req, nil
}
