package dispatch

import (
	"context"
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/rest"
	metricsv1beta1 "k8s.io/metrics/pkg/apis/metrics/v1beta1"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"
)

// UsageSample is one point of a job's resource series.
// CPU is in millicores, Memory in bytes.
type UsageSample struct {
	CPU    int64 `json:"cpu"`
	Memory int64 `json:"mem"`
}

// UsageSampler reads the current resource usage of a pod.
type UsageSampler interface {
	Sample(ctx context.Context, pod string) (UsageSample, error)
}

// PodMetricsSampler reads pod usage from the cluster's metrics API.
type PodMetricsSampler struct {
	Client    metricsclient.Interface
	Namespace string
}

func NewPodMetricsSampler(config *rest.Config, namespace string) (*PodMetricsSampler, error) {
	client, err := metricsclient.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics client: %v", err)
	}
	return &PodMetricsSampler{Client: client, Namespace: namespace}, nil
}

func (m *PodMetricsSampler) Sample(ctx context.Context, pod string) (UsageSample, error) {
	podMetrics, err := m.Client.MetricsV1beta1().PodMetricses(m.Namespace).Get(ctx, pod, metav1.GetOptions{})
	if err != nil {
		return UsageSample{}, err
	}
	return podSample(podMetrics), nil
}

func podSample(podMetrics *metricsv1beta1.PodMetrics) UsageSample {
	var sample UsageSample
	for _, c := range podMetrics.Containers {
		sample.CPU += c.Usage.Cpu().MilliValue()
		sample.Memory += c.Usage.Memory().Value()
	}
	return sample
}

// summarizeUsage folds a metrics series into an accounting record.
// CPU is reported in core seconds, Memory in GB seconds, MaxVMem in bytes
// and MaxRSS in kilobytes.
func summarizeUsage(samples []UsageSample, period time.Duration) *ResourceUsage {
	usage := &ResourceUsage{
		Samples:        samples,
		SamplingPeriod: period.Seconds(),
	}
	var peak int64
	for _, s := range samples {
		usage.CPU += float64(s.CPU) / 1000 * period.Seconds()
		usage.Memory += float64(s.Memory) / 1e9 * period.Seconds()
		if s.Memory > peak {
			peak = s.Memory
		}
	}
	usage.MaxVMem = float64(peak)
	usage.MaxRSS = float64(peak) / 1024
	return usage
}
