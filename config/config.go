package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
	k8sv1 "k8s.io/api/core/v1"
)

// environment overrides
const (
	logLevelEnvVar  = "KRINI_LOG_LEVEL"
	namespaceEnvVar = "KRINI_NAMESPACE"
)

var (
	mountPropagationHostToContainer = k8sv1.MountPropagationHostToContainer
	mountPropagationBidirectional   = k8sv1.MountPropagationBidirectional
)

// Config is the engine configuration, read from a YAML or JSON file.
type Config struct {
	Logging     Logging     `yaml:"logging"`
	Polling     Polling     `yaml:"polling"`
	Environment Environment `yaml:"environment"`
	Kubernetes  Kubernetes  `yaml:"kubernetes"`
	Database    Database    `yaml:"database"`
	Storage     Storage     `yaml:"storage"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Polling drives the remote job state machine.
// ActiveInterval is slept while the job is queued and eligible to run,
// InactiveInterval while it is held or suspended, at most InactiveTries times.
type Polling struct {
	ActiveInterval   time.Duration `yaml:"active_interval"`
	InactiveInterval time.Duration `yaml:"inactive_interval"`
	InactiveTries    int           `yaml:"inactive_tries"`
	WaitInterval     time.Duration `yaml:"wait_interval"`
}

// Environment lists variables copied from the engine's environment into remote jobs.
type Environment struct {
	Passthrough []string `yaml:"passthrough"`
}

type Kubernetes struct {
	Namespace               string            `yaml:"namespace"`
	Kubeconfig              string            `yaml:"kubeconfig"`
	Image                   string            `yaml:"image"`
	PullPolicy              string            `yaml:"pull_policy"`
	ServiceAccount          string            `yaml:"service_account"`
	ContainerName           string            `yaml:"container_name"`
	Labels                  map[string]string `yaml:"labels"`
	Volumes                 []Volume          `yaml:"volumes"`
	TTLSecondsAfterFinished *int32            `yaml:"ttl_seconds_after_finished"`
	Metrics                 Metrics           `yaml:"metrics"`
}

// Volume is a shared filesystem mounted into task pods, either a host path
// or a persistent volume claim.
type Volume struct {
	Name             string `yaml:"name"`
	MountPath        string `yaml:"mount_path"`
	HostPath         string `yaml:"host_path"`
	ClaimName        string `yaml:"claim_name"`
	MountPropagation string `yaml:"mount_propagation"`
	ReadOnly         bool   `yaml:"read_only"`
}

type Metrics struct {
	Enabled bool `yaml:"enabled"`
}

type Database struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsPath string `yaml:"credentials_path"`
	Host            string `yaml:"host"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	DBName          string `yaml:"dbname"`
	SSLMode         string `yaml:"sslmode"`
}

type Storage struct {
	S3 S3 `yaml:"s3"`
}

type S3 struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Region  string `yaml:"region"`
	Prefix  string `yaml:"prefix"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: Logging{Level: "info", Format: "text"},
		Polling: Polling{
			ActiveInterval:   500 * time.Millisecond,
			InactiveInterval: 60 * time.Second,
			InactiveTries:    60,
			WaitInterval:     5 * time.Second,
		},
		Environment: Environment{Passthrough: []string{"PATH", "LD_LIBRARY_PATH"}},
		Kubernetes: Kubernetes{
			Namespace:     "default",
			PullPolicy:    "if_not_present",
			ContainerName: "task",
			Labels:        map[string]string{"app": "krini-task"},
		},
		Database: Database{SSLMode: "disable"},
	}
}

// Load reads the configuration at path on top of the defaults.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	conf := Default()
	if path != "" {
		b, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %v: %v", path, err)
		}
		if err = yaml.Unmarshal(b, conf); err != nil {
			return nil, fmt.Errorf("failed to parse config %v: %v", path, err)
		}
	}
	conf.applyEnv()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (conf *Config) applyEnv() {
	if v := os.Getenv(logLevelEnvVar); v != "" {
		conf.Logging.Level = v
	}
	if v := os.Getenv(namespaceEnvVar); v != "" {
		conf.Kubernetes.Namespace = v
	}
}

// Validate checks values that cannot be checked by decoding alone.
func (conf *Config) Validate() error {
	p := conf.Polling
	if p.ActiveInterval <= 0 || p.InactiveInterval <= 0 || p.WaitInterval <= 0 {
		return fmt.Errorf("polling intervals must be positive")
	}
	if p.InactiveTries < 1 {
		return fmt.Errorf("polling.inactive_tries must be at least 1, got %d", p.InactiveTries)
	}
	switch strings.ToLower(conf.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", conf.Logging.Format)
	}
	for _, v := range conf.Kubernetes.Volumes {
		if v.Name == "" || v.MountPath == "" {
			return fmt.Errorf("kubernetes volume needs a name and a mount_path")
		}
		if (v.HostPath == "") == (v.ClaimName == "") {
			return fmt.Errorf("kubernetes volume %v needs exactly one of host_path and claim_name", v.Name)
		}
	}
	if conf.Storage.S3.Enabled && conf.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required when s3 archiving is enabled")
	}
	return nil
}

func (conf *Kubernetes) GetPullPolicy() (policy k8sv1.PullPolicy) {
	switch conf.PullPolicy {
	case "always":
		policy = k8sv1.PullAlways
	case "if_not_present":
		policy = k8sv1.PullIfNotPresent
	case "never":
		policy = k8sv1.PullNever
	}
	return policy
}

func (conf *Kubernetes) GetVolumes() (volumes []k8sv1.Volume) {
	for _, v := range conf.Volumes {
		volume := k8sv1.Volume{Name: v.Name}
		if v.HostPath != "" {
			volume.HostPath = &k8sv1.HostPathVolumeSource{Path: v.HostPath}
		} else {
			volume.PersistentVolumeClaim = &k8sv1.PersistentVolumeClaimVolumeSource{
				ClaimName: v.ClaimName,
				ReadOnly:  v.ReadOnly,
			}
		}
		volumes = append(volumes, volume)
	}
	return volumes
}

func (conf *Kubernetes) GetVolumeMounts() (volumeMounts []k8sv1.VolumeMount) {
	for _, v := range conf.Volumes {
		volumeMount := k8sv1.VolumeMount{
			Name:      v.Name,
			MountPath: v.MountPath,
			ReadOnly:  v.ReadOnly,
		}
		switch v.MountPropagation {
		case "HostToContainer":
			volumeMount.MountPropagation = &mountPropagationHostToContainer
		case "Bidirectional":
			volumeMount.MountPropagation = &mountPropagationBidirectional
		}
		volumeMounts = append(volumeMounts, volumeMount)
	}
	return volumeMounts
}
