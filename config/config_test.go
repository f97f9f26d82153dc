package config_test

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zavolanlab/krini/config"
	k8sv1 "k8s.io/api/core/v1"
)

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "krini.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	conf, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, conf.Polling.ActiveInterval)
	assert.Equal(t, time.Minute, conf.Polling.InactiveInterval)
	assert.Equal(t, 60, conf.Polling.InactiveTries)
	assert.Equal(t, []string{"PATH", "LD_LIBRARY_PATH"}, conf.Environment.Passthrough)
	assert.Equal(t, k8sv1.PullIfNotPresent, conf.Kubernetes.GetPullPolicy())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
polling:
  active_interval: 2s
  inactive_tries: 3
kubernetes:
  namespace: batch
  pull_policy: always
  volumes:
    - name: work
      mount_path: /work
      claim_name: work-pvc
    - name: refs
      mount_path: /refs
      host_path: /mnt/refs
      read_only: true
      mount_propagation: HostToContainer
`)
	conf, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, conf.Polling.ActiveInterval)
	assert.Equal(t, time.Minute, conf.Polling.InactiveInterval)
	assert.Equal(t, 3, conf.Polling.InactiveTries)
	assert.Equal(t, "batch", conf.Kubernetes.Namespace)
	assert.Equal(t, k8sv1.PullAlways, conf.Kubernetes.GetPullPolicy())

	volumes := conf.Kubernetes.GetVolumes()
	require.Len(t, volumes, 2)
	assert.Equal(t, "work-pvc", volumes[0].PersistentVolumeClaim.ClaimName)
	assert.Equal(t, "/mnt/refs", volumes[1].HostPath.Path)

	mounts := conf.Kubernetes.GetVolumeMounts()
	require.Len(t, mounts, 2)
	assert.Nil(t, mounts[0].MountPropagation)
	assert.Equal(t, k8sv1.MountPropagationHostToContainer, *mounts[1].MountPropagation)
	assert.True(t, mounts[1].ReadOnly)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("KRINI_NAMESPACE", "from-env")
	conf, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", conf.Kubernetes.Namespace)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"zero tries":    "polling:\n  inactive_tries: 0\n",
		"bad format":    "logging:\n  format: xml\n",
		"two sources":   "kubernetes:\n  volumes:\n    - {name: v, mount_path: /v, host_path: /h, claim_name: c}\n",
		"bucketless s3": "storage:\n  s3:\n    enabled: true\n",
	}
	for name, body := range cases {
		_, err := config.Load(writeConfig(t, body))
		assert.Error(t, err, name)
	}
}
