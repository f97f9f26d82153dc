package log

import (
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLogMirrorsRecords(t *testing.T) {
	mirror, hook := test.NewNullLogger()
	events := NewEventLog(mirror.WithField("run_id", "r1"))

	events.Infof("validated %d ports", 3)
	events.Warnf("job %v on hold", "4711")
	err := events.Errorf("job %v failed", "4711")
	assert.EqualError(t, err, "job 4711 failed")

	records := events.Records()
	require.Len(t, records, 3)
	assert.True(t, strings.HasSuffix(records[0], " - INFO - validated 3 ports"), records[0])
	assert.True(t, strings.HasSuffix(records[1], " - WARNING - job 4711 on hold"), records[1])
	assert.True(t, strings.HasSuffix(records[2], " - ERROR - job 4711 failed"), records[2])

	entries := hook.AllEntries()
	require.Len(t, entries, 3)
	assert.Equal(t, logrus.InfoLevel, entries[0].Level)
	assert.Equal(t, logrus.WarnLevel, entries[1].Level)
	assert.Equal(t, logrus.ErrorLevel, entries[2].Level)
	assert.Equal(t, "r1", entries[2].Data["run_id"])
}

func TestEventLogWithoutMirror(t *testing.T) {
	events := NewEventLog(nil)
	events.Infof("quiet")
	assert.Len(t, events.Records(), 1)
}

func TestLogLifecycle(t *testing.T) {
	log := New(nil)
	assert.Equal(t, NotStarted, log.Status)
	log.Start()
	assert.Equal(t, Running, log.Status)
	assert.NotEmpty(t, log.Created)
	log.Finish()
	assert.Equal(t, Completed, log.Status)
	assert.True(t, log.Duration >= 0)

	log = New(nil)
	log.Start()
	log.Fail(errors.New("JobStuck [4711]: gave up"))
	assert.Equal(t, Failed, log.Status)
	records := log.Event.Records()
	assert.True(t, strings.HasSuffix(records[len(records)-1], "ERROR - JobStuck [4711]: gave up"))
}

func TestSetup(t *testing.T) {
	defer logrus.SetLevel(logrus.GetLevel())
	require.NoError(t, Setup("debug", "json"))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	_, isJSON := logrus.StandardLogger().Formatter.(*logrus.JSONFormatter)
	assert.True(t, isJSON)
	require.NoError(t, Setup("info", "text"))
	assert.Error(t, Setup("loud", "text"))
	assert.Error(t, Setup("info", "xml"))
}
