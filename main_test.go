package main

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zavolanlab/krini/database"
)

type historyDao struct {
	runs    map[int64]database.TaskRun
	deleted []int64
}

func (h *historyDao) CreateRun(run *database.TaskRun) (int64, error) { return 0, nil }
func (h *historyDao) UpdateRun(run *database.TaskRun) error          { return nil }

func (h *historyDao) DeleteRun(id int64) error {
	h.deleted = append(h.deleted, id)
	delete(h.runs, id)
	return nil
}

func (h *historyDao) GetRunById(id int64) (*database.TaskRun, error) {
	run, ok := h.runs[id]
	if !ok {
		return nil, fmt.Errorf("could not retrieve run with id %d", id)
	}
	return &run, nil
}

func (h *historyDao) GetRunsByInstance(component string, instance string) ([]database.TaskRun, error) {
	var runs []database.TaskRun
	for _, run := range h.runs {
		if run.Component == component && (instance == "" || run.Instance == instance) {
			runs = append(runs, run)
		}
	}
	return runs, nil
}

func (h *historyDao) EnsureSchema() error { return nil }
func (h *historyDao) KillDao()            {}

func testHistory() *historyDao {
	started := time.Date(2021, 10, 1, 12, 0, 0, 0, time.UTC)
	return &historyDao{runs: map[int64]database.TaskRun{
		7: {
			ID: 7, RunID: "5c1e0e4a", Component: "STAR", Instance: "align1", Mode: "remote",
			Command: "/usr/bin/STAR --runThreadN 4", JobID: "align1-0f3b2c1d",
			Status: "COMPLETED", StartedAt: started,
		},
	}}
}

func TestShowHistoryById(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, showHistory(&out, testHistory(), "", "", 7))

	assert.Contains(t, out.String(), "== 5c1e0e4a ==\n")
	assert.Contains(t, out.String(), "ID                             : 7\n")
	assert.Contains(t, out.String(), "Started                        : 2021-Oct-01, 12:00:00\n")
	assert.Contains(t, out.String(), "Job ID                         : align1-0f3b2c1d\n")
	assert.Contains(t, out.String(), "Command                        : /usr/bin/STAR --runThreadN 4\n")
	assert.NotContains(t, out.String(), "Ended")

	assert.Error(t, showHistory(&out, testHistory(), "", "", 8))
}

func TestShowHistoryByInstance(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, showHistory(&out, testHistory(), "STAR", "align1", 0))
	assert.Contains(t, out.String(), "Instance name                  : align1\n")
	assert.NotContains(t, out.String(), "Command")

	out.Reset()
	require.NoError(t, showHistory(&out, testHistory(), "STAR", "align2", 0))
	assert.Empty(t, out.String())
}

func TestDeleteRun(t *testing.T) {
	var out bytes.Buffer
	dao := testHistory()
	require.NoError(t, deleteRun(&out, dao, 7))
	assert.Equal(t, []int64{7}, dao.deleted)
	assert.Equal(t, "deleted run 5c1e0e4a of align1\n", out.String())

	assert.Error(t, deleteRun(&out, dao, 7))
	assert.Equal(t, []int64{7}, dao.deleted)
}
