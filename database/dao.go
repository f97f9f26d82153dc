package database

// Dao stores the history of task runs.
type Dao interface {
	CreateRun(run *TaskRun) (int64, error)
	UpdateRun(run *TaskRun) error
	DeleteRun(id int64) error
	GetRunById(id int64) (*TaskRun, error)
	GetRunsByInstance(component string, instance string) ([]TaskRun, error)
	EnsureSchema() error

	KillDao()
}
