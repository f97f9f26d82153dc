package database

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/zavolanlab/krini/config"

	logrus "github.com/sirupsen/logrus"
)

// columns written by CreateRun and UpdateRun, in statement order
var runColumns = []string{
	"run_id", "component", "instance", "mode", "command", "job_id", "status",
	"exit_status", "error", "stats", "descriptor", "started_at", "ended_at",
}

type DBCredentials struct {
	Host         string `json:"db_host"`
	User         string `json:"db_username"`
	Password     string `json:"db_password"`
	DatabaseName string `json:"db_database"`
}

type PSQLDao struct {
	Host         string
	User         string
	Password     string
	DBName       string
	SSLMode      string
	DBConnection *sqlx.DB
}

func connect(psqlDao *PSQLDao) (string, error) {
	psqlInfo := fmt.Sprintf("host=%s user=%s "+
		"password=%s dbname=%s sslmode=%s", //pragma: allowlist secret
		psqlDao.Host, psqlDao.User, psqlDao.Password, psqlDao.DBName, psqlDao.SSLMode)

	dbConnection, err := sqlx.Open("postgres", psqlInfo)
	if err != nil {
		logrus.Errorf("connection to database %s failed", psqlDao.DBName)
		return "", fmt.Errorf("connection to database %s failed", psqlDao.DBName)
	}

	err = dbConnection.Ping()
	if err != nil {
		logrus.Errorf("could not ping database %s after connection", psqlDao.DBName)
		dbConnection.Close()
		return "", fmt.Errorf("could not ping database %s after connection", psqlDao.DBName)
	}

	psqlDao.DBConnection = dbConnection

	successString := fmt.Sprintf("connection to %s established", psqlDao.DBName)
	logrus.Info(successString)
	return successString, nil
}

// getCredentials fills the connection settings from the credential file,
// if one is configured, or from the configuration itself.
func getCredentials(psqlDao *PSQLDao, conf config.Database) error {
	psqlDao.SSLMode = conf.SSLMode
	if conf.CredentialsPath == "" {
		psqlDao.Host = conf.Host
		psqlDao.User = conf.User
		psqlDao.Password = conf.Password //pragma: allowlist secret
		psqlDao.DBName = conf.DBName
		return nil
	}

	credFile, err := os.Open(conf.CredentialsPath)
	if err != nil {
		return fmt.Errorf("could not open database credential file: %v", err)
	}
	defer credFile.Close()

	byteValue, err := ioutil.ReadAll(credFile)
	if err != nil {
		return fmt.Errorf("could not read database credential file: %v", err)
	}

	var credential DBCredentials
	err = json.Unmarshal(byteValue, &credential)
	if err != nil {
		return fmt.Errorf("unmarshalling credential file failed: %v", err)
	}

	psqlDao.Host = credential.Host
	psqlDao.User = credential.User
	psqlDao.Password = credential.Password //pragma: allowlist secret
	psqlDao.DBName = credential.DatabaseName
	return nil
}

func NewPSQLDao(conf config.Database) (*PSQLDao, error) {
	var newDao PSQLDao
	if err := getCredentials(&newDao, conf); err != nil {
		return nil, err
	}
	if _, err := connect(&newDao); err != nil {
		return nil, err
	}
	return &newDao, nil
}

func (psqlDao *PSQLDao) EnsureSchema() error {
	if _, err := psqlDao.DBConnection.Exec(schema); err != nil {
		logrus.Errorf("Could not create table task_run, failed with error %s", err)
		return fmt.Errorf("could not create table task_run")
	}
	return nil
}

func (psqlDao *PSQLDao) GetRunById(id int64) (*TaskRun, error) {
	run := TaskRun{}
	query := fmt.Sprintf("SELECT * FROM task_run WHERE id=%d", id)
	err := psqlDao.DBConnection.Get(&run, query)

	if err != nil {
		logrus.Errorf("Could not retrieve run with id %d, failed with error %s", id, err)
		return nil, fmt.Errorf("could not retrieve run with id %d", id)
	}

	return &run, nil
}

// GetRunsByInstance lists the runs of a component, newest first. An empty
// instance matches every instance of the component.
func (psqlDao *PSQLDao) GetRunsByInstance(component string, instance string) ([]TaskRun, error) {
	runs := []TaskRun{}
	query := "SELECT * FROM task_run WHERE component=?"
	args := []interface{}{component}
	if instance != "" {
		query += " AND instance=?"
		args = append(args, instance)
	}
	query += " ORDER BY started_at DESC"

	err := psqlDao.DBConnection.Select(&runs, psqlDao.DBConnection.Rebind(query), args...)
	if err != nil {
		logrus.Errorf("Could not retrieve runs of %s, failed with error %s", component, err)
		return nil, fmt.Errorf("could not retrieve runs of %s", component)
	}

	return runs, nil
}

func runMap(run *TaskRun) map[string]interface{} {
	return map[string]interface{}{
		"id":          run.ID,
		"run_id":      run.RunID,
		"component":   run.Component,
		"instance":    run.Instance,
		"mode":        run.Mode,
		"command":     run.Command,
		"job_id":      run.JobID,
		"status":      run.Status,
		"exit_status": run.ExitStatus,
		"error":       run.Error,
		"stats":       run.Stats,
		"descriptor":  run.Descriptor,
		"started_at":  run.StartedAt,
		"ended_at":    run.EndedAt,
	}
}

func (psqlDao *PSQLDao) CreateRun(run *TaskRun) (int64, error) {
	var columnValues []string
	for _, column := range runColumns {
		columnValues = append(columnValues, fmt.Sprintf(":%s", column))
	}

	query := fmt.Sprintf(`INSERT into task_run (%s) VALUES (%s) RETURNING id`, strings.Join(runColumns, ","), strings.Join(columnValues, ","))
	stmt, err := psqlDao.DBConnection.PrepareNamed(query)
	if err != nil {
		logrus.Errorf("Could not prepare insert statement for run creation, failed with error %s", err)
		return 0, fmt.Errorf("could not prepare named statement for run insert")
	}
	defer stmt.Close()

	var id int64
	err = stmt.Get(&id, runMap(run))
	if err != nil {
		logrus.Errorf("Could not create run %s, failed with error %s", run.RunID, err)
		return 0, fmt.Errorf("could not create run")
	}

	logrus.Infof("Successfully created run with id %d", id)
	return id, nil
}

func (psqlDao *PSQLDao) UpdateRun(run *TaskRun) error {
	var keyMapPairs []string
	for _, column := range runColumns {
		keyMapPairs = append(keyMapPairs, fmt.Sprintf("%s=:%s", column, column))
	}

	query := fmt.Sprintf(`UPDATE task_run SET %s, updated_at=now() WHERE id=:id`, strings.Join(keyMapPairs, ", "))
	_, err := psqlDao.DBConnection.NamedExec(query, runMap(run))
	if err != nil {
		logrus.Errorf("Update run with id %d failed with error %s", run.ID, err)
		return fmt.Errorf("update run failed")
	}

	logrus.Infof("Run with id %d updated successfully", run.ID)
	return nil
}

func deleteHelper(table string, id int64, psqlDao *PSQLDao, query string) error {
	idMap := map[string]interface{}{
		"id": id,
	}

	_, err := psqlDao.DBConnection.NamedExec(query, idMap)
	if err != nil {
		logrus.Errorf("Delete from table %s with id %d failed with error %s", table, id, err)
		return fmt.Errorf("delete from table %s failed", table)
	}

	logrus.Infof("object with id %d from table %s deleted successfully", id, table)
	return nil
}

func (psqlDao *PSQLDao) DeleteRun(id int64) error {
	table := "task_run"
	query := fmt.Sprintf(`DELETE FROM %s WHERE id=:id`, table)
	return deleteHelper(table, id, psqlDao, query)
}

func (psqlDao *PSQLDao) KillDao() {
	psqlDao.DBConnection.Close()
}
