package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"github.com/zavolanlab/krini/config"
	"github.com/zavolanlab/krini/database"
	"github.com/zavolanlab/krini/descriptor"
	"github.com/zavolanlab/krini/engine"
	eventlog "github.com/zavolanlab/krini/logging"
	"github.com/zavolanlab/krini/report"
	"github.com/zavolanlab/krini/storage"
	"github.com/zavolanlab/krini/template"
	"gopkg.in/yaml.v2"
)

/*
krini runs one component instance of a workflow:

usage:
 - to run a task: `krini run --descriptor task.yaml`
 - to show the command a task would run: `krini render --descriptor task.yaml`
 - to check a task without running it: `krini validate --descriptor task.yaml`
 - to generate a component template: `krini build --definition tool.yaml`
 - to list recorded runs: `krini history --component NAME [--instance NAME]`
 - to show one recorded run: `krini history --id ID`
 - to delete a recorded run: `krini forget --id ID`

The exit code of `run` is the exit status of the command, or 1 when the
task could not be run.
*/
func main() {
	descriptorFlag := cli.StringFlag{Name: "descriptor, d", Usage: "task descriptor file (YAML or JSON)"}

	app := cli.NewApp()
	app.Name = "krini"
	app.Usage = "Run a workflow component instance"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "engine configuration file", EnvVar: "KRINI_CONFIG"},
		cli.StringFlag{Name: "log-level", Usage: "overrides logging.level of the configuration"},
	}
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "validate, render and execute a task",
			Flags:  []cli.Flag{descriptorFlag},
			Action: runTask,
		},
		{
			Name:   "render",
			Usage:  "print the command line of a task without running it",
			Flags:  []cli.Flag{descriptorFlag},
			Action: renderTask,
		},
		{
			Name:   "validate",
			Usage:  "check a task descriptor against the filesystem",
			Flags:  []cli.Flag{descriptorFlag},
			Action: validateTask,
		},
		{
			Name:   "build",
			Usage:  "generate a component template from a tool definition",
			Flags:  []cli.Flag{cli.StringFlag{Name: "definition", Usage: "tool definition file"}},
			Action: buildComponent,
		},
		{
			Name:  "history",
			Usage: "list the recorded runs of a component",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "component", Usage: "component name"},
				cli.StringFlag{Name: "instance", Usage: "instance name; all instances if empty"},
				cli.Int64Flag{Name: "id", Usage: "show only the run with this history id"},
			},
			Action: listHistory,
		},
		{
			Name:   "forget",
			Usage:  "delete a recorded run from the history",
			Flags:  []cli.Flag{cli.Int64Flag{Name: "id", Usage: "history id of the run"}},
			Action: forgetRun,
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

// setup loads the configuration and configures logging.
func setup(c *cli.Context) (*config.Config, error) {
	conf, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	if level := c.GlobalString("log-level"); level != "" {
		conf.Logging.Level = level
	}
	if err = eventlog.Setup(conf.Logging.Level, conf.Logging.Format); err != nil {
		return nil, err
	}
	return conf, nil
}

func loadTask(c *cli.Context) (*descriptor.Task, error) {
	path := c.String("descriptor")
	if path == "" {
		return nil, fmt.Errorf("missing --descriptor")
	}
	return descriptor.Load(path)
}

func runTask(c *cli.Context) error {
	conf, err := setup(c)
	if err != nil {
		return err
	}
	task, err := loadTask(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := engine.New(conf, os.Stdout, logrus.StandardLogger())
	recorders, closeRecorders := openRecorders(conf)
	defer closeRecorders()
	e.Recorders = recorders

	rec, err := e.Run(ctx, task)
	if err != nil {
		logrus.WithFields(rec.Fields()).WithField("kind", rec.ErrorKind).Error(err)
	}
	if code := engine.ExitCode(rec, err); code != 0 {
		return cli.NewExitError("", code)
	}
	return nil
}

// openRecorders sets up the configured run recorders. A recorder that
// cannot be set up is skipped.
func openRecorders(conf *config.Config) ([]engine.Recorder, func()) {
	var recorders []engine.Recorder
	closeAll := func() {}

	if conf.Database.Enabled {
		dao, err := database.DaoFactory("psql", conf.Database)
		if err != nil {
			logrus.Warnf("run history disabled: %v", err)
		} else if err = dao.EnsureSchema(); err != nil {
			logrus.Warnf("run history disabled: %v", err)
			dao.KillDao()
		} else {
			recorders = append(recorders, &engine.HistoryRecorder{Dao: dao})
			closeAll = dao.KillDao
		}
	}
	if conf.Storage.S3.Enabled {
		archive, err := storage.NewS3Archive(conf.Storage.S3)
		if err != nil {
			logrus.Warnf("run archive disabled: %v", err)
		} else {
			recorders = append(recorders, &engine.ArchiveRecorder{Archive: archive})
		}
	}
	return recorders, closeAll
}

func renderTask(c *cli.Context) error {
	conf, err := setup(c)
	if err != nil {
		return err
	}
	task, err := loadTask(c)
	if err != nil {
		return err
	}
	cmd, err := engine.New(conf, os.Stdout, logrus.StandardLogger()).Render(task)
	if err != nil {
		return err
	}
	p := report.New(os.Stdout)
	p.Command(cmd.String())
	if cmd.Redirect.Stdout != "" {
		p.KeyValue("STDOUT", cmd.Redirect.Stdout)
	}
	if cmd.Redirect.Stderr != "" {
		p.KeyValue("STDERR", cmd.Redirect.Stderr)
	}
	return nil
}

func validateTask(c *cli.Context) error {
	conf, err := setup(c)
	if err != nil {
		return err
	}
	task, err := loadTask(c)
	if err != nil {
		return err
	}
	if err = engine.New(conf, os.Stdout, logrus.StandardLogger()).Validator.Validate(task); err != nil {
		return err
	}
	fmt.Printf("%v: task descriptor is valid\n", task.Metadata.InstanceName)
	return nil
}

func buildComponent(c *cli.Context) error {
	if _, err := setup(c); err != nil {
		return err
	}
	path := c.String("definition")
	if path == "" {
		return fmt.Errorf("missing --definition")
	}
	def, err := template.LoadDefinition(path)
	if err != nil {
		return err
	}
	component, err := def.Build(template.DefaultSyntax)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(component)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}

func listHistory(c *cli.Context) error {
	conf, err := setup(c)
	if err != nil {
		return err
	}
	component, id := c.String("component"), c.Int64("id")
	if component == "" && id == 0 {
		return fmt.Errorf("missing --component or --id")
	}
	dao, err := database.DaoFactory("psql", conf.Database)
	if err != nil {
		return err
	}
	defer dao.KillDao()
	return showHistory(os.Stdout, dao, component, c.String("instance"), id)
}

// showHistory prints the run with the given id, or else the runs of a
// component.
func showHistory(w io.Writer, dao database.Dao, component, instance string, id int64) error {
	var runs []database.TaskRun
	if id != 0 {
		run, err := dao.GetRunById(id)
		if err != nil {
			return err
		}
		runs = append(runs, *run)
	} else {
		var err error
		if runs, err = dao.GetRunsByInstance(component, instance); err != nil {
			return err
		}
	}
	p := report.New(w)
	for _, run := range runs {
		p.Header(run.RunID)
		p.KeyValue("ID", run.ID)
		p.KeyValue("Component name", run.Component)
		p.KeyValue("Instance name", run.Instance)
		p.KeyValue("Execution mode", run.Mode)
		p.KeyValue("Started", run.StartedAt.Format(report.TimeLayout))
		if run.EndedAt.Valid {
			p.KeyValue("Ended", run.EndedAt.Time.Format(report.TimeLayout))
		}
		p.KeyValue("Status", run.Status)
		p.KeyValue("Exit status", run.ExitStatus)
		if run.JobID != "" {
			p.KeyValue("Job ID", run.JobID)
		}
		if id != 0 && run.Command != "" {
			p.KeyValue("Command", run.Command)
		}
		if run.Error != "" {
			p.KeyValue("Error", run.Error)
		}
	}
	return nil
}

func forgetRun(c *cli.Context) error {
	conf, err := setup(c)
	if err != nil {
		return err
	}
	id := c.Int64("id")
	if id == 0 {
		return fmt.Errorf("missing --id")
	}
	dao, err := database.DaoFactory("psql", conf.Database)
	if err != nil {
		return err
	}
	defer dao.KillDao()
	return deleteRun(os.Stdout, dao, id)
}

// deleteRun removes a recorded run after checking that it exists.
func deleteRun(w io.Writer, dao database.Dao, id int64) error {
	run, err := dao.GetRunById(id)
	if err != nil {
		return err
	}
	if err = dao.DeleteRun(id); err != nil {
		return err
	}
	fmt.Fprintf(w, "deleted run %v of %v\n", run.RunID, run.Instance)
	return nil
}
