package report

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/zavolanlab/krini/descriptor"
	"github.com/zavolanlab/krini/dispatch"
)

// TimeLayout formats the timestamps of the report.
const TimeLayout = "2006-Jan-02, 15:04:05"

// Printer writes the human readable run report.
type Printer struct {
	w io.Writer
}

func New(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) Header(header string) {
	fmt.Fprintf(p.w, "== %v ==\n", header)
}

func (p *Printer) KeyValue(key string, value interface{}) {
	fmt.Fprintf(p.w, "%-31s: %v\n", key, value)
}

func (p *Printer) TitleValue(title string, value interface{}) {
	p.Header(title)
	fmt.Fprintln(p.w, value)
}

// Task prints the identity of the task and its ports and parameters.
func (p *Printer) Task(task *descriptor.Task) {
	p.Header("Component/instance information")
	p.KeyValue("Component name", task.Metadata.ComponentName)
	p.KeyValue("Instance name", task.Metadata.InstanceName)
	p.KeyValue("Component path", task.Metadata.ComponentPath)
	p.KeyValue("Execution directory", task.ExecDir())
	p.KeyValue("Temporary directory", task.TempDir)

	p.Header("Input ports")
	for _, name := range task.InputNames() {
		value := "None"
		if v := task.Inputs[name]; v != nil {
			value = *v
		}
		p.KeyValue(name, value)
	}
	p.Header("Output ports")
	for _, name := range task.OutputNames() {
		p.KeyValue(name, task.Outputs[name])
	}
	p.Header("Parameters")
	for _, name := range task.ParameterNames() {
		p.KeyValue(name, task.Parameters[name])
	}
}

func (p *Printer) Command(command string) {
	p.TitleValue("Command", command)
}

func (p *Printer) ExitStatus(status int) {
	p.TitleValue("Exit status", status)
}

// Progress returns an observer that prints job progress as it happens.
func (p *Printer) Progress() *Progress {
	return &Progress{p: p}
}

// Progress prints the progress section of the report. It implements
// dispatch.Observer.
type Progress struct {
	p       *Printer
	started bool
}

func (pr *Progress) Submitted(jobID string, at time.Time) {
	pr.p.TitleValue("Job ID", jobID)
	pr.header()
	pr.p.KeyValue("Submitted", at.Format(TimeLayout))
}

func (pr *Progress) Started(at time.Time) {
	pr.header()
	pr.p.KeyValue("Started", at.Format(TimeLayout))
}

func (pr *Progress) Finished(at time.Time) {
	pr.header()
	pr.p.KeyValue("Finished", at.Format(TimeLayout))
}

func (pr *Progress) header() {
	if !pr.started {
		pr.p.Header("Progress")
		pr.started = true
	}
}

// TimeStats prints queue, run and total time. A local run has no queue
// and reports its start as its submission.
func (p *Printer) TimeStats(res *dispatch.Result) {
	submitted := res.Submitted
	if submitted.IsZero() {
		submitted = res.Started
	}
	p.Header("Time statistics")
	p.KeyValue("Queue time", seconds(res.Started.Sub(submitted).Seconds()))
	p.KeyValue("Runtime", seconds(res.Ended.Sub(res.Started).Seconds()))
	p.KeyValue("Total time", seconds(res.Ended.Sub(submitted).Seconds()))
}

func (p *Printer) ResourceStats(u *dispatch.ResourceUsage) {
	p.Header("Resource statistics")
	p.KeyValue("Real time", seconds(u.WallClock))
	p.KeyValue("User time", seconds(u.UserTime))
	p.KeyValue("System time", seconds(u.SystemTime))
	p.KeyValue("CPU time", seconds(u.CPU))
	p.KeyValue("Integral memory", fmt.Sprintf("%.3f Gbs", u.Memory))
	p.KeyValue("Maximum virtual memory", fmt.Sprintf("%.0f bytes", u.MaxVMem))
	p.KeyValue("Maximum resident set size", fmt.Sprintf("%.3f kb", u.MaxRSS))
	p.KeyValue("Accumulated I/O usage", fmt.Sprintf("%.3f Gb", u.IO))
	p.KeyValue("I/O wait time", seconds(u.IOWait))
	p.KeyValue("Block input operations", fmt.Sprintf("%.0f", u.InBlock))
	p.KeyValue("Block output operations", fmt.Sprintf("%.0f", u.OutBlock))
	p.KeyValue("Soft page faults", fmt.Sprintf("%.0f", u.MinorFaults))
	p.KeyValue("Hard page faults", fmt.Sprintf("%.0f", u.MajorFaults))
	p.KeyValue("Voluntary context switches", fmt.Sprintf("%.0f", u.VoluntarySwitches))
	p.KeyValue("Involuntary context switches", fmt.Sprintf("%.0f", u.InvoluntarySwitches))
}

// Stream is one captured output stream of the command.
type Stream struct {
	Label      string // STDOUT or STDERR
	Path       string
	Redirected bool
}

// Stream prints a captured stream. A stream redirected to an output port
// is only pointed at; otherwise the file is echoed in full.
func (p *Printer) Stream(s Stream) error {
	p.Header("Command " + s.Label)
	if s.Redirected {
		fmt.Fprintf(p.w, "< [%v] was redirected to output file '%v'. >\n", s.Label, s.Path)
		return nil
	}
	f, err := os.Open(s.Path)
	if os.IsNotExist(err) {
		fmt.Fprintf(p.w, "< [%v] file \"%v\" was not produced. >\n", s.Label, s.Path)
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		fmt.Fprintf(p.w, "< [%v] as saved in file \"%v\" is empty. >\n", s.Label, s.Path)
		return nil
	}
	fmt.Fprintf(p.w, "< [%v] as saved in file \"%v\": >\n", s.Label, s.Path)
	_, err = io.Copy(p.w, f)
	return err
}

func seconds(s float64) string {
	return fmt.Sprintf("%.3f s", s)
}
