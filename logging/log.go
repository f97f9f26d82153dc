package log

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Log stores the lifecycle and event log of a task run.
type Log struct {
	Created        string    `json:"created,omitempty"`
	CreatedObj     time.Time `json:"-"`
	LastUpdated    string    `json:"lastUpdated,omitempty"`
	LastUpdatedObj time.Time `json:"-"`
	Status         string    `json:"status"`
	Duration       float64   `json:"duration"` // seconds
	Event          *EventLog `json:"eventLog,omitempty"`
}

// New returns a log whose events are mirrored to mirror, which may be nil.
func New(mirror logrus.FieldLogger) *Log {
	log := &Log{
		Status: NotStarted,
		Event:  NewEventLog(mirror),
	}
	log.Event.info("init log")
	return log
}

// called when a run starts
func (log *Log) Start() {
	t := time.Now()
	log.CreatedObj = t
	log.Created = timef(t)
	log.touch(t)
	log.Status = Running
}

// called when a run finishes, whatever the exit status of the command
func (log *Log) Finish() {
	log.end(Completed)
}

// called when a run is abandoned because of err
func (log *Log) Fail(err error) {
	log.Event.error(err.Error())
	log.end(Failed)
}

func (log *Log) end(status string) {
	t := time.Now()
	log.touch(t)
	if !log.CreatedObj.IsZero() {
		log.Duration = t.Sub(log.CreatedObj).Seconds()
	}
	log.Status = status
}

func (log *Log) touch(t time.Time) {
	log.LastUpdatedObj = t
	log.LastUpdated = timef(t)
}

// EventLog is an event logger for a task run. Every record is also sent
// to the mirror logger.
type EventLog struct {
	sync.RWMutex `json:"-"`
	Events       []string `json:"events,omitempty"`

	mirror logrus.FieldLogger
}

func NewEventLog(mirror logrus.FieldLogger) *EventLog {
	return &EventLog{mirror: mirror}
}

// a record is "<timestamp> - <level> - <message>"
func (log *EventLog) Write(level, message string) {
	log.Lock()
	defer log.Unlock()
	timestamp := timef(time.Now())

	record := fmt.Sprintf("%v - %v - %v", timestamp, level, message)
	log.Events = append(log.Events, record)

	if log.mirror == nil {
		return
	}
	switch level {
	case errorLogLevel:
		log.mirror.Error(message)
	case warningLogLevel:
		log.mirror.Warn(message)
	default:
		log.mirror.Info(message)
	}
}

// Records returns a copy of the events written so far.
func (log *EventLog) Records() []string {
	log.RLock()
	defer log.RUnlock()
	return append([]string(nil), log.Events...)
}

func (log *EventLog) Infof(f string, v ...interface{}) {
	m := fmt.Sprintf(f, v...)
	log.info(m)
}

func (log *EventLog) info(m string) {
	log.Write(infoLogLevel, m)
}

func (log *EventLog) Warnf(f string, v ...interface{}) {
	m := fmt.Sprintf(f, v...)
	log.warn(m)
}

func (log *EventLog) warn(m string) {
	log.Write(warningLogLevel, m)
}

func (log *EventLog) Errorf(f string, v ...interface{}) error {
	m := fmt.Sprintf(f, v...)
	return log.error(m)
}

func (log *EventLog) error(m string) error {
	log.Write(errorLogLevel, m)
	return fmt.Errorf("%s", m)
}

func timef(t time.Time) string {
	return t.Format(timeFormat)
}
