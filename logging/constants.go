package log

const (
	infoLogLevel    = "INFO"
	warningLogLevel = "WARNING"
	errorLogLevel   = "ERROR"

	NotStarted = "not-started"
	Running    = "running"
	Failed     = "failed"
	Completed  = "completed"

	timeFormat = "2006/01/02 15:04:05"
)
