package logger

// Logger is the logging contract shared by all processing components.
type Logger interface {
	Debug(component, message string, fields map[string]interface{})
	Info(component, message string, fields map[string]interface{})
	Warning(component, message string, fields map[string]interface{})
	Error(component string, err error, fields map[string]interface{})
}

// Nop discards all log events. It is the default for library callers that
// have not wired a logger.
type Nop struct{}

func NewNop() *Nop {
	return &Nop{}
}

func (*Nop) Debug(component, message string, fields map[string]interface{})   {}
func (*Nop) Info(component, message string, fields map[string]interface{})    {}
func (*Nop) Warning(component, message string, fields map[string]interface{}) {}
func (*Nop) Error(component string, err error, fields map[string]interface{}) {}
