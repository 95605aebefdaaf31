package actor

import "fmt"

// Logger is the actor package's logging sink, matching process.Logger's
// shape so a single adapter can satisfy both. Defaults to discarding
// output, same as process.
type Logger interface {
	Println(string)
}

var logger Logger

// WithLogger installs l as the actor package's logging sink.
func WithLogger(l Logger) {
	logger = l
}

func logf(format string, args ...interface{}) {
	if logger == nil {
		return
	}
	logger.Println(fmt.Sprintf(format, args...))
}
