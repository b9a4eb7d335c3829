package logging

import (
	"os"
)

// LogFile describes a file that can be written to by a logger. Writes are queued and performed by a background goroutine.
type LogFile struct {
	channel chan string
	file    *os.File
	done    chan struct{}
}

// NewLogFile creates a new LogFile instance, truncating any existing file at the given path.
func NewLogFile(path string) (*LogFile, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}

	lf := LogFile{
		channel: make(chan string, 100),
		file:    file,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(lf.done)
		defer file.Close()
		for s := range lf.channel {
			lf.file.WriteString(s)
		}
	}()

	return &lf, nil
}

// Print writes a string to the log file.
func (lf *LogFile) Print(s string) {
	lf.channel <- s
}

// Write implements io.Writer so that the file can be used as a logger output.
func (lf *LogFile) Write(p []byte) (int, error) {
	lf.Print(string(p))
	return len(p), nil
}

// Close flushes the pending writes and closes the file. The LogFile must not be written to afterwards.
func (lf *LogFile) Close() {
	close(lf.channel)
	<-lf.done
}
