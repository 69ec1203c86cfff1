// Copyright 2026 The Velo Rift Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"fmt"
	"io"
	"os"
)

// AsyncLogger decouples callers from a slow sink (typically a lumberjack
// rotating file) with a bounded channel. A full buffer drops the message
// rather than blocking the caller on the hot path, matching the posture of
// the async work ring used by the interposer for low-priority log records.
type AsyncLogger struct {
	sink io.WriteCloser
	ch   chan []byte
	done chan struct{}
}

// NewAsyncLogger starts a background goroutine draining into sink.
func NewAsyncLogger(sink io.WriteCloser, bufferSize int) *AsyncLogger {
	l := &AsyncLogger{
		sink: sink,
		ch:   make(chan []byte, bufferSize),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *AsyncLogger) run() {
	defer close(l.done)
	for data := range l.ch {
		if _, err := l.sink.Write(data); err != nil {
			return
		}
	}
}

// Write implements io.Writer. It copies p because the caller may reuse the
// slice after Write returns.
func (l *AsyncLogger) Write(p []byte) (int, error) {
	data := make([]byte, len(p))
	copy(data, p)

	select {
	case l.ch <- data:
	default:
		fmt.Fprintln(os.Stderr, "asynclogger: log buffer is full, dropping message.")
	}
	return len(p), nil
}

// Close drains pending writes, closes the sink, and waits for the
// background goroutine to exit.
func (l *AsyncLogger) Close() error {
	close(l.ch)
	<-l.done
	return l.sink.Close()
}
