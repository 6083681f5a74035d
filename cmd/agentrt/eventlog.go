package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/haasonsaas/agentrt/internal/agent"
	"github.com/haasonsaas/agentrt/pkg/models"
)

const eventLogBuffer = 1024

// eventLog appends every agent event to a file as one JSON object per line.
// Fragment events may be dropped when the writer falls behind.
type eventLog struct {
	ch   chan models.AgentEvent
	done chan struct{}
	file *os.File
	err  error
}

func openEventLog(path string) (*eventLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	l := &eventLog{
		ch:   make(chan models.AgentEvent, eventLogBuffer),
		done: make(chan struct{}),
		file: f,
	}
	go l.write()
	return l, nil
}

func (l *eventLog) write() {
	defer close(l.done)
	w := bufio.NewWriter(l.file)
	enc := json.NewEncoder(w)
	for e := range l.ch {
		if l.err != nil {
			continue
		}
		if err := enc.Encode(e); err != nil {
			l.err = err
			continue
		}
		if len(l.ch) == 0 {
			l.err = w.Flush()
		}
	}
	if l.err == nil {
		l.err = w.Flush()
	}
}

// Sink returns the sink feeding the log.
func (l *eventLog) Sink() agent.EventSink {
	return agent.NewChanSink(l.ch)
}

// Close drains pending events and closes the file. Every loop using Sink
// must have finished.
func (l *eventLog) Close(ctx context.Context) error {
	close(l.ch)
	select {
	case <-l.done:
	case <-ctx.Done():
		return errors.Join(ctx.Err(), l.file.Close())
	}
	return errors.Join(l.err, l.file.Close())
}
