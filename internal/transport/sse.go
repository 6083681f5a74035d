package transport

import "strings"

// Event is one parsed server-sent event.
type Event struct {
	// Name is the value of the "event:" field, empty for default events.
	Name string
	// Data is every "data:" line joined with newlines.
	Data string
	ID   string
}

// ParseFrame parses a single SSE frame. Comment lines (":") and unknown
// fields are ignored. ok is false when the frame carries no data.
//
// SSE Format:
//
//	event: content_block_delta
//	data: {"type":"content_block_delta","delta":{...}}
func ParseFrame(frame string) (Event, bool) {
	var ev Event
	var data []string
	for _, line := range strings.Split(frame, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Name = strings.TrimSpace(value)
		case "data":
			data = append(data, value)
		case "id":
			ev.ID = strings.TrimSpace(value)
		}
	}
	if len(data) == 0 {
		return ev, false
	}
	ev.Data = strings.Join(data, "\n")
	return ev, true
}
