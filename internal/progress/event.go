package progress

import (
	"errors"
	"fmt"
	"time"
)

// Type tags an Event so clients can tell pipeline phases apart.
type Type string

// Event types sent to clients.
const (
	TypeProgress    Type = "progress"
	TypePDFProgress Type = "pdf_progress"
	TypeComplete    Type = "complete"
	TypeError       Type = "error"
)

// Event is a single progress message in transit to a connection. Only Type
// and Data are serialised; JobID and TS exist for observability consumers.
type Event struct {
	Type  Type      `json:"type"`
	Data  any       `json:"data"`
	JobID string    `json:"-"`
	TS    time.Time `json:"-"`
}

// Update is the payload of progress and pdf_progress events.
type Update struct {
	Message    string `json:"message"`
	URL        string `json:"url,omitempty"`
	Depth      int    `json:"depth,omitempty"`
	Current    int    `json:"current"`
	Total      int    `json:"total"`
	Percentage int    `json:"percentage"`
}

// Summary is the payload of a complete event.
type Summary struct {
	PDFPath    string `json:"pdfPath"`
	TotalPages int    `json:"totalPages"`
	FileSize   int64  `json:"fileSize"`
}

// Failure is the payload of an error event.
type Failure struct {
	Message string `json:"message"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	switch e.Type {
	case TypeProgress, TypePDFProgress:
		if _, ok := e.Data.(Update); !ok {
			return fmt.Errorf("%s event requires an Update payload, got %T", e.Type, e.Data)
		}
	case TypeComplete:
		if _, ok := e.Data.(Summary); !ok {
			return fmt.Errorf("complete event requires a Summary payload, got %T", e.Data)
		}
	case TypeError:
		if _, ok := e.Data.(Failure); !ok {
			return fmt.Errorf("error event requires a Failure payload, got %T", e.Data)
		}
	case "":
		return errors.New("event type is required")
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// Terminal reports whether the event ends a job's stream.
func (e Event) Terminal() bool {
	return e.Type == TypeComplete || e.Type == TypeError
}

// Percent computes a bounded integer percentage of current over total.
func Percent(current, total int) int {
	if total <= 0 {
		return 0
	}
	p := current * 100 / total
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
