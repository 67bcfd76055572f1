package progress

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu   sync.Mutex
	sent map[string][]any
	open map[string]bool
}

func newRecordingSender(open ...string) *recordingSender {
	s := &recordingSender{sent: map[string][]any{}, open: map[string]bool{}}
	for _, id := range open {
		s.open[id] = true
	}
	return s
}

func (s *recordingSender) SendTo(id string, msg any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open[id] {
		return false
	}
	s.sent[id] = append(s.sent[id], msg)
	return true
}

func TestConnectionSinkForwardsToBoundClient(t *testing.T) {
	t.Parallel()

	sender := newRecordingSender("abc", "other")
	sink := NewConnectionSink(sender, "abc")
	NewChannel(sink, TypeProgress, "job").Report(Update{Message: "one"})
	NewChannel(sink, TypePDFProgress, "job").Report(Update{Message: "two"})

	require.Len(t, sender.sent["abc"], 2)
	require.Empty(t, sender.sent["other"])
	first, ok := sender.sent["abc"][0].(Event)
	require.True(t, ok)
	require.Equal(t, TypeProgress, first.Type)
	second, ok := sender.sent["abc"][1].(Event)
	require.True(t, ok)
	require.Equal(t, TypePDFProgress, second.Type)
}

func TestConnectionSinkWithoutClientIsNop(t *testing.T) {
	t.Parallel()

	sender := newRecordingSender("abc")
	require.IsType(t, NopSink{}, NewConnectionSink(sender, ""))
	require.IsType(t, NopSink{}, NewConnectionSink(nil, "abc"))
}

func TestTeeEmitsInOrder(t *testing.T) {
	t.Parallel()

	var order []string
	a := sinkFunc(func(Event) { order = append(order, "a") })
	b := sinkFunc(func(Event) { order = append(order, "b") })
	Tee{a, nil, b}.Emit(sampleEvent(TypeProgress))
	require.Equal(t, []string{"a", "b"}, order)
}

func TestEventJSONShape(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(Event{
		Type:  TypeComplete,
		Data:  Summary{PDFPath: "x.pdf", TotalPages: 3, FileSize: 42},
		JobID: "hidden",
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"complete","data":{"pdfPath":"x.pdf","totalPages":3,"fileSize":42}}`, string(raw))
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, sampleEvent(TypeProgress).Validate())
	require.NoError(t, sampleEvent(TypeError).Validate())
	require.Error(t, Event{}.Validate())
	require.Error(t, Event{Type: TypeComplete, Data: Update{}}.Validate())
	require.True(t, sampleEvent(TypeError).Terminal())
	require.False(t, sampleEvent(TypePDFProgress).Terminal())
}

func TestPercent(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, Percent(1, 0))
	require.Equal(t, 50, Percent(1, 2))
	require.Equal(t, 100, Percent(5, 2))
}

func TestNilChannelAndDiscard(t *testing.T) {
	t.Parallel()

	var c *Channel
	c.Report(Update{})
	Discard.Report(Update{})
	NewChannel(nil, TypeProgress, "").Report(Update{})
}
