// Package bridge turns an OpenAI chat completions SSE stream into the
// Anthropic Messages event stream.
package bridge

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/mihaisavezi/cc-adapter/internal/convert"
)

type State int

const (
	// StateStart: nothing emitted yet.
	StateStart State = iota
	// StateIdle: message_start sent, no content block open.
	StateIdle
	StateTextOpen
	StateToolOpen
	// StateFinishing: finish_reason seen, waiting for a trailing usage chunk.
	StateFinishing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateIdle:
		return "idle"
	case StateTextOpen:
		return "text_open"
	case StateToolOpen:
		return "tool_open"
	case StateFinishing:
		return "finishing"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type toolBlock struct {
	index   int
	id      string
	name    string
	pending strings.Builder
	started bool
	closed  bool
}

// Bridge is the per-request stream state machine. It is not safe for
// concurrent use.
type Bridge struct {
	state  State
	id     string
	model  string
	stops  []string
	logger *slog.Logger

	nextIndex int
	openIndex int
	tools     map[string]*toolBlock
	toolOrder []*toolBlock
	openTool  *toolBlock
	lastKey   string

	text     strings.Builder
	finish   string
	reported []byte
	usage    convert.Usage
	sawTools bool

	// trailingUsage holds message_delta back after finish_reason until the
	// usage-only chunk that stream_options.include_usage produces.
	trailingUsage bool
}

type Option func(*Bridge)

func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithTrailingUsage makes the bridge wait for a usage chunk after the finish
// reason. [DONE] or EOF still end the message without it.
func WithTrailingUsage() Option {
	return func(b *Bridge) { b.trailingUsage = true }
}

// WithMessageID overrides the generated message id.
func WithMessageID(id string) Option {
	return func(b *Bridge) { b.id = id }
}

// New returns a bridge reporting model in message_start. stopSequences are
// the request's stop sequences, used to report stop_sequence.
func New(model string, stopSequences []string, opts ...Option) *Bridge {
	b := &Bridge{
		id:     convert.NewMessageID(),
		model:  model,
		stops:  stopSequences,
		logger: slog.Default(),
		tools:  make(map[string]*toolBlock),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bridge) State() State { return b.state }

func (b *Bridge) Done() bool { return b.state == StateDone }

// Feed advances the machine with one upstream chunk and returns the events to write.
func (b *Bridge) Feed(chunk *convert.StreamChunk) []Event {
	if b.state == StateDone || chunk == nil {
		return nil
	}

	if chunk.Error != nil {
		return b.Fail("upstream error: " + chunk.Error.Message)
	}

	if chunk.Usage != nil {
		b.usage = convert.UsageFrom(chunk.Usage)
	}

	if b.state == StateFinishing {
		if chunk.Usage != nil {
			return b.finalize(nil)
		}
		return nil
	}

	events := b.start(nil)
	if len(chunk.Choices) == 0 {
		return events
	}

	choice := chunk.Choices[0]
	if choice.Delta.Content != "" {
		events = b.textDelta(events, choice.Delta.Content)
	}
	for _, tc := range choice.Delta.ToolCalls {
		events = b.toolDelta(events, b.toolKey(tc), tc.ID, tc.Function)
	}
	if fc := choice.Delta.FunctionCall; fc != nil {
		events = b.toolDelta(events, "function_call", "", *fc)
	}

	if choice.FinishReason != "" {
		b.finish = choice.FinishReason
		b.reported = choice.StopReason
		events = b.closeOpen(events)
		if chunk.Usage != nil || !b.trailingUsage {
			return b.finalize(events)
		}
		b.state = StateFinishing
	}
	return events
}

// End handles the end of the upstream stream, either [DONE] or EOF. A stream
// that never reported a finish reason ends as "stop".
func (b *Bridge) End() []Event {
	if b.state == StateDone {
		return nil
	}
	if b.finish == "" {
		b.finish = "stop"
	}
	return b.finalize(nil)
}

// Fail terminates the stream with an error event. Open blocks are closed first
// so the client sees a well formed prefix.
func (b *Bridge) Fail(message string) []Event {
	if b.state == StateDone {
		return nil
	}
	var events []Event
	if b.state != StateStart {
		events = b.closeOpen(events)
	}
	b.state = StateDone
	return append(events, errorEvent(message))
}

func (b *Bridge) start(events []Event) []Event {
	if b.state != StateStart {
		return events
	}
	b.state = StateIdle
	return append(events, Event{Type: EventMessageStart, Data: MessageStart{
		Type: EventMessageStart,
		Message: StartMessage{
			ID:      b.id,
			Type:    "message",
			Role:    convert.RoleAssistant,
			Model:   b.model,
			Content: []any{},
		},
	}})
}

func (b *Bridge) textDelta(events []Event, text string) []Event {
	if b.state == StateToolOpen {
		events = b.closeOpen(events)
	}
	if b.state != StateTextOpen {
		b.openIndex = b.nextIndex
		b.nextIndex++
		b.state = StateTextOpen
		events = append(events, Event{Type: EventContentBlockStart, Data: ContentBlockStart{
			Type:         EventContentBlockStart,
			Index:        b.openIndex,
			ContentBlock: TextStart{Type: convert.BlockText},
		}})
	}

	b.text.WriteString(text)
	return append(events, Event{Type: EventContentBlockDelta, Data: ContentBlockDelta{
		Type:  EventContentBlockDelta,
		Index: b.openIndex,
		Delta: TextDelta{Type: "text_delta", Text: text},
	}})
}

// toolKey identifies a streamed tool call by upstream index, then id. Fragments
// carrying neither continue the most recent call.
func (b *Bridge) toolKey(tc convert.ToolCall) string {
	switch {
	case tc.Index != nil:
		return fmt.Sprintf("index:%d", *tc.Index)
	case tc.ID != "":
		return "id:" + tc.ID
	case b.lastKey != "":
		return b.lastKey
	default:
		return "index:0"
	}
}

func (b *Bridge) toolDelta(events []Event, key, id string, fn convert.FunctionCall) []Event {
	b.lastKey = key

	tb, ok := b.tools[key]
	if !ok {
		tb = &toolBlock{}
		b.tools[key] = tb
		b.toolOrder = append(b.toolOrder, tb)
	}
	if tb.id == "" && id != "" {
		tb.id = id
	}
	if tb.name == "" && fn.Name != "" {
		tb.name = fn.Name
	}

	if tb.closed {
		b.logger.Warn("dropping late tool call fragment",
			"tool", tb.name,
			"index", tb.index,
			"bytes", len(fn.Arguments),
		)
		return events
	}

	if !tb.started {
		if tb.name == "" {
			tb.pending.WriteString(fn.Arguments)
			return events
		}
		events = b.startTool(events, tb)
		if tb.pending.Len() > 0 {
			events = b.inputDelta(events, tb, tb.pending.String())
			tb.pending.Reset()
		}
	}

	if fn.Arguments != "" {
		events = b.inputDelta(events, tb, fn.Arguments)
	}
	return events
}

func (b *Bridge) startTool(events []Event, tb *toolBlock) []Event {
	events = b.closeOpen(events)
	if tb.id == "" {
		tb.id = convert.NewToolUseID()
	}

	tb.index = b.nextIndex
	tb.started = true
	b.nextIndex++
	b.openIndex = tb.index
	b.openTool = tb
	b.sawTools = true
	b.state = StateToolOpen

	return append(events, Event{Type: EventContentBlockStart, Data: ContentBlockStart{
		Type:  EventContentBlockStart,
		Index: tb.index,
		ContentBlock: ToolUseStart{
			Type:  convert.BlockToolUse,
			ID:    tb.id,
			Name:  tb.name,
			Input: map[string]any{},
		},
	}})
}

func (b *Bridge) inputDelta(events []Event, tb *toolBlock, partial string) []Event {
	return append(events, Event{Type: EventContentBlockDelta, Data: ContentBlockDelta{
		Type:  EventContentBlockDelta,
		Index: tb.index,
		Delta: InputJSONDelta{Type: "input_json_delta", PartialJSON: partial},
	}})
}

func (b *Bridge) closeOpen(events []Event) []Event {
	switch b.state {
	case StateTextOpen, StateToolOpen:
	default:
		return events
	}

	if b.openTool != nil {
		b.openTool.closed = true
		b.openTool = nil
	}
	b.state = StateIdle
	return append(events, Event{Type: EventContentBlockStop, Data: ContentBlockStop{
		Type:  EventContentBlockStop,
		Index: b.openIndex,
	}})
}

func (b *Bridge) finalize(events []Event) []Event {
	events = b.start(events)
	events = b.closeOpen(events)

	for _, tb := range b.toolOrder {
		if !tb.started && tb.pending.Len() > 0 {
			b.logger.Warn("dropping tool call without a name", "bytes", tb.pending.Len())
		}
	}

	matched := convert.MatchStopSequence(b.stops, b.reported, b.text.String())
	delta := StopDelta{StopReason: convert.StopReasonFor(b.finish, matched, b.sawTools)}
	if matched != "" && delta.StopReason == anthropic.StopReasonStopSequence {
		delta.StopSequence = &matched
	}

	b.state = StateDone
	return append(events,
		Event{Type: EventMessageDelta, Data: MessageDelta{
			Type:  EventMessageDelta,
			Delta: delta,
			Usage: b.usage,
		}},
		Event{Type: EventMessageStop, Data: MessageStop{Type: EventMessageStop}},
	)
}
