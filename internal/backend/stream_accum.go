package backend

import "sort"

// toolCallAccumulator treats the stream as a reducer over delta frames: tool-call
// deltas keyed by call index concatenate into a per-index struct; on stream end,
// finalized tool calls are emitted as a list ordered by index.
type toolCallAccumulator struct {
	byIndex map[int]*accumulatingCall
}

type accumulatingCall struct {
	id        string
	name      string
	arguments string
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: make(map[int]*accumulatingCall)}
}

func (a *toolCallAccumulator) add(index int, id, name, argsDelta string) {
	c, ok := a.byIndex[index]
	if !ok {
		c = &accumulatingCall{}
		a.byIndex[index] = c
	}
	if id != "" {
		c.id = id
	}
	if name != "" {
		c.name = name
	}
	c.arguments += argsDelta
}

func (a *toolCallAccumulator) finalize() []ToolCall {
	if len(a.byIndex) == 0 {
		return nil
	}
	indices := make([]int, 0, len(a.byIndex))
	for idx := range a.byIndex {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	out := make([]ToolCall, 0, len(indices))
	for _, idx := range indices {
		c := a.byIndex[idx]
		args := c.arguments
		if args == "" {
			args = "{}"
		}
		out = append(out, ToolCall{CallID: c.id, ToolName: c.name, Arguments: args})
	}
	return out
}
