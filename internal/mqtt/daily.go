package mqtt

import (
	"cmp"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/nugget/quill/internal/agent"
	"github.com/nugget/quill/internal/conversation"
)

// Tally is one local day of research activity.
type Tally struct {
	Requests     int64
	Unfinished   int64 // requests that ended for any reason but a final answer
	ToolCalls    int64
	InputTokens  int64
	OutputTokens int64
	// ByTool counts tool calls per tool name.
	ByTool map[string]int64
}

// Tokens returns input plus output tokens.
func (t Tally) Tokens() int64 { return t.InputTokens + t.OutputTokens }

// TopTool returns the most called tool, ties broken by name. It is
// empty before the first tool call.
func (t Tally) TopTool() string {
	names := slices.Collect(maps.Keys(t.ByTool))
	slices.SortFunc(names, func(a, b string) int {
		if c := cmp.Compare(t.ByTool[b], t.ByTool[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// DailyResearch accumulates today's research results for the sensors
// and starts over at local midnight. It implements api.ResearchObserver.
type DailyResearch struct {
	loc *time.Location
	now func() time.Time

	mu    sync.Mutex
	day   string
	tally Tally
}

// NewDailyResearch creates an accumulator whose day boundary follows
// loc. A nil loc means [time.Local].
func NewDailyResearch(loc *time.Location) *DailyResearch {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyResearch{loc: loc, now: time.Now}
	d.day = d.today()
	return d
}

func (d *DailyResearch) today() string {
	return d.now().In(d.loc).Format(time.DateOnly)
}

// OnResearch records one finished research request.
func (d *DailyResearch) OnResearch(res *agent.Result) {
	if res == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollover()

	d.tally.Requests++
	if res.FinishReason != agent.FinishStop {
		d.tally.Unfinished++
	}
	d.tally.InputTokens += int64(res.Usage.InputTokens)
	d.tally.OutputTokens += int64(res.Usage.OutputTokens)
	for _, t := range res.Appended {
		if t.Role != conversation.RoleAssistant {
			continue
		}
		for _, call := range t.ToolCalls {
			d.tally.ToolCalls++
			if d.tally.ByTool == nil {
				d.tally.ByTool = make(map[string]int64)
			}
			d.tally.ByTool[call.Name]++
		}
	}
}

// Today returns a copy of today's tally.
func (d *DailyResearch) Today() Tally {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollover()

	out := d.tally
	out.ByTool = maps.Clone(d.tally.ByTool)
	return out
}

// rollover clears the tally when the local date has moved on. Caller
// holds mu.
func (d *DailyResearch) rollover() {
	if day := d.today(); day != d.day {
		d.day = day
		d.tally = Tally{}
	}
}
