package parse

import (
	"bufio"
	"encoding/json"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
)

const maxLineSize = 10 * 1024 * 1024 // 10MB

// wrapper prefixes that mark internally-generated user content
var userWrapperPrefixes = []string{
	"<local-command-stdout>",
	"<local-command-stderr>",
	"<command-output>",
	"Caveat:",
}

var slashCommandRe = regexp.MustCompile(`<command-name>([^<]+)</command-name>`)

// plan-mode marker tool names
const (
	planEnterTool = "EnterPlanMode"
	planExitTool  = "ExitPlanMode"
)

type logLine struct {
	Type             string          `json:"type"`
	IsMeta           bool            `json:"isMeta"`
	IsCompactSummary bool            `json:"isCompactSummary"`
	Timestamp        string          `json:"timestamp"`
	Content          string          `json:"content"`
	Message          json.RawMessage `json:"message"`
	ToolUseResult    json.RawMessage `json:"toolUseResult"`
}

type logMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	IsError   bool            `json:"is_error"`
	Content   json.RawMessage `json:"content"`
}

// toolUseResult is the structured payload attached to tool-result lines.
type toolUseResultPayload struct {
	FilePath string `json:"filePath"`
	NumLines int    `json:"numLines"`
	File     struct {
		FilePath string `json:"filePath"`
		NumLines int    `json:"numLines"`
	} `json:"file"`
}

// turnMatcher decides whether a loose event (tool result, progress) belongs
// to a turn. The only implementation buckets both timestamps to the minute;
// it is an approximation kept behind this interface so an exact correlation
// id can replace it if the log format grows one.
type turnMatcher interface {
	sameTurn(turn, event time.Time) bool
}

type minuteMatcher struct{}

func (minuteMatcher) sameTurn(turn, event time.Time) bool {
	return turn.Truncate(time.Minute).Equal(event.Truncate(time.Minute))
}

// intermediate events from the line scan
type userTurn struct {
	ts               time.Time
	text             string
	isCompactSummary bool
}

type assistantEvent struct {
	ts       time.Time
	thinking string
	text     string
	details  []ToolDetail
}

type resultEvent struct {
	ts      time.Time
	results []ToolResult
}

type progressEvent struct {
	ts   time.Time
	text string
}

type planMarker struct {
	ts    time.Time
	enter bool
}

type scanEvents struct {
	users     []userTurn
	assistant []assistantEvent
	results   []resultEvent
	progress  []progressEvent
	plan      []planMarker
}

// ParseTranscript reads the transcript at path and returns the interactions
// found strictly after line afterLine, plus the total line count observed.
// Lines at or below the offset are counted but never re-interpreted.
// A malformed line is skipped; an unreadable file is an error.
func ParseTranscript(path string, afterLine int) (*Result, error) {
	return parseTranscript(path, afterLine, minuteMatcher{})
}

func parseTranscript(path string, afterLine int, matcher turnMatcher) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var ev scanEvents
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if lineNum <= afterLine {
			continue
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		collectLine(line, &ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return &Result{
		Interactions: pairTurns(&ev, matcher),
		TotalLines:   lineNum,
	}, nil
}

// collectLine classifies one raw line into scan events. Malformed lines are
// dropped without failing the parse.
func collectLine(line []byte, ev *scanEvents) {
	var rec logLine
	if err := json.Unmarshal(line, &rec); err != nil {
		return
	}

	ts := parseTimestamp(rec.Timestamp)

	switch rec.Type {
	case "user":
		collectUser(&rec, ts, ev)
	case "assistant":
		collectAssistant(&rec, ts, ev)
	case "progress":
		if rec.Content != "" {
			ev.progress = append(ev.progress, progressEvent{ts: ts, text: rec.Content})
		}
	}
}

func collectUser(rec *logLine, ts time.Time, ev *scanEvents) {
	var msg logMessage
	if err := json.Unmarshal(rec.Message, &msg); err != nil {
		return
	}

	// plain-string content is a real user turn; block content on a user
	// line carries tool results back to the model
	var text string
	if err := json.Unmarshal(msg.Content, &text); err == nil {
		if rec.IsMeta || isWrapped(text) || strings.TrimSpace(text) == "" {
			return
		}
		ev.users = append(ev.users, userTurn{
			ts:               ts,
			text:             strings.TrimSpace(text),
			isCompactSummary: rec.IsCompactSummary,
		})
		return
	}

	var blocks []contentBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return
	}
	var results []ToolResult
	for _, b := range blocks {
		if b.Type != "tool_result" {
			continue
		}
		results = append(results, buildToolResult(b, rec.ToolUseResult))
	}
	if len(results) > 0 {
		ev.results = append(ev.results, resultEvent{ts: ts, results: results})
	}
}

func collectAssistant(rec *logLine, ts time.Time, ev *scanEvents) {
	if rec.IsMeta {
		return
	}
	var msg logMessage
	if err := json.Unmarshal(rec.Message, &msg); err != nil {
		return
	}
	var blocks []contentBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return
	}

	var thinkParts, textParts []string
	var details []ToolDetail
	for _, b := range blocks {
		switch b.Type {
		case "thinking":
			if b.Thinking != "" {
				thinkParts = append(thinkParts, b.Thinking)
			}
		case "text":
			if b.Text != "" {
				textParts = append(textParts, b.Text)
			}
		case "tool_use":
			if b.Name == "" {
				continue
			}
			switch b.Name {
			case planEnterTool:
				ev.plan = append(ev.plan, planMarker{ts: ts, enter: true})
			case planExitTool:
				ev.plan = append(ev.plan, planMarker{ts: ts, enter: false})
			}
			details = append(details, ToolDetail{
				Tool:     b.Name,
				Argument: extractArgument(b.Input),
			})
		}
	}

	// nothing usable on this line
	if len(thinkParts) == 0 && len(textParts) == 0 && len(details) == 0 {
		return
	}

	ev.assistant = append(ev.assistant, assistantEvent{
		ts:       ts,
		thinking: strings.TrimSpace(strings.Join(thinkParts, "\n")),
		text:     strings.TrimSpace(strings.Join(textParts, "\n")),
		details:  details,
	})
}

// argumentKeys lists tool input fields considered the primary argument,
// in preference order.
var argumentKeys = []string{"file_path", "path", "pattern", "command", "url", "query", "prompt", "description"}

func extractArgument(input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(input, &fields); err != nil {
		return ""
	}
	for _, key := range argumentKeys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

func buildToolResult(b contentBlock, payload json.RawMessage) ToolResult {
	text := toolResultText(b.Content)
	res := ToolResult{
		ToolUseID:     b.ToolUseID,
		Success:       !b.IsError,
		ContentLength: len(text),
	}
	if text != "" {
		res.LineCount = strings.Count(text, "\n") + 1
	}
	if len(payload) > 0 {
		var p toolUseResultPayload
		if err := json.Unmarshal(payload, &p); err == nil {
			if p.FilePath != "" {
				res.FilePath = p.FilePath
			} else if p.File.FilePath != "" {
				res.FilePath = p.File.FilePath
			}
			if p.NumLines > 0 {
				res.LineCount = p.NumLines
			} else if p.File.NumLines > 0 {
				res.LineCount = p.File.NumLines
			}
		}
	}
	return res
}

// toolResultText extracts the text of a tool_result content field, which is
// a plain string or an array of text blocks.
func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

func isWrapped(text string) bool {
	for _, p := range userWrapperPrefixes {
		if strings.HasPrefix(text, p) {
			return true
		}
	}
	return false
}

// sentinel upper bound for the last user turn's window
var farFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

// pairTurns assembles interactions from the scanned events. For user turn i
// the window is [ts(i), ts(i+1)), exclusive on the upper end; the last turn's
// window extends to a far-future sentinel. Assistant entries preceding the
// first user turn become a single continuation interaction.
func pairTurns(ev *scanEvents, matcher turnMatcher) []Interaction {
	var interactions []Interaction

	var firstUserTS = farFuture
	if len(ev.users) > 0 {
		firstUserTS = ev.users[0].ts
	}

	// orphaned assistant entries: a response resumed after compaction
	var orphans []assistantEvent
	for _, a := range ev.assistant {
		if a.ts.Before(firstUserTS) {
			orphans = append(orphans, a)
		}
	}
	if cont := buildInteraction(userTurn{}, orphans, true); cont != nil {
		interactions = append(interactions, *cont)
	}

	for i, u := range ev.users {
		upper := farFuture
		if i+1 < len(ev.users) {
			upper = ev.users[i+1].ts
		}
		var span []assistantEvent
		for _, a := range ev.assistant {
			// lower bound inclusive, upper bound exclusive
			if !a.ts.Before(u.ts) && a.ts.Before(upper) {
				span = append(span, a)
			}
		}
		if it := buildInteraction(u, span, false); it != nil {
			it.InPlanMode = planModeAt(ev.plan, u.ts)
			interactions = append(interactions, *it)
		}
	}

	attachLooseEvents(interactions, ev, matcher)

	sort.SliceStable(interactions, func(i, j int) bool {
		return interactions[i].Timestamp.Before(interactions[j].Timestamp)
	})
	return interactions
}

func buildInteraction(u userTurn, span []assistantEvent, continuation bool) *Interaction {
	it := &Interaction{
		Timestamp:        u.ts,
		UserText:         u.text,
		IsCompactSummary: u.isCompactSummary,
		IsContinuation:   continuation,
	}
	// a user turn with no assistant activity yet is not a finished turn;
	// the reply will pair up as a continuation on a later parse
	if len(span) == 0 {
		return nil
	}
	if continuation {
		it.Timestamp = span[0].ts
	}

	var thinkParts, textParts []string
	seen := map[string]bool{}
	for _, a := range span {
		if a.thinking != "" {
			thinkParts = append(thinkParts, a.thinking)
		}
		if a.text != "" {
			textParts = append(textParts, a.text)
		}
		for _, d := range a.details {
			it.ToolDetails = append(it.ToolDetails, d)
			if !seen[d.Tool] {
				seen[d.Tool] = true
				it.ToolsUsed = append(it.ToolsUsed, d.Tool)
			}
		}
	}
	it.ThinkingText = strings.Join(thinkParts, "\n")
	it.AssistantText = strings.Join(textParts, "\n")

	if u.text != "" {
		it.SlashCommand = extractSlashCommand(u.text)
	}

	// a turn must carry user or assistant content
	if it.UserText == "" && it.AssistantText == "" && it.ThinkingText == "" {
		return nil
	}
	return it
}

// attachLooseEvents joins tool results and progress events to turns by the
// minute-bucket heuristic. First matching turn wins.
func attachLooseEvents(interactions []Interaction, ev *scanEvents, matcher turnMatcher) {
	for _, re := range ev.results {
		for i := range interactions {
			if matcher.sameTurn(interactions[i].Timestamp, re.ts) {
				interactions[i].ToolResults = append(interactions[i].ToolResults, re.results...)
				break
			}
		}
	}
	for _, pe := range ev.progress {
		for i := range interactions {
			if matcher.sameTurn(interactions[i].Timestamp, pe.ts) {
				interactions[i].ProgressEvents = append(interactions[i].ProgressEvents, pe.text)
				break
			}
		}
	}
}

// planModeAt reports whether the closest marker preceding ts is an enter.
// Markers are scanned in log order; nested enter/enter sequences are not
// modeled.
func planModeAt(markers []planMarker, ts time.Time) bool {
	on := false
	for _, m := range markers {
		if m.ts.After(ts) {
			break
		}
		on = m.enter
	}
	return on
}

func extractSlashCommand(text string) string {
	m := slashCommandRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}
