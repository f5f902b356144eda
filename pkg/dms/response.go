package dms

import (
	"encoding/json"
	"log/slog"
)

// Code is the result code carried by every response.
type Code string

const (
	CodeOK       Code = "ok"
	CodeNoPerm   Code = "no perm"
	CodeNotFound Code = "not found"
	CodeError    Code = "error"
)

// Response is implemented by all typed per-verb responses.
type Response interface {
	// ResponseTag returns the correlation tag of the originating command.
	ResponseTag() string
	// ResponseCode returns the server result code.
	ResponseCode() Code
}

// respMeta carries the fields common to all responses.
type respMeta struct {
	Code Code
	Tag  string
}

func (m respMeta) ResponseTag() string { return m.Tag }
func (m respMeta) ResponseCode() Code  { return m.Code }

// ExtInfos is the optional extended metadata of a datapoint.
type ExtInfos struct {
	State          string
	AccType        string
	Name           string
	Template       string
	Unit           string
	Comment        string
	ChangelogGroup string
}

// TrendPoint is one history sample. State and Rec are only populated in the
// "detail" shape.
type TrendPoint struct {
	Stamp Stamp
	Value any
	State string
	Rec   any
}

// HistResult is a decoded histData reply. Detail reports which of the two
// wire shapes the server used.
type HistResult struct {
	Detail bool
	Points []TrendPoint
}

// ChangelogEntry is one changelog record. The alarm fields are only
// populated when the datapoint carries alarm data.
type ChangelogEntry struct {
	Path  string
	Stamp Stamp
	Text  string

	State             string
	Priority          int
	PriorityBACnet    int
	AlarmGroup        int
	AlarmCollectGroup int
	SiteGroup         int
	Screen            string
}

// ChangelogResult is a decoded changelog reply. Alarm reports which of the
// two wire shapes the server used.
type ChangelogResult struct {
	Alarm   bool
	Entries []ChangelogEntry
}

// GetResponse is one reply record to a get command. A single get may produce
// several records (e.g. with a query); they share one tag.
type GetResponse struct {
	respMeta
	Path      string
	Value     any
	Type      string
	HasChild  bool
	Stamp     Stamp
	ExtInfos  *ExtInfos
	Message   string
	HistData  *HistResult
	Changelog *ChangelogResult
}

// SetResponse is the reply to a set command.
type SetResponse struct {
	respMeta
	Path    string
	Value   any
	Type    string
	Stamp   Stamp
	Message string
}

// RenameResponse is the reply to a rename command.
type RenameResponse struct {
	respMeta
	Path    string
	NewPath string
	Message string
}

// DeleteResponse is the reply to a delete command.
type DeleteResponse struct {
	respMeta
	Path    string
	Message string
}

// SubscribeResponse is the reply to a subscribe command.
type SubscribeResponse struct {
	respMeta
	Path    string
	Query   *Query
	Value   any
	Type    string
	Stamp   Stamp
	Message string
}

// UnsubscribeResponse is the reply to an unsubscribe command.
type UnsubscribeResponse struct {
	respMeta
	Path    string
	Query   *Query
	Value   any
	Type    string
	Stamp   Stamp
	Message string
}

// ChangelogGroupsResponse is the reply to a changelogGetGroups command.
type ChangelogGroupsResponse struct {
	respMeta
	Groups []string
}

// ChangelogReadResponse is the reply to a changelogRead command.
type ChangelogReadResponse struct {
	respMeta
	Group     string
	Changelog []ChangelogEntry
	Message   string
}

// completion is one tag's worth of grouped responses, ready to be delivered
// to the pending-response table.
type completion struct {
	tag       string
	responses []Response
}

// responseVerbs lists every reply key a frame may carry, in decode order.
var responseVerbs = []string{
	verbGet,
	verbSet,
	verbRename,
	verbDelete,
	verbSubscribe,
	verbUnsubscribe,
	verbChangelogGetGroups,
	verbChangelogRead,
}

// decodeFrame parses one inbound text frame into per-tag response groups and
// server-pushed events. Malformed records are logged and dropped; they never
// fail the whole frame.
func decodeFrame(data []byte) ([]completion, []Event, error) {
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, nil, err
	}

	var completions []completion
	for _, verb := range responseVerbs {
		records, ok := frame[verb].([]any)
		if !ok {
			continue
		}
		if verb == verbChangelogGetGroups {
			backfillHelperTags(frame, verb, records)
		}
		completions = append(completions, groupByTag(verb, records)...)
	}

	var events []Event
	if rawEvents, ok := frame["event"].([]any); ok {
		for _, raw := range rawEvents {
			record, ok := raw.(map[string]any)
			if !ok {
				slog.Warn("Dropping malformed event record", "record", raw)
				continue
			}
			events = append(events, decodeEvent(record))
		}
	}

	return completions, events, nil
}

// backfillHelperTags copies the envelope-level helper-map tags back into the
// tag-less reply records by positional index. The server is relied upon to
// preserve array order (see the protocol annex).
func backfillHelperTags(frame map[string]any, verb string, records []any) {
	helper, ok := frame["tag"].(map[string]any)
	if !ok {
		slog.Warn("Tag-less replies without envelope helper map", "verb", verb)
		return
	}
	tags, ok := helper[verb].([]any)
	if !ok {
		slog.Warn("Envelope helper map has no tag list for verb", "verb", verb)
		return
	}
	for i, raw := range records {
		if i >= len(tags) {
			slog.Warn("More tag-less replies than helper tags", "verb", verb)
			break
		}
		if record, ok := raw.(map[string]any); ok {
			record["tag"] = tags[i]
		}
	}
}

// groupByTag accumulates contiguous replies sharing a tag into one response
// list. Some verbs (notably get) answer a single command with several
// records; the caller must receive them as one list, in wire order.
func groupByTag(verb string, records []any) []completion {
	var groups []completion
	var current *completion

	for _, raw := range records {
		record, ok := raw.(map[string]any)
		if !ok {
			slog.Warn("Dropping malformed reply record", "verb", verb, "record", raw)
			continue
		}
		tag, ok := record["tag"].(string)
		if !ok || tag == "" {
			slog.Warn("Ignoring untagged reply", "verb", verb, "record", record)
			continue
		}
		if current == nil || current.tag != tag {
			if current != nil {
				groups = append(groups, *current)
			}
			current = &completion{tag: tag}
		}
		current.responses = append(current.responses, decodeResponse(verb, record))
	}
	if current != nil {
		groups = append(groups, *current)
	}
	return groups
}

// decodeResponse hydrates the typed response for one reply record.
func decodeResponse(verb string, m map[string]any) Response {
	meta := respMeta{Code: decodeCode(verb, m), Tag: strField(m, "tag")}
	switch verb {
	case verbGet:
		return &GetResponse{
			respMeta:  meta,
			Path:      strField(m, "path"),
			Value:     m["value"],
			Type:      strField(m, "type"),
			HasChild:  boolField(m, "hasChild"),
			Stamp:     stampField(verb, m, "stamp"),
			ExtInfos:  decodeExtInfos(m["extInfos"]),
			Message:   strField(m, "message"),
			HistData:  decodeHistData(m["histData"]),
			Changelog: decodeChangelog(m["changelog"]),
		}
	case verbSet:
		return &SetResponse{
			respMeta: meta,
			Path:     strField(m, "path"),
			Value:    m["value"],
			Type:     strField(m, "type"),
			Stamp:    stampField(verb, m, "stamp"),
			Message:  strField(m, "message"),
		}
	case verbRename:
		return &RenameResponse{
			respMeta: meta,
			Path:     strField(m, "path"),
			NewPath:  strField(m, "newPath"),
			Message:  strField(m, "message"),
		}
	case verbDelete:
		return &DeleteResponse{
			respMeta: meta,
			Path:     strField(m, "path"),
			Message:  strField(m, "message"),
		}
	case verbSubscribe:
		return &SubscribeResponse{
			respMeta: meta,
			Path:     strField(m, "path"),
			Query:    queryFromMap(m["query"]),
			Value:    m["value"],
			Type:     strField(m, "type"),
			Stamp:    stampField(verb, m, "stamp"),
			Message:  strField(m, "message"),
		}
	case verbUnsubscribe:
		return &UnsubscribeResponse{
			respMeta: meta,
			Path:     strField(m, "path"),
			Query:    queryFromMap(m["query"]),
			Value:    m["value"],
			Type:     strField(m, "type"),
			Stamp:    stampField(verb, m, "stamp"),
			Message:  strField(m, "message"),
		}
	case verbChangelogGetGroups:
		return &ChangelogGroupsResponse{
			respMeta: meta,
			Groups:   strSliceField(m, "groups"),
		}
	case verbChangelogRead:
		var entries []ChangelogEntry
		if result := decodeChangelog(m["changelog"]); result != nil {
			entries = result.Entries
		}
		return &ChangelogReadResponse{
			respMeta:  meta,
			Group:     strField(m, "group"),
			Changelog: entries,
			Message:   strField(m, "message"),
		}
	}
	// Unreachable: verbs are driven by responseVerbs.
	return nil
}

// decodeCode validates the mandatory code field. Missing or unknown codes
// are logged and treated as error.
func decodeCode(verb string, m map[string]any) Code {
	raw, ok := m["code"].(string)
	if !ok {
		slog.Error("Reply without mandatory code field", "verb", verb, "record", m)
		return CodeError
	}
	switch code := Code(raw); code {
	case CodeOK, CodeNoPerm, CodeNotFound, CodeError:
		return code
	default:
		slog.Error("Reply with unknown code", "verb", verb, "code", raw)
		return CodeError
	}
}

func decodeExtInfos(raw any) *ExtInfos {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	return &ExtInfos{
		State:          strField(m, "state"),
		AccType:        strField(m, "accType"),
		Name:           strField(m, "name"),
		Template:       strField(m, "template"),
		Unit:           strField(m, "unit"),
		Comment:        strField(m, "comment"),
		ChangelogGroup: strField(m, "changelogGroup"),
	}
}

// decodeHistData parses a histData reply in one of two shapes, chosen by
// structural sniffing: records with a stamp field use the "detail" shape,
// otherwise each record is a single {stamp: value} pair ("compact").
func decodeHistData(raw any) *HistResult {
	records, ok := raw.([]any)
	if !ok {
		return nil
	}
	result := &HistResult{Points: make([]TrendPoint, 0, len(records))}
	if len(records) == 0 {
		return result
	}
	if first, ok := records[0].(map[string]any); ok {
		_, result.Detail = first["stamp"]
	}

	for _, r := range records {
		record, ok := r.(map[string]any)
		if !ok {
			slog.Warn("Dropping malformed histData record", "record", r)
			continue
		}
		if result.Detail {
			result.Points = append(result.Points, TrendPoint{
				Stamp: stampField("histData", record, "stamp"),
				Value: record["value"],
				State: strField(record, "state"),
				Rec:   record["rec"],
			})
			continue
		}
		// Compact shape: the single key is the stamp, its value the sample.
		for stampStr, value := range record {
			stamp, ok := parseStamp(stampStr)
			if !ok {
				slog.Warn("Unparseable stamp in compact histData record", "stamp", stampStr)
			}
			result.Points = append(result.Points, TrendPoint{Stamp: stamp, Value: value})
			break
		}
	}
	return result
}

// decodeChangelog parses a changelog reply: records with a state field carry
// alarm data in addition to the plain protocol fields.
func decodeChangelog(raw any) *ChangelogResult {
	records, ok := raw.([]any)
	if !ok {
		return nil
	}
	result := &ChangelogResult{Entries: make([]ChangelogEntry, 0, len(records))}
	if len(records) == 0 {
		return result
	}
	if first, ok := records[0].(map[string]any); ok {
		_, result.Alarm = first["state"]
	}

	for _, r := range records {
		record, ok := r.(map[string]any)
		if !ok {
			slog.Warn("Dropping malformed changelog record", "record", r)
			continue
		}
		entry := ChangelogEntry{
			Path:  strField(record, "path"),
			Stamp: stampField("changelog", record, "stamp"),
			Text:  strField(record, "text"),
		}
		if result.Alarm {
			entry.State = strField(record, "state")
			entry.Priority = intField(record, "priority")
			entry.PriorityBACnet = intField(record, "priorityBACnet")
			entry.AlarmGroup = intField(record, "alarmGroup")
			entry.AlarmCollectGroup = intField(record, "alarmCollectGroup")
			entry.SiteGroup = intField(record, "siteGroup")
			entry.Screen = strField(record, "screen")
		}
		result.Entries = append(result.Entries, entry)
	}
	return result
}

// queryFromMap rebuilds the Query echoed in subscribe/unsubscribe replies.
func queryFromMap(raw any) *Query {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	q := &Query{
		RegExPath:    strField(m, "regExPath"),
		RegExValue:   strField(m, "regExValue"),
		RegExStamp:   strField(m, "regExStamp"),
		IsType:       strField(m, "isType"),
		HasHistData:  boolField(m, "hasHistData"),
		HasChangelog: boolField(m, "hasChangelog"),
		HasAlarmData: boolField(m, "hasAlarmData"),
	}
	if depth, ok := m["maxDepth"].(float64); ok {
		q.MaxDepth = MaxDepth(int(depth))
	}
	return q
}

func strField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolField(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func intField(m map[string]any, key string) int {
	f, _ := m[key].(float64)
	return int(f)
}

func strSliceField(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// stampField parses an optional stamp field, logging unparseable values.
func stampField(verb string, m map[string]any, key string) Stamp {
	raw, ok := m[key]
	if !ok {
		return Stamp{}
	}
	stamp, ok := parseStamp(raw)
	if !ok {
		slog.Warn("Unparseable timestamp in reply", "verb", verb, "field", key, "value", raw)
	}
	return stamp
}
