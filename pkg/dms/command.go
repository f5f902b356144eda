package dms

import (
	"fmt"
	"strings"
)

// Request verbs of the DMS JSON Data Exchange.
const (
	verbGet                = "get"
	verbSet                = "set"
	verbRename             = "rename"
	verbDelete             = "delete"
	verbSubscribe          = "subscribe"
	verbUnsubscribe        = "unsubscribe"
	verbChangelogGetGroups = "changelogGetGroups"
	verbChangelogRead      = "changelogRead"
)

// Extended-info flags for GetOptions.ShowExtInfos. Combine with |.
const (
	InfoState          = 1 << iota // state of the value
	InfoAccType                    // accurate type information
	InfoName                       // topmost NAME datapoint of the tree
	InfoTemplate                   // topmost OBJECT datapoint of the tree
	InfoUnit                       // unit
	InfoComment                    // comment
	InfoChangelogGroup             // group name of the changelog protocol
	InfoAll            = InfoState | InfoAccType | InfoName | InfoTemplate |
		InfoUnit | InfoComment | InfoChangelogGroup
)

// extInfoTokens maps the bit positions of the extended-info mask to their
// wire tokens, in bit order.
var extInfoTokens = []struct {
	bit  int
	name string
}{
	{InfoState, "state"},
	{InfoAccType, "accType"},
	{InfoName, "name"},
	{InfoTemplate, "template"},
	{InfoUnit, "unit"},
	{InfoComment, "comment"},
	{InfoChangelogGroup, "changelogGroup"},
}

// Event flags for SubscribeOptions.Event. Combine with |.
const (
	OnChange = 1 << iota
	OnSet
	OnCreate
	OnRename
	OnDelete
	OnAll    = OnChange | OnSet | OnCreate | OnRename | OnDelete
)

// Wire tokens of server-pushed event codes.
const (
	EventCodeChange = "onChange"
	EventCodeSet    = "onSet"
	EventCodeCreate = "onCreate"
	EventCodeRename = "onRename"
	EventCodeDelete = "onDelete"
)

// eventTokens maps the bit positions of the event mask to their wire tokens.
// Some older client tooling sent "onRename" for the delete bit; the server
// expects "onDelete".
var eventTokens = []struct {
	bit  int
	name string
}{
	{OnChange, EventCodeChange},
	{OnSet, EventCodeSet},
	{OnCreate, EventCodeCreate},
	{OnRename, EventCodeRename},
	{OnDelete, EventCodeDelete},
}

// extInfoStrings translates a ShowExtInfos bitmask into the wire token list.
func extInfoStrings(mask int) ([]string, error) {
	if mask < 1 || mask > InfoAll {
		return nil, newOptionError(verbGet, "showExtInfos",
			fmt.Sprintf("bitmask must be in [1,%d], got %d", InfoAll, mask))
	}
	tokens := make([]string, 0, len(extInfoTokens))
	for _, tok := range extInfoTokens {
		if mask&tok.bit != 0 {
			tokens = append(tokens, tok.name)
		}
	}
	return tokens, nil
}

// eventMaskString translates an event bitmask into the comma-joined wire
// token set, or the literal "*" when every bit is set.
func eventMaskString(mask int) (string, error) {
	if mask < 1 || mask > OnAll {
		return "", newOptionError(verbSubscribe, "event",
			fmt.Sprintf("bitmask must be in [1,%d], got %d", OnAll, mask))
	}
	if mask == OnAll {
		return "*", nil
	}
	tokens := make([]string, 0, len(eventTokens))
	for _, tok := range eventTokens {
		if mask&tok.bit != 0 {
			tokens = append(tokens, tok.name)
		}
	}
	return strings.Join(tokens, ","), nil
}

// Query is the optional search component of get and subscribe requests.
// Zero-valued fields are omitted from the wire.
type Query struct {
	RegExPath    string
	RegExValue   string
	RegExStamp   string
	IsType       string
	HasHistData  bool
	HasChangelog bool
	HasAlarmData bool
	// MaxDepth limits tree traversal; -1 means unlimited. Nil omits the field.
	MaxDepth *int
}

// MaxDepth is a convenience for Query literals.
func MaxDepth(n int) *int { return &n }

func (q *Query) asMap() map[string]any {
	m := map[string]any{}
	if q.RegExPath != "" {
		m["regExPath"] = q.RegExPath
	}
	if q.RegExValue != "" {
		m["regExValue"] = q.RegExValue
	}
	if q.RegExStamp != "" {
		m["regExStamp"] = q.RegExStamp
	}
	if q.IsType != "" {
		m["isType"] = q.IsType
	}
	if q.HasHistData {
		m["hasHistData"] = true
	}
	if q.HasChangelog {
		m["hasChangelog"] = true
	}
	if q.HasAlarmData {
		m["hasAlarmData"] = true
	}
	if q.MaxDepth != nil {
		m["maxDepth"] = *q.MaxDepth
	}
	return m
}

// Valid history read formats.
const (
	HistFormatCompact = "compact"
	HistFormatDetail  = "detail"
)

// HistData is the optional history component of a get request.
type HistData struct {
	// Start of the requested timeframe. Mandatory.
	Start StampArg
	// End of the requested timeframe. Empty means "now".
	End StampArg
	// Interval between returned samples in seconds; 0 returns raw records.
	Interval int
	// Format chooses the reply shape: "compact" (default) or "detail".
	Format string
}

func (h *HistData) validate() error {
	if h.Start == "" {
		return newOptionError(verbGet, "histData.start", "mandatory field is empty")
	}
	if h.Format != "" && h.Format != HistFormatCompact && h.Format != HistFormatDetail {
		return newOptionError(verbGet, "histData.format",
			fmt.Sprintf("expected %q or %q, got %q", HistFormatCompact, HistFormatDetail, h.Format))
	}
	return nil
}

func (h *HistData) asMap() map[string]any {
	m := map[string]any{"start": string(h.Start)}
	if h.End != "" {
		m["end"] = string(h.End)
	}
	if h.Interval != 0 {
		m["interval"] = h.Interval
	}
	if h.Format != "" {
		m["format"] = h.Format
	}
	return m
}

// Changelog is the optional changelog component of a get request.
type Changelog struct {
	Start StampArg
	End   StampArg
}

func (c *Changelog) validate() error {
	if c.Start == "" {
		return newOptionError(verbGet, "changelog.start", "mandatory field is empty")
	}
	return nil
}

func (c *Changelog) asMap() map[string]any {
	m := map[string]any{"start": string(c.Start)}
	if c.End != "" {
		m["end"] = string(c.End)
	}
	return m
}

// command is one encoded protocol command. Every command except
// changelogGetGroups carries its tag in its own body; changelogGetGroups is
// tag-less on the wire and relies on the envelope-level helper map instead.
type command struct {
	verb string
	tag  string
	body map[string]any
}

// tagless reports whether the command's tag must travel in the envelope's
// helper map instead of the command body.
func (c *command) tagless() bool {
	return c.verb == verbChangelogGetGroups
}

// GetOptions holds the optional fields of a get request.
type GetOptions struct {
	Query     *Query
	HistData  *HistData
	Changelog *Changelog
	// ShowExtInfos is an InfoXxx bitmask. Takes precedence over ExtInfoNames.
	ShowExtInfos int
	// ExtInfoNames passes a pre-built wire token list verbatim.
	ExtInfoNames []string
}

func newGetCommand(tag, path string, opts *GetOptions) (*command, error) {
	body := map[string]any{"path": path}
	if opts != nil {
		switch {
		case opts.ShowExtInfos != 0:
			tokens, err := extInfoStrings(opts.ShowExtInfos)
			if err != nil {
				return nil, err
			}
			body["showExtInfos"] = tokens
		case len(opts.ExtInfoNames) > 0:
			body["showExtInfos"] = opts.ExtInfoNames
		}
		if opts.Query != nil {
			body["query"] = opts.Query.asMap()
		}
		if opts.HistData != nil {
			if err := opts.HistData.validate(); err != nil {
				return nil, err
			}
			body["histData"] = opts.HistData.asMap()
		}
		if opts.Changelog != nil {
			if err := opts.Changelog.validate(); err != nil {
				return nil, err
			}
			body["changelog"] = opts.Changelog.asMap()
		}
	}
	body["tag"] = tag
	return &command{verb: verbGet, tag: tag, body: body}, nil
}

// Value types accepted by SetOptions.Type.
var setValueTypes = map[string]bool{
	"int":    true,
	"double": true,
	"string": true,
	"bool":   true,
}

// SetOptions holds the optional fields of a set request.
type SetOptions struct {
	// Create the datapoint if it does not exist.
	Create bool
	// Type forces the value type: one of int, double, string, bool.
	// Empty lets the DMS derive the type from the value.
	Type string
	// Stamp overrides the write timestamp.
	Stamp StampArg
}

func newSetCommand(tag, path string, value any, opts *SetOptions) (*command, error) {
	body := map[string]any{"path": path, "value": value}
	if opts != nil {
		if opts.Create {
			body["create"] = true
		}
		if opts.Type != "" {
			if !setValueTypes[opts.Type] {
				return nil, newOptionError(verbSet, "type",
					fmt.Sprintf("expected one of int, double, string, bool; got %q", opts.Type))
			}
			body["type"] = opts.Type
		}
		if opts.Stamp != "" {
			body["stamp"] = string(opts.Stamp)
		}
	}
	body["tag"] = tag
	return &command{verb: verbSet, tag: tag, body: body}, nil
}

func newRenameCommand(tag, path, newPath string) *command {
	return &command{verb: verbRename, tag: tag, body: map[string]any{
		"path":    path,
		"newPath": newPath,
		"tag":     tag,
	}}
}

// DeleteOptions holds the optional fields of a delete request.
type DeleteOptions struct {
	// Recursive deletes the whole subtree. The flag is sent explicitly even
	// when false, since delete is a destructive command and the server default
	// should not be relied on.
	Recursive *bool
}

// Recursive is a convenience for DeleteOptions literals.
func Recursive(b bool) *bool { return &b }

func newDeleteCommand(tag, path string, opts *DeleteOptions) *command {
	body := map[string]any{"path": path}
	if opts != nil && opts.Recursive != nil {
		body["recursive"] = *opts.Recursive
	}
	body["tag"] = tag
	return &command{verb: verbDelete, tag: tag, body: body}
}

// SubscribeOptions holds the optional fields of a subscribe request. The
// subscription's path and tag are managed by the client and are not part of
// the options; updates reuse both (the server replaces a subscription when
// path and tag match).
type SubscribeOptions struct {
	Query *Query
	// Event is an OnXxx bitmask. Takes precedence over EventString.
	Event int
	// EventString passes a pre-built wire token set (or "*") verbatim.
	EventString string
}

func newSubscribeCommand(tag, path string, opts *SubscribeOptions) (*command, error) {
	body := map[string]any{"path": path}
	if opts != nil {
		if opts.Query != nil {
			body["query"] = opts.Query.asMap()
		}
		switch {
		case opts.Event != 0:
			events, err := eventMaskString(opts.Event)
			if err != nil {
				return nil, err
			}
			body["event"] = events
		case opts.EventString != "":
			body["event"] = opts.EventString
		}
	}
	body["tag"] = tag
	return &command{verb: verbSubscribe, tag: tag, body: body}, nil
}

// newUnsubscribeCommand always carries the tag: the wire protocol marks it
// optional, but without it the reply cannot be demultiplexed.
func newUnsubscribeCommand(tag, path string) *command {
	return &command{verb: verbUnsubscribe, tag: tag, body: map[string]any{
		"path": path,
		"tag":  tag,
	}}
}

func newChangelogGetGroupsCommand(tag string) *command {
	return &command{verb: verbChangelogGetGroups, tag: tag, body: map[string]any{}}
}

// ChangelogReadOptions holds the optional fields of a changelogRead request.
type ChangelogReadOptions struct {
	End StampArg
}

func newChangelogReadCommand(tag, group string, start StampArg, opts *ChangelogReadOptions) (*command, error) {
	if start == "" {
		return nil, newOptionError(verbChangelogRead, "start", "mandatory field is empty")
	}
	body := map[string]any{"group": group, "start": string(start)}
	if opts != nil && opts.End != "" {
		body["end"] = string(opts.End)
	}
	body["tag"] = tag
	return &command{verb: verbChangelogRead, tag: tag, body: body}, nil
}
