package dms

import "log/slog"

// Event is a server-pushed notification for a subscription. Code is the
// trigger of the event (onChange, onSet, onCreate, onRename, onDelete); Tag
// identifies the subscription it belongs to.
type Event struct {
	Code    string
	Path    string
	NewPath string
	Trigger string
	Value   any
	Type    string
	Stamp   Stamp
	Tag     string
}

// eventCodes are the triggers a well-behaved server may push.
var eventCodes = map[string]bool{
	EventCodeChange: true,
	EventCodeSet:    true,
	EventCodeCreate: true,
	EventCodeRename: true,
	EventCodeDelete: true,
}

func decodeEvent(m map[string]any) Event {
	ev := Event{
		Code:    strField(m, "code"),
		Path:    strField(m, "path"),
		NewPath: strField(m, "newPath"),
		Trigger: strField(m, "trigger"),
		Value:   m["value"],
		Type:    strField(m, "type"),
		Stamp:   stampField("event", m, "stamp"),
		Tag:     strField(m, "tag"),
	}
	if !eventCodes[ev.Code] {
		slog.Error("Event with unknown code", "code", ev.Code, "path", ev.Path)
	}
	return ev
}
