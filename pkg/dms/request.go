package dms

import "encoding/json"

// request is one outbound JSON envelope. The client sends exactly one command
// per envelope; multi-command bundles are supported as an extensibility hook
// but nothing in the public API produces them.
type request struct {
	whois    string
	user     string
	commands []*command
}

func newRequest(whois, user string, cmds ...*command) *request {
	return &request{whois: whois, user: user, commands: cmds}
}

// tags returns the correlation tags of all bundled commands, in order.
func (r *request) tags() []string {
	tags := make([]string, len(r.commands))
	for i, cmd := range r.commands {
		tags[i] = cmd.tag
	}
	return tags
}

// marshal renders the envelope:
//
//	{ "whois": ..., "user": ..., "tag"?: {...}, "<verb>": [ {...}, ... ] }
//
// Tag-less commands (changelogGetGroups) have no per-command tag on the wire.
// Their tags travel in an envelope-level helper map keyed by verb, preserving
// the order of the commands in the verb's array, so the decoder can restore
// one-to-one correlation by positional index.
func (r *request) marshal() ([]byte, error) {
	envelope := map[string]any{
		"whois": r.whois,
		"user":  r.user,
	}

	helperTags := map[string][]string{}
	for _, cmd := range r.commands {
		verbCmds, _ := envelope[cmd.verb].([]any)
		envelope[cmd.verb] = append(verbCmds, cmd.body)
		if cmd.tagless() {
			helperTags[cmd.verb] = append(helperTags[cmd.verb], cmd.tag)
		}
	}
	if len(helperTags) > 0 {
		envelope["tag"] = helperTags
	}

	return json.Marshal(envelope)
}
