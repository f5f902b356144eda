package dms

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustFrame(t *testing.T, frame map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	return data
}

func TestDecodeFrameGroupsContiguousTags(t *testing.T) {
	data := mustFrame(t, map[string]any{"get": []any{
		map[string]any{"code": "ok", "path": "A:1", "tag": "t-a"},
		map[string]any{"code": "ok", "path": "A:2", "tag": "t-a"},
		map[string]any{"code": "ok", "path": "B:1", "tag": "t-b"},
	}})
	completions, events, err := decodeFrame(data)
	require.NoError(t, err)
	assert.Empty(t, events)
	require.Len(t, completions, 2)

	assert.Equal(t, "t-a", completions[0].tag)
	require.Len(t, completions[0].responses, 2)
	assert.Equal(t, "A:1", completions[0].responses[0].(*GetResponse).Path)
	assert.Equal(t, "A:2", completions[0].responses[1].(*GetResponse).Path)

	assert.Equal(t, "t-b", completions[1].tag)
	require.Len(t, completions[1].responses, 1)
}

func TestDecodeFrameSkipsUntaggedRecords(t *testing.T) {
	data := mustFrame(t, map[string]any{"set": []any{
		map[string]any{"code": "ok", "path": "A:1"},
		map[string]any{"code": "ok", "path": "A:2", "tag": "t-a"},
	}})
	completions, _, err := decodeFrame(data)
	require.NoError(t, err)
	require.Len(t, completions, 1)
	assert.Equal(t, "t-a", completions[0].tag)
}

func TestDecodeFrameMalformedJSON(t *testing.T) {
	_, _, err := decodeFrame([]byte("{not json"))
	assert.Error(t, err)
}

func TestDecodeFrameBackfillsHelperTags(t *testing.T) {
	data := mustFrame(t, map[string]any{
		"changelogGetGroups": []any{
			map[string]any{"code": "ok", "groups": []any{"Manip1"}},
			map[string]any{"code": "ok", "groups": []any{"Alarm"}},
		},
		"tag": map[string]any{"changelogGetGroups": []any{"t-1", "t-2"}},
	})
	completions, _, err := decodeFrame(data)
	require.NoError(t, err)
	require.Len(t, completions, 2)
	assert.Equal(t, "t-1", completions[0].tag)
	assert.Equal(t, "t-2", completions[1].tag)
	assert.Equal(t, []string{"Alarm"}, completions[1].responses[0].(*ChangelogGroupsResponse).Groups)
}

func TestDecodeFrameEvents(t *testing.T) {
	data := mustFrame(t, map[string]any{"event": []any{map[string]any{
		"code":    "onSet",
		"path":    "MSR01:Test",
		"trigger": "MSR01:Test",
		"value":   42.0,
		"type":    "int",
		"stamp":   "2018-12-05T14:55:00+01:00",
		"tag":     "t-sub",
	}}})
	completions, events, err := decodeFrame(data)
	require.NoError(t, err)
	assert.Empty(t, completions)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, EventCodeSet, ev.Code)
	assert.Equal(t, "MSR01:Test", ev.Path)
	assert.Equal(t, 42.0, ev.Value)
	assert.Equal(t, "t-sub", ev.Tag)
	assert.True(t, ev.Stamp.Valid)
}

func TestDecodeEventRename(t *testing.T) {
	ev := decodeEvent(map[string]any{
		"code":    "onRename",
		"path":    "MSR01:Old",
		"newPath": "MSR01:New",
		"tag":     "t",
	})
	assert.Equal(t, EventCodeRename, ev.Code)
	assert.Equal(t, "MSR01:New", ev.NewPath)
}

func TestDecodeCodeUnknownBecomesError(t *testing.T) {
	assert.Equal(t, CodeError, decodeCode("get", map[string]any{"code": "maybe"}))
	assert.Equal(t, CodeError, decodeCode("get", map[string]any{}))
	assert.Equal(t, CodeNotFound, decodeCode("get", map[string]any{"code": "not found"}))
}

func TestDecodeHistDataDetailShape(t *testing.T) {
	result := decodeHistData([]any{
		map[string]any{"stamp": "2018-12-05T14:55:00+01:00", "value": 1.0, "state": "ok", "rec": 1.0},
		map[string]any{"stamp": "2018-12-05T14:56:00+01:00", "value": 2.0, "state": "ok", "rec": 2.0},
	})
	require.NotNil(t, result)
	assert.True(t, result.Detail)
	require.Len(t, result.Points, 2)
	assert.Equal(t, 1.0, result.Points[0].Value)
	assert.Equal(t, "ok", result.Points[0].State)
	assert.True(t, result.Points[0].Stamp.Valid)
}

func TestDecodeHistDataCompactShape(t *testing.T) {
	result := decodeHistData([]any{
		map[string]any{"2018-12-05T14:55:00+01:00": 1.0},
		map[string]any{"2018-12-05T14:56:00+01:00": 2.0},
	})
	require.NotNil(t, result)
	assert.False(t, result.Detail)
	require.Len(t, result.Points, 2)
	assert.True(t, result.Points[0].Stamp.Valid)
	assert.Equal(t, 1.0, result.Points[0].Value)
	assert.Empty(t, result.Points[0].State)
}

func TestDecodeHistDataEmptyAndAbsent(t *testing.T) {
	result := decodeHistData([]any{})
	require.NotNil(t, result)
	assert.Empty(t, result.Points)

	assert.Nil(t, decodeHistData(nil))
	assert.Nil(t, decodeHistData("oops"))
}

func TestDecodeChangelogProtocolShape(t *testing.T) {
	result := decodeChangelog([]any{
		map[string]any{"path": "MSR01:A", "stamp": "2017-12-05T19:00:00+02:00", "text": "set to 1"},
	})
	require.NotNil(t, result)
	assert.False(t, result.Alarm)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, "set to 1", result.Entries[0].Text)
	assert.Empty(t, result.Entries[0].State)
}

func TestDecodeChangelogAlarmShape(t *testing.T) {
	result := decodeChangelog([]any{map[string]any{
		"path":              "MSR01:A",
		"stamp":             "2017-12-05T19:00:00+02:00",
		"text":              "limit exceeded",
		"state":             "ALARM",
		"priority":          3.0,
		"priorityBACnet":    8.0,
		"alarmGroup":        1.0,
		"alarmCollectGroup": 2.0,
		"siteGroup":         4.0,
		"screen":            "overview",
	}})
	require.NotNil(t, result)
	assert.True(t, result.Alarm)
	require.Len(t, result.Entries, 1)
	entry := result.Entries[0]
	assert.Equal(t, "ALARM", entry.State)
	assert.Equal(t, 3, entry.Priority)
	assert.Equal(t, 8, entry.PriorityBACnet)
	assert.Equal(t, 4, entry.SiteGroup)
	assert.Equal(t, "overview", entry.Screen)
}

func TestDecodeResponseGetFields(t *testing.T) {
	resp := decodeResponse(verbGet, map[string]any{
		"code":     "ok",
		"path":     "MSR01:Test",
		"value":    12.5,
		"type":     "double",
		"hasChild": true,
		"stamp":    "2018-12-05T14:55:00+01:00",
		"tag":      "t",
		"extInfos": map[string]any{"unit": "°C", "comment": "supply air"},
	})
	get, ok := resp.(*GetResponse)
	require.True(t, ok)
	assert.Equal(t, CodeOK, get.Code)
	assert.Equal(t, 12.5, get.Value)
	assert.True(t, get.HasChild)
	require.NotNil(t, get.ExtInfos)
	assert.Equal(t, "°C", get.ExtInfos.Unit)
	assert.Equal(t, "supply air", get.ExtInfos.Comment)
}

func TestQueryFromMap(t *testing.T) {
	q := queryFromMap(map[string]any{
		"regExPath": "Test.*",
		"maxDepth":  2.0,
	})
	require.NotNil(t, q)
	assert.Equal(t, "Test.*", q.RegExPath)
	require.NotNil(t, q.MaxDepth)
	assert.Equal(t, 2, *q.MaxDepth)

	assert.Nil(t, queryFromMap(nil))
}
