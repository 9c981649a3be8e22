package protocol

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cursor string

func (c cursor) String() string { return "c:" + string(c) }

func TestParams_Encode(t *testing.T) {
	limit := 50
	var missing *int
	var nilCursor *cursorPtr

	tests := []struct {
		name   string
		params Params
		want   string
	}{
		{"empty", nil, ""},
		{"repeated keys", Params{"feeds": []string{"a", "b"}}, "feeds=a&feeds=b"},
		{"sorted keys", Params{"b": "2", "a": "1"}, "a=1&b=2"},
		{"nil omitted", Params{"cursor": nil, "actor": "alice.test"}, "actor=alice.test"},
		{"nil pointer omitted", Params{"limit": missing, "q": "x"}, "q=x"},
		{"nil stringer pointer omitted", Params{"cursor": nilCursor}, ""},
		{"pointer dereferenced", Params{"limit": &limit}, "limit=50"},
		{"bool", Params{"includePins": true}, "includePins=true"},
		{"int slice", Params{"n": []int{1, 2, 3}}, "n=1&n=2&n=3"},
		{"any slice", Params{"v": []any{"x", 2, nil}}, "v=x&v=2"},
		{"empty slice", Params{"uris": []string{}}, ""},
		{"stringer", Params{"cursor": cursor("abc")}, "cursor=c%3Aabc"},
		{"escaping", Params{"q": "a b&c"}, "q=a+b%26c"},
		{"time", Params{"since": time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}, "since=2024-01-02T03%3A04%3A05Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.params.Encode())
		})
	}
}

type cursorPtr struct{ v string }

func (c *cursorPtr) String() string { return c.v }

func TestParams_EncodeIsDeterministic(t *testing.T) {
	params := Params{"z": "1", "m": []string{"x", "y"}, "a": 3}
	first := params.Encode()
	for i := 0; i < 20; i++ {
		require.Equal(t, first, params.Encode())
	}
	assert.True(t, strings.HasPrefix(first, "a=3&m=x&m=y"))
}

func TestValidNSID(t *testing.T) {
	assert.True(t, ValidNSID("com.atproto.server.getSession"))
	assert.True(t, ValidNSID("app.bsky.feed.getTimeline"))
	assert.False(t, ValidNSID(""))
	assert.False(t, ValidNSID("getSession"))
	assert.False(t, ValidNSID("com.atproto"))
	assert.False(t, ValidNSID("com..atproto.x"))
	assert.False(t, ValidNSID("com.atproto.server/getSession"))
	assert.Equal(t, "/xrpc/com.atproto.server.getSession", MethodPath("com.atproto.server.getSession"))
}
