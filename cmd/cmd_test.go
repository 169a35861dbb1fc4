package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/epalmerini/msgscope/internal/browse"
	"github.com/epalmerini/msgscope/internal/message"
	"github.com/epalmerini/msgscope/internal/paging"
)

type pagesBrowser struct {
	pages [][]message.Record
	at    int
	err   error
}

func (b *pagesBrowser) Open(context.Context) error  { return nil }
func (b *pagesBrowser) Close(context.Context) error { return nil }
func (b *pagesBrowser) FirstPage(context.Context) ([]message.Record, error) {
	b.at = 0
	return b.pages[0], nil
}
func (b *pagesBrowser) NextPage(context.Context) ([]message.Record, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.at++
	return b.pages[b.at], nil
}
func (b *pagesBrowser) PrevPage(context.Context) ([]message.Record, error) { return nil, nil }
func (b *pagesBrowser) HasNextPage() bool                                  { return b.at < len(b.pages)-1 }
func (b *pagesBrowser) HasPrevPage() bool                                  { return b.at > 0 }

func textRecords(keys ...string) []message.Record {
	recs := make([]message.Record, len(keys))
	for i, k := range keys {
		recs[i] = message.Record{
			Key:     k,
			Headers: &message.Headers{Destination: "shop/" + k},
			Payload: message.Payload{Kind: message.PayloadText, Text: "<" + k + ">"},
		}
	}
	return recs
}

func outputKeys(t *testing.T, out string) []string {
	t.Helper()
	var keys []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var rec struct {
			Key     string `json:"key"`
			Payload string `json:"payload"`
		}
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("bad JSON line %q: %v", line, err)
		}
		keys = append(keys, rec.Key)
	}
	return keys
}

func TestPrintPages(t *testing.T) {
	pages := [][]message.Record{textRecords("a", "b"), textRecords("c"), textRecords("d", "e")}

	tests := []struct {
		name      string
		limit     int
		filter    string
		wantKeys  []string
		wantPages []int
	}{
		{name: "first page only", limit: 1, wantKeys: []string{"a", "b"}, wantPages: []int{1}},
		{name: "two pages", limit: 2, wantKeys: []string{"a", "b", "c"}, wantPages: []int{1, 2}},
		{name: "all pages", limit: 0, wantKeys: []string{"a", "b", "c", "d", "e"}, wantPages: []int{1, 2, 3}},
		{name: "limit past the end", limit: 10, wantKeys: []string{"a", "b", "c", "d", "e"}, wantPages: []int{1, 2, 3}},
		{name: "filtered", limit: 0, filter: "dest:shop/d", wantKeys: []string{"d"}, wantPages: []int{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter, err := message.ParseFilter(tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			var out bytes.Buffer
			var seen []int
			err = printPages(context.Background(), &out, &pagesBrowser{pages: pages}, tt.limit, filter,
				func(page int, _ []message.Record) { seen = append(seen, page) })
			if err != nil {
				t.Fatalf("printPages: %v", err)
			}
			if got := outputKeys(t, out.String()); fmt.Sprint(got) != fmt.Sprint(tt.wantKeys) {
				t.Errorf("keys = %v, want %v", got, tt.wantKeys)
			}
			if fmt.Sprint(seen) != fmt.Sprint(tt.wantPages) {
				t.Errorf("pages = %v, want %v", seen, tt.wantPages)
			}
		})
	}
}

func TestPrintPages_Error(t *testing.T) {
	boom := errors.New("session lost")
	b := &pagesBrowser{pages: [][]message.Record{textRecords("a"), textRecords("b")}, err: boom}

	var out bytes.Buffer
	if err := printPages(context.Background(), &out, b, 0, nil, nil); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if got := outputKeys(t, out.String()); len(got) != 1 {
		t.Errorf("printed %v before the error, want the first page", got)
	}
}

type metaMgmt struct {
	browse.Management
	meta []message.Meta
}

func (m *metaMgmt) QueueMsgs(_ context.Context, _, _ string, q browse.MsgQuery) (paging.Page[message.Meta], error) {
	start := 0
	if q.Cursor != "" {
		start, _ = strconv.Atoi(q.Cursor)
	}
	end := min(start+q.Count, len(m.meta))
	page := paging.Page[message.Meta]{Items: m.meta[start:end]}
	if end < len(m.meta) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func TestSelectRecords(t *testing.T) {
	mgmt := &metaMgmt{}
	for i := int64(1); i <= 250; i++ {
		mgmt.meta = append(mgmt.meta, message.Meta{MsgID: i, ReplicationGroupMsgID: fmt.Sprintf("rg-%d", i)})
	}

	tests := []struct {
		name     string
		ids      []int64
		limit    int
		wantKeys []string
	}{
		{name: "limit", limit: 3, wantKeys: []string{"rg-1", "rg-2", "rg-3"}},
		{name: "ids across pages", ids: []int64{240, 2}, wantKeys: []string{"rg-2", "rg-240"}},
		{name: "unknown id", ids: []int64{999}, wantKeys: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := selectRecords(context.Background(), mgmt, "default", "orders", tt.ids, tt.limit)
			if err != nil {
				t.Fatalf("selectRecords: %v", err)
			}
			var keys []string
			for _, r := range recs {
				if r.Meta == nil {
					t.Fatalf("record %s has no metadata", r.Key)
				}
				keys = append(keys, r.Key)
			}
			if fmt.Sprint(keys) != fmt.Sprint(tt.wantKeys) {
				t.Errorf("keys = %v, want %v", keys, tt.wantKeys)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 8, "this is…"},
		{"ñandú ñandú", 6, "ñandú…"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
