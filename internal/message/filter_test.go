package message

import "testing"

func filterRecords() []Record {
	return []Record{
		{
			Key:     "rg-1",
			Headers: &Headers{Destination: "shop/user/created", ApplicationMessageType: "UserCreated"},
			Payload: Payload{Kind: PayloadText, Text: `{"name":"Alice"}`},
		},
		{
			Key:            "rg-2",
			Headers:        &Headers{Destination: "shop/order/placed"},
			UserProperties: map[string]any{"trace": "t-42"},
			Decoded:        map[string]any{"__type": "OrderPlaced", "email": "bob@example.com"},
		},
		{
			Key:  "7",
			Meta: &Meta{MsgID: 7},
		},
	}
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		expr      string
		wantField string
		wantQuery string
		wantErr   bool
	}{
		{expr: "hello", wantField: "", wantQuery: "hello"},
		{expr: "dest:Orders", wantField: "dest", wantQuery: "orders"},
		{expr: "body:alice", wantField: "body", wantQuery: "alice"},
		{expr: "hdr:trace", wantField: "hdr", wantQuery: "trace"},
		{expr: "type:User", wantField: "type", wantQuery: "user"},
		{expr: "re:foo.*bar", wantField: "re", wantQuery: "foo.*bar"},
		{expr: "re:[invalid", wantErr: true},
		{expr: "rk:country", wantField: "", wantQuery: "rk:country"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			f, err := ParseFilter(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFilter(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if f.field != tt.wantField || f.query != tt.wantQuery {
				t.Errorf("ParseFilter(%q) = (%q, %q), want (%q, %q)", tt.expr, f.field, f.query, tt.wantField, tt.wantQuery)
			}
		})
	}
}

func TestFilter_Apply(t *testing.T) {
	tests := []struct {
		expr     string
		wantKeys []string
	}{
		{expr: "", wantKeys: []string{"rg-1", "rg-2", "7"}},
		{expr: "user", wantKeys: []string{"rg-1"}},
		{expr: "dest:order", wantKeys: []string{"rg-2"}},
		{expr: "body:ALICE", wantKeys: []string{"rg-1"}},
		{expr: "body:bob@", wantKeys: []string{"rg-2"}},
		{expr: "hdr:t-42", wantKeys: []string{"rg-2"}},
		{expr: "type:placed", wantKeys: []string{"rg-2"}},
		{expr: "key:7", wantKeys: []string{"7"}},
		{expr: `re:^shop/`, wantKeys: []string{"rg-1", "rg-2"}},
		{expr: `re:ALICE`, wantKeys: nil},
		{expr: `re:(?i)ALICE`, wantKeys: []string{"rg-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			f, err := ParseFilter(tt.expr)
			if err != nil {
				t.Fatalf("ParseFilter: %v", err)
			}
			got := f.Apply(filterRecords())
			if len(got) != len(tt.wantKeys) {
				t.Fatalf("Apply(%q) = %d records, want %v", tt.expr, len(got), tt.wantKeys)
			}
			for i, want := range tt.wantKeys {
				if got[i].Key != want {
					t.Errorf("record %d = %s, want %s", i, got[i].Key, want)
				}
			}
		})
	}
}
