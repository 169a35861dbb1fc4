package proto

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/jhump/protoreflect/dynamic"
)

func TestTopicToTypeHint(t *testing.T) {
	tests := []struct {
		name  string
		topic string
		want  string
	}{
		{name: "slash topic", topic: "shop/eu/order/shipped", want: "OrderShipped"},
		{name: "dotted routing key", topic: "editorial.it.country.updated", want: "CountryUpdated"},
		{name: "two levels", topic: "user/created", want: "UserCreated"},
		{name: "snake_case entity", topic: "admin/administrative_area/deleted", want: "AdministrativeAreaDeleted"},
		{name: "kebab-case entity", topic: "shop/order-line/added", want: "OrderLineAdded"},
		{name: "single level", topic: "created", want: ""},
		{name: "empty", topic: "", want: ""},
		{name: "trailing slash ignored", topic: "order/shipped/", want: "OrderShipped"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := topicToTypeHint(tt.topic); got != tt.want {
				t.Errorf("topicToTypeHint(%q) = %q, want %q", tt.topic, got, tt.want)
			}
		})
	}
}

const shopProto = `syntax = "proto3";
package shop;

message OrderShipped {
  string order_id = 1;
  string carrier = 2;
}

message OrderCancelled {
  string order_id = 1;
  string reason = 2;
}
`

func newTestDecoder(t *testing.T) *Decoder {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "shop.proto"), []byte(shopProto), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.proto"), []byte("message {"), 0o644); err != nil {
		t.Fatal(err)
	}
	d, err := NewDecoder(dir)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	return d
}

func encode(t *testing.T, d *Decoder, typeName string, fields map[string]any) []byte {
	t.Helper()
	msg := dynamic.NewMessage(d.messageTypes[typeName])
	for k, v := range fields {
		if err := msg.TrySetFieldByName(k, v); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	data, err := msg.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestNewDecoder(t *testing.T) {
	d := newTestDecoder(t)

	if got, want := d.ListTypes(), []string{"shop.OrderCancelled", "shop.OrderShipped"}; !slices.Equal(got, want) {
		t.Errorf("ListTypes() = %v, want %v", got, want)
	}
	if len(d.Warnings) != 1 {
		t.Errorf("Warnings = %v, want one entry for broken.proto", d.Warnings)
	}
}

func TestNewDecoder_NoFiles(t *testing.T) {
	if _, err := NewDecoder(t.TempDir()); err == nil {
		t.Error("NewDecoder on an empty directory succeeded")
	}
}

func TestDecodeWithHint(t *testing.T) {
	d := newTestDecoder(t)
	// Both types share the wire layout, so only the hint can tell them apart.
	data := encode(t, d, "OrderShipped", map[string]any{"order_id": "o-1", "carrier": "ups"})

	tests := []struct {
		topic    string
		wantType string
		wantKey  string
	}{
		{topic: "shop/eu/order/shipped", wantType: "OrderShipped", wantKey: "carrier"},
		{topic: "shop/eu/order/cancelled", wantType: "OrderCancelled", wantKey: "reason"},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, err := d.DecodeWithHint(data, tt.topic)
			if err != nil {
				t.Fatalf("DecodeWithHint: %v", err)
			}
			if got[TypeField] != tt.wantType {
				t.Errorf("type = %v, want %s", got[TypeField], tt.wantType)
			}
			if got["order_id"] != "o-1" || got[tt.wantKey] != "ups" {
				t.Errorf("fields = %v", got)
			}
		})
	}
}

func TestDecodeAs(t *testing.T) {
	d := newTestDecoder(t)
	data := encode(t, d, "OrderCancelled", map[string]any{"order_id": "o-2", "reason": "late"})

	got, err := d.DecodeAs(data, "shop.OrderCancelled")
	if err != nil {
		t.Fatalf("DecodeAs: %v", err)
	}
	if got["reason"] != "late" {
		t.Errorf("reason = %v, want late", got["reason"])
	}
	if _, err := d.DecodeAs(data, "Missing"); err == nil {
		t.Error("DecodeAs with unknown type succeeded")
	}
}

func TestDecodeWithHint_NilDecoder(t *testing.T) {
	var d *Decoder
	if _, err := d.DecodeWithHint([]byte{1}, "a/b"); err == nil {
		t.Error("nil decoder decoded")
	}
}
