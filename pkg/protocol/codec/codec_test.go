package codec

import (
	"testing"
)

func TestJSONCodec(t *testing.T) {
	c := JSON()
	in := map[string]any{"a": 1, "b": "x"}
	b, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := c.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["a"].(float64) != 1 || out["b"].(string) != "x" {
		t.Fatalf("roundtrip mismatch: %#v", out)
	}
}

func TestCBORCodec(t *testing.T) {
	c, err := CBOR()
	if err != nil {
		t.Fatalf("new cbor: %v", err)
	}
	in := map[string]any{"n": 42}
	b, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := c.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if int(out["n"].(uint64)) != 42 && int(out["n"].(float64)) != 42 { // decoder may choose num type
		t.Fatalf("roundtrip mismatch: %#v", out)
	}
}

func TestByName(t *testing.T) {
	if c := ByName("cbor"); c == nil || c.ContentType() != "application/cbor" {
		t.Fatalf("cbor lookup failed")
	}
	if c := ByName("json"); c == nil || c.ContentType() != "application/json" {
		t.Fatalf("json lookup failed")
	}
	if c := ByName("protobuf"); c != nil {
		t.Fatalf("unexpected codec for unknown name: %v", c.ContentType())
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if r.Get("application/json") == nil {
		t.Fatalf("json not preloaded")
	}
	if r.Get("application/cbor") != nil {
		t.Fatalf("cbor should not be preloaded")
	}
	c, err := CBOR()
	if err != nil {
		t.Fatalf("new cbor: %v", err)
	}
	r.Register(c)
	if r.Get("application/cbor") == nil {
		t.Fatalf("cbor lookup after register failed")
	}
}
