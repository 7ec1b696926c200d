package codec

import (
	"strings"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/unkn0wn-root/touristcache/tourist"
)

var ann = tourist.Tourist{ID: "1", Name: "Ann", Surname: "Lee", Email: "a@x.com", PhoneNumber: "555", Country: "US"}

func touristList() List[tourist.Tourist] {
	return List[tourist.Tourist]{
		Item: JSON[tourist.Tourist]{},
		Key:  func(t tourist.Tourist) string { return t.ID },
	}
}

func TestTouristProtoWireCompatible(t *testing.T) {
	// hand-built message as another protobuf implementation would emit it,
	// with an unknown varint field (7) the decoder must skip
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, "1")
	b = protowire.AppendTag(b, 7, protowire.VarintType)
	b = protowire.AppendVarint(b, 99)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, "Ann")
	b = protowire.AppendTag(b, 5, protowire.BytesType)
	b = protowire.AppendString(b, "555")

	got, err := TouristProto{}.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ID != "1" || got.Name != "Ann" || got.PhoneNumber != "555" || got.Email != "" {
		t.Fatalf("unexpected decode: %+v", got)
	}

	enc, _ := TouristProto{}.Encode(ann)
	back, err := TouristProto{}.Decode(enc)
	if err != nil || back != ann {
		t.Fatalf("encode/decode mismatch: %+v err=%v", back, err)
	}
}

func TestTouristProtoRejectsTruncated(t *testing.T) {
	enc, _ := TouristProto{}.Encode(ann)
	if _, err := (TouristProto{}).Decode(enc[:len(enc)-1]); err == nil {
		t.Fatalf("expected error on truncated message")
	}
}

func TestListKeepsOrder(t *testing.T) {
	lc := touristList()
	bob := tourist.Tourist{ID: "2", Name: "Bob"}
	enc, err := lc.Encode([]tourist.Tourist{ann, bob})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := lc.Decode(enc)
	if err != nil || len(got) != 2 || got[0] != ann || got[1] != bob {
		t.Fatalf("Decode: %v %v", got, err)
	}
}

func TestListEmptyIsValue(t *testing.T) {
	lc := touristList()
	enc, err := lc.Encode(nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := lc.Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected non-nil empty slice, got %#v", got)
	}
}

func TestListRejectsMissingKey(t *testing.T) {
	lc := touristList()
	if _, err := lc.Encode([]tourist.Tourist{{Name: "no id"}}); err == nil {
		t.Fatalf("expected error for member without id")
	}
}

func TestLimitRejectsOversized(t *testing.T) {
	lim := Limit[string]{Inner: JSON[string]{}, MaxDecode: 4}
	if _, err := lim.Decode([]byte(`"123"`)); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("expected too large error, got %v", err)
	}
	if s, err := lim.Decode([]byte(`"12"`)); err != nil || s != "12" {
		t.Fatalf("decode at limit: %q %v", s, err)
	}
}

func TestViewCodecsAgree(t *testing.T) {
	codecs := map[string]Codec[tourist.Tourist]{
		"json":    JSON[tourist.Tourist]{},
		"cbor":    MustCBOR[tourist.Tourist](true),
		"msgpack": Msgpack[tourist.Tourist]{},
		"proto":   TouristProto{},
	}
	for name, c := range codecs {
		b, err := c.Encode(ann)
		if err != nil {
			t.Fatalf("%s encode: %v", name, err)
		}
		got, err := c.Decode(b)
		if err != nil || got != ann {
			t.Fatalf("%s: got %+v err=%v", name, got, err)
		}
	}
}
