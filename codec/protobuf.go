package codec

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/unkn0wn-root/touristcache/tourist"
)

// Field numbers of the Tourist message exchanged with the domain service.
const (
	fieldID protowire.Number = iota + 1
	fieldName
	fieldSurname
	fieldEmail
	fieldPhoneNumber
	fieldCountry
)

// TouristProto encodes tourist.Tourist in protobuf wire format, compatible with
//
//	message Tourist {
//	  string id = 1; string name = 2; string surname = 3;
//	  string email = 4; string phoneNumber = 5; string country = 6;
//	}
//
// Empty strings are omitted (proto3 semantics) and unknown fields are skipped.
type TouristProto struct{}

var _ Codec[tourist.Tourist] = TouristProto{}

func (TouristProto) Encode(t tourist.Tourist) ([]byte, error) {
	var b []byte
	b = appendString(b, fieldID, t.ID)
	b = appendString(b, fieldName, t.Name)
	b = appendString(b, fieldSurname, t.Surname)
	b = appendString(b, fieldEmail, t.Email)
	b = appendString(b, fieldPhoneNumber, t.PhoneNumber)
	b = appendString(b, fieldCountry, t.Country)
	return b, nil
}

func (TouristProto) Decode(b []byte) (tourist.Tourist, error) {
	var t tourist.Tourist
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return tourist.Tourist{}, fmt.Errorf("protobuf tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return tourist.Tourist{}, fmt.Errorf("protobuf field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return tourist.Tourist{}, fmt.Errorf("protobuf field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldID:
			t.ID = v
		case fieldName:
			t.Name = v
		case fieldSurname:
			t.Surname = v
		case fieldEmail:
			t.Email = v
		case fieldPhoneNumber:
			t.PhoneNumber = v
		case fieldCountry:
			t.Country = v
		}
	}
	return t, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}
