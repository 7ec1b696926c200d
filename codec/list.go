package codec

import (
	"fmt"

	"github.com/unkn0wn-root/touristcache/internal/wire"
)

// List encodes a slice of V as a frame of id-keyed items.
// Item encodes one member; Key returns its identity and must not be empty,
// so a list never holds a member the views could not evict by id.
type List[V any] struct {
	Item Codec[V]
	Key  func(V) string
}

func (c List[V]) Encode(vs []V) ([]byte, error) {
	items := make([]wire.ListItem, 0, len(vs))
	for i, v := range vs {
		p, err := c.Item.Encode(v)
		if err != nil {
			return nil, fmt.Errorf("list item %d: %w", i, err)
		}
		items = append(items, wire.ListItem{Key: c.Key(v), Payload: p})
	}
	return wire.EncodeList(items)
}

func (c List[V]) Decode(b []byte) ([]V, error) {
	items, err := wire.DecodeList(b)
	if err != nil {
		return nil, err
	}
	out := make([]V, 0, len(items))
	for _, it := range items {
		v, err := c.Item.Decode(it.Payload)
		if err != nil {
			return nil, fmt.Errorf("list item %q: %w", it.Key, err)
		}
		out = append(out, v)
	}
	return out, nil
}
