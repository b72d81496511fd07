package bridge

import (
	"context"
	"sort"

	"github.com/dkeye/omnio/internal/domain"
)

// RoomView is one room as a chat list shows it.
type RoomView struct {
	Room          domain.RoomRecord
	Messages      []domain.Document
	ActiveStream  *domain.Document
	LastTimestamp int64
}

// RoomViews groups every document by room and orders rooms by their most
// recent document, newest first. Rooms without documents come last; ties
// are broken by room id.
func (b *Bridge) RoomViews(ctx context.Context) []RoomView {
	return BuildRoomViews(b.rooms.Find(nil).All(), b.annotateAll(ctx, b.docs.Find(nil).All()))
}

func (b *Bridge) annotateAll(ctx context.Context, docs []domain.Document) []domain.Document {
	out := make([]domain.Document, len(docs))
	for i, d := range docs {
		out[i] = b.Annotate(ctx, d)
	}
	return out
}

// BuildRoomViews is the pure part of RoomViews.
func BuildRoomViews(rooms []domain.RoomRecord, docs []domain.Document) []RoomView {
	byID := make(map[domain.RoomID]*RoomView, len(rooms))
	order := make([]domain.RoomID, 0, len(rooms))
	get := func(id domain.RoomID, name string) *RoomView {
		if v, ok := byID[id]; ok {
			return v
		}
		if name == "" {
			name = string(id)
		}
		v := &RoomView{Room: domain.RoomRecord{ID: id, Name: name}}
		byID[id] = v
		order = append(order, id)
		return v
	}

	for _, r := range rooms {
		get(r.ID, r.Name).Room = r
	}
	for _, d := range docs {
		v := get(d.RoomID, d.RoomName)
		v.Messages = append(v.Messages, d)
		if d.Timestamp > v.LastTimestamp {
			v.LastTimestamp = d.Timestamp
		}
		if d.Kind() == domain.KindStream {
			if v.ActiveStream == nil || d.Timestamp >= v.ActiveStream.Timestamp {
				doc := d
				v.ActiveStream = &doc
			}
		}
	}

	out := make([]RoomView, 0, len(order))
	for _, id := range order {
		v := byID[id]
		sort.SliceStable(v.Messages, func(i, j int) bool { return v.Messages[i].Timestamp < v.Messages[j].Timestamp })
		out = append(out, *v)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		ae, be := len(a.Messages) == 0, len(b.Messages) == 0
		if ae != be {
			return be
		}
		if a.LastTimestamp != b.LastTimestamp {
			return a.LastTimestamp > b.LastTimestamp
		}
		return a.Room.ID < b.Room.ID
	})
	return out
}
