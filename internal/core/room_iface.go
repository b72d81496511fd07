package core

import (
	"github.com/dkeye/omnio/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SentTo  int
	Skipped int
	Dropped []domain.ClientID
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	// Members returns a copy of the membership set, safe to iterate while
	// other goroutines join or leave.
	Members() []domain.ClientID
	Has(id domain.ClientID) bool

	// AddMember is idempotent and reports whether id was newly added.
	AddMember(id domain.ClientID) bool
	RemoveMember(id domain.ClientID) bool
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"memberCount"`
}

type RoomManager interface {
	GetOrCreate(id domain.RoomID) RoomService
	Get(id domain.RoomID) (RoomService, bool)
	List() []RoomInfo
	// RemoveFromAll drops id from every room and returns the rooms it left.
	RemoveFromAll(id domain.ClientID) []domain.RoomID
}
