package app

import (
	"github.com/dkeye/omnio/internal/core"
	"github.com/dkeye/omnio/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a member whose send queue overflowed
// during a relay.
type Policy interface {
	OnBackPressure(room core.RoomService, member domain.ClientID) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room core.RoomService, member domain.ClientID) BackpressureAction {
	return KickMember
}

// TolerantPolicy drops the frame and keeps the member connected.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(room core.RoomService, member domain.ClientID) BackpressureAction {
	return DropFrame
}
