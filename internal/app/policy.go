package app

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickSubscriber
	DropFrame
)

// Policy decides what happens to a UI subscriber whose queue is full.
// It runs under the hub lock.
type Policy interface {
	OnBackPressure(sub SubscriberID, strikes int) BackpressureAction
}

// SimplePolicy kicks a subscriber right away.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(SubscriberID, int) BackpressureAction {
	return KickSubscriber
}

// TolerantPolicy drops frames until a subscriber has missed MaxStrikes in a row.
type TolerantPolicy struct {
	MaxStrikes int
}

func (p TolerantPolicy) OnBackPressure(_ SubscriberID, strikes int) BackpressureAction {
	if strikes >= p.MaxStrikes {
		return KickSubscriber
	}
	if strikes == 1 {
		return MarkSlow
	}
	return DropFrame
}
