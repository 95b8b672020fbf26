package ports

type ConnectivityEvent int

const (
	BecameOffline ConnectivityEvent = iota
	BecameOnline
)

func (e ConnectivityEvent) String() string {
	if e == BecameOnline {
		return "became_online"
	}
	return "became_offline"
}

type ConnectivityMonitor interface {
	IsOnline() bool
	// Subscribe returns a channel receiving transitions in the order they
	// occur. Subscribers that fall far behind may miss older transitions but
	// always get the latest one.
	Subscribe() chan ConnectivityEvent
	Unsubscribe(ch chan ConnectivityEvent)
}
