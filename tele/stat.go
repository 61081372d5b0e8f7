package tele

import "sync"

// Stat counts session and publish outcomes. Drops are normal during
// Disconnected/Backoff windows and are counted, never retried.
type Stat struct {
	sync.Mutex

	Connect     uint32
	Disconnect  uint32
	PublishOk   uint32
	PublishDrop uint32
	PublishErr  uint32
}

func (s *Stat) Snapshot() Stat {
	s.Lock()
	defer s.Unlock()
	return Stat{
		Connect:     s.Connect,
		Disconnect:  s.Disconnect,
		PublishOk:   s.PublishOk,
		PublishDrop: s.PublishDrop,
		PublishErr:  s.PublishErr,
	}
}

func (s *Stat) add(f func(*Stat)) {
	s.Lock()
	f(s)
	s.Unlock()
}
