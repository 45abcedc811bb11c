// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netflow

import (
	"sync"
	"time"
)

// SocketInfo is the operator-visible state of one tracked socket,
// built up from the Observation stream (create/accept/close) for the
// console's open-socket listing (component H).
type SocketInfo struct {
	Sockfd    uint64
	PVM       Endpoint
	Remote    Endpoint
	Opened    time.Time
	LastSeen  time.Time
	BytesIn   uint64
	BytesOut  uint64
}

// SocketSet tracks currently-open sockets per the observation
// lifecycle: Create/Accept/Connect open an entry, Recv/Send update its
// counters, Close removes it.
type SocketSet struct {
	mu      sync.Mutex
	sockets map[uint64]*SocketInfo
}

// NewSocketSet builds an empty set.
func NewSocketSet() *SocketSet {
	return &SocketSet{sockets: make(map[uint64]*SocketInfo)}
}

// Apply folds one Observation into the set, returning the socket's
// current info after the update (nil if the observation closed it).
func (s *SocketSet) Apply(o Observation) *SocketInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Unix(int64(o.TNowS), int64(o.TNowNS))

	switch o.Obs {
	case ObsClose:
		delete(s.sockets, o.Sockfd)
		return nil
	case ObsAccept:
		// The listening socket (o.Sockfd) isn't the one that ends up
		// open; accept hands off to a newly-created socket (o.Extra),
		// which is what the console later closes.
		info, ok := s.sockets[o.Extra]
		if !ok {
			info = &SocketInfo{
				Sockfd: o.Extra,
				Opened: time.Unix(int64(o.TStartS), int64(o.TStartNS)),
			}
			s.sockets[o.Extra] = info
		}
		info.PVM = o.PVM
		info.Remote = o.Remote
		info.LastSeen = now
		return info
	case ObsCreate, ObsBind, ObsConnect:
		info, ok := s.sockets[o.Sockfd]
		if !ok {
			info = &SocketInfo{
				Sockfd: o.Sockfd,
				Opened: time.Unix(int64(o.TStartS), int64(o.TStartNS)),
			}
			s.sockets[o.Sockfd] = info
		}
		info.PVM = o.PVM
		info.Remote = o.Remote
		info.LastSeen = now
		return info
	case ObsRecv, ObsSend:
		info, ok := s.sockets[o.Sockfd]
		if !ok {
			return nil
		}
		info.BytesIn += o.BytesIn
		info.BytesOut += o.BytesOut
		info.LastSeen = now
		return info
	default:
		return nil
	}
}

// Snapshot returns a stable copy of all currently-open sockets.
func (s *SocketSet) Snapshot() []SocketInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SocketInfo, 0, len(s.sockets))
	for _, info := range s.sockets {
		out = append(out, *info)
	}
	return out
}

// Get returns the tracked info for a socket, if open.
func (s *SocketSet) Get(sockfd uint64) (SocketInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.sockets[sockfd]
	if !ok {
		return SocketInfo{}, false
	}
	return *info, true
}

// Count reports the number of currently-open sockets.
func (s *SocketSet) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sockets)
}
