// Package runtimeconfig holds the SETOPT option list a firmware replays on
// RESET (§4.8), backed by gopkg.in/ini.v1 used here as an ordered
// key/value store rather than for parsing a file from disk.
package runtimeconfig

import (
	"fmt"
	"sync"

	"gopkg.in/ini.v1"
)

// Store records every SETOPT applied to a bus, in application order, so
// RESET can replay them (§4.8 "RESET" row).
type Store struct {
	mu    sync.Mutex
	file  *ini.File
	order []Option
}

// Option is one `-X<bus>:<cmd>` entry (CLI flag) or SETOPT packet payload.
type Option struct {
	Bus     int
	Command string
}

func NewStore() *Store {
	return &Store{file: ini.Empty()}
}

// Apply records opt for bus and appends it to the replay-on-RESET order.
func (s *Store) Apply(bus int, opt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec := s.file.Section(fmt.Sprintf("bus%d", bus))
	key := fmt.Sprintf("opt%d", len(s.order))
	sec.NewKey(key, opt)
	s.order = append(s.order, Option{Bus: bus, Command: opt})
}

// Replay returns every applied option in the order Apply was called, the
// order RESET must replay them in (§4.8).
func (s *Store) Replay() []Option {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Option, len(s.order))
	copy(out, s.order)
	return out
}

// ForBus returns only the options recorded for one bus, in order.
func (s *Store) ForBus(bus int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, o := range s.order {
		if o.Bus == bus {
			out = append(out, o.Command)
		}
	}
	return out
}
