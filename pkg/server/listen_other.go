//go:build !linux

package server

import "log"

func logListenBacklog(addr string) {
	log.Printf("Listening on %s", addr)
}

// monitorListenOverflows has nothing to watch outside Linux
func (s *Server) monitorListenOverflows() {
	s.wg.Done()
}
