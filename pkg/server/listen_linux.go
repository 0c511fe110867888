//go:build linux

package server

import (
	"bufio"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// logListenBacklog logs the kernel's listen backlog limit
func logListenBacklog(addr string) {
	var somaxconn int
	if data, err := os.ReadFile("/proc/sys/net/core/somaxconn"); err == nil {
		somaxconn, _ = strconv.Atoi(strings.TrimSpace(string(data)))
	}

	log.Printf("Listening on %s (kernel listen backlog: %d)", addr, somaxconn)
	if somaxconn > 0 && somaxconn < 4096 {
		log.Printf("WARNING: net.core.somaxconn=%d may be too low when a whole table reconnects at once", somaxconn)
	}
}

// monitorListenOverflows reports connections the kernel dropped because the
// accept queue was full
func (s *Server) monitorListenOverflows() {
	defer s.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	last, _ := readListenOverflows()
	for {
		select {
		case <-ticker.C:
			current, ok := readListenOverflows()
			if !ok {
				continue
			}
			if current > last {
				delta := current - last
				log.Printf("WARNING: %d connection(s) dropped by listen backlog overflow (total: %d)", delta, current)
				s.metrics.RecordListenOverflows(delta)
			}
			last = current
		case <-s.shutdown:
			return
		}
	}
}

func readListenOverflows() (uint64, bool) {
	f, err := os.Open("/proc/net/netstat")
	if err != nil {
		return 0, false
	}
	defer f.Close()
	return parseListenOverflows(f)
}

// parseListenOverflows extracts the TcpExt ListenOverflows counter from
// /proc/net/netstat content
func parseListenOverflows(r io.Reader) (uint64, bool) {
	scanner := bufio.NewScanner(r)
	var headers, values []string

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || fields[0] != "TcpExt:" {
			continue
		}
		if headers == nil {
			headers = fields[1:]
			continue
		}
		values = fields[1:]
		break
	}

	for i, h := range headers {
		if h == "ListenOverflows" && i < len(values) {
			n, err := strconv.ParseUint(values[i], 10, 64)
			return n, err == nil
		}
	}
	return 0, false
}
