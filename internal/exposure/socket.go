// Package exposure lists listening sockets and classifies each one against
// the consolidated firewall view.
package exposure

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/logging"
)

// ErrUnavailable means no socket table could be read.
var ErrUnavailable = errors.New("socket tables unavailable")

// ListeningSocket is a local socket accepting traffic.
type ListeningSocket struct {
	Address  netip.Addr        `json:"address"`
	Port     int               `json:"port"`
	Protocol firewall.Protocol `json:"protocol"`
	Inode    uint64            `json:"inode,omitempty"`
	PID      int               `json:"pid,omitempty"`
	Process  string            `json:"process,omitempty"`
	Command  string            `json:"command,omitempty"`
}

// Wildcard reports whether the socket is bound to every address.
func (s ListeningSocket) Wildcard() bool {
	return !s.Address.IsValid() || s.Address.IsUnspecified()
}

func (s ListeningSocket) String() string {
	addr := "*"
	if !s.Wildcard() {
		addr = s.Address.String()
	}
	return fmt.Sprintf("%d/%s@%s", s.Port, s.Protocol, addr)
}

// Scan is the result of one socket table read.
type Scan struct {
	Sockets []ListeningSocket `json:"sockets"`
	// Skipped counts malformed lines that were ignored.
	Skipped int `json:"skipped"`
}

// SocketSource lists listening sockets.
type SocketSource interface {
	ListeningSockets(ctx context.Context) (*Scan, error)
}

const tcpListen = "0A"

// ParseProcNet reads one /proc/net/{tcp,tcp6,udp,udp6} table. TCP sockets
// count only in LISTEN state; every bound UDP socket counts. Malformed lines
// are skipped and counted individually.
func ParseProcNet(r io.Reader, proto firewall.Protocol, ipv6 bool) ([]ListeningSocket, int) {
	var out []ListeningSocket
	skipped := 0

	scanner := bufio.NewScanner(r)
	scanner.Scan() // header
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 10 {
			skipped++
			continue
		}
		if proto == firewall.TCP && fields[3] != tcpListen {
			continue
		}
		addr, port, err := parseHexAddr(fields[1], ipv6)
		if err != nil {
			skipped++
			continue
		}
		if port == 0 {
			continue
		}
		inode, err := strconv.ParseUint(fields[9], 10, 64)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, ListeningSocket{Address: addr, Port: port, Protocol: proto, Inode: inode})
	}
	return out, skipped
}

// parseHexAddr decodes the kernel's "ADDR:PORT" hex notation. IPv4
// addresses are little-endian; IPv6 addresses are four little-endian
// 32-bit words.
func parseHexAddr(raw string, ipv6 bool) (netip.Addr, int, error) {
	ipHex, portHex, ok := strings.Cut(raw, ":")
	if !ok {
		return netip.Addr{}, 0, fmt.Errorf("%w: %q", firewall.ErrMalformedRecord, raw)
	}
	port, err := strconv.ParseUint(portHex, 16, 16)
	if err != nil {
		return netip.Addr{}, 0, fmt.Errorf("%w: port %q", firewall.ErrMalformedRecord, portHex)
	}
	b, err := hex.DecodeString(ipHex)
	if err != nil {
		return netip.Addr{}, 0, fmt.Errorf("%w: address %q", firewall.ErrMalformedRecord, ipHex)
	}

	if ipv6 {
		if len(b) != 16 {
			return netip.Addr{}, 0, fmt.Errorf("%w: ipv6 address length %d", firewall.ErrMalformedRecord, len(b))
		}
		var ip [16]byte
		for i := 0; i < 4; i++ {
			ip[i*4+0] = b[i*4+3]
			ip[i*4+1] = b[i*4+2]
			ip[i*4+2] = b[i*4+1]
			ip[i*4+3] = b[i*4+0]
		}
		return netip.AddrFrom16(ip).Unmap(), int(port), nil
	}

	if len(b) != 4 {
		return netip.Addr{}, 0, fmt.Errorf("%w: ipv4 address length %d", firewall.ErrMalformedRecord, len(b))
	}
	return netip.AddrFrom4([4]byte{b[3], b[2], b[1], b[0]}), int(port), nil
}

// ProcNetSource reads socket tables from procfs and attributes each socket
// to its owning process.
type ProcNetSource struct {
	root     string
	resolver ProcessResolver
	log      *logging.Logger
}

// NewProcNetSource reads tables under root (normally /proc). resolver may be
// nil to skip process attribution.
func NewProcNetSource(root string, resolver ProcessResolver, log *logging.Logger) *ProcNetSource {
	if root == "" {
		root = "/proc"
	}
	if log == nil {
		log = logging.WithComponent("exposure")
	}
	return &ProcNetSource{root: root, resolver: resolver, log: log}
}

// ListeningSockets implements SocketSource.
func (s *ProcNetSource) ListeningSockets(ctx context.Context) (*Scan, error) {
	tables := []struct {
		file  string
		proto firewall.Protocol
		ipv6  bool
	}{
		{"tcp", firewall.TCP, false},
		{"tcp6", firewall.TCP, true},
		{"udp", firewall.UDP, false},
		{"udp6", firewall.UDP, true},
	}

	scan := &Scan{}
	readable := 0
	for _, t := range tables {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := os.Open(filepath.Join(s.root, "net", t.file))
		if err != nil {
			s.log.Debug("socket table unreadable", "table", t.file, "error", err)
			continue
		}
		readable++
		sockets, skipped := ParseProcNet(f, t.proto, t.ipv6)
		f.Close()
		scan.Sockets = append(scan.Sockets, sockets...)
		scan.Skipped += skipped
	}
	if readable == 0 {
		return nil, fmt.Errorf("%w: no tables under %s/net", ErrUnavailable, s.root)
	}
	if scan.Skipped > 0 {
		s.log.Warn("skipped malformed socket lines", "count", scan.Skipped)
	}

	if s.resolver != nil {
		owners, err := s.resolver.SocketOwners(ctx)
		if err != nil {
			s.log.Debug("process attribution unavailable", "error", err)
		} else {
			for i := range scan.Sockets {
				if p, ok := owners[scan.Sockets[i].Inode]; ok {
					scan.Sockets[i].PID = p.PID
					scan.Sockets[i].Process = p.Name
					scan.Sockets[i].Command = p.Command
				}
			}
		}
	}

	scan.Sockets = DedupeSockets(scan.Sockets)
	return scan, nil
}

// DedupeSockets removes repeated (address, port, protocol, pid) tuples, as
// forked servers share one listening socket, and sorts the result.
func DedupeSockets(in []ListeningSocket) []ListeningSocket {
	type key struct {
		addr  netip.Addr
		port  int
		proto firewall.Protocol
		pid   int
	}
	seen := make(map[key]bool, len(in))
	out := make([]ListeningSocket, 0, len(in))
	for _, s := range in {
		k := key{s.Address, s.Port, s.Protocol, s.PID}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	SortSockets(out)
	return out
}

// SortSockets orders by protocol, port, then address.
func SortSockets(s []ListeningSocket) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Protocol != s[j].Protocol {
			return s[i].Protocol < s[j].Protocol
		}
		if s[i].Port != s[j].Port {
			return s[i].Port < s[j].Port
		}
		if c := s[i].Address.Compare(s[j].Address); c != 0 {
			return c < 0
		}
		return s[i].PID < s[j].PID
	})
}
