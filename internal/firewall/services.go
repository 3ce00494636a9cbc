package firewall

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

func tcp(p int) PortSpec { return PortSpec{Range: SinglePort(p), Protocol: TCP} }
func udp(p int) PortSpec { return PortSpec{Range: SinglePort(p), Protocol: UDP} }

// BuiltinServices is the fallback catalog used when no firewalld service
// definitions can be read from disk. Names follow firewalld.
var BuiltinServices = map[string]ServiceDefinition{
	"ssh":                 {Name: "ssh", Description: "Secure Shell", Ports: []PortSpec{tcp(22)}},
	"http":                {Name: "http", Description: "HTTP Web Traffic", Ports: []PortSpec{tcp(80)}},
	"https":               {Name: "https", Description: "HTTPS Secure Web Traffic", Ports: []PortSpec{tcp(443)}},
	"dns":                 {Name: "dns", Description: "Domain Name System", Ports: []PortSpec{tcp(53), udp(53)}},
	"ntp":                 {Name: "ntp", Description: "Network Time Protocol", Ports: []PortSpec{udp(123)}},
	"dhcp":                {Name: "dhcp", Description: "Dynamic Host Configuration Protocol", Ports: []PortSpec{udp(67)}},
	"dhcpv6-client":       {Name: "dhcpv6-client", Description: "DHCPv6 client", Ports: []PortSpec{udp(546)}},
	"mdns":                {Name: "mdns", Description: "Multicast DNS", Ports: []PortSpec{udp(5353)}},
	"ipp-client":          {Name: "ipp-client", Description: "Internet Printing Protocol client", Ports: []PortSpec{udp(631)}},
	"samba-client":        {Name: "samba-client", Description: "Samba client", Ports: []PortSpec{udp(137), udp(138)}},
	"samba":               {Name: "samba", Description: "Samba file sharing", Ports: []PortSpec{udp(137), udp(138), tcp(139), tcp(445)}},
	"cockpit":             {Name: "cockpit", Description: "Cockpit web console", Ports: []PortSpec{tcp(9090)}},
	"ftp":                 {Name: "ftp", Description: "File Transfer Protocol", Ports: []PortSpec{tcp(21)}},
	"tftp":                {Name: "tftp", Description: "Trivial File Transfer Protocol", Ports: []PortSpec{udp(69)}},
	"smtp":                {Name: "smtp", Description: "Mail (SMTP)", Ports: []PortSpec{tcp(25)}},
	"imaps":               {Name: "imaps", Description: "IMAP over SSL", Ports: []PortSpec{tcp(993)}},
	"syslog":              {Name: "syslog", Description: "System Logging", Ports: []PortSpec{udp(514)}},
	"snmp":                {Name: "snmp", Description: "Simple Network Management Protocol", Ports: []PortSpec{udp(161)}},
	"postgresql":          {Name: "postgresql", Description: "PostgreSQL database", Ports: []PortSpec{tcp(5432)}},
	"mysql":               {Name: "mysql", Description: "MySQL database", Ports: []PortSpec{tcp(3306)}},
	"kdeconnect":          {Name: "kdeconnect", Description: "KDE Connect", Ports: []PortSpec{{Range: PortRange{Start: 1714, End: 1764}, Protocol: TCP}, {Range: PortRange{Start: 1714, End: 1764}, Protocol: UDP}}},
	"wireguard":           {Name: "wireguard", Description: "WireGuard VPN", Ports: []PortSpec{udp(51820)}},
	"netbios-ns":          {Name: "netbios-ns", Description: "NetBIOS Name Service", Ports: []PortSpec{udp(137)}},
	"freeipa-ldap":        {Name: "freeipa-ldap", Description: "FreeIPA LDAP", Includes: []string{"http", "https"}, Ports: []PortSpec{tcp(88), udp(88), tcp(389), tcp(464), udp(464)}},
	"libvirt":             {Name: "libvirt", Description: "Virtualization host", Ports: []PortSpec{tcp(16509)}},
	"prometheus":          {Name: "prometheus", Description: "Prometheus metrics", Ports: []PortSpec{tcp(9090)}},
	"ssdp":                {Name: "ssdp", Description: "Simple Service Discovery Protocol", Ports: []PortSpec{udp(1900)}},
	"rdp":                 {Name: "rdp", Description: "Remote Desktop Protocol", Ports: []PortSpec{tcp(3389)}},
	"vnc-server":          {Name: "vnc-server", Description: "VNC server", Ports: []PortSpec{{Range: PortRange{Start: 5900, End: 5903}, Protocol: TCP}}},
	"synergy":             {Name: "synergy", Description: "Synergy keyboard and mouse sharing", Ports: []PortSpec{tcp(24800)}},
	"transmission-client": {Name: "transmission-client", Description: "Transmission BitTorrent client", Ports: []PortSpec{tcp(51413), udp(51413)}},
}

// BuiltinCatalog returns a copy of BuiltinServices.
func BuiltinCatalog() map[string]ServiceDefinition {
	out := make(map[string]ServiceDefinition, len(BuiltinServices))
	for k, v := range BuiltinServices {
		out[k] = v
	}
	return out
}

var (
	systemServicesOnce sync.Once
	systemServices     map[string]string
)

// WellKnownName returns the /etc/services name for port/proto, or "".
func WellKnownName(port int, proto Protocol) string {
	systemServicesOnce.Do(func() {
		f, err := os.Open("/etc/services")
		if err != nil {
			systemServices = map[string]string{}
			return
		}
		defer f.Close()
		systemServices = parseServicesFile(f)
	})
	if name, ok := systemServices[strconv.Itoa(port)+"/"+string(proto)]; ok {
		return name
	}
	for _, name := range sortedKeys(BuiltinServices) {
		def := BuiltinServices[name]
		if len(def.Ports) == 1 && def.Ports[0].Protocol == proto && def.Ports[0].Range == SinglePort(port) {
			return name
		}
	}
	return ""
}

// parseServicesFile reads the services(5) format:
//
//	service-name  port/proto  [aliases...]  # comment
//
// The first name listed for a port/proto pair wins.
func parseServicesFile(r io.Reader) map[string]string {
	out := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx != -1 {
			line = line[:idx]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		rng, proto, err := ParsePortSpec(fields[1])
		if err != nil || !rng.IsSingle() {
			continue
		}
		key := strconv.Itoa(rng.Start) + "/" + string(proto)
		if _, ok := out[key]; !ok {
			out[key] = fields[0]
		}
	}
	return out
}
