package host

import (
	"bufio"
	"context"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"

	"hostpulse-agent/internal/model"
)

// ethernetFallbackMBps is reported for eth*/en* devices whose driver does not
// advertise a link speed (100 Mbps).
const ethernetFallbackMBps = 12

// AddressLister returns the addresses bound to each interface, keyed by name.
// Addresses may carry a prefix length.
type AddressLister func(ctx context.Context) (map[string][]string, error)

type NetworkCollector struct {
	sysRoot string
	runner  CommandRunner
	addrs   AddressLister
	logger  *slog.Logger
}

func NewNetworkCollector(opts Options, logger *slog.Logger) *NetworkCollector {
	opts = opts.withDefaults()
	return &NetworkCollector{
		sysRoot: opts.SysRoot,
		runner:  opts.Runner,
		addrs:   opts.AddressLister,
		logger:  logger,
	}
}

// PlatformAddresses lists interface addresses through gopsutil.
func PlatformAddresses(ctx context.Context) (map[string][]string, error) {
	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(ifaces))
	for _, iface := range ifaces {
		for _, addr := range iface.Addrs {
			out[iface.Name] = append(out[iface.Name], addr.Addr)
		}
	}
	return out, nil
}

// ListInterfaces enumerates /sys/class/net minus loopback, docker and veth devices.
func (c *NetworkCollector) ListInterfaces(ctx context.Context) []model.NetworkInterface {
	base := filepath.Join(c.sysRoot, "class/net")
	entries, err := os.ReadDir(base)
	if err != nil {
		c.logger.Warn("network interface table unavailable", "error", sourceError(ErrSourceAbsent, base, err))
		return []model.NetworkInterface{}
	}

	platform, err := c.addrs(ctx)
	if err != nil {
		c.logger.Debug("platform interface address lookup failed", "error", err)
		platform = nil
	}

	out := make([]model.NetworkInterface, 0, len(entries))
	for _, entry := range entries {
		if ctx.Err() != nil {
			return out
		}
		name := strings.TrimSpace(entry.Name())
		if shouldSkipNetworkInterface(name) {
			continue
		}
		dir := filepath.Join(base, name)
		if _, statErr := os.Stat(dir); statErr != nil {
			c.logger.Debug("skipping interface", "interface", name, "error", statErr)
			continue
		}

		ips := filterAddresses(platform[name])
		if len(ips) == 0 {
			ips = c.commandAddresses(ctx, name)
		}
		out = append(out, model.NetworkInterface{
			Name:        name,
			IPAddresses: ips,
			MACAddress:  normalizeMAC(readTrimmed(filepath.Join(dir, "address"))),
			Status:      interfaceStatus(dir),
			SpeedMBps:   interfaceSpeedMBps(name, readTrimmed(filepath.Join(dir, "speed"))),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func shouldSkipNetworkInterface(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return true
	}
	if name == "lo" {
		return true
	}
	if strings.HasPrefix(name, "docker") || strings.HasPrefix(name, "veth") {
		return true
	}
	return false
}

// interfaceStatus refines operstate with the carrier flag when it is readable.
func interfaceStatus(dir string) model.InterfaceStatus {
	operstate := strings.ToLower(readTrimmed(filepath.Join(dir, "operstate")))
	switch operstate {
	case "up":
		switch readTrimmed(filepath.Join(dir, "carrier")) {
		case "1":
			return model.InterfaceStatusConnected
		case "0":
			return model.InterfaceStatusDisconnected
		default:
			return model.InterfaceStatusUp
		}
	case "down", "lowerlayerdown", "notpresent":
		return model.InterfaceStatusDown
	case "dormant":
		return model.InterfaceStatusDormant
	default:
		return model.InterfaceStatusUnknown
	}
}

// normalizeMAC upper-cases a well-formed aa:bb:cc:dd:ee:ff address.
func normalizeMAC(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) != 17 || strings.Count(raw, ":") != 5 {
		return model.UnknownMAC
	}
	return strings.ToUpper(raw)
}

// interfaceSpeedMBps converts the advertised Mbps to MB/s.
func interfaceSpeedMBps(name, raw string) float64 {
	if raw != "" && !strings.HasPrefix(raw, "-") {
		if mbps := parseUintFlexible(raw); mbps > 0 {
			return float64(mbps) / 8
		}
	}
	if strings.HasPrefix(name, "eth") || strings.HasPrefix(name, "en") {
		return ethernetFallbackMBps
	}
	return 0
}

// filterAddresses strips prefixes and drops loopback and IPv6 link-local addresses.
func filterAddresses(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, entry := range raw {
		addr, ok := parseAddress(entry)
		if !ok || addr.IsLoopback() {
			continue
		}
		if addr.Is6() && addr.IsLinkLocalUnicast() {
			continue
		}
		s := addr.String()
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func parseAddress(raw string) (netip.Addr, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return netip.Addr{}, false
	}
	if prefix, err := netip.ParsePrefix(raw); err == nil {
		return prefix.Addr().Unmap(), true
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// commandAddresses parses "ip addr show <iface>" output.
func (c *NetworkCollector) commandAddresses(ctx context.Context, name string) []string {
	out, err := c.runner.Run(ctx, "ip", "addr", "show", name)
	if err != nil {
		c.logger.Debug("ip addr fallback failed", "interface", name, "error", err, "outcome", CommandOutcome(err))
		return []string{}
	}
	return parseIPAddrOutput(string(out))
}

func parseIPAddrOutput(raw string) []string {
	var addrs []string
	s := bufio.NewScanner(strings.NewReader(raw))
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) < 2 {
			continue
		}
		if fields[0] != "inet" && fields[0] != "inet6" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(fields[1]), "fe80:") {
			continue
		}
		addrs = append(addrs, fields[1])
	}
	return filterAddresses(addrs)
}
