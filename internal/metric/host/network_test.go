package host

import (
	"context"
	"errors"
	"slices"
	"testing"

	"hostpulse-agent/internal/model"
)

func writeInterface(t *testing.T, sysRoot, name string, attrs map[string]string) {
	t.Helper()
	if len(attrs) == 0 {
		attrs = map[string]string{"operstate": "unknown"}
	}
	for file, value := range attrs {
		writeSyntheticFile(t, sysRoot, "class/net/"+name+"/"+file, value+"\n")
	}
}

const enpIPAddrOutput = `2: enp3s0: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1500 qdisc fq_codel state UP group default qlen 1000
    link/ether 52:54:00:12:34:56 brd ff:ff:ff:ff:ff:ff
    inet 10.0.0.5/24 brd 10.0.0.255 scope global dynamic enp3s0
       valid_lft 85000sec preferred_lft 85000sec
    inet6 2001:db8::5/64 scope global dynamic
    inet6 fe80::5054:ff:fe12:3456/64 scope link
`

func TestNetworkListInterfaces(t *testing.T) {
	runner := newFakeRunner().on("ip addr show enp3s0", enpIPAddrOutput)
	opts, _, sysRoot := testOptions(t, runner)
	opts.AddressLister = func(context.Context) (map[string][]string, error) {
		return map[string][]string{
			"eth0":    {"192.168.1.10/24", "fe80::1/64", "127.0.0.1/8", "192.168.1.10/24"},
			"docker0": {"172.17.0.1/16"},
		}, nil
	}

	writeInterface(t, sysRoot, "lo", map[string]string{"operstate": "unknown"})
	writeInterface(t, sysRoot, "docker0", map[string]string{"operstate": "up"})
	writeInterface(t, sysRoot, "veth12ab", map[string]string{"operstate": "up"})
	writeInterface(t, sysRoot, "eth0", map[string]string{
		"operstate": "up", "carrier": "1", "address": "aa:bb:cc:dd:ee:ff", "speed": "1000",
	})
	writeInterface(t, sysRoot, "enp3s0", map[string]string{
		"operstate": "up", "carrier": "0", "address": "52:54:00:12:34:56", "speed": "-1",
	})
	writeInterface(t, sysRoot, "wlan0", map[string]string{"operstate": "dormant", "address": "bogus"})
	writeInterface(t, sysRoot, "bond0", map[string]string{"operstate": "down", "speed": "20000"})

	got := NewNetworkCollector(opts, discardLogger()).ListInterfaces(context.Background())

	names := make([]string, 0, len(got))
	byName := make(map[string]model.NetworkInterface, len(got))
	for _, iface := range got {
		names = append(names, iface.Name)
		byName[iface.Name] = iface
	}
	if want := []string{"bond0", "enp3s0", "eth0", "wlan0"}; !slices.Equal(names, want) {
		t.Fatalf("interfaces = %v, want %v", names, want)
	}

	eth0 := byName["eth0"]
	if eth0.Status != model.InterfaceStatusConnected || eth0.MACAddress != "AA:BB:CC:DD:EE:FF" || eth0.SpeedMBps != 125 {
		t.Fatalf("eth0 = %+v", eth0)
	}
	if !slices.Equal(eth0.IPAddresses, []string{"192.168.1.10"}) {
		t.Fatalf("eth0 addresses = %v", eth0.IPAddresses)
	}

	enp := byName["enp3s0"]
	if enp.Status != model.InterfaceStatusDisconnected || enp.SpeedMBps != ethernetFallbackMBps {
		t.Fatalf("enp3s0 = %+v", enp)
	}
	if !slices.Equal(enp.IPAddresses, []string{"10.0.0.5", "2001:db8::5"}) {
		t.Fatalf("enp3s0 addresses from ip fallback = %v", enp.IPAddresses)
	}

	wlan := byName["wlan0"]
	if wlan.Status != model.InterfaceStatusDormant || wlan.MACAddress != model.UnknownMAC || wlan.SpeedMBps != 0 {
		t.Fatalf("wlan0 = %+v", wlan)
	}
	if wlan.IPAddresses == nil || len(wlan.IPAddresses) != 0 {
		t.Fatalf("wlan0 addresses = %#v, want empty list", wlan.IPAddresses)
	}

	bond := byName["bond0"]
	if bond.Status != model.InterfaceStatusDown || bond.SpeedMBps != 2500 {
		t.Fatalf("bond0 = %+v", bond)
	}
}

func TestNetworkPlatformErrorUsesIPFallback(t *testing.T) {
	runner := newFakeRunner().on("ip addr show enp3s0", enpIPAddrOutput)
	opts, _, sysRoot := testOptions(t, runner)
	opts.AddressLister = func(context.Context) (map[string][]string, error) {
		return nil, errors.New("netlink denied")
	}
	writeInterface(t, sysRoot, "enp3s0", map[string]string{"operstate": "up"})

	got := NewNetworkCollector(opts, discardLogger()).ListInterfaces(context.Background())
	if len(got) != 1 || got[0].Status != model.InterfaceStatusUp || len(got[0].IPAddresses) != 2 {
		t.Fatalf("interfaces = %+v", got)
	}
}

func TestNetworkTableAbsent(t *testing.T) {
	opts, _, _ := testOptions(t, newFakeRunner())
	got := NewNetworkCollector(opts, discardLogger()).ListInterfaces(context.Background())
	if got == nil || len(got) != 0 {
		t.Fatalf("interfaces = %#v, want empty list", got)
	}
}

func TestShouldSkipNetworkInterface(t *testing.T) {
	for _, name := range []string{"lo", "docker0", "docker_gwbridge", "veth9f3a", "", "  "} {
		if !shouldSkipNetworkInterface(name) {
			t.Errorf("%q not skipped", name)
		}
	}
	for _, name := range []string{"eth0", "enp0s31f6", "wlan0", "br0", "lo0"} {
		if shouldSkipNetworkInterface(name) {
			t.Errorf("%q skipped", name)
		}
	}
}

func TestNormalizeMAC(t *testing.T) {
	cases := map[string]string{
		"aa:bb:cc:dd:ee:ff":  "AA:BB:CC:DD:EE:FF",
		" 00:1a:2b:3c:4d:5e": "00:1A:2B:3C:4D:5E",
		"aa:bb:cc:dd:ee":     model.UnknownMAC,
		"aa-bb-cc-dd-ee-ff":  model.UnknownMAC,
		"":                   model.UnknownMAC,
	}
	for in, want := range cases {
		if got := normalizeMAC(in); got != want {
			t.Errorf("normalizeMAC(%q) = %q, want %q", in, got, want)
		}
	}
}
