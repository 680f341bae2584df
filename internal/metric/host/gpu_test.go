package host

import (
	"context"
	"sync"
	"testing"

	"hostpulse-agent/internal/model"
)

const (
	nvidiaStaticQuery  = "nvidia-smi --query-gpu=name,memory.total,driver_version --format=csv,noheader,nounits"
	nvidiaDynamicQuery = "nvidia-smi --query-gpu=name,memory.used,memory.free,memory.total,utilization.gpu --format=csv,noheader,nounits"
	rocmStaticQuery    = "rocm-smi --showproductname --showmeminfo vram --json"
	rocmDynamicQuery   = "rocm-smi --showproductname --showuse --showmeminfo vram --json"
	intelTopQuery      = "intel_gpu_top -s 500 -o -"
)

const mixedLspci = `00:02.0 VGA compatible controller [0300]: Intel Corporation UHD Graphics 620 [8086:5917] (rev 07)
00:1f.3 Audio device [0403]: Intel Corporation Sunrise Point-LP HD Audio [8086:9d71] (rev 21)
01:00.0 3D controller [0302]: NVIDIA Corporation GA102 [GeForce RTX 3080] [10de:2206] (rev a1)
02:00.0 VGA compatible controller [0300]: NVIDIA Corporation TU104 [GeForce RTX 2080] [10de:1e82] (rev a1)
03:00.0 Display controller [0380]: Advanced Micro Devices, Inc. [AMD/ATI] Navi 21 [Radeon RX 6800/6800 XT / 6900 XT] [1002:73bf] (rev c1)
`

func writeDRMCard(t *testing.T, sysRoot, card, vendor, device string, extra map[string]string) {
	t.Helper()
	base := "class/drm/" + card + "/device/"
	writeSyntheticFile(t, sysRoot, base+"vendor", vendor+"\n")
	writeSyntheticFile(t, sysRoot, base+"device", device+"\n")
	for file, value := range extra {
		writeSyntheticFile(t, sysRoot, base+file, value+"\n")
	}
}

func vendorsOf(devices []model.GpuDevice) map[model.GpuVendor]int {
	out := make(map[model.GpuVendor]int)
	for _, d := range devices {
		out[d.Vendor]++
	}
	return out
}

func TestGPUNoToolsNoDevices(t *testing.T) {
	opts, _, _ := testOptions(t, newFakeRunner())
	c := NewGPUCollector(opts, discardLogger())

	devices := c.ListDevices(context.Background())
	usage := c.ListUtilization(context.Background())
	if devices == nil || len(devices) != 0 {
		t.Fatalf("devices = %#v, want empty list", devices)
	}
	if usage == nil || len(usage) != 0 {
		t.Fatalf("usage = %#v, want empty list", usage)
	}
}

func TestGPUNvidiaCLIAndGenericFallback(t *testing.T) {
	runner := newFakeRunner().
		on(nvidiaStaticQuery, "NVIDIA GeForce RTX 3080, 10240, 535.54.03\n").
		on(nvidiaDynamicQuery, "NVIDIA GeForce RTX 3080, 2048, 8192, 10240, 37\n").
		on("lspci -nn", mixedLspci)
	opts, procRoot, _ := testOptions(t, runner)
	writeSyntheticFile(t, procRoot, "driver/nvidia/gpus/0000:01:00.0/information", "Model: \t\t NVIDIA proc entry\n")
	c := NewGPUCollector(opts, discardLogger())

	devices := c.ListDevices(context.Background())
	if len(devices) != 3 {
		t.Fatalf("devices = %+v, want nvidia-smi entry plus one intel and one amd from lspci", devices)
	}
	if devices[0].Model != "NVIDIA GeForce RTX 3080" || devices[0].MemoryMB != 10240 || devices[0].Vendor != model.GpuVendorNvidia {
		t.Fatalf("nvidia device = %+v", devices[0])
	}
	counts := vendorsOf(devices)
	if counts[model.GpuVendorNvidia] != 1 || counts[model.GpuVendorIntel] != 1 || counts[model.GpuVendorAmd] != 1 {
		t.Fatalf("vendor counts = %v", counts)
	}
	if runner.called("rocm-smi") == false {
		t.Fatalf("amd chain was not attempted")
	}

	usage := c.ListUtilization(context.Background())
	if len(usage) != 1 {
		t.Fatalf("usage = %+v, want only the measurable nvidia gpu", usage)
	}
	if usage[0].CoreUsagePercent != 37 || usage[0].MemoryUsedMB != 2048 || usage[0].MemoryFreeMB != 8192 || usage[0].MemoryUsagePercent != 20 {
		t.Fatalf("nvidia usage = %+v", usage[0])
	}
}

func TestGPUNvidiaProcFallback(t *testing.T) {
	runner := newFakeRunner().fail(nvidiaStaticQuery, OutcomeTimeout).fail(nvidiaDynamicQuery, OutcomeNonZeroExit)
	opts, procRoot, _ := testOptions(t, runner)
	writeSyntheticFile(t, procRoot, "driver/nvidia/gpus/0000:01:00.0/information",
		"Model: \t\t Tesla T4\nIRQ:   \t\t 42\n")
	writeSyntheticFile(t, procRoot, "driver/nvidia/gpus/0000:02:00.0/information", "IRQ: 43\n")
	c := NewGPUCollector(opts, discardLogger())

	devices := c.ListDevices(context.Background())
	if len(devices) != 2 || devices[0].Model != "Tesla T4" || devices[1].Model != "NVIDIA GPU" {
		t.Fatalf("devices = %+v", devices)
	}
	usage := c.ListUtilization(context.Background())
	if len(usage) != 2 || usage[0].CoreUsagePercent != 0 || usage[0].MemoryUsagePercent != 0 {
		t.Fatalf("usage = %+v, want zero load entries", usage)
	}
}

func TestGPUAMDSysfs(t *testing.T) {
	opts, _, sysRoot := testOptions(t, newFakeRunner())
	writeDRMCard(t, sysRoot, "card0", "0x1002", "0x73bf", map[string]string{
		"mem_info_vram_total": "17163091968",
		"mem_info_vram_used":  "1073741824",
		"gpu_busy_percent":    "42",
	})
	writeDRMCard(t, sysRoot, "card1", "0x1002", "0x1234", map[string]string{
		"hwmon/hwmon3/gpu_busy_percent": "250",
	})
	writeSyntheticFile(t, sysRoot, "class/drm/card0-DP-1/status", "connected\n")
	writeSyntheticFile(t, sysRoot, "class/drm/renderD128/dev", "226:128\n")
	writeSyntheticFile(t, sysRoot, "class/drm/version", "drm 1.1.0\n")
	c := NewGPUCollector(opts, discardLogger())

	devices := c.ListDevices(context.Background())
	if len(devices) != 2 {
		t.Fatalf("devices = %+v", devices)
	}
	if devices[0].Model != "AMD Radeon RX 6800/6900" || devices[0].MemoryMB != 16368 {
		t.Fatalf("card0 = %+v", devices[0])
	}
	if devices[1].Model != "AMD GPU (Device ID: 0x1234)" || devices[1].MemoryMB != 0 {
		t.Fatalf("card1 = %+v", devices[1])
	}

	usage := c.ListUtilization(context.Background())
	if len(usage) != 2 {
		t.Fatalf("usage = %+v", usage)
	}
	if usage[0].CoreUsagePercent != 42 || usage[0].MemoryUsedMB != 1024 || usage[0].MemoryFreeMB != 15344 {
		t.Fatalf("card0 usage = %+v", usage[0])
	}
	if usage[1].CoreUsagePercent != 100 {
		t.Fatalf("card1 busy from hwmon = %v, want clamp to 100", usage[1].CoreUsagePercent)
	}
}

func TestGPUAMDRocmSMI(t *testing.T) {
	static := `{"card0": {"Card series": "Radeon RX 7900 XTX", "VRAM Total Memory (B)": "25753026560"}}`
	dynamic := `{"card0": {"Card series": "Radeon RX 7900 XTX", "GPU use (%)": "15",
		"VRAM Total Memory (B)": "25753026560", "VRAM Total Used Memory (B)": "1073741824"},
		"system": {"Driver version": "6.7.0"}}`
	runner := newFakeRunner().on(rocmStaticQuery, static).on(rocmDynamicQuery, dynamic)
	opts, _, sysRoot := testOptions(t, runner)
	writeDRMCard(t, sysRoot, "card0", "0x1002", "0x744c", nil)
	c := NewGPUCollector(opts, discardLogger())

	devices := c.ListDevices(context.Background())
	if len(devices) != 1 || devices[0].Model != "Radeon RX 7900 XTX" || devices[0].MemoryMB != 24560 {
		t.Fatalf("devices = %+v", devices)
	}
	usage := c.ListUtilization(context.Background())
	if len(usage) != 1 || usage[0].CoreUsagePercent != 15 || usage[0].MemoryUsedMB != 1024 || usage[0].MemoryFreeMB != 23536 {
		t.Fatalf("usage = %+v", usage)
	}
}

func TestGPUIntel(t *testing.T) {
	runner := newFakeRunner().on(intelTopQuery,
		"Freq MHz      IRQ RC6 Power W\n      Render/3D    12.00% |\n      Render/3D    23.45% |\n       Video     0.00% |\n")
	opts, _, sysRoot := testOptions(t, runner)
	writeDRMCard(t, sysRoot, "card0", "0x8086", "0x5917", nil)
	c := NewGPUCollector(opts, discardLogger())

	devices := c.ListDevices(context.Background())
	if len(devices) != 1 || devices[0].Model != intelModelName || devices[0].MemoryMB != 0 || devices[0].Vendor != model.GpuVendorIntel {
		t.Fatalf("devices = %+v", devices)
	}
	usage := c.ListUtilization(context.Background())
	if len(usage) != 1 || usage[0].CoreUsagePercent != 23.45 {
		t.Fatalf("usage = %+v", usage)
	}
}

func TestGPUIntelSampleWindowOutputAccepted(t *testing.T) {
	runner := newFakeRunner()
	runner.script[intelTopQuery] = scriptedResult{
		out: []byte("Render/3D 7.50% |\n"),
		err: &CommandError{Tool: "intel_gpu_top", Outcome: OutcomeTimeout},
	}
	opts, _, sysRoot := testOptions(t, runner)
	writeDRMCard(t, sysRoot, "card0", "0x8086", "0x9a49", nil)
	c := NewGPUCollector(opts, discardLogger())

	usage := c.ListUtilization(context.Background())
	if len(usage) != 1 || usage[0].CoreUsagePercent != 7.5 {
		t.Fatalf("usage = %+v", usage)
	}
}

func TestGPUIntelToolMissingReportsZero(t *testing.T) {
	opts, _, sysRoot := testOptions(t, newFakeRunner())
	writeDRMCard(t, sysRoot, "card0", "0x8086", "0x9a49", nil)
	c := NewGPUCollector(opts, discardLogger())

	usage := c.ListUtilization(context.Background())
	if len(usage) != 1 || usage[0].CoreUsagePercent != 0 {
		t.Fatalf("usage = %+v", usage)
	}
}

func TestGPUGenericProbeSkipsVendorsAlreadyFound(t *testing.T) {
	runner := newFakeRunner().on("lspci -nn", mixedLspci)
	opts, _, sysRoot := testOptions(t, runner)
	writeDRMCard(t, sysRoot, "card0", "0x8086", "0x5917", nil)
	c := NewGPUCollector(opts, discardLogger())

	devices := c.ListDevices(context.Background())
	counts := vendorsOf(devices)
	if len(devices) != 3 || counts[model.GpuVendorIntel] != 1 || counts[model.GpuVendorNvidia] != 1 || counts[model.GpuVendorAmd] != 1 {
		t.Fatalf("devices = %+v", devices)
	}
	if devices[0].Model != intelModelName {
		t.Fatalf("specific intel probe lost precedence: %+v", devices[0])
	}
	if devices[1].Model != "NVIDIA Corporation GA102 [GeForce RTX 3080]" {
		t.Fatalf("first generic nvidia entry = %+v", devices[1])
	}
}

func TestParseLspciGPUs(t *testing.T) {
	raw := mixedLspci +
		"04:00.0 VGA compatible controller: Matrox Electronics Systems Ltd. G200eR2 (rev 01)\n" +
		"05:00.0 VGA compatible controller: NVIDIA Corporation GK208B [GeForce GT 710]\n"
	got := parseLspciGPUs(raw)
	want := []model.GpuDevice{
		{Model: "Intel Corporation UHD Graphics 620", Vendor: model.GpuVendorIntel},
		{Model: "NVIDIA Corporation GA102 [GeForce RTX 3080]", Vendor: model.GpuVendorNvidia},
		{Model: "NVIDIA Corporation TU104 [GeForce RTX 2080]", Vendor: model.GpuVendorNvidia},
		{Model: "Advanced Micro Devices, Inc. [AMD/ATI] Navi 21 [Radeon RX 6800/6800 XT / 6900 XT]", Vendor: model.GpuVendorAmd},
		{Model: "Matrox Electronics Systems Ltd. G200eR2", Vendor: model.GpuVendorUnknown},
		{Model: "NVIDIA Corporation GK208B [GeForce GT 710]", Vendor: model.GpuVendorNvidia},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d devices %+v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("device %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestGPUConcurrentCallersShareResults(t *testing.T) {
	runner := newFakeRunner().on(nvidiaStaticQuery, "Tesla T4, 15360, 535.54.03\n")
	opts, _, _ := testOptions(t, runner)
	c := NewGPUCollector(opts, discardLogger())

	var wg sync.WaitGroup
	results := make([][]model.GpuDevice, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.ListDevices(context.Background())
		}(i)
	}
	wg.Wait()
	for i, devices := range results {
		if len(devices) != 1 || devices[0].Model != "Tesla T4" {
			t.Fatalf("caller %d devices = %+v", i, devices)
		}
	}
}

func TestGPUCancelledCallReturnsEmpty(t *testing.T) {
	runner := newFakeRunner().on(nvidiaStaticQuery, "Tesla T4, 15360, 535.54.03\n")
	opts, _, _ := testOptions(t, runner)
	c := NewGPUCollector(opts, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if devices := c.ListDevices(ctx); devices == nil || len(devices) != 0 {
		t.Fatalf("devices = %#v, want empty list", devices)
	}
}
