package server

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/molior-deb/molior/common/models"
)

// serverInfoName is the fixed display name of the server entry in the
// machine list.
const serverInfoName = "molior server"

// serverInfo describes the machine the server itself runs on, in the same
// shape build nodes report themselves in.
func serverInfo() *models.NodeInfo {
	info := &models.NodeInfo{
		ID:       readMachineID(),
		Name:     serverInfoName,
		CPUCores: runtime.NumCPU(),
		Load:     readLoadAverage(),
	}
	info.UptimeSeconds = readUptimeSeconds()
	info.RAMUsed, info.RAMTotal = readMemoryUsage()
	info.DiskUsed, info.DiskTotal = readDiskUsage("/")
	return info
}

func readMachineID() string {
	data, err := os.ReadFile("/etc/machine-id")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func readUptimeSeconds() float64 {
	data, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	uptime, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return uptime
}

func readLoadAverage() []float64 {
	load := []float64{0, 0, 0}
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return load
	}
	fields := strings.Fields(string(data))
	for i := 0; i < len(load) && i < len(fields); i++ {
		if value, err := strconv.ParseFloat(fields[i], 64); err == nil {
			load[i] = value
		}
	}
	return load
}

// readMemoryUsage reports used and total memory in bytes. Used counts what
// is not available for new allocations, matching what free(1) reports.
func readMemoryUsage() (used, total uint64) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, 0
	}
	var available uint64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = kb * 1024
		case "MemAvailable:":
			available = kb * 1024
		}
	}
	if total >= available {
		used = total - available
	}
	return used, total
}
