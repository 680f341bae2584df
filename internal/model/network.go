package model

type InterfaceStatus string

const (
	InterfaceStatusUp           InterfaceStatus = "Up"
	InterfaceStatusDown         InterfaceStatus = "Down"
	InterfaceStatusConnected    InterfaceStatus = "Connected"
	InterfaceStatusDisconnected InterfaceStatus = "Disconnected"
	InterfaceStatusDormant      InterfaceStatus = "Dormant"
	InterfaceStatusUnknown      InterfaceStatus = "Unknown"
)

// UnknownMAC is reported when the hardware address is missing or malformed.
const UnknownMAC = "Unknown"

type NetworkInterface struct {
	Name        string          `json:"name"`
	IPAddresses []string        `json:"ip_addresses"`
	MACAddress  string          `json:"mac_address"`
	Status      InterfaceStatus `json:"status"`
	SpeedMBps   float64         `json:"speed_mbps"`
}
