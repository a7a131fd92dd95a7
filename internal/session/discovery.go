package session

import (
	"strings"

	"go.bug.st/serial/enumerator"
)

// Channel identifies which logical link a session serves. The device channel
// is the USB connection to the flight computer; the radio-link channel is
// the LoRa ground modem.
type Channel string

const (
	ChannelDevice    Channel = "device"
	ChannelRadioLink Channel = "radio-link"
)

// USBID is a vendor/product identifier pair, upper-case hex without the 0x
// prefix, as reported by the USB descriptor.
type USBID struct {
	VID string `json:"vid"`
	PID string `json:"pid"`
}

// DefaultUSBIDs maps each logical channel to the identifier pair of its
// STM32 CDC interface.
func DefaultUSBIDs() map[Channel]USBID {
	return map[Channel]USBID{
		ChannelDevice:    {VID: "0483", PID: "5740"},
		ChannelRadioLink: {VID: "0483", PID: "5741"},
	}
}

// PortLister enumerates attached serial ports. The default implementation
// queries the OS through go.bug.st/serial/enumerator; tests substitute a
// fixed list.
type PortLister func() ([]*enumerator.PortDetails, error)

// FindPorts scans attached USB serial ports and groups the matching port
// names by logical channel. Channels with no attached hardware map to an
// empty slice.
func FindPorts(ids map[Channel]USBID) (map[Channel][]string, error) {
	return findPortsWith(enumerator.GetDetailedPortsList, ids)
}

func findPortsWith(list PortLister, ids map[Channel]USBID) (map[Channel][]string, error) {
	found := make(map[Channel][]string, len(ids))
	for ch := range ids {
		found[ch] = nil
	}

	ports, err := list()
	if err != nil {
		return found, err
	}

	for _, port := range ports {
		if !port.IsUSB {
			continue
		}
		for ch, id := range ids {
			if strings.EqualFold(port.VID, id.VID) && strings.EqualFold(port.PID, id.PID) {
				found[ch] = append(found[ch], port.Name)
			}
		}
	}
	return found, nil
}
