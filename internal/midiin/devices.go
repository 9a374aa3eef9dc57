package midiin

import (
	"path/filepath"
	"sort"
)

// ListDevices scans for raw MIDI device nodes. Both the OSS-style
// /dev/midi* nodes and the ALSA rawmidi /dev/snd/midiC*D* nodes are
// reported, sorted for stable output.
func ListDevices() ([]string, error) {
	var devices []string
	for _, pattern := range []string{"/dev/midi*", "/dev/snd/midiC*D*"} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		devices = append(devices, matches...)
	}
	sort.Strings(devices)
	return devices, nil
}
