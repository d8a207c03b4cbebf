package audio

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/gordonklaus/portaudio"
)

// Device describes a PortAudio device able to record.
type Device struct {
	Name       string
	HostAPI    string
	Channels   int
	SampleRate float64
	Default    bool
	Score      int
}

// ListInputs returns the input devices of every host API, ranked the way
// auto-detection would pick them. PortAudio must be initialised.
func ListInputs() ([]Device, error) {
	hosts, err := portaudio.HostApis()
	if err != nil {
		return nil, fmt.Errorf("host apis: %w", err)
	}

	defaultIndex := -1
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultIndex = def.Index
	}

	var devices []Device
	for _, host := range hosts {
		for _, d := range host.Devices {
			if d.MaxInputChannels <= 0 {
				continue
			}
			isDefault := d.Index == defaultIndex
			devices = append(devices, Device{
				Name:       d.Name,
				HostAPI:    host.Name,
				Channels:   d.MaxInputChannels,
				SampleRate: d.DefaultSampleRate,
				Default:    isDefault,
				Score:      scoreInput(d.Name, d.MaxInputChannels, isDefault),
			})
		}
	}
	rankDevices(devices)
	return devices, nil
}

func rankDevices(devices []Device) {
	slices.SortStableFunc(devices, func(a, b Device) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return cmp.Compare(a.HostAPI, b.HostAPI)
	})
}
