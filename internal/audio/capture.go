package audio

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gordonklaus/portaudio"
)

// Capture reads mono float32 PCM from a portaudio input stream and pushes
// it into the ring from the driver callback. The callback never blocks:
// overflow samples are dropped by the ring and show up in its counters.
type Capture struct {
	ring   *Ring
	stream *portaudio.Stream
	device string
	fs     int
}

// NewCapture initializes portaudio and opens an input stream on the device
// whose name contains deviceSubstr (case-insensitive). An empty substring
// selects the default input device.
func NewCapture(ring *Ring, sampleRate int, deviceSubstr string) (*Capture, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}

	c := &Capture{ring: ring, device: deviceSubstr, fs: sampleRate}

	var err error
	if deviceSubstr == "" {
		c.stream, err = portaudio.OpenDefaultStream(1, 0, float64(sampleRate), portaudio.FramesPerBufferUnspecified, c.process)
	} else {
		var dev *portaudio.DeviceInfo
		dev, err = findInputDevice(deviceSubstr)
		if err == nil {
			params := portaudio.LowLatencyParameters(dev, nil)
			params.Input.Channels = 1
			params.SampleRate = float64(sampleRate)
			params.FramesPerBuffer = portaudio.FramesPerBufferUnspecified
			c.stream, err = portaudio.OpenStream(params, c.process)
		}
	}
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open capture stream: %w", err)
	}

	slog.Info("audio capture opened",
		"sample_rate", sampleRate,
		"device", deviceLabel(deviceSubstr))
	return c, nil
}

// Start begins delivering samples to the ring.
func (c *Capture) Start() error {
	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("start capture stream: %w", err)
	}
	return nil
}

// Stop closes the stream and tears down portaudio.
func (c *Capture) Stop() error {
	err := c.stream.Close()
	portaudio.Terminate()
	if err != nil {
		return fmt.Errorf("close capture stream: %w", err)
	}
	slog.Info("audio capture closed")
	return nil
}

func (c *Capture) process(in []float32) {
	c.ring.Push(in)
}

func findInputDevice(substr string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	needle := strings.ToLower(substr)
	for _, d := range devices {
		if d.MaxInputChannels < 1 {
			continue
		}
		if strings.Contains(strings.ToLower(d.Name), needle) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no input device matching %q", substr)
}

func deviceLabel(substr string) string {
	if substr == "" {
		return "default"
	}
	return substr
}
