//go:build !linux || !cgo

package media

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// Devices is a stub on platforms without capture drivers. Camera/mic
// capture via pion/mediadevices requires V4L2/malgo, which this build
// lacks; use the synthetic source instead.
type Devices struct{}

// NewDevices returns the stub source.
func NewDevices() (*Devices, error) {
	return &Devices{}, nil
}

// NewAPI builds a webrtc API with the default codecs.
func (d *Devices) NewAPI() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	iceTimeouts(&se)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	), nil
}

// Acquire always fails on this platform.
func (d *Devices) Acquire(profile Profile) (*Stream, error) {
	return nil, fmt.Errorf("%w: no capture drivers on this platform", ErrDeviceNotFound)
}

// CaptureScreen always fails on this platform.
func (d *Devices) CaptureScreen() (*Stream, error) {
	return nil, fmt.Errorf("%w: no capture drivers on this platform", ErrScreenUnavailable)
}

// EnumerateDevices lists nothing on this platform.
func EnumerateDevices() []DeviceInfo {
	return nil
}
