//go:build linux && cgo

package media

import (
	"fmt"
	"strings"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// Devices captures from real hardware via pion/mediadevices (V4L2 and
// malgo on Linux).
type Devices struct {
	selector *mediadevices.CodecSelector
}

// NewDevices builds the hardware capture source with VP8+Opus encoders.
func NewDevices() (*Devices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	return &Devices{selector: selector}, nil
}

// NewAPI builds a webrtc API whose media engine carries the encoder
// codecs, so captured tracks can be added to its peer connections.
func (d *Devices) NewAPI() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	d.selector.Populate(mediaEngine)

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

// Acquire captures camera and microphone at the requested profile.
func (d *Devices) Acquire(profile Profile) (*Stream, error) {
	constraints := mediadevices.MediaStreamConstraints{
		Codec: d.selector,
		Video: func(c *mediadevices.MediaTrackConstraints) {
			// Exclude MJPEG — some cameras expose an MJPEG V4L2 node that
			// produces malformed JPEG frames, which poisons the VP8 encoder.
			// Raw formats only.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			if !profile.Generic() {
				c.Width = prop.IntRanged{Ideal: profile.Width}
				c.Height = prop.IntRanged{Ideal: profile.Height}
			}
		},
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, classifyCaptureError(err)
	}

	return wrapStream(stream), nil
}

// CaptureScreen captures the screen as a video-only stream.
func (d *Devices) CaptureScreen() (*Stream, error) {
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: d.selector,
		Video: func(c *mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScreenUnavailable, err)
	}

	return wrapStream(stream), nil
}

func wrapStream(stream mediadevices.MediaStream) *Stream {
	var tracks []*Track
	for _, mdTrack := range stream.GetTracks() {
		wrapped := NewTrack(mdTrack.Kind(), mdTrack, mdTrack.Close)
		mdTrack.OnEnded(func(error) {
			wrapped.FireEnded()
		})
		tracks = append(tracks, wrapped)
	}
	return NewStream(tracks...)
}

// classifyCaptureError maps driver errors onto the package sentinels so
// the call screen can tell the user what to fix.
func classifyCaptureError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case strings.Contains(msg, "busy"):
		return fmt.Errorf("%w: %v", ErrDeviceBusy, err)
	default:
		return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	}
}

// EnumerateDevices lists the capture hardware visible to the drivers.
func EnumerateDevices() []DeviceInfo {
	var infos []DeviceInfo
	for _, d := range mediadevices.EnumerateDevices() {
		kind := "other"
		switch d.Kind {
		case mediadevices.VideoInput:
			kind = "camera"
		case mediadevices.AudioInput:
			kind = "microphone"
		}
		infos = append(infos, DeviceInfo{
			ID:    d.DeviceID,
			Kind:  kind,
			Label: d.Label,
		})
	}
	return infos
}
