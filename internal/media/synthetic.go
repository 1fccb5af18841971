package media

import (
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

const (
	syntheticVideoInterval = 33 * time.Millisecond // ~30 fps
	syntheticAudioInterval = 20 * time.Millisecond // one Opus frame
)

// Synthetic generates placeholder audio/video without touching hardware.
// It stands in for a camera on machines without devices and keeps the
// consultation flow testable end to end.
type Synthetic struct{}

// NewSynthetic builds the synthetic source.
func NewSynthetic() *Synthetic {
	return &Synthetic{}
}

// NewAPI builds a webrtc API with the default codecs, which cover the
// VP8/Opus sample tracks this source produces.
func (s *Synthetic) NewAPI() (*webrtc.API, error) {
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

// Acquire produces a video track with a slowly shifting pattern and a
// silent audio track.
func (s *Synthetic) Acquire(profile Profile) (*Stream, error) {
	video, err := syntheticTrack(webrtc.MimeTypeVP8, "video", "synthetic-camera", syntheticVideoInterval)
	if err != nil {
		return nil, err
	}

	audio, err := syntheticTrack(webrtc.MimeTypeOpus, "audio", "synthetic-mic", syntheticAudioInterval)
	if err != nil {
		video.Stop()
		return nil, err
	}

	return NewStream(video, audio), nil
}

// CaptureScreen produces a second pattern track standing in for a screen
// grab.
func (s *Synthetic) CaptureScreen() (*Stream, error) {
	screen, err := syntheticTrack(webrtc.MimeTypeVP8, "video", "synthetic-screen", syntheticVideoInterval)
	if err != nil {
		return nil, err
	}
	return NewStream(screen), nil
}

// syntheticTrack builds a sample track fed by a ticker goroutine until
// the track is stopped.
func syntheticTrack(mimeType, id, label string, interval time.Duration) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mimeType},
		id,
		label,
	)
	if err != nil {
		return nil, err
	}

	kind := webrtc.RTPCodecTypeAudio
	if mimeType == webrtc.MimeTypeVP8 {
		kind = webrtc.RTPCodecTypeVideo
	}

	done := make(chan struct{})
	track := NewTrack(kind, local, func() error {
		select {
		case <-done:
		default:
			close(done)
		}
		return nil
	})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var seq byte
		payload := make([]byte, 64)
		for {
			select {
			case <-done:
				track.FireEnded()
				return
			case <-ticker.C:
				if !track.Enabled() {
					continue
				}
				// Shift the pattern so each sample differs, mimicking a
				// moving image.
				seq++
				for i := range payload {
					payload[i] = seq + byte(i)
				}
				local.WriteSample(pionmedia.Sample{
					Data:     payload,
					Duration: interval,
				})
			}
		}
	}()

	return track, nil
}
