package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bryanchriswhite/screenshare/internal/capability"
	"golang.org/x/sync/errgroup"
)

// AudioSource provides the audio tier on top of a video Platform
type AudioSource interface {
	// Available reports whether an audio capture device can be opened
	Available(ctx context.Context) bool

	// OpenStream prepares an audio stream delivering StreamTypeAudio events to sink
	OpenStream(cfg Configuration, sink Sink) (Stream, error)

	Close() error
}

// WithAudio layers an audio source over p. The combined platform reports
// LevelAudioCapture when p supports screen capture and the source is available,
// and opens an audio stream next to the video stream when CapturesAudio is set.
func WithAudio(p Platform, audio AudioSource) Platform {
	if audio == nil {
		return p
	}
	return &audioPlatform{Platform: p, audio: audio}
}

type audioPlatform struct {
	Platform
	audio AudioSource
}

func (a *audioPlatform) Capability(ctx context.Context) (capability.Level, error) {
	level, err := a.Platform.Capability(ctx)
	if err != nil {
		return level, err
	}
	if !level.Supports(capability.LevelScreenCapture) {
		return level, nil
	}
	return capability.Combine(level, a.audio.Available(ctx)), nil
}

func (a *audioPlatform) OpenStream(surface Surface, cfg Configuration, sink Sink) (Stream, error) {
	video, err := a.Platform.OpenStream(surface, cfg, sink)
	if err != nil {
		return nil, err
	}
	if !cfg.CapturesAudio {
		return video, nil
	}

	audio, err := a.audio.OpenStream(cfg, sink)
	if err != nil {
		video.Stop()
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}
	return JoinStreams(video, audio), nil
}

func (a *audioPlatform) Close() error {
	return errors.Join(a.Platform.Close(), a.audio.Close())
}

// JoinStreams runs several streams as one. Start succeeds only when every
// stream is live; a single rejection stops the others.
func JoinStreams(streams ...Stream) Stream {
	return &joinedStream{streams: streams}
}

type joinedStream struct {
	streams  []Stream
	stopOnce sync.Once
	stopErr  error
}

func (j *joinedStream) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range j.streams {
		g.Go(func() error {
			return s.Start(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		j.Stop()
		return err
	}
	return nil
}

func (j *joinedStream) Stop() error {
	j.stopOnce.Do(func() {
		errs := make([]error, 0, len(j.streams))
		for _, s := range j.streams {
			errs = append(errs, s.Stop())
		}
		j.stopErr = errors.Join(errs...)
	})
	return j.stopErr
}
