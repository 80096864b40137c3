package audio

import (
	"sync"
	"time"
)

// NullOutput renders into a discarded buffer on a wall-clock ticker.
// It keeps the playback clock and voice lifecycle without a speaker.
type NullOutput struct {
	*Mixer
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewNullOutput starts a silent output clock
func NewNullOutput(config Config) *NullOutput {
	if config.FrameSize <= 0 {
		config.FrameSize = 480
	}
	if config.Channels <= 0 {
		config.Channels = 1
	}

	o := &NullOutput{
		Mixer: NewMixer(config.SampleRate, config.Channels),
		stop:  make(chan struct{}),
	}

	tick := time.Duration(int64(config.FrameSize) * int64(time.Second) / int64(config.SampleRate))
	buf := make([]float32, config.FrameSize*config.Channels)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				o.Mixer.Render(buf)
			case <-o.stop:
				return
			}
		}
	}()

	return o
}

// Close stops the clock
func (o *NullOutput) Close() error {
	o.once.Do(func() {
		close(o.stop)
		o.wg.Wait()
		o.Mixer.Close()
	})
	return nil
}
