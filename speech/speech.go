// Package speech streams microphone audio to AssemblyAI's realtime
// transcription endpoint and forwards transcript events to a callback.
package speech

import (
	"sync"
	"sync/atomic"
	"time"

	"prompter/audio"
	"prompter/log"
)

const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1

	defaultChunkDuration = 250 * time.Millisecond
	defaultEndSilenceMs  = 800
	reconnectDelay       = 1 * time.Second
)

type Config struct {
	APIKey        string
	URL           string        // endpoint override, defaults to AssemblyAI
	SampleRate    int           // default 16000
	Channels      int           // default 1
	ChunkDuration time.Duration // default 250ms
	EndSilenceMs  int           // end-of-utterance silence threshold, default 800
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = assemblyAIURL
	}
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Channels == 0 {
		c.Channels = DefaultChannels
	}
	if c.ChunkDuration == 0 {
		c.ChunkDuration = defaultChunkDuration
	}
	if c.EndSilenceMs == 0 {
		c.EndSilenceMs = defaultEndSilenceMs
	}
	return c
}

func (c Config) chunkBytes() int {
	return c.SampleRate * c.Channels * 2 * int(c.ChunkDuration/time.Millisecond) / 1000
}

// TranscriptFunc receives transcript fragments. Final fragments have
// passed the noise filter; partials are forwarded as-is for live display.
type TranscriptFunc func(text string, final bool)

// Event is a single transcript update from the provider.
type Event struct {
	Text  string
	Final bool
}

// Handle joins the capture and connection loops started by Start.
type Handle struct {
	captureDone <-chan struct{}
	connDone    <-chan struct{}
}

// Join waits for both background loops to exit. A loop that does not
// stop within the timeout is logged, not treated as an error.
func (h *Handle) Join(timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for _, ch := range []<-chan struct{}{h.captureDone, h.connDone} {
		select {
		case <-ch:
		case <-deadline.C:
			log.Warn("speech loops did not stop within timeout")
			return false
		}
	}
	return true
}

func doneHandle() *Handle {
	closed := make(chan struct{})
	close(closed)
	return &Handle{captureDone: closed, connDone: closed}
}

// Start opens a streaming transcription session: one goroutine owns the
// capture device, another owns the socket connection (reconnecting with a
// fixed backoff while stop is unset). A missing API key is reported
// synchronously through the callback and nothing is started. Device errors
// go to the log sink; the process survives.
func Start(cfg Config, actx audio.Context, device *audio.DeviceInfo, onTranscript TranscriptFunc, stop <-chan struct{}) *Handle {
	cfg = cfg.withDefaults()

	if cfg.APIKey == "" {
		log.Error("AssemblyAI API key is missing")
		onTranscript("Error: AssemblyAI API key not provided.", true)
		return doneHandle()
	}

	s := &stream{
		cfg:          cfg,
		onTranscript: onTranscript,
		stop:         stop,
		audioCh:      make(chan []byte, 128),
	}

	capture, err := actx.NewCapture(device, audio.CaptureConfig{
		SampleRate: uint32(cfg.SampleRate),
		Channels:   uint32(cfg.Channels),
	}, s.feed)
	if err != nil {
		log.Errorf("capture device init error: %v", err)
		return doneHandle()
	}

	captureDone := make(chan struct{})
	connDone := make(chan struct{})
	go s.runCapture(capture, captureDone)
	go s.runConnLoop(connDone)

	return &Handle{captureDone: captureDone, connDone: connDone}
}

type stream struct {
	cfg          Config
	onTranscript TranscriptFunc
	stop         <-chan struct{}
	audioCh      chan []byte
	stopped      atomic.Bool

	feedMu  sync.Mutex
	feedBuf []byte
	dropped atomic.Uint64
}

// feed runs on the capture thread: buffer PCM and emit fixed-size chunks.
// Chunks are dropped, not queued unboundedly, while the socket is down.
func (s *stream) feed(data []byte, _ uint32) {
	if s.stopped.Load() {
		return
	}

	s.feedMu.Lock()
	s.feedBuf = append(s.feedBuf, data...)
	var chunks [][]byte
	chunkBytes := s.cfg.chunkBytes()
	for len(s.feedBuf) >= chunkBytes {
		chunk := make([]byte, chunkBytes)
		copy(chunk, s.feedBuf[:chunkBytes])
		s.feedBuf = s.feedBuf[chunkBytes:]
		chunks = append(chunks, chunk)
	}
	s.feedMu.Unlock()

	for _, chunk := range chunks {
		select {
		case s.audioCh <- chunk:
		default:
			if s.dropped.Add(1)%100 == 1 {
				log.Warn("audio chunk dropped: transcription socket backlogged")
			}
		}
	}
}

func (s *stream) runCapture(capture audio.CaptureDevice, done chan<- struct{}) {
	defer close(done)
	if err := capture.Start(); err != nil {
		log.Errorf("capture start error: %v", err)
		return
	}
	log.Info("recording_device: " + capture.Name())
	<-s.stop
	s.stopped.Store(true)
	capture.Stop()
	capture.Close()
}

func (s *stream) stopRequested() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// wait sleeps for d, returning false if stop fires first.
func (s *stream) wait(d time.Duration) bool {
	select {
	case <-s.stop:
		return false
	case <-time.After(d):
		return true
	}
}

func (s *stream) runConnLoop(done chan<- struct{}) {
	defer close(done)
	for {
		if s.stopRequested() {
			return
		}
		conn, err := dial(s.cfg)
		if err != nil {
			log.Warnf("transcription connect error: %v", err)
			if !s.wait(reconnectDelay) {
				return
			}
			continue
		}
		s.run(conn)
		conn.Close()
		if s.stopRequested() {
			return
		}
		log.Info("transcription socket closed, reconnecting")
		if !s.wait(reconnectDelay) {
			return
		}
	}
}

// run pumps one socket connection until it fails or stop fires.
func (s *stream) run(conn wsConn) {
	readerDone := make(chan struct{})

	go func() {
		for {
			select {
			case chunk := <-s.audioCh:
				if err := conn.WriteBinary(chunk); err != nil {
					return
				}
			case <-s.stop:
				if err := conn.WriteTerminate(); err == nil {
					// Give the server a moment to flush the last turn.
					time.Sleep(200 * time.Millisecond)
				}
				conn.Close()
				return
			case <-readerDone:
				return
			}
		}
	}()

	defer close(readerDone)
	for {
		ev, err := conn.Recv()
		if err != nil {
			return
		}
		s.deliver(ev)
	}
}

func (s *stream) deliver(ev Event) {
	if ev.Text == "" {
		return
	}
	if ev.Final && IsNoise(ev.Text) {
		log.Info("noise_suppressed: " + ev.Text)
		return
	}
	s.onTranscript(ev.Text, ev.Final)
}
