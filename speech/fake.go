package speech

import "time"

// FakeEvent is one scripted transcript update for tests.
type FakeEvent struct {
	Text  string
	Final bool
	After time.Duration
}

// StartFake replays scripted events through the same delivery path as the
// real client, including the noise filter, honoring the stop signal.
func StartFake(events []FakeEvent, onTranscript TranscriptFunc, stop <-chan struct{}) *Handle {
	s := &stream{onTranscript: onTranscript, stop: stop}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ev := range events {
			if ev.After > 0 {
				select {
				case <-stop:
					return
				case <-time.After(ev.After):
				}
			}
			s.deliver(Event{Text: ev.Text, Final: ev.Final})
		}
	}()
	return &Handle{captureDone: done, connDone: done}
}
