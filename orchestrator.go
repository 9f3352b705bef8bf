package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"prompter/backend"
	"prompter/chat"
	"prompter/log"
)

type assistantState int32

const (
	stateIdle assistantState = iota
	stateListening
	stateCapturing
	stateAnswering
)

func (s assistantState) String() string {
	switch s {
	case stateListening:
		return "listening"
	case stateCapturing:
		return "capturing"
	case stateAnswering:
		return "answering"
	default:
		return "idle"
	}
}

// chatStreamer is the slice of chat.Client the orchestrator needs.
type chatStreamer interface {
	StreamAnswer(ctx context.Context, conv *chat.Conversation, question string) (<-chan string, <-chan error)
}

// creditBackend is the slice of backend.Client the orchestrator needs.
type creditBackend interface {
	Balance(ctx context.Context) (int, error)
	Deduct(ctx context.Context, amount int) error
	LogInteraction(ctx context.Context, query, aiResponse string, tokensUsed int) error
	LogTranscription(ctx context.Context, transcript string) error
}

type historyRecorder interface {
	Record(ctx context.Context, question, answer string, credits int) (string, error)
}

// Orchestrator drives the question/answer pipeline: it accepts transcript
// updates and trigger presses, guards credits, streams the answer, and
// settles the ledger afterwards.
type Orchestrator struct {
	conv    *chat.Conversation
	chat    chatStreamer
	backend creditBackend
	queue   *backend.LogQueue
	history historyRecorder // nil disables local history

	render chan RenderCmd

	// captureText produces question text from a screenshot; injectable
	// so tests do not touch the display or the network.
	captureText func(ctx context.Context) (string, error)

	state     atomic.Int32
	latest    atomic.Value // string, last non-noise final transcript
	answering atomic.Bool
	answered  atomic.Int32
	wg        sync.WaitGroup
}

type OrchestratorConfig struct {
	Conversation *chat.Conversation
	Chat         chatStreamer
	Backend      creditBackend
	Queue        *backend.LogQueue
	History      historyRecorder
	CaptureText  func(ctx context.Context) (string, error)
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	o := &Orchestrator{
		conv:        cfg.Conversation,
		chat:        cfg.Chat,
		backend:     cfg.Backend,
		queue:       cfg.Queue,
		history:     cfg.History,
		captureText: cfg.CaptureText,
		render:      make(chan RenderCmd, 64),
	}
	o.latest.Store("")
	o.setState(stateListening)
	return o
}

// Render is the display feed; the TUI drains it.
func (o *Orchestrator) Render() <-chan RenderCmd { return o.render }

// State reports the current pipeline phase.
func (o *Orchestrator) State() assistantState {
	return assistantState(o.state.Load())
}

func (o *Orchestrator) setState(s assistantState) {
	o.state.Store(int32(s))
	o.emit(SlotStatus, s.String())
}

func (o *Orchestrator) emit(slot RenderSlot, text string) {
	select {
	case o.render <- RenderCmd{Slot: slot, Text: text}:
	default:
		// display is behind; drop rather than stall the pipeline
	}
}

// OnTranscript is the speech callback. Partials update the question slot
// live; finals become the pending question and are queued to the backend
// transcript log.
func (o *Orchestrator) OnTranscript(text string, final bool) {
	if !final {
		o.emit(SlotQuestion, text)
		return
	}
	o.latest.Store(text)
	o.emit(SlotQuestion, text)
	log.TranscriptText(text)
	o.dispatch(func(ctx context.Context) {
		if err := o.backend.LogTranscription(ctx, text); err != nil {
			log.Errorf("transcription log failed: %v", err)
		}
	})
}

// dispatch runs a ledger call through the async queue, or inline when no
// queue is wired.
func (o *Orchestrator) dispatch(job func(ctx context.Context)) {
	if o.queue != nil {
		o.queue.Enqueue(job)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	job(ctx)
}

// LatestTranscript returns the pending question text, if any.
func (o *Orchestrator) LatestTranscript() string {
	s, _ := o.latest.Load().(string)
	return s
}

// TriggerAnswer answers the pending transcript. Returns false when the
// trigger was dropped (already answering, or nothing captured yet).
func (o *Orchestrator) TriggerAnswer(ctx context.Context) bool {
	question := o.LatestTranscript()
	if question == "" {
		o.emit(SlotStatus, "no question captured yet")
		return false
	}
	if !o.answering.CompareAndSwap(false, true) {
		log.Info("answer_trigger_dropped: busy")
		return false
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.answering.Store(false)
		o.answer(ctx, question, "voice")
	}()
	return true
}

// TriggerCapture screenshots the screen, runs OCR, and answers the
// recognized text. Dropped while another answer is in flight.
func (o *Orchestrator) TriggerCapture(ctx context.Context) bool {
	if !o.answering.CompareAndSwap(false, true) {
		log.Info("capture_trigger_dropped: busy")
		return false
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.answering.Store(false)

		o.setState(stateCapturing)
		question, err := o.captureText(ctx)
		if err != nil {
			log.Errorf("screen capture failed: %v", err)
			o.emit(SlotAnswer, err.Error())
			o.setState(stateListening)
			return
		}
		o.emit(SlotQuestion, question)
		o.answer(ctx, question, "screen")
	}()
	return true
}

// answer runs one full cycle: credit guard, stream, settle.
func (o *Orchestrator) answer(ctx context.Context, question, source string) {
	defer o.setState(stateListening)
	o.setState(stateAnswering)
	started := time.Now()

	credits, err := o.backend.Balance(ctx)
	if err != nil {
		log.Errorf("balance check failed: %v", err)
		o.emit(SlotAnswer, "Could not check credit balance. Try again.")
		return
	}
	if credits <= 0 {
		log.Info("answer_blocked: no credits")
		o.emit(SlotAnswer, "Not enough credits.")
		return
	}

	fragments, errCh := o.chat.StreamAnswer(ctx, o.conv, question)
	var b strings.Builder
	for frag := range fragments {
		b.WriteString(frag)
		o.emit(SlotAnswer, b.String())
	}
	answer := b.String()
	if err := <-errCh; err != nil {
		log.Errorf("answer stream failed: %v", err)
		o.emit(SlotAnswer, "The assistant is unavailable: "+err.Error())
		return
	}
	if answer == "" {
		o.emit(SlotAnswer, "(no answer)")
		return
	}

	o.settle(ctx, question, answer, source, time.Since(started))
}

// settle computes the cost once and uses the same value for the
// deduction and the usage log. Both are best-effort; a failed deduct is
// logged but never claws the answer back.
func (o *Orchestrator) settle(ctx context.Context, question, answer, source string, dur time.Duration) {
	cost := chat.EstimateCredits(answer)

	if err := o.backend.Deduct(ctx, cost); err != nil {
		if errors.Is(err, backend.ErrInsufficientCredits) {
			log.Warnf("deduct of %d credits rejected: balance exhausted mid-answer", cost)
		} else {
			log.Errorf("deduct failed: %v", err)
		}
	}
	o.dispatch(func(ctx context.Context) {
		if err := o.backend.LogInteraction(ctx, question, answer, cost); err != nil {
			log.Errorf("interaction log failed: %v", err)
		}
	})
	if o.history != nil {
		if _, err := o.history.Record(ctx, question, answer, cost); err != nil {
			log.Errorf("history record failed: %v", err)
		}
	}

	log.Interaction(source, len(strings.Fields(question)), len(strings.Fields(answer)), cost, dur)
	o.answered.Add(1)
	o.latest.Store("")
}

// Answered is the number of completed answer cycles this session.
func (o *Orchestrator) Answered() int {
	return int(o.answered.Load())
}

// Wait blocks until in-flight answer goroutines finish.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
