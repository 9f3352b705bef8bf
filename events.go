package main

// RenderSlot names a region of the overlay. The orchestrator only ever
// talks to the display through RenderCmd values, so the TUI can be
// swapped out without touching the pipeline.
type RenderSlot int

const (
	SlotQuestion RenderSlot = iota
	SlotAnswer
	SlotStatus
)

type RenderCmd struct {
	Slot RenderSlot
	Text string
}
