package chat

import "sync"

const (
	RoleSystem = "system"
	RoleUser   = "user"
	RoleModel  = "model"
)

type Turn struct {
	Role    string
	Content string
}

// Conversation is the linear turn history for one assistant session:
// a single system turn followed by alternating user/model turns.
type Conversation struct {
	mu    sync.Mutex
	turns []Turn
}

// BuildChat seeds a conversation with the interview-candidate persona
// and the caller's resume summary.
func BuildChat(resumeSummary string) *Conversation {
	system := "You are a job interview assistant. " +
		"Answer questions as a confident and professional candidate " +
		"using the resume provided below. Keep your answers concise. " +
		"If you are provided with any leet code type question give the code " +
		"in the leet code format.\n\nRESUME:\n" + resumeSummary
	return &Conversation{turns: []Turn{{Role: RoleSystem, Content: system}}}
}

func (c *Conversation) AddUserTurn(content string) {
	c.mu.Lock()
	c.turns = append(c.turns, Turn{Role: RoleUser, Content: content})
	c.mu.Unlock()
}

func (c *Conversation) AddModelTurn(content string) {
	c.mu.Lock()
	c.turns = append(c.turns, Turn{Role: RoleModel, Content: content})
	c.mu.Unlock()
}

// Turns returns a copy of the turn history.
func (c *Conversation) Turns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Turn(nil), c.turns...)
}

func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}
