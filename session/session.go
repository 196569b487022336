package session

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the transcript. Turns are never modified after they
// are appended.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// PromptFunc builds the system Turn content for a working directory.
type PromptFunc func(workDir string) string

// Session is the process-wide state of one interactive run: the target model,
// the working directory tools operate in, and the conversation transcript.
//
// The transcript always starts with exactly one system Turn. Changing the
// model or the working directory, or calling Clear, replaces the transcript
// with a freshly built system Turn; otherwise it only grows.
type Session struct {
	model   string
	workDir string
	prompt  PromptFunc
	turns   []Turn
}

// New creates a session whose transcript holds a single system Turn.
func New(model, workDir string, prompt PromptFunc) *Session {
	s := &Session{
		model:   model,
		workDir: workDir,
		prompt:  prompt,
	}
	s.reset()
	return s
}

func (s *Session) Model() string   { return s.model }
func (s *Session) WorkDir() string { return s.workDir }

// SetModel switches the target model and resets the transcript.
func (s *Session) SetModel(model string) {
	s.model = model
	s.reset()
}

// SetWorkDir switches the working directory and resets the transcript, since
// the system Turn embeds the directory.
func (s *Session) SetWorkDir(dir string) {
	s.workDir = dir
	s.reset()
}

// Clear drops every Turn except a regenerated system Turn.
func (s *Session) Clear() {
	s.reset()
}

// Append adds a Turn at the end of the transcript.
func (s *Session) Append(role Role, content string) {
	s.turns = append(s.turns, Turn{Role: role, Content: content})
}

// Turns returns a copy of the transcript in order.
func (s *Session) Turns() []Turn {
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of Turns, including the system Turn.
func (s *Session) Len() int {
	return len(s.turns)
}

// Last returns the most recent Turn.
func (s *Session) Last() Turn {
	return s.turns[len(s.turns)-1]
}

func (s *Session) reset() {
	content := ""
	if s.prompt != nil {
		content = s.prompt(s.workDir)
	}
	s.turns = []Turn{{Role: RoleSystem, Content: content}}
}
