package terminal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/furisto/parley/backend/agent"
	"golang.org/x/term"
)

const defaultWidth = 100

// ChatRenderer prints the events of a chat turn. Content is streamed as it
// arrives unless markdown rendering is requested, in which case the answer is
// rendered once the turn is complete.
type ChatRenderer struct {
	out      io.Writer
	status   io.Writer
	markdown bool
	width    int

	content        strings.Builder
	announced      map[string]bool
	ConversationID string
}

func NewChatRenderer(out, status io.Writer, markdown bool) *ChatRenderer {
	return &ChatRenderer{
		out:       out,
		status:    status,
		markdown:  markdown,
		width:     TerminalWidth(out),
		announced: make(map[string]bool),
	}
}

// Render handles one event. An Error event is returned as an error.
func (r *ChatRenderer) Render(event agent.Event) error {
	switch e := event.(type) {
	case agent.NewConversation:
		r.ConversationID = e.ID.String()
		fmt.Fprintf(r.status, "%s chat %s\n", InfoSymbol, r.ConversationID)
	case agent.BackgroundStatus:
		fmt.Fprintln(r.status, statusStyle.Render(e.Text))
	case agent.ToolInvocation:
		r.renderToolInvocation(e)
	case agent.ContentDelta:
		r.content.WriteString(e.Text)
		if !r.markdown {
			fmt.Fprint(r.out, e.Text)
		}
	case agent.Error:
		return errors.New(e.Message)
	}
	return nil
}

func (r *ChatRenderer) renderToolInvocation(e agent.ToolInvocation) {
	if e.Result != "" {
		lines := strings.Count(e.Result, "\n") + 1
		if e.Result == "No results found." {
			lines = 0
		}
		fmt.Fprintf(r.status, "%s %s returned %d results\n", SuccessSymbol, e.Name, lines)
		return
	}

	if r.announced[e.ToolCallID] || e.Arguments == "" {
		return
	}

	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(e.Arguments), &args); err != nil || args.Query == "" {
		return
	}
	r.announced[e.ToolCallID] = true
	fmt.Fprintf(r.status, "%s %s(%s)\n", ActionSymbol, Bold(e.Name), args.Query)
}

// Finish writes the answer when it was buffered and terminates the output.
func (r *ChatRenderer) Finish() {
	if r.markdown {
		fmt.Fprintln(r.out, FormatMarkdown(r.content.String(), r.width))
		return
	}
	if r.content.Len() > 0 {
		fmt.Fprintln(r.out)
	}
}

func (r *ChatRenderer) Content() string {
	return r.content.String()
}

// TerminalWidth returns the width of w if it is a terminal.
func TerminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return defaultWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return defaultWidth
	}
	return width
}
