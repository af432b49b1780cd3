package core

import "strings"

// CommandKind enumerates the closed set of message classes the relay
// understands. Anything that is neither a bind nor a status query is
// treated as freeform.
type CommandKind int

const (
	CmdBind CommandKind = iota
	CmdStatus
	CmdFreeform
)

// Command is the parsed form of one inbound chat message.
type Command struct {
	Kind     CommandKind
	MemberID string // bind target, set only for CmdBind
	Text     string // trimmed original message
}

// Grammar holds the keyword sets the parser matches against. Keywords are
// configurable so deployments can localize them.
type Grammar struct {
	BindKeywords   []string
	StatusKeywords []string
}

// DefaultGrammar matches the keywords the original bot shipped with,
// Chinese aliases included.
func DefaultGrammar() Grammar {
	return Grammar{
		BindKeywords:   []string{"bind", "綁定"},
		StatusKeywords: []string{"status", "progress", "狀態", "進度"},
	}
}

// ParseCommand classifies one message. Bind wins over status: a message
// whose first token is a bind keyword is always a bind, even if the rest
// mentions a status keyword. Status matches anywhere in the text, case
// insensitively. A bind keyword with no argument still parses as a bind
// with an empty MemberID so the caller can answer with usage help.
func ParseCommand(g Grammar, text string) Command {
	text = strings.TrimSpace(text)
	fields := strings.Fields(text)

	if len(fields) > 0 {
		for _, kw := range g.BindKeywords {
			if kw != "" && strings.EqualFold(fields[0], kw) {
				cmd := Command{Kind: CmdBind, Text: text}
				if len(fields) > 1 {
					cmd.MemberID = fields[1]
				}
				return cmd
			}
		}
	}

	lower := strings.ToLower(text)
	for _, kw := range g.StatusKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return Command{Kind: CmdStatus, Text: text}
		}
	}

	return Command{Kind: CmdFreeform, Text: text}
}
