package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

// DefaultAccountPattern validates qualified task-board account ids of the
// form trello@<member-id>.
const DefaultAccountPattern = `^trello@[A-Za-z0-9_]{3,64}$`

// Replies pushed back to the chat. Errors never leak raw into the chat:
// HandleMessage translates them here and logs the details.
const (
	replyBindUsage = "That does not look like a valid account id. Send: bind trello@<your-member-id>"
	replyUnlinked  = "Please link your task-board account first. Send: bind trello@<your-member-id>"
	replyUpstream  = "The task board is not answering right now. Please try again later."
	replyInternal  = "Something went wrong on my side. Please try again later."
)

// Relay handles one inbound chat message end to end: classify it, run the
// matching operation and produce the reply text to push back.
type Relay struct {
	log     *slog.Logger
	grammar Grammar
	account *regexp.Regexp
	deps    Deps
	now     func() time.Time
}

// NewRelay wires the relay core. A nil account pattern falls back to
// DefaultAccountPattern.
func NewRelay(log *slog.Logger, grammar Grammar, accountPattern *regexp.Regexp, deps Deps) *Relay {
	if accountPattern == nil {
		accountPattern = regexp.MustCompile(DefaultAccountPattern)
	}
	return &Relay{
		log:     log,
		grammar: grammar,
		account: accountPattern,
		deps:    deps,
		now:     time.Now,
	}
}

// Bind validates and stores a chat-to-board link. Re-binding the same chat
// identity overwrites the previous link.
func (r *Relay) Bind(ctx context.Context, chatID, memberID string) error {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" || !r.account.MatchString(memberID) {
		return fmt.Errorf("%w: %q", ErrInvalidAccount, memberID)
	}

	link := AccountLink{
		ChatID:        chatID,
		BoardMemberID: memberID,
		LinkedAt:      r.now().UTC(),
	}
	if err := r.deps.Links.Bind(ctx, link); err != nil {
		return fmt.Errorf("bind chat %s: %w", chatID, err)
	}

	r.log.Info("account linked", "chatId", chatID, "memberId", memberID)
	return nil
}

// Status returns the open-task summary for the caller's linked account.
// An unlinked caller gets ErrUnlinked before any board call is made.
func (r *Relay) Status(ctx context.Context, chatID string) (string, error) {
	link, err := r.lookup(ctx, chatID)
	if err != nil {
		return "", err
	}

	tasks, err := r.deps.Board.ListTasks(ctx, link.BoardMemberID)
	if err != nil {
		return "", fmt.Errorf("list tasks for %s: %w", link.BoardMemberID, err)
	}

	return formatStatus(tasks), nil
}

// FreeformResult carries the outcome of the two independent freeform legs.
type FreeformResult struct {
	TaskID  string
	TaskErr error
	AIReply string
	AIErr   error
}

// Freeform runs both legs for a non-command message: add a board task
// titled with the raw text, and ask the completion service for a reply.
// The legs are independent, one failing never cancels the other.
func (r *Relay) Freeform(ctx context.Context, chatID, text string) (FreeformResult, error) {
	link, err := r.lookup(ctx, chatID)
	if err != nil {
		return FreeformResult{}, err
	}

	var res FreeformResult
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		res.TaskID, res.TaskErr = r.deps.Board.CreateTask(ctx, link.BoardMemberID, text)
	}()
	go func() {
		defer wg.Done()
		res.AIReply, res.AIErr = r.deps.AI.Complete(ctx, text)
	}()
	wg.Wait()

	if res.TaskErr != nil {
		r.log.Warn("freeform task creation failed", "chatId", chatID, "error", res.TaskErr)
	}
	if res.AIErr != nil {
		r.log.Warn("freeform completion failed", "chatId", chatID, "error", res.AIErr)
	}
	return res, nil
}

// HandleMessage classifies one inbound message and returns the reply to
// push back to the same chat identity. It never returns an empty reply.
func (r *Relay) HandleMessage(ctx context.Context, chatID, text string) string {
	cmd := ParseCommand(r.grammar, text)

	switch cmd.Kind {
	case CmdBind:
		if err := r.Bind(ctx, chatID, cmd.MemberID); err != nil {
			if errors.Is(err, ErrInvalidAccount) {
				return replyBindUsage
			}
			r.log.Error("bind failed", "chatId", chatID, "error", err)
			return replyInternal
		}
		return fmt.Sprintf("Linked! Your task-board account is %s.", cmd.MemberID)

	case CmdStatus:
		summary, err := r.Status(ctx, chatID)
		if err != nil {
			return r.replyForError("status", chatID, err)
		}
		return summary

	default:
		res, err := r.Freeform(ctx, chatID, cmd.Text)
		if err != nil {
			return r.replyForError("freeform", chatID, err)
		}
		return formatFreeformReply(cmd.Text, res)
	}
}

func (r *Relay) lookup(ctx context.Context, chatID string) (AccountLink, error) {
	link, err := r.deps.Links.Lookup(ctx, chatID)
	if err != nil {
		if errors.Is(err, ErrLinkNotFound) {
			return AccountLink{}, ErrUnlinked
		}
		return AccountLink{}, fmt.Errorf("lookup chat %s: %w", chatID, err)
	}
	return link, nil
}

func (r *Relay) replyForError(op, chatID string, err error) string {
	switch {
	case errors.Is(err, ErrUnlinked):
		return replyUnlinked
	case errors.Is(err, ErrUpstreamUnavailable):
		r.log.Warn(op+" hit unavailable upstream", "chatId", chatID, "error", err)
		return replyUpstream
	default:
		r.log.Error(op+" failed", "chatId", chatID, "error", err)
		return replyInternal
	}
}

// formatStatus renders the open tasks, done ones excluded, one line per
// task with its state and due date.
func formatStatus(tasks []Task) string {
	var open []Task
	for _, t := range tasks {
		if t.Status != StatusDone {
			open = append(open, t)
		}
	}
	if len(open) == 0 {
		return "You have no open tasks right now."
	}

	var sb strings.Builder
	sb.WriteString("Your tasks:")
	for _, t := range open {
		sb.WriteString("\n- ")
		sb.WriteString(t.Title)
		sb.WriteString(" [")
		sb.WriteString(string(t.Status))
		sb.WriteString("]")
		if t.DueAt != nil {
			sb.WriteString(", due ")
			sb.WriteString(t.DueAt.UTC().Format("2006-01-02 15:04"))
		}
	}
	return sb.String()
}

// formatFreeformReply merges the two freeform legs into one chat reply.
// Each leg reports its own success or failure.
func formatFreeformReply(text string, res FreeformResult) string {
	var parts []string

	if res.AIErr == nil && res.AIReply != "" {
		parts = append(parts, res.AIReply)
	}
	if res.TaskErr == nil {
		parts = append(parts, fmt.Sprintf("Added %q to your board.", text))
	} else {
		parts = append(parts, "I could not add this to your board. Please try again later.")
	}
	if res.AIErr != nil {
		parts = append(parts, "The assistant is unavailable right now.")
	}

	return strings.Join(parts, "\n\n")
}
