package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/Enkidu/internal/dimension"
	"github.com/BTreeMap/Enkidu/internal/models"
)

// promptHistoryTurns is how many prior turns accompany a reply prompt.
const promptHistoryTurns = 3

// ReplyPrompt is everything the composer sees for one turn.
type ReplyPrompt struct {
	UserID         string
	Channel        models.Channel
	Message        string
	Dimension      dimension.ID
	DimensionLabel string
	Explanation    string // set only on the turn that introduced the dimension
	Summary        string
	Depth          int
	Tier           models.Tier
	Streak         int
	RecentTurns    []models.Turn // oldest first, excludes Message
	NextQuestion   string        // empty when the script is exhausted
}

// buildReplyPrompt snapshots uc before the incoming turn is appended.
func buildReplyPrompt(uc *models.UserContext, in models.InboundMessage, sel Selection, next string) ReplyPrompt {
	p := ReplyPrompt{
		UserID:         uc.UserID,
		Channel:        in.Channel,
		Message:        in.Body,
		Dimension:      sel.Dimension,
		DimensionLabel: dimension.Label(sel.Dimension),
		Summary:        uc.ThematicSummaries[sel.Dimension],
		Depth:          uc.Depth,
		Tier:           uc.Tier,
		Streak:         uc.Streak,
		RecentTurns:    append([]models.Turn(nil), uc.RecentTurns(promptHistoryTurns)...),
		NextQuestion:   next,
	}
	if sel.Introduced {
		p.Explanation = dimension.Explanation(sel.Dimension)
	}
	return p
}

// SystemPrompt renders the companion instructions for p.
func (p ReplyPrompt) SystemPrompt() string {
	var b strings.Builder
	b.WriteString("Act as an empathetic companion helping someone process their thoughts and feelings.\n")
	fmt.Fprintf(&b, "Consider their message in the context of %s.\n", p.DimensionLabel)
	if p.Explanation != "" {
		fmt.Fprintf(&b, "This is the first time this topic comes up. About it: %s\n", p.Explanation)
	}
	if p.Summary != "" {
		fmt.Fprintf(&b, "What they have shared about it so far: %s\n", p.Summary)
	}
	fmt.Fprintf(&b, "Current conversational depth: %d. Engagement tier: %s.\n", p.Depth, p.Tier)
	b.WriteString("Acknowledge their feelings, show understanding, offer gentle perspective and invite further reflection.\n")
	if p.Channel == models.ChannelVoice {
		b.WriteString("The reply will be spoken aloud. Use short plain sentences without lists or emoji.\n")
	} else {
		b.WriteString("The reply is sent as a text message. Keep it concise and natural.\n")
	}
	if p.NextQuestion != "" {
		b.WriteString("Do not ask a new question yourself; a follow-up question is added after your reply.\n")
	}
	return b.String()
}

// withNextQuestion appends the scripted follow-up to a text reply.
func withNextQuestion(reply, next string) string {
	reply = strings.TrimSpace(reply)
	if next == "" {
		return reply
	}
	if reply == "" {
		return next
	}
	return reply + "\n\n" + next
}
