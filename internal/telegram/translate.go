// Package telegram translates bot updates into tracker calls. The core
// services never see update shapes.
package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tgcpa/tgcpa/internal/model"
)

// ActionKind says what an update asks the tracker to do.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionClaim
	ActionEvent
)

// Chat member statuses as reported by the Bot API.
const (
	statusCreator       = "creator"
	statusAdministrator = "administrator"
	statusMember        = "member"
	statusRestricted    = "restricted"
)

// Action is the tracker-facing form of one update.
type Action struct {
	Kind      ActionKind
	TgID      int64
	Token     string
	EventType model.EventType
	Payload   map[string]any
	// ReplyChatID is the private chat that gets a coarse outcome reply,
	// or 0 when the action came from a group or channel.
	ReplyChatID int64
}

// Translate maps an update to an Action. Updates the tracker does not
// count map to ActionNone.
func Translate(u tgbotapi.Update) Action {
	switch {
	case u.ChatMember != nil:
		return translateMember(u.ChatMember)
	case u.PollAnswer != nil:
		return Action{
			Kind:      ActionEvent,
			TgID:      u.PollAnswer.User.ID,
			EventType: model.EventPollVote,
			Payload:   map[string]any{model.PayloadPollID: u.PollAnswer.PollID},
		}
	case u.Message != nil:
		return translateMessage(u.Message)
	}
	return Action{}
}

func translateMember(m *tgbotapi.ChatMemberUpdated) Action {
	if m.NewChatMember.User == nil || m.NewChatMember.User.IsBot {
		return Action{}
	}
	if !isMember(m.NewChatMember) || isMember(m.OldChatMember) {
		return Action{}
	}

	et := model.EventJoinGroup
	if m.Chat.IsChannel() {
		et = model.EventSubscribe
	}
	return Action{
		Kind:      ActionEvent,
		TgID:      m.NewChatMember.User.ID,
		EventType: et,
		Payload:   map[string]any{model.PayloadChatID: m.Chat.ID},
	}
}

func isMember(cm tgbotapi.ChatMember) bool {
	switch cm.Status {
	case statusCreator, statusAdministrator, statusMember:
		return true
	case statusRestricted:
		return cm.IsMember
	}
	return false
}

func translateMessage(msg *tgbotapi.Message) Action {
	if msg.From == nil || msg.From.IsBot || msg.Chat == nil {
		return Action{}
	}

	if msg.Chat.IsPrivate() {
		if msg.IsCommand() && msg.Command() == "start" {
			return Action{
				Kind:        ActionClaim,
				TgID:        msg.From.ID,
				Token:       msg.CommandArguments(),
				ReplyChatID: msg.Chat.ID,
			}
		}
		if msg.ForwardFromChat != nil && msg.ForwardFromChat.IsChannel() && msg.ForwardFromMessageID != 0 {
			return Action{
				Kind:      ActionEvent,
				TgID:      msg.From.ID,
				EventType: model.EventShare,
				Payload: map[string]any{
					model.PayloadChatID:    msg.ForwardFromChat.ID,
					model.PayloadMessageID: msg.ForwardFromMessageID,
				},
				ReplyChatID: msg.Chat.ID,
			}
		}
		return Action{}
	}

	if (msg.Chat.IsGroup() || msg.Chat.IsSuperGroup()) && msg.ReplyToMessage != nil && !msg.IsCommand() {
		return Action{
			Kind:      ActionEvent,
			TgID:      msg.From.ID,
			EventType: model.EventComment,
			Payload: map[string]any{
				model.PayloadChatID:    msg.Chat.ID,
				model.PayloadMessageID: msg.ReplyToMessage.MessageID,
				"comment_id":           msg.MessageID,
			},
		}
	}
	return Action{}
}
