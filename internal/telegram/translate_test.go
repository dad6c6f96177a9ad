package telegram

import (
	"reflect"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tgcpa/tgcpa/internal/model"
)

func startMessage(text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: 42},
		Chat:      &tgbotapi.Chat{ID: 42, Type: "private"},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}},
	}
}

func memberUpdate(chatType, oldStatus, newStatus string) *tgbotapi.ChatMemberUpdated {
	user := &tgbotapi.User{ID: 42}
	return &tgbotapi.ChatMemberUpdated{
		Chat:          tgbotapi.Chat{ID: -100500, Type: chatType},
		OldChatMember: tgbotapi.ChatMember{User: user, Status: oldStatus},
		NewChatMember: tgbotapi.ChatMember{User: user, Status: newStatus},
	}
}

func TestTranslate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		update tgbotapi.Update
		want   Action
	}{
		{
			name:   "start with token",
			update: tgbotapi.Update{Message: startMessage("/start tok_AbC-123")},
			want:   Action{Kind: ActionClaim, TgID: 42, Token: "tok_AbC-123", ReplyChatID: 42},
		},
		{
			name:   "start without token",
			update: tgbotapi.Update{Message: startMessage("/start")},
			want:   Action{Kind: ActionClaim, TgID: 42, ReplyChatID: 42},
		},
		{
			name:   "join group",
			update: tgbotapi.Update{ChatMember: memberUpdate("supergroup", "left", "member")},
			want: Action{
				Kind:      ActionEvent,
				TgID:      42,
				EventType: model.EventJoinGroup,
				Payload:   map[string]any{model.PayloadChatID: int64(-100500)},
			},
		},
		{
			name:   "subscribe channel",
			update: tgbotapi.Update{ChatMember: memberUpdate("channel", "kicked", "member")},
			want: Action{
				Kind:      ActionEvent,
				TgID:      42,
				EventType: model.EventSubscribe,
				Payload:   map[string]any{model.PayloadChatID: int64(-100500)},
			},
		},
		{
			name:   "promotion is not a join",
			update: tgbotapi.Update{ChatMember: memberUpdate("supergroup", "member", "administrator")},
			want:   Action{},
		},
		{
			name:   "leave is ignored",
			update: tgbotapi.Update{ChatMember: memberUpdate("supergroup", "member", "left")},
			want:   Action{},
		},
		{
			name:   "poll answer",
			update: tgbotapi.Update{PollAnswer: &tgbotapi.PollAnswer{PollID: "poll-7", User: tgbotapi.User{ID: 42}, OptionIDs: []int{1}}},
			want: Action{
				Kind:      ActionEvent,
				TgID:      42,
				EventType: model.EventPollVote,
				Payload:   map[string]any{model.PayloadPollID: "poll-7"},
			},
		},
		{
			name: "group reply is a comment",
			update: tgbotapi.Update{Message: &tgbotapi.Message{
				MessageID:      77,
				From:           &tgbotapi.User{ID: 42},
				Chat:           &tgbotapi.Chat{ID: -100600, Type: "supergroup"},
				Text:           "nice",
				ReplyToMessage: &tgbotapi.Message{MessageID: 10},
			}},
			want: Action{
				Kind:      ActionEvent,
				TgID:      42,
				EventType: model.EventComment,
				Payload: map[string]any{
					model.PayloadChatID:    int64(-100600),
					model.PayloadMessageID: 10,
					"comment_id":           77,
				},
			},
		},
		{
			name: "forward from channel is a share",
			update: tgbotapi.Update{Message: &tgbotapi.Message{
				MessageID:            3,
				From:                 &tgbotapi.User{ID: 42},
				Chat:                 &tgbotapi.Chat{ID: 42, Type: "private"},
				ForwardFromChat:      &tgbotapi.Chat{ID: -100700, Type: "channel"},
				ForwardFromMessageID: 55,
			}},
			want: Action{
				Kind:      ActionEvent,
				TgID:      42,
				EventType: model.EventShare,
				Payload: map[string]any{
					model.PayloadChatID:    int64(-100700),
					model.PayloadMessageID: 55,
				},
				ReplyChatID: 42,
			},
		},
		{
			name: "plain private text",
			update: tgbotapi.Update{Message: &tgbotapi.Message{
				From: &tgbotapi.User{ID: 42},
				Chat: &tgbotapi.Chat{ID: 42, Type: "private"},
				Text: "hello",
			}},
			want: Action{},
		},
		{
			name: "bot author ignored",
			update: tgbotapi.Update{Message: &tgbotapi.Message{
				From:           &tgbotapi.User{ID: 9, IsBot: true},
				Chat:           &tgbotapi.Chat{ID: -100600, Type: "group"},
				ReplyToMessage: &tgbotapi.Message{MessageID: 10},
			}},
			want: Action{},
		},
		{
			name:   "empty update",
			update: tgbotapi.Update{},
			want:   Action{},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Translate(tt.update)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Translate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestTranslate_RestrictedMember(t *testing.T) {
	t.Parallel()

	u := memberUpdate("supergroup", "left", "restricted")
	u.NewChatMember.IsMember = true

	got := Translate(tgbotapi.Update{ChatMember: u})
	if got.Kind != ActionEvent || got.EventType != model.EventJoinGroup {
		t.Errorf("Translate() = %+v, want join_group event", got)
	}
}
