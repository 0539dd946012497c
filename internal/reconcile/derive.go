package reconcile

import (
	"time"

	"github.com/agamariel/printdesk/internal/models"
)

// ConversationState обращение из снимка с производными индикаторами для читателя.
type ConversationState struct {
	models.ConversationView
	Unread     int
	PeerTyping bool
}

// LocalMessage сообщение открытого обращения. Pending - отправлено оптимистично
// и ещё не подтверждено снимком, Failed - сервер отклонил отправку.
type LocalMessage struct {
	models.MessageView
	Pending bool
	Failed  bool
}

// OpenConversation открытое обращение с сообщениями.
type OpenConversation struct {
	Conversation ConversationState
	Messages     []LocalMessage
}

// View неизменяемый снимок состояния клиента.
type View struct {
	ServerTime    time.Time
	Conversations []ConversationState
	Orders        []*models.OrderResponse
	Open          *OpenConversation
	TotalUnread   int
}

// peerTyping сообщает, печатает ли собеседник на момент serverTime.
func peerTyping(v models.ConversationView, reader models.Role, serverTime time.Time) bool {
	if v.TypingRole == nil || v.TypingAt == nil {
		return false
	}
	if *v.TypingRole != reader.Opposite() {
		return false
	}
	return serverTime.Sub(*v.TypingAt) < models.TypingStaleAfter
}

func deriveConversation(v models.ConversationView, reader models.Role, serverTime time.Time) ConversationState {
	return ConversationState{
		ConversationView: v,
		Unread:           v.UnreadCount,
		PeerTyping:       peerTyping(v, reader, serverTime),
	}
}

// unreadMessages число непрочитанных сообщений собеседника. Системные не считаются.
func unreadMessages(msgs []models.MessageView, reader models.Role) int {
	n := 0
	for _, m := range msgs {
		if m.SenderRole == reader.Opposite() && !m.Read {
			n++
		}
	}
	return n
}
