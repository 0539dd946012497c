package handlers

import (
	"net/http"
	"testing"

	"github.com/agamariel/printdesk/internal/models"
)

func TestConversationHandler_Flow(t *testing.T) {
	api := newTestAPI(t)
	order := api.submit(t, `{"price":"10"}`)
	createBody := `{"order_id":"` + order.ID.String() + `","body":"Is PETG possible?"}`

	rec, err := call(api.convs.CreateConversation, http.MethodPost, "/api/conversations", createBody, &api.customer, "")
	if got := statusOf(rec, err); got != http.StatusCreated {
		t.Fatalf("create status = %d (err %v)", got, err)
	}
	var conv models.ConversationView
	decode(t, rec, &conv)
	id := conv.ID.String()

	rec, err = call(api.convs.CreateConversation, http.MethodPost, "/api/conversations", createBody, &api.customer, "")
	if got := statusOf(rec, err); got != http.StatusOK {
		t.Fatalf("repeated create status = %d, want 200", got)
	}

	rec, err = call(api.convs.ListConversations, http.MethodGet, "/api/conversations", "", &api.staff, "")
	if got := statusOf(rec, err); got != http.StatusOK {
		t.Fatalf("list status = %d (err %v)", got, err)
	}
	var list models.ConversationListResponse
	decode(t, rec, &list)
	if len(list.Conversations) != 1 || list.Conversations[0].UnreadCount != 1 {
		t.Fatalf("unexpected staff list: %s", rec.Body.String())
	}

	rec, err = call(api.convs.SetTyping, http.MethodPost, "/api/conversations/"+id+"/typing", `{"typing":true}`, &api.staff, id)
	if got := statusOf(rec, err); got != http.StatusNoContent {
		t.Fatalf("typing status = %d (err %v)", got, err)
	}

	rec, err = call(api.convs.PostMessage, http.MethodPost, "/api/conversations/"+id+"/messages", `{"body":"Yes"}`, &api.staff, id)
	if got := statusOf(rec, err); got != http.StatusCreated {
		t.Fatalf("post status = %d (err %v)", got, err)
	}

	rec, err = call(api.convs.MarkRead, http.MethodPost, "/api/conversations/"+id+"/read", "", &api.customer, id)
	if got := statusOf(rec, err); got != http.StatusNoContent {
		t.Fatalf("read status = %d (err %v)", got, err)
	}

	rec, err = call(api.convs.ListMessages, http.MethodGet, "/api/conversations/"+id+"/messages", "", &api.customer, id)
	if got := statusOf(rec, err); got != http.StatusOK {
		t.Fatalf("messages status = %d (err %v)", got, err)
	}
	var msgs models.MessageListResponse
	decode(t, rec, &msgs)
	if len(msgs.Messages) != 2 || msgs.Conversation.UnreadCount != 0 {
		t.Fatalf("unexpected messages: %s", rec.Body.String())
	}

	rec, err = call(api.convs.UpdateStatus, http.MethodPatch, "/api/conversations/"+id+"/status", `{"status":"closed"}`, &api.staff, id)
	if got := statusOf(rec, err); got != http.StatusOK {
		t.Fatalf("close status = %d (err %v)", got, err)
	}

	rec, err = call(api.convs.PostMessage, http.MethodPost, "/api/conversations/"+id+"/messages", `{"body":"thanks"}`, &api.customer, id)
	if got := statusOf(rec, err); got != http.StatusConflict {
		t.Fatalf("post to closed: status = %d, want 409", got)
	}

	rec, err = call(api.convs.UpdateStatus, http.MethodPatch, "/api/conversations/"+id+"/status", `{"status":"open"}`, &api.staff, id)
	if got := statusOf(rec, err); got != http.StatusConflict {
		t.Fatalf("reopen closed: status = %d, want 409", got)
	}

	rec, err = call(api.convs.ListMessages, http.MethodGet, "/api/conversations/bad/messages", "", &api.customer, "bad")
	if got := statusOf(rec, err); got != http.StatusBadRequest {
		t.Fatalf("bad id: status = %d, want 400", got)
	}
}
