package chat

import (
	"reflect"
	"testing"

	"github.com/kalambet/chatrelay/internal/upstream"
)

func TestTranslate(t *testing.T) {
	req := Request{
		APIKey:  "k",
		Message: "how are you",
		History: []Turn{{Role: "user", Message: "hi"}},
	}

	got := Translate(req, "be nice")
	want := []upstream.Message{
		{Role: "system", Content: "be nice"},
		{Role: "user", Content: "hi"},
		{Role: "user", Content: "how are you"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Translate = %+v, want %+v", got, want)
	}
}

func TestTranslate_PreservesOrderAndRoles(t *testing.T) {
	req := Request{
		Message: "3",
		History: []Turn{
			{Role: "user", Message: "1"},
			{Role: "assistant", Message: "a"},
			{Role: "user", Message: "2"},
			{Role: "assistant", Message: "b"},
		},
	}

	got := Translate(req, "sys")
	if len(got) != 6 {
		t.Fatalf("got %d messages, want 6", len(got))
	}
	wantContent := []string{"sys", "1", "a", "2", "b", "3"}
	wantRole := []string{"system", "user", "assistant", "user", "assistant", "user"}
	for i := range got {
		if got[i].Content != wantContent[i] || got[i].Role != wantRole[i] {
			t.Errorf("msgs[%d] = %+v, want %s/%s", i, got[i], wantRole[i], wantContent[i])
		}
	}
}

func TestTranslate_DoesNotMutate(t *testing.T) {
	history := []Turn{{Role: "assistant", Message: "x"}}
	req := Request{Message: "m", History: history}

	msgs := Translate(req, "sys")
	msgs[1].Content = "changed"

	if history[0].Message != "x" || len(req.History) != 1 {
		t.Errorf("history mutated: %+v", history)
	}
}

func TestTranslate_EmptyHistory(t *testing.T) {
	got := Translate(Request{Message: "m"}, "sys")
	if len(got) != 2 || got[0].Role != "system" || got[1].Content != "m" {
		t.Errorf("Translate = %+v", got)
	}
}
