package knowledgesync

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/meshagent/meshnode/internal/memory"
)

func TestExtractReplyParsesMarkedArray(t *testing.T) {
	payload := `[{"id":"1","category":"note","title":"t","content":"c","created":1,"source":"peerB"}]`
	response := "Sure, here you go.\n" + ResponseMarker + payload + "\nthanks!"
	got, err := extractReply(response)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "1" {
		t.Fatalf("unexpected result: %#v", got)
	}
}

func TestExtractReplyMissingMarker(t *testing.T) {
	if _, err := extractReply("no marker here"); err == nil {
		t.Fatal("expected error when marker absent")
	}
}

func TestSyncPeerMergesReceivedMemories(t *testing.T) {
	store := memory.New(nil)
	exchange := func(ctx context.Context, peer, prompt string) (string, error) {
		payload, _ := json.Marshal([]*memory.Memory{{ID: "x1", Category: memory.CategoryNote, Title: "from peer", Content: "c", Created: 1}})
		return ResponseMarker + string(payload), nil
	}

	s := New(store, []string{"peerB"}, nil, exchange, nil, nil)
	s.Tick(context.Background())

	result := store.Read(memory.ReadFilter{IncludeShared: true})
	found := false
	for _, m := range result {
		if m.ID == "x1" && m.Source == "peerB" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected memory x1 to be merged into peerB's shared partition")
	}
	if s.stateFor("peerB").SyncCount != 1 {
		t.Fatalf("expected syncCount 1, got %d", s.stateFor("peerB").SyncCount)
	}
}

func TestSyncPeerLeavesLastSyncTimeOnFailure(t *testing.T) {
	store := memory.New(nil)
	exchange := func(ctx context.Context, peer, prompt string) (string, error) {
		return "", errBoom
	}
	s := New(store, []string{"peerB"}, nil, exchange, nil, nil)
	s.state.Peers["peerB"] = &PeerSyncState{LastSyncTime: 42}
	s.Tick(context.Background())

	if s.stateFor("peerB").LastSyncTime != 42 {
		t.Fatalf("expected lastSyncTime to remain 42 after a failed round, got %d", s.stateFor("peerB").LastSyncTime)
	}
}

type boomErr struct{}

func (boomErr) Error() string { return "boom" }

var errBoom = boomErr{}
