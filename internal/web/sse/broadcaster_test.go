package sse

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mcoot/pvg/internal/model"
	"github.com/mcoot/pvg/internal/session"
	"github.com/mcoot/pvg/internal/testutil"
)

func TestRenderer_RenderView(t *testing.T) {
	renderer := NewRenderer()

	data, err := renderer.RenderView(testSnapshot("ABCD"), "player2", false)
	if err != nil {
		t.Fatalf("RenderView() error = %v", err)
	}

	var view session.View
	if err := json.Unmarshal(data, &view); err != nil {
		t.Fatalf("view is not valid JSON: %v", err)
	}
	if view.Code != "ABCD" || view.Self != "player2" || view.IsHost {
		t.Errorf("unexpected view header: %+v", view)
	}
	if view.Players[0].Role != model.RoleUnknown {
		t.Errorf("other player's role leaked: %s", view.Players[0].Role)
	}
	if view.Predators != 1 || view.Guardians != 1 {
		t.Errorf("role counts = %d/%d, want 1/1", view.Predators, view.Guardians)
	}
}

func TestRenderer_RenderSnapshotIsSingleEvent(t *testing.T) {
	msg, err := NewRenderer().RenderSnapshot(testSnapshot("ABCD"), "player1", false)
	if err != nil {
		t.Fatalf("RenderSnapshot() error = %v", err)
	}
	if !strings.HasPrefix(string(msg), "event: snapshot\ndata: {") {
		t.Errorf("unexpected message: %q", msg)
	}
	if strings.Count(string(msg), "data: ") != 1 {
		t.Errorf("expected a single data line: %q", msg)
	}
	if !strings.HasSuffix(string(msg), "}\n\n") {
		t.Errorf("message not terminated: %q", msg)
	}
}

func TestBroadcaster_PublishesToRoomHub(t *testing.T) {
	manager := NewHubManager(NewRenderer(), testutil.NopLogger())
	defer manager.Close()
	broadcaster := NewBroadcaster(manager, testutil.NopLogger())

	hub := manager.GetOrCreateHub("ABCD")
	client := NewClient(hub, "player1", false)
	hub.Register(client)

	broadcaster.Publish(testSnapshot("ABCD"))

	msg := receive(t, client)
	if !strings.Contains(msg, `"code":"ABCD"`) {
		t.Errorf("message does not contain room code: %s", msg)
	}
}

func TestBroadcaster_RunSwitchesRooms(t *testing.T) {
	manager := NewHubManager(NewRenderer(), testutil.NopLogger())
	defer manager.Close()
	broadcaster := NewBroadcaster(manager, testutil.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan session.Snapshot)
	done := make(chan struct{})
	go func() {
		broadcaster.Run(ctx, updates)
		close(done)
	}()

	updates <- testSnapshot("ABCD")

	first := manager.GetOrCreateHub("ABCD")
	client := NewClient(first, "player1", false)
	first.Register(client)
	if msg := receive(t, client); !strings.Contains(msg, `"code":"ABCD"`) {
		t.Errorf("expected ABCD snapshot, got %s", msg)
	}

	updates <- testSnapshot("WXYZ")

	// The old room's clients are released when the room changes
	deadline := time.After(time.Second)
	for open := true; open; {
		select {
		case _, open = <-client.send:
		case <-deadline:
			t.Fatal("client of previous room not released")
		}
	}
	if manager.GetHub("ABCD") != nil {
		t.Error("hub of previous room still registered")
	}
	for {
		if hub := manager.GetHub("WXYZ"); hub != nil && hub.Latest() != nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("new room hub did not receive the snapshot")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestBroadcaster_RunStopsWhenUpdatesClose(t *testing.T) {
	manager := NewHubManager(NewRenderer(), testutil.NopLogger())
	defer manager.Close()
	broadcaster := NewBroadcaster(manager, testutil.NopLogger())

	updates := make(chan session.Snapshot)
	done := make(chan struct{})
	go func() {
		broadcaster.Run(context.Background(), updates)
		close(done)
	}()
	close(updates)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after updates closed")
	}
}
