package presence

import (
	"context"
	"testing"
)

func TestOnlineOfflineTransitions(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryTracker()

	if !tracker.AddConnection(ctx, "alice", "c1") {
		t.Fatalf("first connection must report the offline->online transition")
	}
	if tracker.AddConnection(ctx, "alice", "c2") {
		t.Fatalf("second device must not re-report the transition")
	}
	if !tracker.IsUserOnline(ctx, "alice") {
		t.Fatalf("alice should be online")
	}

	if tracker.RemoveConnection(ctx, "alice", "c1") {
		t.Fatalf("user still has a device, must not report offline")
	}
	if !tracker.RemoveConnection(ctx, "alice", "c2") {
		t.Fatalf("last device gone, must report offline")
	}
	if tracker.IsUserOnline(ctx, "alice") {
		t.Fatalf("alice should be offline")
	}
}

func TestRemoveUnknownConnection(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryTracker()

	if tracker.RemoveConnection(ctx, "ghost", "c1") {
		t.Fatalf("removing an unknown connection must not report an offline transition")
	}
}

func TestRoomMembership(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryTracker()

	tracker.AddConnection(ctx, "alice", "a1")
	tracker.AddConnection(ctx, "alice", "a2")
	tracker.AddConnection(ctx, "bob", "b1")

	tracker.JoinRoom(ctx, "conv-1", "alice", "a1")
	tracker.JoinRoom(ctx, "conv-1", "alice", "a2")
	tracker.JoinRoom(ctx, "conv-1", "bob", "b1")

	members := tracker.RoomMembers(ctx, "conv-1")
	if len(members) != 2 {
		t.Fatalf("RoomMembers must deduplicate users, got %v", members)
	}
	if !tracker.UserInRoom(ctx, "conv-1", "alice") {
		t.Fatalf("alice should be viewing conv-1")
	}

	// One of alice's devices leaves; the other still counts.
	tracker.LeaveRoom(ctx, "conv-1", "a1")
	if !tracker.UserInRoom(ctx, "conv-1", "alice") {
		t.Fatalf("alice still has a device in the room")
	}

	tracker.LeaveRoom(ctx, "conv-1", "a2")
	if tracker.UserInRoom(ctx, "conv-1", "alice") {
		t.Fatalf("alice left on all devices")
	}
}

func TestLeaveAllRoomsOnDisconnect(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryTracker()

	tracker.AddConnection(ctx, "alice", "a1")
	tracker.JoinRoom(ctx, "conv-1", "alice", "a1")
	tracker.JoinRoom(ctx, "conv-2", "alice", "a1")

	left := tracker.LeaveAllRooms(ctx, "a1")
	if len(left) != 2 {
		t.Fatalf("expected 2 rooms pruned, got %v", left)
	}
	if tracker.UserInRoom(ctx, "conv-1", "alice") || tracker.UserInRoom(ctx, "conv-2", "alice") {
		t.Fatalf("disconnect must prune every room the connection joined")
	}
	if got := tracker.LeaveAllRooms(ctx, "a1"); len(got) != 0 {
		t.Fatalf("second prune must be empty, got %v", got)
	}
}
