package chat

import (
	"testing"
	"time"
)

func TestNewUserDefaults(t *testing.T) {
	now := time.Date(2024, time.March, 3, 10, 0, 0, 0, time.UTC)
	u := NewUser("abcdef1234567890", now)
	if u.Name != "Serenity User" {
		t.Fatalf("unexpected name %q", u.Name)
	}
	if u.Email != "user_abcdef12@serenity.app" {
		t.Fatalf("unexpected email %q", u.Email)
	}
	if u.DaysActive != 0 || u.LastActive != nil {
		t.Fatalf("expected fresh activity counters, got %+v", u)
	}

	short := NewUser("abc", now)
	if short.Email != "user_abc@serenity.app" {
		t.Fatalf("unexpected email for short id %q", short.Email)
	}
}

func TestActiveOnUsesUTCDay(t *testing.T) {
	last := time.Date(2024, time.March, 3, 23, 30, 0, 0, time.UTC)
	u := &User{LastActive: &last}

	sameDay := time.Date(2024, time.March, 3, 1, 0, 0, 0, time.UTC)
	if !u.ActiveOn(sameDay) {
		t.Fatal("expected same UTC day to count as active")
	}
	// 01:00 on the 4th in UTC+2 is still the 3rd in UTC
	tz := time.FixedZone("UTC+2", 2*60*60)
	if !u.ActiveOn(time.Date(2024, time.March, 4, 1, 0, 0, 0, tz)) {
		t.Fatal("expected local time to be compared in UTC")
	}
	if u.ActiveOn(time.Date(2024, time.March, 4, 0, 30, 0, 0, time.UTC)) {
		t.Fatal("expected next UTC day to be inactive")
	}
}

func TestBuildProfile(t *testing.T) {
	u := NewUser("session-1", time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC))
	u.DaysActive = 3
	p := BuildProfile(u, 4)
	if p.JoinDate != "January 2024" {
		t.Fatalf("unexpected join date %q", p.JoinDate)
	}
	if p.MoodEntries != 4 || p.DaysActive != 3 {
		t.Fatalf("unexpected profile %+v", p)
	}
}

func TestTrimEntries(t *testing.T) {
	entries := make([]HistoryEntry, 11)
	for i := range entries {
		entries[i] = HistoryEntry{User: string(rune('a' + i))}
	}
	trimmed := TrimEntries(entries, HistoryLimit)
	if len(trimmed) != HistoryLimit {
		t.Fatalf("expected %d entries, got %d", HistoryLimit, len(trimmed))
	}
	if trimmed[0].User != "d" {
		t.Fatalf("expected oldest entries dropped, first=%q", trimmed[0].User)
	}
}
