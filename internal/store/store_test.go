package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/MellowMango/email-campaign-automation-sub001/internal/model"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func createMessage(t *testing.T, repo *MessageRepository, scheduledAt time.Time) *model.Message {
	t.Helper()
	m := &model.Message{
		AccountID:   "acct-1",
		CampaignID:  "camp-1",
		Recipient:   "user@test.com",
		Subject:     "hello",
		HTMLBody:    "<p>hi</p>",
		ScheduledAt: scheduledAt,
	}
	if err := repo.Create(context.Background(), m); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return m
}

func TestMessageCreateAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	m := createMessage(t, repo, time.Now().UTC())

	got, err := repo.GetByID(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetByID() = nil, want message")
	}
	if got.Status != model.StatusPending {
		t.Errorf("Status = %v, want pending", got.Status)
	}
	if got.Recipient != "user@test.com" {
		t.Errorf("Recipient = %v, want user@test.com", got.Recipient)
	}
	if got.CampaignID != "camp-1" {
		t.Errorf("CampaignID = %v, want camp-1", got.CampaignID)
	}

	missing, err := repo.GetByID(ctx, "nope")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if missing != nil {
		t.Error("GetByID() for a missing id returned a message, want nil")
	}
}

func TestMessageListDue(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	late := createMessage(t, repo, now.Add(-time.Minute))
	early := createMessage(t, repo, now.Add(-time.Hour))
	createMessage(t, repo, now.Add(time.Hour)) // not yet due

	due, err := repo.ListDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListDue() error = %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("len(due) = %d, want 2", len(due))
	}
	// Earliest scheduled first
	if due[0].ID != early.ID || due[1].ID != late.ID {
		t.Errorf("order = [%s, %s], want [%s, %s]", due[0].ID, due[1].ID, early.ID, late.ID)
	}

	due, err = repo.ListDue(ctx, now, 1)
	if err != nil {
		t.Fatalf("ListDue() error = %v", err)
	}
	if len(due) != 1 {
		t.Errorf("len(due) with limit 1 = %d, want 1", len(due))
	}
}

func TestMessageClaimIsExclusive(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	m := createMessage(t, repo, time.Now().UTC())

	claimed, err := repo.Claim(ctx, m.ID)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if !claimed {
		t.Fatal("first Claim() = false, want true")
	}

	claimed, err = repo.Claim(ctx, m.ID)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if claimed {
		t.Error("second Claim() = true, want false")
	}

	got, _ := repo.GetByID(ctx, m.ID)
	if got.Status != model.StatusProcessing {
		t.Errorf("Status = %v, want processing", got.Status)
	}
}

func TestMessageSentLifecycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	m := createMessage(t, repo, now)

	if err := repo.MarkSent(ctx, m.ID, "prov-1", now); err != nil {
		t.Fatalf("MarkSent() error = %v", err)
	}

	got, err := repo.GetByProviderMessageID(ctx, "prov-1")
	if err != nil {
		t.Fatalf("GetByProviderMessageID() error = %v", err)
	}
	if got == nil || got.ID != m.ID {
		t.Fatal("GetByProviderMessageID() did not resolve the sent message")
	}
	if got.Status != model.StatusSent {
		t.Errorf("Status = %v, want sent", got.Status)
	}
	if got.SentAt == nil {
		t.Error("SentAt not set")
	}

	if err := repo.MarkDelivered(ctx, m.ID, now); err != nil {
		t.Fatalf("MarkDelivered() error = %v", err)
	}
	got, _ = repo.GetByID(ctx, m.ID)
	if got.Status != model.StatusDelivered {
		t.Errorf("Status = %v, want delivered", got.Status)
	}
	if got.DeliveredAt == nil {
		t.Error("DeliveredAt not set")
	}
}

func TestMessageMarkFailedIncrementsRetryCount(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	m := createMessage(t, repo, now)

	if err := repo.MarkFailed(ctx, m.ID, "bounce", "mailbox full", now); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	got, _ := repo.GetByID(ctx, m.ID)
	if got.Status != model.StatusFailed {
		t.Errorf("Status = %v, want failed", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", got.RetryCount)
	}
	if got.ErrorType != "bounce" || got.ErrorMessage != "mailbox full" {
		t.Errorf("error = %v/%v, want bounce/mailbox full", got.ErrorType, got.ErrorMessage)
	}

	if err := repo.MarkFailed(ctx, m.ID, "bounce", "still full", now); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	got, _ = repo.GetByID(ctx, m.ID)
	if got.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", got.RetryCount)
	}
}

func TestMessageRequeueOnlyFromFailed(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	m := createMessage(t, repo, now)

	// Pending message cannot be requeued
	ok, err := repo.Requeue(ctx, m.ID, now)
	if err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	if ok {
		t.Error("Requeue() from pending = true, want false")
	}

	if err := repo.MarkFailed(ctx, m.ID, "bounce", "mailbox full", now); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	retryAt := now.Add(5 * time.Minute)
	ok, err = repo.Requeue(ctx, m.ID, retryAt)
	if err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	if !ok {
		t.Fatal("Requeue() from failed = false, want true")
	}

	got, _ := repo.GetByID(ctx, m.ID)
	if got.Status != model.StatusPending {
		t.Errorf("Status = %v, want pending", got.Status)
	}
	if !got.ScheduledAt.Equal(retryAt) {
		t.Errorf("ScheduledAt = %v, want %v", got.ScheduledAt, retryAt)
	}
	// The retry counter survives the requeue
	if got.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", got.RetryCount)
	}
}

func TestMessageEngagementCounters(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	m := createMessage(t, repo, now)

	first := now.Add(-time.Hour)
	if err := repo.RecordOpen(ctx, m.ID, first); err != nil {
		t.Fatalf("RecordOpen() error = %v", err)
	}
	if err := repo.RecordOpen(ctx, m.ID, now); err != nil {
		t.Fatalf("RecordOpen() error = %v", err)
	}
	if err := repo.RecordClick(ctx, m.ID, now); err != nil {
		t.Fatalf("RecordClick() error = %v", err)
	}

	got, _ := repo.GetByID(ctx, m.ID)
	if !got.Opened || got.OpensCount != 2 {
		t.Errorf("opens = %v/%d, want true/2", got.Opened, got.OpensCount)
	}
	if !got.Clicked || got.ClicksCount != 1 {
		t.Errorf("clicks = %v/%d, want true/1", got.Clicked, got.ClicksCount)
	}
	// The first-open timestamp is preserved across later opens
	if got.OpenedAt == nil || !got.OpenedAt.Equal(first) {
		t.Errorf("OpenedAt = %v, want %v", got.OpenedAt, first)
	}
}

func TestMessageListStaleProcessing(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	m := createMessage(t, repo, now)
	if _, err := repo.Claim(ctx, m.ID); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	stale, err := repo.ListStaleProcessing(ctx, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("ListStaleProcessing() error = %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("fresh processing message reported stale: %d", len(stale))
	}

	stale, err = repo.ListStaleProcessing(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("ListStaleProcessing() error = %v", err)
	}
	if len(stale) != 1 || stale[0].ID != m.ID {
		t.Errorf("stale = %v, want [%s]", stale, m.ID)
	}
}

func TestMessageStats(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	createMessage(t, repo, now)
	m2 := createMessage(t, repo, now)
	if err := repo.MarkSent(ctx, m2.ID, "prov-2", now); err != nil {
		t.Fatalf("MarkSent() error = %v", err)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("Total = %d, want 2", stats.Total)
	}
	if stats.Pending != 1 {
		t.Errorf("Pending = %d, want 1", stats.Pending)
	}
	if stats.Sent != 1 {
		t.Errorf("Sent = %d, want 1", stats.Sent)
	}
}

func TestRetryQueueLifecycle(t *testing.T) {
	db := newTestDB(t)
	msgs := NewMessageRepository(db)
	repo := NewRetryRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	m := createMessage(t, msgs, now)

	e := &model.RetryQueueEntry{
		MessageID:   m.ID,
		ErrorID:     "err-1",
		NextRetryAt: now.Add(-time.Minute),
		RetryCount:  1,
		MaxRetries:  3,
	}
	if err := repo.Create(ctx, e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	pending, err := repo.GetPending(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetPending() error = %v", err)
	}
	if pending == nil || pending.ID != e.ID {
		t.Fatal("GetPending() did not return the created entry")
	}
	if pending.Status != model.RetryPending {
		t.Errorf("Status = %v, want pending", pending.Status)
	}

	due, err := repo.ListDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListDue() error = %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("len(due) = %d, want 1", len(due))
	}

	n, err := repo.SupersedePending(ctx, m.ID)
	if err != nil {
		t.Fatalf("SupersedePending() error = %v", err)
	}
	if n != 1 {
		t.Errorf("superseded = %d, want 1", n)
	}

	pending, err = repo.GetPending(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetPending() error = %v", err)
	}
	if pending != nil {
		t.Error("GetPending() after supersede returned an entry, want nil")
	}

	due, err = repo.ListDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListDue() error = %v", err)
	}
	if len(due) != 0 {
		t.Errorf("superseded entry still listed as due")
	}
}

func TestRetryQueueExhaust(t *testing.T) {
	db := newTestDB(t)
	msgs := NewMessageRepository(db)
	repo := NewRetryRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	m := createMessage(t, msgs, now)
	e := &model.RetryQueueEntry{MessageID: m.ID, NextRetryAt: now.Add(-time.Minute), RetryCount: 3, MaxRetries: 3}
	if err := repo.Create(ctx, e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.ExhaustPending(ctx, m.ID); err != nil {
		t.Fatalf("ExhaustPending() error = %v", err)
	}

	// Exhausted entries are terminal: never pending, never due
	pending, _ := repo.GetPending(ctx, m.ID)
	if pending != nil {
		t.Error("GetPending() after exhaust returned an entry, want nil")
	}
	due, _ := repo.ListDue(ctx, now, 10)
	if len(due) != 0 {
		t.Error("exhausted entry listed as due")
	}
}

func TestCounterRoundTrip(t *testing.T) {
	db := newTestDB(t)
	repo := NewCounterRepository(db)
	ctx := context.Background()

	got, err := repo.Get(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Fatal("Get() for a fresh account returned a counter, want nil")
	}

	c := &model.RateLimitCounter{
		AccountID:   "acct-1",
		WindowCount: 5,
		DailyCount:  42,
		LastWindow:  12345,
		LastDay:     "2025-06-01",
	}
	if err := repo.Put(ctx, c); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err = repo.Get(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.WindowCount != 5 || got.DailyCount != 42 || got.LastWindow != 12345 {
		t.Errorf("counter = %+v, want persisted values", got)
	}

	// Put is an upsert
	c.WindowCount = 6
	if err := repo.Put(ctx, c); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, _ = repo.Get(ctx, "acct-1")
	if got.WindowCount != 6 {
		t.Errorf("WindowCount after upsert = %d, want 6", got.WindowCount)
	}
}

func TestRateLimitLog(t *testing.T) {
	db := newTestDB(t)
	repo := NewCounterRepository(db)
	ctx := context.Background()

	if err := repo.Log(ctx, "acct-1", "exceeded", 100, "acct-1:12345"); err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if err := repo.Log(ctx, "acct-1", "exceeded", 101, "acct-1:12345"); err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if err := repo.Log(ctx, "acct-1", "approaching_daily_limit", 80, "acct-1:12345"); err != nil {
		t.Fatalf("Log() error = %v", err)
	}

	n, err := repo.CountLog(ctx, "acct-1", "exceeded")
	if err != nil {
		t.Fatalf("CountLog() error = %v", err)
	}
	if n != 2 {
		t.Errorf("CountLog(exceeded) = %d, want 2", n)
	}
	n, _ = repo.CountLog(ctx, "acct-1", "approaching_daily_limit")
	if n != 1 {
		t.Errorf("CountLog(approaching_daily_limit) = %d, want 1", n)
	}
}

func TestEventLogAppendAndList(t *testing.T) {
	db := newTestDB(t)
	msgs := NewMessageRepository(db)
	repo := NewEventRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	m := createMessage(t, msgs, now)

	for _, typ := range []string{"delivered", "open"} {
		e := &model.DeliveryEvent{
			MessageID:  m.ID,
			EventType:  typ,
			OccurredAt: now,
			RawPayload: `{"event":"` + typ + `"}`,
		}
		if err := repo.AppendEvent(ctx, e); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}

	events, err := repo.ListEventsByMessage(ctx, m.ID)
	if err != nil {
		t.Fatalf("ListEventsByMessage() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].EventType != "delivered" || events[1].EventType != "open" {
		t.Errorf("event order = [%s, %s], want [delivered, open]",
			events[0].EventType, events[1].EventType)
	}
}

func TestDeliveryErrors(t *testing.T) {
	db := newTestDB(t)
	msgs := NewMessageRepository(db)
	repo := NewEventRepository(db)
	ctx := context.Background()

	m := createMessage(t, msgs, time.Now().UTC())

	e, err := repo.RecordError(ctx, m.ID, "bounce", "mailbox full", `{"reason":"mailbox full"}`)
	if err != nil {
		t.Fatalf("RecordError() error = %v", err)
	}
	if e.ID == "" {
		t.Error("RecordError() returned an empty id")
	}

	errs, err := repo.ListErrorsByMessage(ctx, m.ID)
	if err != nil {
		t.Fatalf("ListErrorsByMessage() error = %v", err)
	}
	if len(errs) != 1 {
		t.Fatalf("len(errs) = %d, want 1", len(errs))
	}
	if errs[0].ErrorType != "bounce" || errs[0].Message != "mailbox full" {
		t.Errorf("error = %v/%v, want bounce/mailbox full", errs[0].ErrorType, errs[0].Message)
	}
}

func TestRecordErrorWithoutMessage(t *testing.T) {
	db := newTestDB(t)
	repo := NewEventRepository(db)

	// Panic-path errors have no resolved message to attribute to
	e, err := repo.RecordError(context.Background(), "", "processing_panic",
		"panic while processing event", `{"event":"open"}`)
	if err != nil {
		t.Fatalf("RecordError() error = %v", err)
	}
	if e.ID == "" {
		t.Error("RecordError() returned an empty id")
	}
}

func TestForeignKeysEnforcedOnEveryConnection(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// Hold two pooled connections at once so the pool cannot hand the
	// same one back twice
	c1, err := db.Conn(ctx)
	if err != nil {
		t.Fatalf("Conn() error = %v", err)
	}
	defer c1.Close()
	c2, err := db.Conn(ctx)
	if err != nil {
		t.Fatalf("Conn() error = %v", err)
	}
	defer c2.Close()

	for i, conn := range []*sql.Conn{c1, c2} {
		var on int
		if err := conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&on); err != nil {
			t.Fatalf("conn %d: PRAGMA foreign_keys: %v", i+1, err)
		}
		if on != 1 {
			t.Errorf("conn %d: foreign_keys = %d, want 1", i+1, on)
		}
	}
	c1.Close()
	c2.Close()

	repo := NewEventRepository(db)
	if _, err := repo.RecordError(ctx, "no-such-message", "bounce", "x", ""); err == nil {
		t.Error("RecordError() with an unknown message id succeeded, want constraint failure")
	}
}

func TestNotifications(t *testing.T) {
	db := newTestDB(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()

	n := &model.Notification{
		AccountID: "acct-1",
		MessageID: "m1",
		Kind:      model.NotifyRetriesExhausted,
		Body:      "delivery failed permanently after 3 attempts",
	}
	if err := repo.Create(ctx, n); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	notifs, err := repo.ListByAccount(ctx, "acct-1", 10)
	if err != nil {
		t.Fatalf("ListByAccount() error = %v", err)
	}
	if len(notifs) != 1 {
		t.Fatalf("len(notifs) = %d, want 1", len(notifs))
	}
	if notifs[0].Kind != model.NotifyRetriesExhausted {
		t.Errorf("Kind = %v, want %v", notifs[0].Kind, model.NotifyRetriesExhausted)
	}

	notifs, _ = repo.ListByAccount(ctx, "acct-2", 10)
	if len(notifs) != 0 {
		t.Errorf("notifications for another account = %d, want 0", len(notifs))
	}
}
