package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/msgdb/internal/msgtype"
)

func incoming(from, ts int64, body string) IncomingMessage {
	return IncomingMessage{From: from, Body: body, SentAt: ts, ReceivedAt: ts}
}

func mustThread(t *testing.T, db *DB, id int64) *Thread {
	t.Helper()
	th, err := db.Threads().Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, th, "thread %d", id)
	return th
}

func TestInsertRoundTripThroughConversation(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	typ := msgtype.Of(msgtype.Inbox, msgtype.Push|msgtype.Secure)
	text, ok, err := db.Text().InsertIncoming(ctx, IncomingMessage{
		From: 10, Type: typ, Body: "hello", SentAt: 1000, ReceivedAt: 1100, ServerAt: 1050,
		MismatchedIdentities: []IdentityMismatch{{RecipientID: 5, IdentityKey: "abc"}},
	})
	require.NoError(t, err)
	require.True(t, ok)

	media, ok, err := db.Media().InsertOutgoing(ctx, OutgoingMessage{
		To: 10, Type: msgtype.Of(msgtype.Sent, msgtype.Push|msgtype.Secure), Body: "pic", SentAt: 2000,
		Attachments: []Attachment{{ContentType: "image/jpeg", FileName: "a.jpg", Size: 42, DataRef: "blob://1"}},
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, text.ThreadID, media.ThreadID)

	msgs, err := db.ConversationMessages(ctx, text.ThreadID, 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	m := msgs[0]
	assert.Equal(t, media.Message, m.ID)
	assert.Equal(t, TransportMedia, m.ID.Transport)
	assert.Equal(t, "pic", m.Body)
	assert.Equal(t, int64(2000), m.DateSent)
	assert.True(t, m.Type.IsOutgoing())
	require.Len(t, m.Attachments, 1)
	assert.Equal(t, "image/jpeg", m.Attachments[0].ContentType)
	assert.Equal(t, "a.jpg", m.Attachments[0].FileName)
	assert.Equal(t, int64(42), m.Attachments[0].Size)
	assert.Equal(t, "blob://1", m.Attachments[0].DataRef)

	m = msgs[1]
	assert.Equal(t, text.Message, m.ID)
	assert.Equal(t, TransportText, m.ID.Transport)
	assert.Equal(t, typ, m.Type)
	assert.Equal(t, "hello", m.Body)
	assert.Equal(t, int64(1000), m.DateSent)
	assert.Equal(t, int64(1100), m.DateReceived)
	assert.Equal(t, int64(1050), m.DateServer)
	assert.Equal(t, []IdentityMismatch{{RecipientID: 5, IdentityKey: "abc"}}, m.MismatchedIdentities)
	assert.Empty(t, m.Attachments)

	got, err := db.Media().Get(ctx, media.Message.ID)
	require.NoError(t, err)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "blob://1", got.Attachments[0].DataRef)
}

func TestTextMessagesRejectAttachments(t *testing.T) {
	db := testDB(t)
	_, _, err := db.Text().InsertOutgoing(context.Background(), OutgoingMessage{
		To: 10, Body: "x", SentAt: 1, Attachments: []Attachment{{ContentType: "image/png"}},
	})
	assert.Error(t, err)
}

func TestGetMissingMessageIsEmpty(t *testing.T) {
	db := testDB(t)
	m, err := db.Text().Get(context.Background(), 404)
	require.NoError(t, err)
	assert.Nil(t, m)

	deleted, err := db.Text().Delete(context.Background(), 404)
	require.NoError(t, err)
	assert.False(t, deleted)

	require.NoError(t, db.Media().MarkAs(context.Background(), 404, msgtype.ToSent(true)))
}

func TestDuplicateInsertIsNoop(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	first, ok, err := db.Text().InsertIncoming(ctx, incoming(10, 1000, "hi"))
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = db.Text().InsertIncoming(ctx, incoming(10, 1000, "hi again"))
	require.NoError(t, err)
	assert.False(t, ok)

	th := mustThread(t, db, first.ThreadID)
	assert.Equal(t, 1, th.MessageCount)
	assert.Equal(t, "hi", th.Snippet)
}

func TestSameTimestampOppositeDirectionIsNotDuplicate(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	mine, ok, err := db.Text().InsertOutgoing(ctx, sent(10, 1000))
	require.NoError(t, err)
	require.True(t, ok)

	theirs, ok, err := db.Text().InsertIncoming(ctx, incoming(10, 1000, "theirs"))
	require.NoError(t, err)
	require.True(t, ok, "a message from 10 is not a copy of one sent to 10")
	assert.Equal(t, mine.ThreadID, theirs.ThreadID)

	_, ok, err = db.Text().InsertOutgoing(ctx, sent(10, 1000))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 2, mustThread(t, db, mine.ThreadID).MessageCount)
}

func TestThreadSnippetFollowsHead(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	m1, _, err := db.Text().InsertIncoming(ctx, incoming(10, 1000, "m1"))
	require.NoError(t, err)
	th := mustThread(t, db, m1.ThreadID)
	assert.Equal(t, 1, th.MessageCount)
	assert.Equal(t, "m1", th.Snippet)

	m2, _, err := db.Text().InsertIncoming(ctx, incoming(10, 2000, "m2"))
	require.NoError(t, err)
	th = mustThread(t, db, m1.ThreadID)
	assert.Equal(t, 2, th.MessageCount)
	assert.Equal(t, "m2", th.Snippet)
	assert.Equal(t, 2, th.UnreadCount)
	assert.Equal(t, int64(2000), th.Date)

	deleted, err := db.Text().Delete(ctx, m2.Message.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
	th = mustThread(t, db, m1.ThreadID)
	assert.Equal(t, 1, th.MessageCount)
	assert.Equal(t, "m1", th.Snippet)

	deleted, err = db.Text().Delete(ctx, m1.Message.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	gone, err := db.Threads().Get(ctx, m1.ThreadID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestPersistentThreadSurvivesLastDelete(t *testing.T) {
	db := testDB(t, WithDirectory(StaticDirectory{SelfID: selfID, Persistent: []int64{20}}))
	ctx := context.Background()

	res, _, err := db.Text().InsertIncoming(ctx, incoming(20, 1000, "hello"))
	require.NoError(t, err)

	deleted, err := db.Text().Delete(ctx, res.Message.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	th := mustThread(t, db, res.ThreadID)
	assert.Equal(t, 0, th.MessageCount)
	assert.Equal(t, "", th.Snippet)
}

func TestMarkAsKeepsUnrelatedRegions(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	start := msgtype.Encode(msgtype.Sending, msgtype.Attrs{Special: msgtype.SpecialGiftBadge})
	res, _, err := db.Text().InsertOutgoing(ctx, OutgoingMessage{To: 10, Type: start, Body: "gift", SentAt: 1000})
	require.NoError(t, err)

	require.NoError(t, db.Text().MarkAs(ctx, res.Message.ID, msgtype.ToSent(true)))

	m, err := db.Text().Get(ctx, res.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, msgtype.Sent, m.Type.Base())
	assert.True(t, m.Type.IsSecure())
	assert.True(t, m.Type.IsPush())
	assert.True(t, m.Type.IsGiftBadge())

	th := mustThread(t, db, res.ThreadID)
	assert.Equal(t, m.Type, th.SnippetType)

	require.NoError(t, db.Text().MarkAs(ctx, res.Message.ID, msgtype.ToRateLimited))
	m, err = db.Text().Get(ctx, res.Message.ID)
	require.NoError(t, err)
	assert.True(t, m.Type.IsRateLimited())
	assert.Equal(t, msgtype.Sent, m.Type.Base())
}

func TestRemoteDeletedSkipsSnippet(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	m1, _, err := db.Media().InsertIncoming(ctx, IncomingMessage{
		From: 10, Body: "m1", SentAt: 1000, ReceivedAt: 1000,
		Attachments: []Attachment{{ContentType: "image/png", DataRef: "blob://m1"}},
	})
	require.NoError(t, err)
	m2, _, err := db.Media().InsertIncoming(ctx, IncomingMessage{
		From: 10, Body: "m2", SentAt: 2000, ReceivedAt: 2000,
		Attachments: []Attachment{{ContentType: "image/png", DataRef: "blob://m2"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "blob://m2", mustThread(t, db, m1.ThreadID).SnippetURI)

	require.NoError(t, db.Media().MarkRemoteDeleted(ctx, m2.Message.ID))

	got, err := db.Media().Get(ctx, m2.Message.ID)
	require.NoError(t, err)
	assert.True(t, got.RemoteDeleted)
	assert.Empty(t, got.Body)
	assert.Empty(t, got.Attachments)

	th := mustThread(t, db, m1.ThreadID)
	assert.Equal(t, 2, th.MessageCount)
	assert.Equal(t, "m1", th.Snippet)
	assert.Equal(t, "blob://m1", th.SnippetURI)
}

func TestSilentMessagesDoNotUnarchiveOrBecomeSnippet(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	res, _, err := db.Text().InsertIncoming(ctx, incoming(10, 1000, "real"))
	require.NoError(t, err)
	require.NoError(t, db.Threads().SetArchived(ctx, res.ThreadID, true))

	_, _, err = db.Text().InsertIncoming(ctx, IncomingMessage{
		From: 10, Type: msgtype.Of(msgtype.ProfileChange, 0), SentAt: 2000, ReceivedAt: 2000, Read: true,
	})
	require.NoError(t, err)
	_, _, err = db.Text().InsertIncoming(ctx, IncomingMessage{
		From: 11, Group: 10, Type: msgtype.Of(msgtype.Inbox, msgtype.GroupV2|msgtype.GroupUpdate|msgtype.GroupLeave),
		Body: "left", SentAt: 3000, ReceivedAt: 3000,
	})
	require.NoError(t, err)

	th := mustThread(t, db, res.ThreadID)
	assert.Equal(t, 3, th.MessageCount)
	assert.Equal(t, "real", th.Snippet)
	assert.False(t, th.Archived, "a non-silent insert unarchives")

	require.NoError(t, db.Threads().SetArchived(ctx, res.ThreadID, true))
	_, _, err = db.Text().InsertIncoming(ctx, IncomingMessage{
		From: 10, Type: msgtype.Of(msgtype.GV1Migration, 0), SentAt: 4000, ReceivedAt: 4000,
	})
	require.NoError(t, err)
	assert.True(t, mustThread(t, db, res.ThreadID).Archived)
}

func TestMessageCountMatchesLiveRows(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	var threadID int64
	var live []MessageID
	for i := int64(1); i <= 12; i++ {
		table := db.Text()
		if i%3 == 0 {
			table = db.Media()
		}
		res, _, err := table.InsertIncoming(ctx, incoming(10, i*100, "m"))
		require.NoError(t, err)
		threadID = res.ThreadID
		live = append(live, res.Message)

		if i%4 == 0 {
			victim := live[0]
			live = live[1:]
			_, err := db.Messages(victim.Transport).Delete(ctx, victim.ID)
			require.NoError(t, err)
		}

		th := mustThread(t, db, threadID)
		assert.Equal(t, len(live), th.MessageCount)
		n, err := db.ConversationCount(ctx, threadID)
		require.NoError(t, err)
		assert.Equal(t, len(live), n)
	}
}

func TestCorruptIdentityDocumentReadsAsEmpty(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	res, _, err := db.Text().InsertIncoming(ctx, incoming(10, 1000, "hi"))
	require.NoError(t, err)
	_, err = db.Exec("UPDATE text_message SET mismatched_identities = '{not json' WHERE _id = ?", res.Message.ID)
	require.NoError(t, err)

	m, err := db.Text().Get(ctx, res.Message.ID)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "hi", m.Body)
	assert.Nil(t, m.MismatchedIdentities)

	msgs, err := db.ConversationMessages(ctx, res.ThreadID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestExpiringBefore(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	res, _, err := db.Text().InsertIncoming(ctx, IncomingMessage{From: 10, Body: "tick", SentAt: 1000, ReceivedAt: 1000, ExpiresIn: 500})
	require.NoError(t, err)
	_, err = db.Text().SetTimestampRead(ctx, SyncMessageID{Author: 10, Timestamp: 1000}, 2000, nil)
	require.NoError(t, err)

	due, err := db.Text().ExpiringBefore(ctx, 2499)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = db.Text().ExpiringBefore(ctx, 2500)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, res.Message, due[0].Message)
	assert.Equal(t, int64(2000), due[0].Start)

	running, err := db.Text().Expiring(ctx)
	require.NoError(t, err)
	assert.Equal(t, due, running)
}
