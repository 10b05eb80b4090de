package msgtype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allBases = []Base{
	IncomingAudioCall, OutgoingAudioCall, MissedAudioCall, Joined, UnsupportedMessage,
	InvalidMessage, ProfileChange, MissedVideoCall, GV1Migration, IncomingVideoCall,
	OutgoingVideoCall, GroupCall, BadDecrypt, ChangeNumber, BoostRequest, ThreadMerge,
	SMSExport, SessionSwitchover, Inbox, Outbox, Sending, Sent, SentFailed,
	PendingSecureSMSFallback, PendingInsecureSMSFallback, Draft,
}

var allFlags = []Flags{
	ForceSMS, RateLimited,
	KeyExchangeContentFormat, KeyExchangeIdentityUpdate, KeyExchangeBundle,
	KeyExchangeInvalidVersion, KeyExchangeCorrupted, KeyExchangeIdentityDefault,
	KeyExchangeIdentityVerified, KeyExchange,
	GroupUpdate, GroupLeave, ExpirationTimerUpdate, GroupV2,
	Push, EndSession, Secure,
	EncryptionRemoteLegacy, EncryptionRemoteDuplicate, EncryptionRemoteNoSession,
	EncryptionRemoteFailed, EncryptionRemote, EncryptionAsymmetric, EncryptionSymmetric,
}

var allSpecials = []Special{
	SpecialNone, SpecialStoryReaction, SpecialGiftBadge, SpecialPaymentsNotification,
	SpecialPaymentsActivateRequest, SpecialReportedSpam, SpecialMessageRequestAccepted,
	SpecialPaymentsActivated, SpecialBlocked, SpecialUnblocked,
}

func TestRegionsAreDisjoint(t *testing.T) {
	regions := []Type{BaseMask, AttributeMask, KeyExchangeMask, GroupMask, TransportMask, EncryptionMask, SpecialMask}
	for i := range regions {
		for j := i + 1; j < len(regions); j++ {
			assert.Zerof(t, regions[i]&regions[j], "regions %#x and %#x overlap", regions[i], regions[j])
		}
	}
	for _, f := range allFlags {
		assert.Equalf(t, Type(f), Type(f)&flagsMask, "flag %#x outside flag regions", f)
	}
}

func TestEncodeDecode(t *testing.T) {
	claimed := BaseMask | flagsMask | SpecialMask
	combos := []Flags{0}
	for _, f := range allFlags {
		combos = append(combos, f)
	}
	combos = append(combos, Push|Secure, GroupV2|GroupUpdate|GroupLeave, RateLimited|ForceSMS|KeyExchange|EncryptionSymmetric)

	for _, b := range allBases {
		for _, f := range combos {
			for _, s := range allSpecials {
				attrs := Attrs{Flags: f, Special: s}
				got := Encode(b, attrs)
				require.Equal(t, b, got.Base())
				require.Equal(t, attrs, got.Attrs())
				require.Zero(t, got&^claimed)
			}
		}
	}
}

func TestLayoutIsFrozen(t *testing.T) {
	assert.Equal(t, Type(0xA00017), Of(Sent, Push|Secure))
	assert.Equal(t, Type(0x200000014), Encode(Inbox, Attrs{Special: SpecialGiftBadge}))
	assert.Equal(t, Type(0x810014), Of(Inbox, Secure|GroupUpdate))
	assert.Equal(t, Type(0xB00000000), Encode(0, Attrs{Special: SpecialUnblocked}))
	assert.Equal(t, Type(0xB0000), GroupV2LeaveBits)
}

func TestIsOutgoing(t *testing.T) {
	outgoing := map[Base]bool{
		Outbox: true, Sent: true, Sending: true, SentFailed: true,
		PendingSecureSMSFallback: true, PendingInsecureSMSFallback: true,
		OutgoingAudioCall: true, OutgoingVideoCall: true,
	}
	for _, b := range allBases {
		assert.Equalf(t, outgoing[b], Of(b, Secure|Push).IsOutgoing(), "base %d", b)
	}
	assert.False(t, Of(Draft, 0).IsOutgoing())
	assert.False(t, Of(GroupCall, 0).IsOutgoing())
}

func TestPredicates(t *testing.T) {
	v2Leave := Of(Inbox, GroupV2|GroupUpdate|GroupLeave)
	assert.True(t, v2Leave.IsGroupV2LeaveOnly())
	assert.False(t, v2Leave.IsGroupLeave())
	assert.False(t, v2Leave.IsSnippetCandidate())
	assert.True(t, Of(Inbox, GroupLeave|GroupUpdate).IsGroupLeave())
	assert.False(t, Of(Inbox, GroupV2|GroupUpdate).IsGroupV2LeaveOnly())

	assert.False(t, Of(ProfileChange, 0).IsSnippetCandidate())
	assert.False(t, Of(GV1Migration, 0).IsSnippetCandidate())
	assert.True(t, Of(Inbox, 0).IsSnippetCandidate())

	assert.True(t, Of(GV1Migration, 0).IsSilent())
	assert.False(t, Of(ChangeNumber, 0).IsSilent())

	assert.True(t, Of(MissedVideoCall, 0).IsCall())
	assert.True(t, Of(MissedVideoCall, 0).IsMissedCall())
	assert.True(t, Of(Sending, 0).IsPending())
	assert.True(t, Of(Inbox, EncryptionRemoteFailed).IsFailed())
	assert.True(t, Encode(Inbox, Attrs{Special: SpecialStoryReaction}).IsStoryReaction())
}

func TestTransitions(t *testing.T) {
	start := Encode(Sending, Attrs{Flags: KeyExchangeBundle, Special: SpecialGiftBadge})

	sent := ToSent(true).Apply(start)
	assert.Equal(t, Sent, sent.Base())
	assert.True(t, sent.IsSecure())
	assert.True(t, sent.IsPush())
	assert.True(t, sent.IsBundleKeyExchange())
	assert.Equal(t, SpecialGiftBadge, sent.Special())

	ended := ToEndSession.Apply(sent)
	assert.False(t, ended.IsBundleKeyExchange())
	assert.True(t, ended.IsEndSession())
	assert.Equal(t, Sent, ended.Base())

	limited := ToRateLimited.Apply(sent)
	assert.True(t, limited.IsRateLimited())
	assert.Equal(t, sent, ClearRateLimited.Apply(limited))

	failed := ToDecryptFailed.Apply(Of(Inbox, EncryptionRemoteNoSession|Push))
	assert.True(t, failed.IsFailedDecrypt())
	assert.False(t, failed.IsNoSession())
	assert.True(t, failed.IsPush())

	forced := ToForcedSMS.Apply(Of(Outbox, Push))
	assert.False(t, forced.IsPush())
	assert.True(t, forced.IsForcedSMS())

	assert.Contains(t, Transitions(), "sent_secure")
	assert.Equal(t, ToSent(true).On, Transitions()["sent_secure"].On)
}

func TestTransitionRegistry(t *testing.T) {
	var names []string
	for name := range Transitions() {
		names = append(names, name)
	}
	assert.ElementsMatch(t, []string{
		"sent", "sent_secure", "sending", "sent_failed", "outbox", "pending_insecure_fallback",
		"secure", "insecure", "push", "forced_sms",
		"decrypt_failed", "decrypt_duplicate", "no_session", "legacy_version",
		"unsupported", "invalid", "end_session", "rate_limited", "clear_rate_limited",
	}, names)
}
