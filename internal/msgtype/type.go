// Package msgtype encodes message classification into the packed 64-bit
// type column shared by every message table.
//
// The value is split into disjoint regions:
//
//	0x0000_0000_1F  base type (mutually exclusive enum)
//	0x0000_0000_E0  message attributes (rate limited, forced sms)
//	0x0000_00FF_00  key exchange
//	0x0000_0F_0000  group update / leave / expiration timer / v2
//	0x0000_E0_0000  push / end session / secure
//	0x00FF_00_0000  encryption and remote status
//	0x0F00_00_0000  special type (enum, added after the base layout was frozen)
//
// The numeric layout is persisted on disk and must never change. New features
// claim unused bits; they never reuse bits an older reader still interprets.
package msgtype

// Type is the packed value stored in a message row's type column.
type Type uint64

// Base is the low 5-bit base type enum.
type Base uint8

const (
	IncomingAudioCall  Base = 1
	OutgoingAudioCall  Base = 2
	MissedAudioCall    Base = 3
	Joined             Base = 4
	UnsupportedMessage Base = 5
	InvalidMessage     Base = 6
	ProfileChange      Base = 7
	MissedVideoCall    Base = 8
	GV1Migration       Base = 9
	IncomingVideoCall  Base = 10
	OutgoingVideoCall  Base = 11
	GroupCall          Base = 12
	BadDecrypt         Base = 13
	ChangeNumber       Base = 14
	BoostRequest       Base = 15
	ThreadMerge        Base = 16
	SMSExport          Base = 17
	SessionSwitchover  Base = 18

	Inbox                      Base = 20
	Outbox                     Base = 21
	Sending                    Base = 22
	Sent                       Base = 23
	SentFailed                 Base = 24
	PendingSecureSMSFallback   Base = 25
	PendingInsecureSMSFallback Base = 26
	Draft                      Base = 27
)

// Flags is a set of single-bit attributes outside the base and special regions.
type Flags uint64

const (
	ForceSMS    Flags = 0x40
	RateLimited Flags = 0x80

	KeyExchangeContentFormat    Flags = 0x100
	KeyExchangeIdentityUpdate   Flags = 0x200
	KeyExchangeBundle           Flags = 0x400
	KeyExchangeInvalidVersion   Flags = 0x800
	KeyExchangeCorrupted        Flags = 0x1000
	KeyExchangeIdentityDefault  Flags = 0x2000
	KeyExchangeIdentityVerified Flags = 0x4000
	KeyExchange                 Flags = 0x8000

	GroupUpdate           Flags = 0x10000
	GroupLeave            Flags = 0x20000
	ExpirationTimerUpdate Flags = 0x40000
	GroupV2               Flags = 0x80000

	Push       Flags = 0x200000
	EndSession Flags = 0x400000
	Secure     Flags = 0x800000

	EncryptionRemoteLegacy    Flags = 0x02000000
	EncryptionRemoteDuplicate Flags = 0x04000000
	EncryptionRemoteNoSession Flags = 0x08000000
	EncryptionRemoteFailed    Flags = 0x10000000
	EncryptionRemote          Flags = 0x20000000
	EncryptionAsymmetric      Flags = 0x40000000
	EncryptionSymmetric       Flags = 0x80000000
)

// Special is the enum stored in the special type region.
type Special uint8

const (
	SpecialNone                    Special = 0
	SpecialStoryReaction           Special = 0x1
	SpecialGiftBadge               Special = 0x2
	SpecialPaymentsNotification    Special = 0x3
	SpecialPaymentsActivateRequest Special = 0x4
	SpecialReportedSpam            Special = 0x5
	SpecialMessageRequestAccepted  Special = 0x6
	SpecialPaymentsActivated       Special = 0x8
	SpecialBlocked                 Special = 0xA
	SpecialUnblocked               Special = 0xB
)

// Region masks.
const (
	BaseMask            Type = 0x1F
	AttributeMask       Type = 0xE0
	KeyExchangeMask     Type = 0xFF00
	GroupMask           Type = 0xF0000
	TransportMask       Type = 0xE00000
	EncryptionMask      Type = 0xFF000000
	SpecialMask         Type = 0xF00000000
	specialShift             = 32
	GroupV2LeaveBits         = Type(GroupV2 | GroupLeave | GroupUpdate)
	flagsMask                = AttributeMask | KeyExchangeMask | GroupMask | TransportMask | EncryptionMask
)

// Attrs is everything in a Type except the base.
type Attrs struct {
	Flags   Flags
	Special Special
}

// Encode packs base and attrs. Bits outside the claimed regions are dropped.
func Encode(base Base, attrs Attrs) Type {
	return Type(base)&BaseMask |
		Type(attrs.Flags)&flagsMask |
		(Type(attrs.Special)<<specialShift)&SpecialMask
}

// Of is shorthand for Encode(base, Attrs{Flags: flags}).
func Of(base Base, flags Flags) Type {
	return Encode(base, Attrs{Flags: flags})
}

func (t Type) Base() Base {
	return Base(t & BaseMask)
}

func (t Type) Flags() Flags {
	return Flags(t & flagsMask)
}

func (t Type) Special() Special {
	return Special((t & SpecialMask) >> specialShift)
}

func (t Type) Attrs() Attrs {
	return Attrs{Flags: t.Flags(), Special: t.Special()}
}

// Has reports whether every bit of f is set.
func (t Type) Has(f Flags) bool {
	return Flags(t)&f == f
}

// With returns t with the base replaced.
func (t Type) With(base Base) Type {
	return t&^BaseMask | Type(base)&BaseMask
}

// outgoingBases is the legacy enumeration of base types treated as outgoing.
// It is a set, not a bit, and call log entries are part of it.
var outgoingBases = [...]Base{
	Outbox,
	Sent,
	Sending,
	SentFailed,
	PendingSecureSMSFallback,
	PendingInsecureSMSFallback,
	OutgoingAudioCall,
	OutgoingVideoCall,
}

// OutgoingBases returns a copy of the outgoing base set.
func OutgoingBases() []Base {
	out := make([]Base, len(outgoingBases))
	copy(out, outgoingBases[:])
	return out
}

// silentBases never become a thread snippet.
var silentBases = [...]Base{
	ProfileChange,
	GV1Migration,
	ChangeNumber,
	BoostRequest,
	SMSExport,
}

// SnippetExcludedBases returns the bases skipped when choosing a thread snippet.
func SnippetExcludedBases() []Base {
	out := make([]Base, len(silentBases))
	copy(out, silentBases[:])
	return out
}
