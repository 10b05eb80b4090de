package msgtype

// Transition is a masked update of a stored type: bits in Off are cleared,
// then bits in On are set. Regions not named in Off are left untouched.
type Transition struct {
	Name string
	Off  Type
	On   Type
}

// Apply returns the type after the transition.
func (tr Transition) Apply(t Type) Type {
	return t&^tr.Off | tr.On
}

func (tr Transition) String() string { return tr.Name }

var (
	ToSending                 = Transition{"sending", BaseMask, Type(Sending)}
	ToSentFailed              = Transition{"sent_failed", BaseMask, Type(SentFailed)}
	ToOutbox                  = Transition{"outbox", BaseMask, Type(Outbox)}
	ToPendingInsecureFallback = Transition{"pending_insecure_fallback", BaseMask, Type(PendingInsecureSMSFallback)}
	ToSecure                  = Transition{"secure", 0, Type(Secure)}
	ToInsecure                = Transition{"insecure", Type(Secure), 0}
	ToPush                    = Transition{"push", 0, Type(Push)}
	ToForcedSMS               = Transition{"forced_sms", Type(Push), Type(ForceSMS)}
	ToDecryptFailed           = Transition{"decrypt_failed", EncryptionMask, Type(EncryptionRemoteFailed)}
	ToDecryptDuplicate        = Transition{"decrypt_duplicate", EncryptionMask, Type(EncryptionRemoteDuplicate)}
	ToNoSession               = Transition{"no_session", EncryptionMask, Type(EncryptionRemoteNoSession)}
	ToLegacyVersion           = Transition{"legacy_version", EncryptionMask, Type(EncryptionRemoteLegacy)}
	ToUnsupported             = Transition{"unsupported", BaseMask, Type(UnsupportedMessage)}
	ToInvalid                 = Transition{"invalid", BaseMask, Type(InvalidMessage)}
	ToEndSession              = Transition{"end_session", KeyExchangeMask, Type(EndSession)}
	ToRateLimited             = Transition{"rate_limited", 0, Type(RateLimited)}
	ClearRateLimited          = Transition{"clear_rate_limited", Type(RateLimited), 0}
)

// ToSent moves a message to Sent. A secure send also sets push and secure.
func ToSent(secure bool) Transition {
	on := Type(Sent)
	if secure {
		on |= Type(Push | Secure)
	}
	return Transition{"sent", BaseMask, on}
}

// Transitions lists every named transition, keyed by name.
func Transitions() map[string]Transition {
	all := []Transition{
		ToSending, ToSentFailed, ToOutbox, ToPendingInsecureFallback,
		ToSecure, ToInsecure, ToPush, ToForcedSMS,
		ToDecryptFailed, ToDecryptDuplicate, ToNoSession, ToLegacyVersion,
		ToUnsupported, ToInvalid, ToEndSession, ToRateLimited, ClearRateLimited,
	}
	m := make(map[string]Transition, len(all)+2)
	for _, tr := range all {
		m[tr.Name] = tr
	}
	m["sent"] = ToSent(false)
	secure := ToSent(true)
	secure.Name = "sent_secure"
	m[secure.Name] = secure
	return m
}
