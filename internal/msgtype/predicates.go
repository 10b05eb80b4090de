package msgtype

// IsOutgoing reports whether the base type is a member of the outgoing set.
func (t Type) IsOutgoing() bool {
	b := t.Base()
	for _, o := range outgoingBases {
		if b == o {
			return true
		}
	}
	return false
}

func (t Type) IsInbox() bool { return t.Base() == Inbox }

func (t Type) IsSent() bool { return t.Base() == Sent }

func (t Type) IsDraft() bool { return t.Base() == Draft }

// IsPending reports whether the message is still waiting to leave the device.
func (t Type) IsPending() bool {
	switch t.Base() {
	case Outbox, Sending, PendingSecureSMSFallback, PendingInsecureSMSFallback:
		return true
	}
	return false
}

func (t Type) IsFailed() bool {
	return t.Base() == SentFailed || t.Has(EncryptionRemoteFailed)
}

func (t Type) IsPendingSMSFallback() bool {
	b := t.Base()
	return b == PendingSecureSMSFallback || b == PendingInsecureSMSFallback
}

func (t Type) IsCall() bool {
	switch t.Base() {
	case IncomingAudioCall, OutgoingAudioCall, MissedAudioCall,
		IncomingVideoCall, OutgoingVideoCall, MissedVideoCall, GroupCall:
		return true
	}
	return false
}

func (t Type) IsMissedCall() bool {
	b := t.Base()
	return b == MissedAudioCall || b == MissedVideoCall
}

func (t Type) IsJoined() bool { return t.Base() == Joined }

func (t Type) IsProfileChange() bool { return t.Base() == ProfileChange }

func (t Type) IsGV1Migration() bool { return t.Base() == GV1Migration }

func (t Type) IsChangeNumber() bool { return t.Base() == ChangeNumber }

func (t Type) IsBoostRequest() bool { return t.Base() == BoostRequest }

func (t Type) IsThreadMerge() bool { return t.Base() == ThreadMerge }

func (t Type) IsSessionSwitchover() bool { return t.Base() == SessionSwitchover }

func (t Type) IsBadDecrypt() bool { return t.Base() == BadDecrypt }

func (t Type) IsUnsupported() bool { return t.Base() == UnsupportedMessage }

func (t Type) IsInvalid() bool { return t.Base() == InvalidMessage }

func (t Type) IsRateLimited() bool { return t.Has(RateLimited) }

func (t Type) IsForcedSMS() bool { return t.Has(ForceSMS) }

func (t Type) IsSecure() bool { return t.Has(Secure) }

func (t Type) IsPush() bool { return t.Has(Push) }

func (t Type) IsEndSession() bool { return t.Has(EndSession) }

func (t Type) IsKeyExchange() bool { return t.Has(KeyExchange) }

func (t Type) IsIdentityUpdate() bool { return t.Has(KeyExchangeIdentityUpdate) }

func (t Type) IsIdentityVerified() bool { return t.Has(KeyExchangeIdentityVerified) }

func (t Type) IsIdentityDefault() bool { return t.Has(KeyExchangeIdentityDefault) }

func (t Type) IsCorruptedKeyExchange() bool { return t.Has(KeyExchangeCorrupted) }

func (t Type) IsInvalidVersionKeyExchange() bool { return t.Has(KeyExchangeInvalidVersion) }

func (t Type) IsBundleKeyExchange() bool { return t.Has(KeyExchangeBundle) }

func (t Type) IsContentBundleKeyExchange() bool { return t.Has(KeyExchangeContentFormat) }

func (t Type) IsGroupUpdate() bool { return t.Has(GroupUpdate) }

func (t Type) IsGroupV2() bool { return t.Has(GroupV2) }

// IsGroupLeave is true for legacy quit messages, not for V2 leave markers.
func (t Type) IsGroupLeave() bool { return t.Has(GroupLeave) && !t.Has(GroupV2) }

// IsGroupV2LeaveOnly matches the V2 update emitted when a member only left.
func (t Type) IsGroupV2LeaveOnly() bool { return t&GroupV2LeaveBits == GroupV2LeaveBits }

func (t Type) IsExpirationTimerUpdate() bool { return t.Has(ExpirationTimerUpdate) }

func (t Type) IsDecryptInProgress() bool { return t.Has(EncryptionAsymmetric) }

func (t Type) IsFailedDecrypt() bool { return t.Has(EncryptionRemoteFailed) }

func (t Type) IsDuplicate() bool { return t.Has(EncryptionRemoteDuplicate) }

func (t Type) IsNoSession() bool { return t.Has(EncryptionRemoteNoSession) }

func (t Type) IsLegacy() bool { return t.Has(EncryptionRemoteLegacy) }

func (t Type) IsStoryReaction() bool { return t.Special() == SpecialStoryReaction }

func (t Type) IsGiftBadge() bool { return t.Special() == SpecialGiftBadge }

func (t Type) IsPaymentsNotification() bool { return t.Special() == SpecialPaymentsNotification }

func (t Type) IsPaymentsActivateRequest() bool {
	return t.Special() == SpecialPaymentsActivateRequest
}

func (t Type) IsPaymentsActivated() bool { return t.Special() == SpecialPaymentsActivated }

func (t Type) IsReportedSpam() bool { return t.Special() == SpecialReportedSpam }

func (t Type) IsMessageRequestAccepted() bool {
	return t.Special() == SpecialMessageRequestAccepted
}

func (t Type) IsBlocked() bool { return t.Special() == SpecialBlocked }

func (t Type) IsUnblocked() bool { return t.Special() == SpecialUnblocked }

// IsSilent reports types that must not unarchive a thread when inserted.
func (t Type) IsSilent() bool {
	return t.IsProfileChange() || t.IsGV1Migration()
}

// IsSnippetCandidate reports whether a row of this type may become a thread snippet.
func (t Type) IsSnippetCandidate() bool {
	b := t.Base()
	for _, s := range silentBases {
		if b == s {
			return false
		}
	}
	return !t.IsGroupV2LeaveOnly()
}
