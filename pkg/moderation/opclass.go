package moderation

import "github.com/allthingslinux/tux/pkg/storage"

// OperationClass buckets calls for retry policy, circuit breaking and
// latency accounting.
type OperationClass string

const (
	ClassBanKick  OperationClass = "ban_kick"
	ClassTimeout  OperationClass = "timeout"
	ClassMessages OperationClass = "messages"
	ClassDatabase OperationClass = "database"
	ClassAPIOther OperationClass = "api_other"
)

// ClassForCaseType maps a case type to the class of its Discord action.
func ClassForCaseType(t storage.CaseType) OperationClass {
	switch t {
	case storage.CaseBan, storage.CaseTempBan, storage.CaseUnban, storage.CaseKick:
		return ClassBanKick
	case storage.CaseTimeout, storage.CaseUntimeout:
		return ClassTimeout
	default:
		return ClassAPIOther
	}
}

// removalActions are the case types that remove the target from the guild.
// Their DM is attempted before the action, since it cannot be delivered
// afterwards.
var removalActions = map[storage.CaseType]bool{
	storage.CaseBan:     true,
	storage.CaseTempBan: true,
	storage.CaseKick:    true,
}

// IsRemovalAction reports whether the case type removes the target from the
// guild.
func IsRemovalAction(t storage.CaseType) bool { return removalActions[t] }
