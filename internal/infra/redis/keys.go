package redis

import (
	"strings"

	"quiz-competition-service/internal/domain"
)

// Key scheme, one typed prefix per record kind:
//
//	quiz:{bot}:{chat}:state              session hash
//	quiz:{bot}:{chat}:timer              round timer hash (expires past round end)
//	quiz:{bot}:{chat}:roster             participant id set
//	quiz:{bot}:{chat}:answers:{user}     per-participant answer hash
//	quiz:{bot}:{chat}:answered:{q}:{user} one-shot answered marker
//	quiz:{bot}:{chat}:lock:{kind}        advisory locks
//
// Session discovery matches the ":state" suffix only, so auxiliary keys never
// need to be filtered out by substring inspection. SessionKey.Validate keeps
// ':' out of the bot and chat parts.

const (
	keyPrefix   = "quiz:"
	stateSuffix = ":state"
)

func sessionPrefix(key domain.SessionKey) string {
	return keyPrefix + key.BotID + ":" + key.ChatID
}

func stateKey(key domain.SessionKey) string  { return sessionPrefix(key) + stateSuffix }
func timerKey(key domain.SessionKey) string  { return sessionPrefix(key) + ":timer" }
func rosterKey(key domain.SessionKey) string { return sessionPrefix(key) + ":roster" }

func answersKey(key domain.SessionKey, userID string) string {
	return sessionPrefix(key) + ":answers:" + userID
}

func answersPattern(key domain.SessionKey) string {
	return sessionPrefix(key) + ":answers:*"
}

func markerKey(key domain.SessionKey, questionID, userID string) string {
	return sessionPrefix(key) + ":answered:" + questionID + ":" + userID
}

func lockKey(key domain.SessionKey, kind string) string {
	return sessionPrefix(key) + ":lock:" + kind
}

func sessionPattern(key domain.SessionKey) string {
	return sessionPrefix(key) + ":*"
}

const discoveryPattern = keyPrefix + "*" + stateSuffix

// parseStateKey recovers the session key from a state key; ok is false for
// keys that do not follow the scheme.
func parseStateKey(raw string) (domain.SessionKey, bool) {
	if !strings.HasPrefix(raw, keyPrefix) || !strings.HasSuffix(raw, stateSuffix) {
		return domain.SessionKey{}, false
	}
	middle := strings.TrimSuffix(strings.TrimPrefix(raw, keyPrefix), stateSuffix)
	parts := strings.Split(middle, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return domain.SessionKey{}, false
	}
	return domain.SessionKey{BotID: parts[0], ChatID: parts[1]}, true
}
