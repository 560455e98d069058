package statekeeper

import (
	"fmt"
	"time"
)

// StateKeepUser is a namespaced view onto a StateKeeper: every key it
// reads or writes is implicitly prefixed, and it can optionally register
// its prefix for automatic expiry after a period of inactivity. It is
// not safe for concurrent use.
type StateKeepUser struct {
	stateKeeper *StateKeeper
	prefix      string
	timeoutMS   int64
	crtTimeout  int64
}

// NewStateKeepUser returns a StateKeepUser bound to prefix under sk.
// timeoutMS is the inactivity window after which this user's keys are
// expired: 0 makes SetValue a no-op (nothing is stored, so nothing
// expires), a negative value means "expire on
// an externally managed timeout that this user never refreshes itself".
// Any previously recorded timeout deadline for this prefix (from before
// a restart) is recovered from sk.
func NewStateKeepUser(sk *StateKeeper, prefix string, timeoutMS int64) *StateKeepUser {
	u := &StateKeepUser{stateKeeper: sk, prefix: prefix, timeoutMS: timeoutMS}
	if str, ok := sk.GetValue(prefix + timeoutKey); ok {
		if t, err := parseTimestamp(str); err == nil {
			u.crtTimeout = t
		}
	}
	return u
}

// Prefix returns the key prefix this user was constructed with.
func (u *StateKeepUser) Prefix() string { return u.prefix }

// TimeoutMS returns the currently configured inactivity timeout.
func (u *StateKeepUser) TimeoutMS() int64 { return u.timeoutMS }

// SetTimeoutMS changes the inactivity timeout for future SetValue calls.
func (u *StateKeepUser) SetTimeoutMS(timeoutMS int64) { u.timeoutMS = timeoutMS }

// SetValue sets key (under this user's prefix) to value, and refreshes
// the expiry deadline if a positive timeout is configured. It is a no-op
// if the timeout is exactly 0, which denotes a user whose keys should
// never be written by this call path at all.
func (u *StateKeepUser) SetValue(key, value string) error {
	if u.timeoutMS == 0 {
		return nil
	}
	if err := u.stateKeeper.SetValue(u.prefix+key, value); err != nil {
		return err
	}
	if u.timeoutMS >= 0 {
		u.updateTimeout()
	}
	return nil
}

// GetValue returns key's value (under this user's prefix), if set.
func (u *StateKeepUser) GetValue(key string) (string, bool) {
	return u.stateKeeper.GetValue(u.prefix + key)
}

// HasValue reports whether key (under this user's prefix) is set.
func (u *StateKeepUser) HasValue(key string) bool {
	return u.stateKeeper.HasValue(u.prefix + key)
}

// DeleteValue removes key (under this user's prefix).
func (u *StateKeepUser) DeleteValue(key string) error {
	return u.stateKeeper.DeleteValue(u.prefix + key)
}

// DeletePrefix removes every key beginning with prefix under this user's
// own prefix. An empty prefix deletes all of this user's keys and also
// cancels its registered timeout, since there is nothing left to expire.
func (u *StateKeepUser) DeletePrefix(prefix string) error {
	if prefix == "" {
		u.cleanTimeout()
	}
	return u.stateKeeper.DeletePrefix(u.prefix + prefix)
}

// DeleteAllValues removes every key belonging to this user.
func (u *StateKeepUser) DeleteAllValues() error {
	return u.DeletePrefix("")
}

// KeysWithPrefix returns every one of this user's keys beginning with
// prefix, with the user's own prefix stripped off, sorted ascending.
func (u *StateKeepUser) KeysWithPrefix(prefix string) []string {
	full := u.stateKeeper.KeysWithPrefix(u.prefix + prefix)
	out := make([]string, len(full))
	for i, k := range full {
		out[i] = k[len(u.prefix):]
	}
	return out
}

// BeginTransaction delegates to the underlying StateKeeper. Transactions
// are not scoped per user: only one may be open on a StateKeeper at a
// time, regardless of how many StateKeepUsers share it.
func (u *StateKeepUser) BeginTransaction() { u.stateKeeper.BeginTransaction() }

// CommitTransaction delegates to the underlying StateKeeper.
func (u *StateKeepUser) CommitTransaction() error { return u.stateKeeper.CommitTransaction() }

// updateTimeout advances this user's expiry deadline to now+timeoutMS,
// skipping the write if the deadline hasn't moved by enough to be worth
// persisting. It writes both the global sorted timeout index entry and
// the local deadline marker directly through the underlying StateKeeper,
// rather than recursing back through StateKeepUser.SetValue the way the
// package this is grounded on does (there, writing the local marker
// re-enters SetValue, which re-enters UpdateTimeout, which immediately
// no-ops because the deadline was just updated — a self-terminating
// pattern that falls out of the original's call structure rather than
// being a behavior worth reproducing here).
func (u *StateKeepUser) updateTimeout() {
	if u.timeoutMS <= 0 {
		return
	}
	newTimeout := time.Now().UnixMilli() + u.timeoutMS
	if newTimeout-u.crtTimeout < minUpdateTimeoutMS {
		return
	}

	oldTimeout := u.crtTimeout
	newKey := globalTimeoutKey(newTimeout, u.prefix)
	// newKey lives in the reserved timeout index, so it goes through the
	// unchecked internal path rather than the public SetValue/DeleteValue,
	// which reject writes to reserved keys.
	_ = u.stateKeeper.setValueInternal(newKey, u.prefix)
	u.crtTimeout = newTimeout
	_ = u.stateKeeper.SetValue(u.prefix+timeoutKey, strconvI64(u.crtTimeout))

	if oldTimeout != 0 {
		_ = u.stateKeeper.deleteValueInternal(globalTimeoutKey(oldTimeout, u.prefix))
	}
}

// cleanTimeout removes this user's registered global timeout entry, if
// any, and forgets its deadline.
func (u *StateKeepUser) cleanTimeout() {
	if u.crtTimeout == 0 {
		return
	}
	_ = u.stateKeeper.deleteValueInternal(globalTimeoutKey(u.crtTimeout, u.prefix))
	u.crtTimeout = 0
}

// globalTimeoutKey builds the sorted-index key ExpireTimeoutedKeys scans:
// the deadline is zero-padded to 25 digits so lexical and numeric
// ordering agree, wide enough to hold any millisecond Unix timestamp.
func globalTimeoutKey(deadlineMS int64, prefix string) string {
	return fmt.Sprintf("%s/%025d/%s", timeoutKey, deadlineMS, prefix)
}

func strconvI64(v int64) string {
	return fmt.Sprintf("%d", v)
}

func parseTimestamp(s string) (int64, error) {
	var v int64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}
