package rico

// enter marks the engine as busy for the duration of a mutating call. Token
// transfers performed by the engine may call back into it through the
// ledger's receive hook; such a nested call fails instead of observing
// half-written records.
func (e *Engine) enter() (func(), error) {
	if e.inCall {
		return nil, ErrReentrantCall
	}
	e.inCall = true
	return func() { e.inCall = false }, nil
}

// Busy reports whether a mutating call is in progress.
func (e *Engine) Busy() bool { return e != nil && e.inCall }
