package state

var blockHeightKey = []byte("chain/height")

// BlockHeight returns the last persisted block height.
func (m *Manager) BlockHeight() (uint64, bool, error) {
	var height uint64
	ok, err := m.KVGet(blockHeightKey, &height)
	if err != nil || !ok {
		return 0, false, err
	}
	return height, true, nil
}

// SetBlockHeight records the current block height.
func (m *Manager) SetBlockHeight(height uint64) error {
	return m.KVPut(blockHeightKey, height)
}
