package state

import (
	"errors"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"meridianchain/core/types"
	"meridianchain/crypto"
	"meridianchain/native/collateral"
	"meridianchain/native/redistribution"
	"meridianchain/native/trove"
	"meridianchain/storage"
)

// kv is the flat key-value surface the manager reads and writes through. Both
// the raw database and the transaction overlay satisfy it.
type kv interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
}

// Manager maps protocol records onto a flat key-value store. Keys are keccak
// digests of prefixed payloads; values are RLP. It satisfies the persistence
// interfaces of the trove engine, the collateral registry, the surplus ledger
// and the redistribution ledger, so one manager (or one transaction view)
// backs the whole protocol.
type Manager struct {
	store kv
}

// NewManager creates a state manager over the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{store: db}
}

func newOverlayManager(store kv) *Manager {
	return &Manager{store: store}
}

// load fetches and decodes a record, reporting absence as (false, nil).
func (m *Manager) load(key []byte, out interface{}) (bool, error) {
	data, err := m.store.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) write(key []byte, record interface{}) error {
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return err
	}
	return m.store.Put(key, encoded)
}

// --- accounts ---

// GetAccount returns the stored account or nil when the address is untouched.
func (m *Manager) GetAccount(addr crypto.Address) (*types.Account, error) {
	stored := new(storedAccount)
	ok, err := m.load(accountKey(addr.Bytes()), stored)
	if err != nil || !ok {
		return nil, err
	}
	return storedToAccount(stored), nil
}

// PutAccount persists the account record.
func (m *Manager) PutAccount(addr crypto.Address, account *types.Account) error {
	if account == nil {
		return m.store.Delete(accountKey(addr.Bytes()))
	}
	return m.write(accountKey(addr.Bytes()), accountToStored(account))
}

// --- troves ---

// GetTrove returns the stored trove or nil when none was ever opened.
func (m *Manager) GetTrove(addr crypto.Address) (*trove.Trove, error) {
	stored := new(storedTrove)
	ok, err := m.load(troveKey(addr.Bytes()), stored)
	if err != nil || !ok {
		return nil, err
	}
	return storedToTrove(stored), nil
}

// PutTrove persists the trove record under its owner address.
func (m *Manager) PutTrove(t *trove.Trove) error {
	if t == nil {
		return nil
	}
	return m.write(troveKey(t.Owner.Bytes()), troveToStored(t))
}

// GetTroveIndex returns the ordered trove index, nil when empty.
func (m *Manager) GetTroveIndex() (*trove.TroveIndex, error) {
	stored := new(storedTroveIndex)
	ok, err := m.load(troveIndexKey, stored)
	if err != nil || !ok {
		return nil, err
	}
	return storedToIndex(stored), nil
}

// PutTroveIndex persists the ordered trove index.
func (m *Manager) PutTroveIndex(ix *trove.TroveIndex) error {
	if ix == nil {
		return m.store.Delete(troveIndexKey)
	}
	return m.write(troveIndexKey, indexToStored(ix))
}

// GetBaseRate returns the base-rate anchor, nil before the first redemption.
func (m *Manager) GetBaseRate() (*trove.BaseRateState, error) {
	stored := new(storedBaseRate)
	ok, err := m.load(baseRateKey, stored)
	if err != nil || !ok {
		return nil, err
	}
	return &trove.BaseRateState{Rate: orZero(stored.Rate), LastUpdate: stored.LastUpdate}, nil
}

// PutBaseRate persists the base-rate anchor.
func (m *Manager) PutBaseRate(state *trove.BaseRateState) error {
	if state == nil {
		return m.store.Delete(baseRateKey)
	}
	return m.write(baseRateKey, &storedBaseRate{Rate: orZero(state.Rate), LastUpdate: state.LastUpdate})
}

// GetSystem returns the protocol aggregates, nil before genesis.
func (m *Manager) GetSystem() (*trove.SystemState, error) {
	stored := new(storedSystem)
	ok, err := m.load(systemKey, stored)
	if err != nil || !ok {
		return nil, err
	}
	return storedToSystem(stored), nil
}

// PutSystem persists the protocol aggregates.
func (m *Manager) PutSystem(sys *trove.SystemState) error {
	if sys == nil {
		return m.store.Delete(systemKey)
	}
	return m.write(systemKey, systemToStored(sys))
}

// --- collateral registry ---

// GetAsset returns the registry entry for a symbol, nil when unknown.
func (m *Manager) GetAsset(symbol string) (*collateral.Asset, error) {
	stored := new(storedAsset)
	ok, err := m.load(assetKey(symbol), stored)
	if err != nil || !ok {
		return nil, err
	}
	return storedToAsset(stored), nil
}

// PutAsset persists the registry entry and records the symbol in the asset
// index so listings stay complete.
func (m *Manager) PutAsset(asset *collateral.Asset) error {
	if asset == nil {
		return nil
	}
	list, err := m.loadAssetList()
	if err != nil {
		return err
	}
	found := false
	for _, symbol := range list {
		if symbol == asset.Symbol {
			found = true
			break
		}
	}
	if !found {
		list = append(list, asset.Symbol)
		sort.Strings(list)
		if err := m.write(assetListKey, list); err != nil {
			return err
		}
	}
	return m.write(assetKey(asset.Symbol), assetToStored(asset))
}

// ListAssets returns every registered collateral type in symbol order.
func (m *Manager) ListAssets() ([]*collateral.Asset, error) {
	list, err := m.loadAssetList()
	if err != nil {
		return nil, err
	}
	out := make([]*collateral.Asset, 0, len(list))
	for _, symbol := range list {
		asset, err := m.GetAsset(symbol)
		if err != nil {
			return nil, err
		}
		if asset == nil {
			continue
		}
		out = append(out, asset)
	}
	return out, nil
}

func (m *Manager) loadAssetList() ([]string, error) {
	var list []string
	if _, err := m.load(assetListKey, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetCurveState returns the fee-decay anchor for a symbol, nil before the
// first committed fee.
func (m *Manager) GetCurveState(symbol string) (*collateral.CurveState, error) {
	stored := new(storedCurveState)
	ok, err := m.load(curveKey(symbol), stored)
	if err != nil || !ok {
		return nil, err
	}
	return &collateral.CurveState{LastFee: orZero(stored.LastFee), LastFeeTime: stored.LastFeeTime}, nil
}

// PutCurveState persists the fee-decay anchor.
func (m *Manager) PutCurveState(symbol string, state *collateral.CurveState) error {
	if state == nil {
		return m.store.Delete(curveKey(symbol))
	}
	return m.write(curveKey(symbol), &storedCurveState{LastFee: orZero(state.LastFee), LastFeeTime: state.LastFeeTime})
}

// --- surplus ledger ---

// GetSurplus returns the claimable collateral recorded for an owner.
func (m *Manager) GetSurplus(addr crypto.Address) (map[string]*big.Int, error) {
	var stored []storedHolding
	ok, err := m.load(surplusKey(addr.Bytes()), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return storedToHoldings(stored), nil
}

// PutSurplus persists the claimable collateral for an owner. A nil or empty
// map deletes the record.
func (m *Manager) PutSurplus(addr crypto.Address, claims map[string]*big.Int) error {
	stored := holdingsToStored(claims)
	if len(stored) == 0 {
		return m.store.Delete(surplusKey(addr.Bytes()))
	}
	return m.write(surplusKey(addr.Bytes()), stored)
}

// --- redistribution ledger ---

// GetAccumulators returns the global reward counters, nil before the first
// accrual.
func (m *Manager) GetAccumulators() (*redistribution.Accumulators, error) {
	stored := new(storedAccumulators)
	ok, err := m.load(accumulatorsKey, stored)
	if err != nil || !ok {
		return nil, err
	}
	return storedToAccumulators(stored), nil
}

// PutAccumulators persists the global reward counters.
func (m *Manager) PutAccumulators(acc *redistribution.Accumulators) error {
	if acc == nil {
		return m.store.Delete(accumulatorsKey)
	}
	return m.write(accumulatorsKey, accumulatorsToStored(acc))
}

// GetRewardSnapshot returns the per-trove reward snapshot.
func (m *Manager) GetRewardSnapshot(addr crypto.Address) (*redistribution.Snapshot, error) {
	stored := new(storedSnapshot)
	ok, err := m.load(snapshotKey(addr.Bytes()), stored)
	if err != nil || !ok {
		return nil, err
	}
	return &redistribution.Snapshot{
		CollateralPerStake: storedToHoldings(stored.CollateralPerStake),
		DebtPerStake:       orZero(stored.DebtPerStake),
	}, nil
}

// PutRewardSnapshot persists the per-trove reward snapshot. A nil snapshot
// deletes the record.
func (m *Manager) PutRewardSnapshot(addr crypto.Address, snap *redistribution.Snapshot) error {
	if snap == nil {
		return m.store.Delete(snapshotKey(addr.Bytes()))
	}
	return m.write(snapshotKey(addr.Bytes()), &storedSnapshot{
		CollateralPerStake: holdingsToStored(snap.CollateralPerStake),
		DebtPerStake:       orZero(snap.DebtPerStake),
	})
}

// --- deployment metadata ---

// DeployTime returns the recorded deployment instant, zero when unset.
func (m *Manager) DeployTime() (uint64, error) {
	var stored uint64
	if _, err := m.load(deployTimeKey, &stored); err != nil {
		return 0, err
	}
	return stored, nil
}

// SetDeployTime records the deployment instant once; later calls keep the
// original anchor.
func (m *Manager) SetDeployTime(ts uint64) (uint64, error) {
	existing, err := m.DeployTime()
	if err != nil {
		return 0, err
	}
	if existing != 0 {
		return existing, nil
	}
	if err := m.write(deployTimeKey, ts); err != nil {
		return 0, err
	}
	return ts, nil
}
