package state

import ethcrypto "github.com/ethereum/go-ethereum/crypto"

var (
	accountPrefix    = []byte("account:")
	trovePrefix      = []byte("trove:")
	assetPrefix      = []byte("collateral/asset:")
	curvePrefix      = []byte("collateral/curve:")
	surplusPrefix    = []byte("surplus:")
	snapshotPrefix   = []byte("redistribution/snapshot:")
	troveIndexKey    = ethcrypto.Keccak256([]byte("trove/index"))
	baseRateKey      = ethcrypto.Keccak256([]byte("trove/base-rate"))
	systemKey        = ethcrypto.Keccak256([]byte("trove/system"))
	assetListKey     = ethcrypto.Keccak256([]byte("collateral/asset-list"))
	accumulatorsKey  = ethcrypto.Keccak256([]byte("redistribution/accumulators"))
	deployTimeKey    = ethcrypto.Keccak256([]byte("trove/deploy-time"))
)

func prefixedKey(prefix []byte, payload []byte) []byte {
	buf := make([]byte, len(prefix)+len(payload))
	copy(buf, prefix)
	copy(buf[len(prefix):], payload)
	return ethcrypto.Keccak256(buf)
}

func accountKey(addr []byte) []byte     { return prefixedKey(accountPrefix, addr) }
func troveKey(addr []byte) []byte       { return prefixedKey(trovePrefix, addr) }
func assetKey(symbol string) []byte     { return prefixedKey(assetPrefix, []byte(symbol)) }
func curveKey(symbol string) []byte     { return prefixedKey(curvePrefix, []byte(symbol)) }
func surplusKey(addr []byte) []byte     { return prefixedKey(surplusPrefix, addr) }
func snapshotKey(addr []byte) []byte    { return prefixedKey(snapshotPrefix, addr) }
