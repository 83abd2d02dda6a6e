package chain

import "github.com/ethereum/go-ethereum/common"

// Polygon 主网上 Polymarket 相关合约地址。
// 跟单只在主网运行，测试网不在支持范围内。
var (
	ExchangeAddress          = common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")
	NegRiskAdapterAddress    = common.HexToAddress("0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296")
	NegRiskExchangeAddress   = common.HexToAddress("0xC5d563A36AE78145C45a50134d48A1215220f80a")
	USDCAddress              = common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
	ConditionalTokensAddress = common.HexToAddress("0x4D97DCd97eC945f40cF65F87097ACe5EA0476045")
)

// PolygonChainID Polygon 主网链 ID。
const PolygonChainID = 137

// CollateralDecimals USDC 与 conditional token 均为 6 位小数。
const CollateralDecimals = 6
