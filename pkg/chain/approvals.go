package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ApprovalService 负责检查和补齐下单所需的链上授权：
// USDC 对各交易所合约的 approve，以及 conditional token 的 setApprovalForAll。
// 授权缺失时订单会在撮合前被拒，所以启动阶段先把这些补齐。
type ApprovalService struct {
	client     *ethclient.Client
	privateKey *ecdsa.PrivateKey
	chainID    *big.Int

	usdc              common.Address
	conditionalTokens common.Address
	erc20Spenders     []namedAddress
	erc1155Operators  []namedAddress

	erc20ABI   abi.ABI
	erc1155ABI abi.ABI
}

type namedAddress struct {
	Name    string
	Address common.Address
}

// AllowanceInfo 单个合约的授权状态。
type AllowanceInfo struct {
	Contract  string `json:"contract"`
	Address   string `json:"address"`
	Approved  bool   `json:"approved"`
	Allowance string `json:"allowance,omitempty"`
}

// AllowancesResult 授权检查汇总。
type AllowancesResult struct {
	Wallet           string          `json:"wallet"`
	UsdcBalance      string          `json:"usdcBalance"`
	Erc20Allowances  []AllowanceInfo `json:"erc20Allowances"`
	Erc1155Approvals []AllowanceInfo `json:"erc1155Approvals"`
	TradingReady     bool            `json:"tradingReady"`
	Issues           []string        `json:"issues"`
}

// ApprovalTxResult 单笔授权交易的结果。
type ApprovalTxResult struct {
	Contract string `json:"contract"`
	Success  bool   `json:"success"`
	TxHash   string `json:"txHash,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ApprovalsResult 批量授权的结果。
type ApprovalsResult struct {
	Wallet           string             `json:"wallet"`
	Erc20Approvals   []ApprovalTxResult `json:"erc20Approvals"`
	Erc1155Approvals []ApprovalTxResult `json:"erc1155Approvals"`
	AllApproved      bool               `json:"allApproved"`
}

const erc20ABIJSON = `[
  {"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
  {"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
  {"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

const erc1155ABIJSON = `[
  {"constant":false,"inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"name":"setApprovalForAll","outputs":[],"type":"function"},
  {"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"operator","type":"address"}],"name":"isApprovedForAll","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

// NewApprovalService 连接 RPC 节点并构建授权服务。
func NewApprovalService(rpcEndpoint string, privateKey *ecdsa.PrivateKey) (*ApprovalService, error) {
	client, err := ethclient.Dial(rpcEndpoint)
	if err != nil {
		return nil, fmt.Errorf("连接RPC节点失败: %w", err)
	}
	erc20ABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, err
	}
	erc1155ABI, err := abi.JSON(strings.NewReader(erc1155ABIJSON))
	if err != nil {
		return nil, err
	}
	return &ApprovalService{
		client:            client,
		privateKey:        privateKey,
		chainID:           big.NewInt(PolygonChainID),
		usdc:              USDCAddress,
		conditionalTokens: ConditionalTokensAddress,
		erc20Spenders: []namedAddress{
			{Name: "Exchange", Address: ExchangeAddress},
			{Name: "NegRiskExchange", Address: NegRiskExchangeAddress},
			{Name: "NegRiskAdapter", Address: NegRiskAdapterAddress},
			{Name: "ConditionalTokens", Address: ConditionalTokensAddress},
		},
		erc1155Operators: []namedAddress{
			{Name: "Exchange", Address: ExchangeAddress},
			{Name: "NegRiskExchange", Address: NegRiskExchangeAddress},
			{Name: "NegRiskAdapter", Address: NegRiskAdapterAddress},
		},
		erc20ABI:   erc20ABI,
		erc1155ABI: erc1155ABI,
	}, nil
}

// Close 释放底层 RPC 连接。
func (s *ApprovalService) Close() {
	s.client.Close()
}

func (s *ApprovalService) walletAddress() common.Address {
	return crypto.PubkeyToAddress(s.privateKey.PublicKey)
}

// CheckAllowances 只读检查所有授权与 USDC 余额，不发交易。
func (s *ApprovalService) CheckAllowances(ctx context.Context) (*AllowancesResult, error) {
	wallet := s.walletAddress()

	balData, _ := s.erc20ABI.Pack("balanceOf", wallet)
	raw, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &s.usdc, Data: balData}, nil)
	if err != nil {
		return nil, fmt.Errorf("call usdc.balanceOf: %w", err)
	}
	var bal *big.Int
	if err := s.erc20ABI.UnpackIntoInterface(&bal, "balanceOf", raw); err != nil {
		return nil, err
	}
	usdcBal := formatUnits6(bal)

	erc20Allowances := make([]AllowanceInfo, 0, len(s.erc20Spenders))
	issues := make([]string, 0, 8)
	for _, sp := range s.erc20Spenders {
		allowData, _ := s.erc20ABI.Pack("allowance", wallet, sp.Address)
		raw, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &s.usdc, Data: allowData}, nil)
		if err != nil {
			return nil, fmt.Errorf("call usdc.allowance(%s): %w", sp.Name, err)
		}
		var allowance *big.Int
		if err := s.erc20ABI.UnpackIntoInterface(&allowance, "allowance", raw); err != nil {
			return nil, err
		}
		approved := isUnlimitedAllowance6(allowance)
		info := AllowanceInfo{
			Contract: sp.Name,
			Address:  sp.Address.Hex(),
			Approved: approved,
		}
		if approved {
			info.Allowance = "unlimited"
		} else {
			info.Allowance = formatUnits6(allowance)
			issues = append(issues, "ERC20: "+sp.Name+" needs USDC approval")
		}
		erc20Allowances = append(erc20Allowances, info)
	}

	erc1155Approvals := make([]AllowanceInfo, 0, len(s.erc1155Operators))
	for _, op := range s.erc1155Operators {
		ok, err := s.isApprovedForAll(ctx, wallet, op.Address)
		if err != nil {
			return nil, fmt.Errorf("call ctf.isApprovedForAll(%s): %w", op.Name, err)
		}
		erc1155Approvals = append(erc1155Approvals, AllowanceInfo{
			Contract: op.Name,
			Address:  op.Address.Hex(),
			Approved: ok,
		})
		if !ok {
			issues = append(issues, "ERC1155: "+op.Name+" needs approval for Conditional Tokens")
		}
	}

	return &AllowancesResult{
		Wallet:           wallet.Hex(),
		UsdcBalance:      usdcBal,
		Erc20Allowances:  erc20Allowances,
		Erc1155Approvals: erc1155Approvals,
		TradingReady:     len(issues) == 0,
		Issues:           issues,
	}, nil
}

// ApproveAll 补齐所有缺失的授权：USDC approve + ERC1155 setApprovalForAll。
// 注意：此方法会产生链上交易；调用方应自行做好风控/确认。
func (s *ApprovalService) ApproveAll(ctx context.Context) (*ApprovalsResult, error) {
	wallet := s.walletAddress()

	status, err := s.CheckAllowances(ctx)
	if err != nil {
		return nil, err
	}

	erc20Results := make([]ApprovalTxResult, 0, len(s.erc20Spenders))
	for i, sp := range s.erc20Spenders {
		if i < len(status.Erc20Allowances) && status.Erc20Allowances[i].Approved {
			erc20Results = append(erc20Results, ApprovalTxResult{Contract: sp.Name, Success: true})
			continue
		}
		txHash, e := s.approveERC20Max(ctx, s.usdc, sp.Address)
		if e != nil {
			erc20Results = append(erc20Results, ApprovalTxResult{Contract: sp.Name, Success: false, Error: e.Error()})
			continue
		}
		erc20Results = append(erc20Results, ApprovalTxResult{Contract: sp.Name, Success: true, TxHash: txHash.Hex()})
	}

	erc1155Results := make([]ApprovalTxResult, 0, len(s.erc1155Operators))
	for _, op := range s.erc1155Operators {
		// 重新查一遍（避免依赖上面检查结果的顺序）
		ok, e := s.isApprovedForAll(ctx, wallet, op.Address)
		if e == nil && ok {
			erc1155Results = append(erc1155Results, ApprovalTxResult{Contract: op.Name, Success: true})
			continue
		}
		txHash, e := s.setApprovalForAll(ctx, op.Address, true)
		if e != nil {
			erc1155Results = append(erc1155Results, ApprovalTxResult{Contract: op.Name, Success: false, Error: e.Error()})
			continue
		}
		erc1155Results = append(erc1155Results, ApprovalTxResult{Contract: op.Name, Success: true, TxHash: txHash.Hex()})
	}

	allApproved := true
	for _, r := range erc20Results {
		if !r.Success {
			allApproved = false
			break
		}
	}
	if allApproved {
		for _, r := range erc1155Results {
			if !r.Success {
				allApproved = false
				break
			}
		}
	}

	return &ApprovalsResult{
		Wallet:           wallet.Hex(),
		Erc20Approvals:   erc20Results,
		Erc1155Approvals: erc1155Results,
		AllApproved:      allApproved,
	}, nil
}

func (s *ApprovalService) isApprovedForAll(ctx context.Context, owner common.Address, operator common.Address) (bool, error) {
	data, err := s.erc1155ABI.Pack("isApprovedForAll", owner, operator)
	if err != nil {
		return false, err
	}
	raw, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &s.conditionalTokens, Data: data}, nil)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := s.erc1155ABI.UnpackIntoInterface(&ok, "isApprovedForAll", raw); err != nil {
		return false, err
	}
	return ok, nil
}

func (s *ApprovalService) approveERC20Max(ctx context.Context, token common.Address, spender common.Address) (common.Hash, error) {
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	data, err := s.erc20ABI.Pack("approve", spender, max)
	if err != nil {
		return common.Hash{}, err
	}
	tx, err := s.buildSignedTx(ctx, token, data, big.NewInt(0))
	if err != nil {
		return common.Hash{}, err
	}
	if err := s.client.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

func (s *ApprovalService) setApprovalForAll(ctx context.Context, operator common.Address, approved bool) (common.Hash, error) {
	data, err := s.erc1155ABI.Pack("setApprovalForAll", operator, approved)
	if err != nil {
		return common.Hash{}, err
	}
	tx, err := s.buildSignedTx(ctx, s.conditionalTokens, data, big.NewInt(0))
	if err != nil {
		return common.Hash{}, err
	}
	if err := s.client.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

func (s *ApprovalService) buildSignedTx(ctx context.Context, to common.Address, data []byte, value *big.Int) (*ethtypes.Transaction, error) {
	from := s.walletAddress()
	nonce, err := s.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("获取nonce失败: %w", err)
	}
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取gas价格失败: %w", err)
	}
	gasLimit, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Data:  data,
		Value: value,
	})
	if err != nil {
		// 某些节点对 approve 的 EstimateGas 不稳定；给一个保守兜底
		gasLimit = 120000
	}
	tx := ethtypes.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
	signed, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(s.chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("签名交易失败: %w", err)
	}
	return signed, nil
}

func formatUnits6(v *big.Int) string {
	if v == nil {
		return "0"
	}
	whole := new(big.Int).Div(v, big.NewInt(1_000_000))
	frac := new(big.Int).Mod(v, big.NewInt(1_000_000))
	return fmt.Sprintf("%s.%06s", whole.String(), frac.String())
}

func isUnlimitedAllowance6(v *big.Int) bool {
	if v == nil {
		return false
	}
	// 超过 1e12 USDC 即视为 unlimited（6 decimals 下为 1e18）
	threshold := new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1_000_000_000_000))
	return v.Cmp(threshold) > 0
}
