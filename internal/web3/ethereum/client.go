package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "CronCat-Agent/internal/errors"
	"CronCat-Agent/internal/ledger"
	"CronCat-Agent/pkg/logger"
)

// Config describes how to construct the manager client.
type Config struct {
	Name           string
	RPCURL         string
	ChainID        int64
	ManagerAddress string
	// AccountID is used for read-only access when no key is configured.
	AccountID      string
	PrivateKey     string
	KeyFile        string
	GasLimit       uint64
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
}

// Backend is the subset of ethclient.Client the manager client uses.
type Backend interface {
	CallContract(ctx context.Context, call gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// Client implements ledger.Admin against the manager contract on an EVM chain.
type Client struct {
	name    string
	rpc     *gethrpc.Client
	backend Backend
	abi     abi.ABI
	manager common.Address
	account common.Address
	signer  *bind.TransactOpts

	gasLimit       uint64
	receiptTimeout time.Duration
	pollInterval   time.Duration

	// txMu serialises submissions so nonces are never reused.
	txMu sync.Mutex
}

var _ ledger.Admin = (*Client)(nil)

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeConfig, "未配置以太坊 RPC 地址")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, ledger.Classify(err, "连接以太坊节点失败")
	}
	eth := ethclient.NewClient(rpcClient)

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			rpcClient.Close()
			return nil, ledger.Classify(err, "获取链 ID 失败")
		}
	}

	client, err := NewWithBackend(eth, chainID, cfg)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	client.rpc = rpcClient
	return client, nil
}

// NewWithBackend builds a client over an existing backend.
func NewWithBackend(backend Backend, chainID *big.Int, cfg Config) (*Client, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if !common.IsHexAddress(cfg.ManagerAddress) {
		return nil, xerrors.New(xerrors.CodeConfig, fmt.Sprintf("manager 合约地址无效: %q", cfg.ManagerAddress),
			xerrors.WithRemediation("在链配置中设置 manager_address 或导出 CRONCAT_MANAGER_ADDRESS"))
	}
	parsed, err := abi.JSON(strings.NewReader(managerABI))
	if err != nil {
		return nil, fmt.Errorf("解析 manager ABI 失败: %w", err)
	}

	c := &Client{
		name:           cfg.Name,
		backend:        backend,
		abi:            parsed,
		manager:        common.HexToAddress(cfg.ManagerAddress),
		gasLimit:       cfg.GasLimit,
		receiptTimeout: cfg.ReceiptTimeout,
		pollInterval:   cfg.PollInterval,
	}
	if c.receiptTimeout <= 0 {
		c.receiptTimeout = 2 * time.Minute
	}
	if c.pollInterval <= 0 {
		c.pollInterval = time.Second
	}

	key, err := loadKey(cfg)
	if err != nil {
		return nil, err
	}
	switch {
	case key != nil:
		signer, err := bind.NewKeyedTransactorWithChainID(key, chainID)
		if err != nil {
			return nil, fmt.Errorf("创建交易签名器失败: %w", err)
		}
		c.signer = signer
		c.account = signer.From
	case common.IsHexAddress(cfg.AccountID):
		c.account = common.HexToAddress(cfg.AccountID)
	}
	return c, nil
}

func loadKey(cfg Config) (*ecdsa.PrivateKey, error) {
	raw := strings.TrimSpace(cfg.PrivateKey)
	if raw == "" && strings.TrimSpace(cfg.KeyFile) != "" {
		content, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, xerrors.Wrap(ledger.CodeKeyNotFound, err, "读取私钥文件失败",
				xerrors.WithRemediation(fmt.Sprintf("确认 %s 存在且可读", cfg.KeyFile)))
		}
		raw = strings.TrimSpace(string(content))
	}
	if raw == "" {
		return nil, nil
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfig, err, "私钥格式错误")
	}
	return key, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	if c == nil || c.rpc == nil {
		return
	}
	c.rpc.Close()
	c.rpc = nil
}

// AccountID returns the agent address in checksum form, or "" when unknown.
func (c *Client) AccountID() string {
	if c.account == (common.Address{}) {
		return ""
	}
	return c.account.Hex()
}

// CanSign reports whether a key was loaded.
func (c *Client) CanSign() bool { return c.signer != nil }

// GetAccountBalance returns the native balance of the agent account.
func (c *Client) GetAccountBalance(ctx context.Context) (*big.Int, error) {
	balance, err := c.backend.BalanceAt(ctx, c.account, nil)
	if err != nil {
		return nil, classify(err, "查询余额失败")
	}
	return balance, nil
}

// GetAgentRecord returns nil, nil when the manager has no record for agentID.
func (c *Client) GetAgentRecord(ctx context.Context, agentID string) (*ledger.AgentRecord, error) {
	addr, err := parseAddress(agentID)
	if err != nil {
		return nil, err
	}
	values, err := c.call(ctx, methodGetAgent, addr)
	if err != nil {
		return nil, err
	}
	return decodeAgent(values)
}

// GetNetworkParameters reads the manager configuration.
func (c *Client) GetNetworkParameters(ctx context.Context) (ledger.NetworkParameters, error) {
	values, err := c.call(ctx, methodGetInfo)
	if err != nil {
		return ledger.NetworkParameters{}, err
	}
	return decodeInfo(values)
}

// GetClaimableTaskCount returns the tasks claimable by agentID and the current slot.
func (c *Client) GetClaimableTaskCount(ctx context.Context, agentID string) (ledger.TaskSummary, error) {
	addr, err := parseAddress(agentID)
	if err != nil {
		return ledger.TaskSummary{}, err
	}
	values, err := c.call(ctx, methodGetAgentTasks, addr)
	if err != nil {
		return ledger.TaskSummary{}, err
	}
	return decodeTasks(values)
}

// GetTriggerPage returns up to limit triggers starting at offset.
func (c *Client) GetTriggerPage(ctx context.Context, offset, limit uint64) ([]ledger.TriggerRecord, error) {
	values, err := c.call(ctx, methodGetTriggers, offset, limit)
	if err != nil {
		return nil, err
	}
	return decodeTriggers(values)
}

// CallReadOnly performs an eth_call against contractID. functionID is either
// a Solidity signature such as "isReady(uint256)", a bare name taken to have
// no parameters, or an explicit 4-byte selector "0x12345678". args is
// appended verbatim after the selector. The raw return data is returned.
func (c *Client) CallReadOnly(ctx context.Context, contractID, functionID string, args []byte) (any, error) {
	target, err := parseAddress(contractID)
	if err != nil {
		return nil, err
	}
	selector, err := Selector(functionID)
	if err != nil {
		return nil, err
	}
	data := make([]byte, 0, len(selector)+len(args))
	data = append(data, selector...)
	data = append(data, args...)
	out, err := c.backend.CallContract(ctx, gethcore.CallMsg{From: c.account, To: &target, Data: data}, nil)
	if err != nil {
		return nil, classify(err, fmt.Sprintf("调用 %s.%s 失败", contractID, functionID))
	}
	return out, nil
}

// SubmitExecution calls proxyCall.
func (c *Client) SubmitExecution(ctx context.Context) (ledger.Outcome, error) {
	return c.transact(ctx, methodProxyCall, nil)
}

// SubmitWithdrawReward calls withdrawTaskBalance.
func (c *Client) SubmitWithdrawReward(ctx context.Context) (ledger.Outcome, error) {
	return c.transact(ctx, methodWithdrawTaskBalance, nil)
}

// SubmitRegister calls registerAgent with stake attached.
func (c *Client) SubmitRegister(ctx context.Context, payableAccountID string, stake *big.Int) (ledger.Outcome, error) {
	payable, err := c.payable(payableAccountID)
	if err != nil {
		return ledger.Outcome{}, err
	}
	return c.transact(ctx, methodRegisterAgent, stake, payable)
}

// SubmitUpdate calls updateAgent.
func (c *Client) SubmitUpdate(ctx context.Context, payableAccountID string) (ledger.Outcome, error) {
	payable, err := c.payable(payableAccountID)
	if err != nil {
		return ledger.Outcome{}, err
	}
	return c.transact(ctx, methodUpdateAgent, nil, payable)
}

// SubmitUnregister calls unregisterAgent.
func (c *Client) SubmitUnregister(ctx context.Context) (ledger.Outcome, error) {
	return c.transact(ctx, methodUnregisterAgent, nil)
}

// SubmitConditionalExecution calls proxyConditionalCall for triggerHash.
func (c *Client) SubmitConditionalExecution(ctx context.Context, triggerHash string) (ledger.Outcome, error) {
	raw, err := hexutil.Decode(triggerHash)
	if err != nil || len(raw) != common.HashLength {
		return ledger.Outcome{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("trigger hash 格式错误: %q", triggerHash))
	}
	var hash [32]byte
	copy(hash[:], raw)
	return c.transact(ctx, methodProxyConditionalCall, nil, hash)
}

func (c *Client) payable(accountID string) (common.Address, error) {
	if strings.TrimSpace(accountID) == "" {
		return c.account, nil
	}
	return parseAddress(accountID)
}

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("编码 %s 参数失败", method))
	}
	out, err := c.backend.CallContract(ctx, gethcore.CallMsg{From: c.account, To: &c.manager, Data: data}, nil)
	if err != nil {
		return nil, classify(err, fmt.Sprintf("调用 %s 失败", method))
	}
	if len(out) == 0 {
		return nil, xerrors.New(ledger.CodeUnknown, fmt.Sprintf("%s 没有返回数据，%s 上可能没有部署 manager 合约", method, c.manager.Hex()))
	}
	values, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, xerrors.Wrap(ledger.CodeUnknown, err, fmt.Sprintf("解码 %s 返回值失败", method))
	}
	return values, nil
}

func (c *Client) transact(ctx context.Context, method string, value *big.Int, args ...any) (ledger.Outcome, error) {
	if c.signer == nil {
		return ledger.Outcome{}, xerrors.New(ledger.CodeKeyNotFound, "未配置 agent 私钥，无法签名交易",
			xerrors.WithRemediation("导出 AGENT_PRIVATE_KEY 或设置 agent.key_file"))
	}
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return ledger.Outcome{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("编码 %s 参数失败", method))
	}
	if value == nil {
		value = new(big.Int)
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()

	from := c.signer.From
	msg := gethcore.CallMsg{From: from, To: &c.manager, Value: value, Data: data}
	gas, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		return ledger.Outcome{}, classify(err, fmt.Sprintf("%s 预估 gas 失败", method))
	}
	if c.gasLimit > 0 {
		gas = c.gasLimit
	} else {
		gas += gas / 5
	}
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return ledger.Outcome{}, classify(err, "获取 nonce 失败")
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return ledger.Outcome{}, classify(err, "获取 gas price 失败")
	}

	tx := coretypes.NewTx(&coretypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &c.manager,
		Value:    value,
		Data:     data,
	})
	signed, err := c.signer.Signer(from, tx)
	if err != nil {
		return ledger.Outcome{}, xerrors.Wrap(ledger.CodeKeyNotFound, err, "签名交易失败")
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return ledger.Outcome{}, classify(err, fmt.Sprintf("发送 %s 交易失败", method))
	}

	log := logger.Named("ethereum")
	log.Debug("交易已发送", slog.String("method", method), slog.String("tx", signed.Hash().Hex()), slog.Uint64("nonce", nonce))

	receipt, err := c.waitForReceipt(ctx, signed.Hash())
	if err != nil {
		return ledger.Outcome{TxHash: signed.Hash().Hex()}, err
	}
	outcome := ledger.Outcome{TxHash: signed.Hash().Hex(), Status: receipt.Status, GasUsed: receipt.GasUsed}
	logger.Audit().Info("ledger submission",
		slog.String("method", method),
		slog.String("from", from.Hex()),
		slog.String("tx", outcome.TxHash),
		slog.Uint64("status", outcome.Status),
		slog.Uint64("gas_used", outcome.GasUsed),
		slog.String("value", value.String()),
	)
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return outcome, xerrors.New(ledger.CodeUnknown, fmt.Sprintf("%s 交易 %s 执行失败", method, outcome.TxHash))
	}
	return outcome, nil
}

func (c *Client) waitForReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, gethcore.NotFound) {
			logger.Named("ethereum").Debug("查询回执失败", slog.String("tx", hash.Hex()), slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(ledger.CodeTransport, ctx.Err(), fmt.Sprintf("等待交易 %s 回执超时", hash.Hex()))
		case <-ticker.C:
		}
	}
}

// Selector returns the 4-byte function selector for functionID.
func Selector(functionID string) ([]byte, error) {
	id := strings.TrimSpace(functionID)
	if id == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "function id 不能为空")
	}
	if strings.HasPrefix(id, "0x") || strings.HasPrefix(id, "0X") {
		raw, err := hexutil.Decode("0x" + id[2:])
		if err != nil || len(raw) != 4 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("selector 格式错误: %q", functionID))
		}
		return raw, nil
	}
	if !strings.Contains(id, "(") {
		id += "()"
	}
	return crypto.Keccak256([]byte(id))[:4], nil
}

func parseAddress(value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("地址格式错误: %q", value))
	}
	return common.HexToAddress(value), nil
}

// classify appends the decoded revert reason, when the node supplied one,
// before mapping the error to a ledger failure kind.
func classify(err error, message string) error {
	if reason := revertReason(err); reason != "" && !strings.Contains(err.Error(), reason) {
		err = fmt.Errorf("%w: %s", err, reason)
	}
	return ledger.Classify(err, message)
}

func revertReason(err error) string {
	var dataErr gethrpc.DataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	encoded, ok := dataErr.ErrorData().(string)
	if !ok {
		return ""
	}
	raw, decodeErr := hexutil.Decode(encoded)
	if decodeErr != nil {
		return ""
	}
	reason, unpackErr := abi.UnpackRevert(raw)
	if unpackErr != nil {
		return ""
	}
	return reason
}
