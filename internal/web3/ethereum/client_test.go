package ethereum

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "CronCat-Agent/internal/errors"
	"CronCat-Agent/internal/ledger"
)

const testManager = "0x00000000000000000000000000000000000000Aa"

var testChainID = big.NewInt(1337)

type fakeBackend struct {
	mu sync.Mutex

	abi     abi.ABI
	results map[string][]any
	raw     map[common.Address][]byte
	callErr error

	lastExternal gethcore.CallMsg

	balance       *big.Int
	estimateErr   error
	sent          []*coretypes.Transaction
	receiptMisses int
	receiptStatus uint64
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(managerABI))
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	return &fakeBackend{
		abi:           parsed,
		results:       map[string][]any{},
		raw:           map[common.Address][]byte{},
		balance:       big.NewInt(5),
		receiptStatus: coretypes.ReceiptStatusSuccessful,
	}
}

func (f *fakeBackend) CallContract(_ context.Context, msg gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callErr != nil {
		return nil, f.callErr
	}
	if *msg.To != common.HexToAddress(testManager) {
		f.lastExternal = msg
		return f.raw[*msg.To], nil
	}
	method, err := f.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	outs, ok := f.results[method.Name]
	if !ok {
		return nil, nil
	}
	return method.Outputs.Pack(outs...)
}

func (f *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(context.Context, gethcore.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *coretypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiptMisses > 0 {
		f.receiptMisses--
		return nil, gethcore.NotFound
	}
	return &coretypes.Receipt{TxHash: hash, Status: f.receiptStatus, GasUsed: 42_000}, nil
}

func newTestClient(t *testing.T, backend *fakeBackend, withKey bool) (*Client, common.Address) {
	t.Helper()
	cfg := Config{ManagerAddress: testManager, PollInterval: 5 * time.Millisecond, ReceiptTimeout: time.Second}
	var from common.Address
	if withKey {
		key, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		cfg.PrivateKey = hex.EncodeToString(crypto.FromECDSA(key))
		from = crypto.PubkeyToAddress(key.PublicKey)
	} else {
		from = common.HexToAddress("0x00000000000000000000000000000000000000b0")
		cfg.AccountID = from.Hex()
	}
	client, err := NewWithBackend(backend, testChainID, cfg)
	if err != nil {
		t.Fatalf("NewWithBackend: %v", err)
	}
	return client, from
}

func TestNewWithBackendRequiresManager(t *testing.T) {
	_, err := NewWithBackend(newFakeBackend(t), testChainID, Config{})
	if xerrors.CodeOf(err) != xerrors.CodeConfig || xerrors.RemediationOf(err) == "" {
		t.Fatalf("expected config error with remediation, got %v", err)
	}
}

func TestGetAgentRecord(t *testing.T) {
	backend := newFakeBackend(t)
	client, from := newTestClient(t, backend, false)
	payable := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	backend.results[methodGetAgent] = []any{
		agentStatusActive, payable, big.NewInt(77), big.NewInt(9), uint64(100), uint64(50), uint64(1),
	}

	record, err := client.GetAgentRecord(context.Background(), from.Hex())
	if err != nil {
		t.Fatalf("GetAgentRecord: %v", err)
	}
	if record.Status != ledger.StatusActive || record.PayableAccount != payable.Hex() {
		t.Fatalf("unexpected record %+v", record)
	}
	if record.Balance.Int64() != 77 || record.TotalTasksExecuted != 9 || record.LastMissedSlot != 100 {
		t.Fatalf("unexpected record %+v", record)
	}
	if record.SlotExecution != (ledger.SlotExecution{Slot: 50, Count: 1}) {
		t.Fatalf("unexpected slot execution %+v", record.SlotExecution)
	}

	backend.results[methodGetAgent] = []any{
		agentStatusNone, common.Address{}, big.NewInt(0), big.NewInt(0), uint64(0), uint64(0), uint64(0),
	}
	record, err = client.GetAgentRecord(context.Background(), from.Hex())
	if err != nil || record != nil {
		t.Fatalf("expected nil record for unregistered agent, got %+v %v", record, err)
	}

	if _, err := client.GetAgentRecord(context.Background(), "not-an-address"); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestGetNetworkParametersAndTasks(t *testing.T) {
	backend := newFakeBackend(t)
	client, from := newTestClient(t, backend, false)
	owner := common.HexToAddress("0x00000000000000000000000000000000000000d0")
	backend.results[methodGetInfo] = []any{
		false, owner, uint64(3), uint64(1), uint64(5), uint64(2), uint64(10), uint64(1), big.NewInt(7), big.NewInt(100),
	}
	backend.results[methodGetAgentTasks] = []any{uint64(3), uint64(88)}

	params, err := client.GetNetworkParameters(context.Background())
	if err != nil {
		t.Fatalf("GetNetworkParameters: %v", err)
	}
	if q, ok := params.MaxExecutionsPerSlot(); !ok || q != 2 {
		t.Fatalf("unexpected quota %d %v", q, ok)
	}
	if params.Owner != owner.Hex() || params.AgentsEjectThreshold != 10 || params.AgentFee.Int64() != 7 {
		t.Fatalf("unexpected params %+v", params)
	}

	tasks, err := client.GetClaimableTaskCount(context.Background(), from.Hex())
	if err != nil {
		t.Fatalf("GetClaimableTaskCount: %v", err)
	}
	if tasks != (ledger.TaskSummary{Count: 3, CurrentSlot: 88}) {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
}

func TestGetNetworkParametersWithoutManager(t *testing.T) {
	backend := newFakeBackend(t)
	client, _ := newTestClient(t, backend, false)
	if _, err := client.GetNetworkParameters(context.Background()); xerrors.CodeOf(err) != ledger.CodeUnknown {
		t.Fatalf("expected unknown ledger error for empty return data, got %v", err)
	}
}

func TestGetTriggerPage(t *testing.T) {
	backend := newFakeBackend(t)
	client, _ := newTestClient(t, backend, false)
	target := common.HexToAddress("0x00000000000000000000000000000000000000e0")
	var h1, h2 [32]byte
	h1[31], h2[31] = 1, 2
	backend.results[methodGetTriggers] = []any{
		[][32]byte{h1, h2},
		[]common.Address{target, target},
		[]string{"isReady()", "0xdeadbeef"},
		[][]byte{{0x01}, {}},
	}

	page, err := client.GetTriggerPage(context.Background(), 0, 100)
	if err != nil {
		t.Fatalf("GetTriggerPage: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 triggers, got %d", len(page))
	}
	if page[0].Hash != hexutil.Encode(h1[:]) || page[0].ContractID != target.Hex() || page[0].FunctionID != "isReady()" {
		t.Fatalf("unexpected trigger %+v", page[0])
	}
	if len(page[0].Arguments) != 1 || len(page[1].Arguments) != 0 {
		t.Fatalf("unexpected arguments %+v", page)
	}
}

func TestCallReadOnly(t *testing.T) {
	backend := newFakeBackend(t)
	client, from := newTestClient(t, backend, false)
	target := common.HexToAddress("0x00000000000000000000000000000000000000e0")
	word := make([]byte, 32)
	word[31] = 1
	backend.raw[target] = word

	out, err := client.CallReadOnly(context.Background(), target.Hex(), "isReady(uint256)", []byte{0xaa, 0xbb})
	if err != nil {
		t.Fatalf("CallReadOnly: %v", err)
	}
	if raw, ok := out.([]byte); !ok || len(raw) != 32 || raw[31] != 1 {
		t.Fatalf("unexpected result %#v", out)
	}
	want := append(crypto.Keccak256([]byte("isReady(uint256)"))[:4], 0xaa, 0xbb)
	if hex.EncodeToString(backend.lastExternal.Data) != hex.EncodeToString(want) {
		t.Fatalf("unexpected calldata %x", backend.lastExternal.Data)
	}
	if backend.lastExternal.From != from {
		t.Fatalf("call should be made from the agent account")
	}
}

func TestSelector(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "transfer(address,uint256)", want: "a9059cbb"},
		{in: "0xa9059cbb", want: "a9059cbb"},
		{in: "totalSupply", want: "18160ddd"},
		{in: "0x1234", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := Selector(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("Selector(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil || hex.EncodeToString(got) != tc.want {
			t.Errorf("Selector(%q) = %x, %v; want %s", tc.in, got, err, tc.want)
		}
	}
}

func TestSubmitExecutionSignsAndWaits(t *testing.T) {
	backend := newFakeBackend(t)
	backend.receiptMisses = 2
	client, from := newTestClient(t, backend, true)

	outcome, err := client.SubmitExecution(context.Background())
	if err != nil {
		t.Fatalf("SubmitExecution: %v", err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("expected one transaction, got %d", len(backend.sent))
	}
	tx := backend.sent[0]
	sender, err := coretypes.Sender(coretypes.LatestSignerForChainID(testChainID), tx)
	if err != nil || sender != from {
		t.Fatalf("unexpected sender %s (%v)", sender.Hex(), err)
	}
	if *tx.To() != common.HexToAddress(testManager) || tx.Gas() != 120_000 {
		t.Fatalf("unexpected tx to=%s gas=%d", tx.To().Hex(), tx.Gas())
	}
	if outcome.TxHash != tx.Hash().Hex() || outcome.GasUsed != 42_000 || outcome.Status != 1 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if client.AccountID() != from.Hex() {
		t.Fatalf("account should derive from the key")
	}
}

func TestSubmitRegisterAttachesStake(t *testing.T) {
	backend := newFakeBackend(t)
	client, from := newTestClient(t, backend, true)

	if _, err := client.SubmitRegister(context.Background(), "", big.NewInt(500)); err != nil {
		t.Fatalf("SubmitRegister: %v", err)
	}
	tx := backend.sent[0]
	if tx.Value().Int64() != 500 {
		t.Fatalf("expected stake to be attached, got %s", tx.Value())
	}
	method, err := backend.abi.MethodById(tx.Data()[:4])
	if err != nil || method.Name != methodRegisterAgent {
		t.Fatalf("unexpected method %v %v", method, err)
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil || args[0].(common.Address) != from {
		t.Fatalf("payable account should default to the agent, got %v %v", args, err)
	}
}

func TestSubmitExecutionQuotaRevert(t *testing.T) {
	backend := newFakeBackend(t)
	backend.estimateErr = errors.New("execution reverted: Agent has exceeded execution for this slot")
	client, _ := newTestClient(t, backend, true)

	_, err := client.SubmitExecution(context.Background())
	if !ledger.IsQuotaExceeded(err) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
	if len(backend.sent) != 0 {
		t.Fatalf("no transaction should be sent after a failed estimate")
	}
}

func TestSubmitFailedReceipt(t *testing.T) {
	backend := newFakeBackend(t)
	backend.receiptStatus = coretypes.ReceiptStatusFailed
	client, _ := newTestClient(t, backend, true)

	outcome, err := client.SubmitWithdrawReward(context.Background())
	if xerrors.CodeOf(err) != ledger.CodeUnknown {
		t.Fatalf("expected unknown failure, got %v", err)
	}
	if outcome.TxHash == "" {
		t.Fatalf("failed outcome should still carry the tx hash")
	}
}

func TestSubmitWithoutKey(t *testing.T) {
	client, _ := newTestClient(t, newFakeBackend(t), false)
	if _, err := client.SubmitExecution(context.Background()); xerrors.CodeOf(err) != ledger.CodeKeyNotFound {
		t.Fatalf("expected key not found, got %v", err)
	}
	if _, err := client.SubmitConditionalExecution(context.Background(), "0x01"); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid hash, got %v", err)
	}
}

type rpcDataError struct {
	msg  string
	data any
}

func (e rpcDataError) Error() string  { return e.msg }
func (e rpcDataError) ErrorData() any { return e.data }

func TestClassifyDecodesRevertData(t *testing.T) {
	stringType, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatalf("new type: %v", err)
	}
	packed, err := abi.Arguments{{Type: stringType}}.Pack("Agent has exceeded execution for this slot")
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	revert := append(crypto.Keccak256([]byte("Error(string)"))[:4], packed...)

	err = classify(rpcDataError{msg: "execution reverted", data: hexutil.Encode(revert)}, "proxyCall 失败")
	if !ledger.IsQuotaExceeded(err) {
		t.Fatalf("expected quota exceeded from revert data, got %v", err)
	}
}
