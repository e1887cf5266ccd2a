package executor

import (
	"context"
	stdErrors "errors"
	"fmt"
	"math/big"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"IntentLayer-Lite/internal/compiler"
	xerrors "IntentLayer-Lite/internal/errors"
	"IntentLayer-Lite/internal/web3"
	"IntentLayer-Lite/pkg/logger"
)

const (
	CodeExecutionReverted xerrors.Code = "EXECUTION_REVERTED"
	CodeGasEstimation     xerrors.Code = "GAS_ESTIMATION_FAILED"
	CodeReceiptTimeout    xerrors.Code = "RECEIPT_TIMEOUT"
	CodeSignerInvalid     xerrors.Code = "SIGNER_INVALID"
)

func init() {
	xerrors.Register(CodeExecutionReverted, xerrors.Attributes{Message: "transaction reverted on chain", Severity: xerrors.SeverityWarning, Alert: true})
	xerrors.Register(CodeGasEstimation, xerrors.Attributes{Message: "gas estimation rejected the call", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeReceiptTimeout, xerrors.Attributes{Message: "timed out waiting for receipt", Severity: xerrors.SeverityWarning, Alert: true})
	xerrors.Register(CodeSignerInvalid, xerrors.Attributes{Message: "signer key is invalid", Severity: xerrors.SeverityCritical, Alert: true})
}

// Status 表示执行结果所处阶段。
type Status string

const (
	StatusCompiled  Status = "compiled"
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
)

// Execution 汇总一次计划执行。
type Execution struct {
	Network     string   `json:"network,omitempty"`
	ChainID     string   `json:"chain_id,omitempty"`
	From        string   `json:"from,omitempty"`
	TxHashes    []string `json:"tx_hashes,omitempty"`
	BlockNumber uint64   `json:"block_number,omitempty"`
	GasUsed     uint64   `json:"gas_used,omitempty"`
	Status      Status   `json:"status"`
	DryRun      bool     `json:"dry_run"`
}

// Options 控制广播与回执等待。Confirmations 为 0 时最后一笔交易广播后即返回。
type Options struct {
	Confirmations  uint64
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
	GasMultiplier  float64
}

func (o *Options) applyDefaults() {
	if o.ReceiptTimeout <= 0 {
		o.ReceiptTimeout = 2 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.GasMultiplier < 1 {
		o.GasMultiplier = 1
	}
}

// Submitter 负责签名、广播并跟踪计划中的交易。
type Submitter struct {
	chains web3.Resolver
	signer *Signer
	opts   Options
}

// NewSubmitter 创建 Submitter，signer 为空时进入 dry-run 模式。
func NewSubmitter(chains web3.Resolver, signer *Signer, opts Options) *Submitter {
	opts.applyDefaults()
	return &Submitter{chains: chains, signer: signer, opts: opts}
}

// DryRun 判断是否只编译不广播。
func (s *Submitter) DryRun() bool {
	return s == nil || s.signer == nil || s.chains == nil
}

// Execute 依次广播计划中的调用。一旦有交易上链，返回的错误都不可重试，
// 以免重复执行。
func (s *Submitter) Execute(ctx context.Context, plan *compiler.Plan) (*Execution, error) {
	if plan == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "plan is required")
	}
	exec := &Execution{Network: plan.Network, Status: StatusCompiled}
	if s.DryRun() {
		exec.DryRun = true
		return exec, nil
	}

	client, network, err := s.chains.Resolve(plan.Network)
	if err != nil {
		return exec, xerrors.Wrap(xerrors.CodeChainFailure, err, "resolve chain", xerrors.WithRetryable(false))
	}
	exec.Network = network
	exec.From = s.signer.Address().Hex()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return exec, xerrors.Wrap(xerrors.CodeChainFailure, err, "fetch chain id")
	}
	exec.ChainID = chainID.String()

	log := logger.Named("executor")
	for i, call := range plan.Calls {
		hash, err := s.send(ctx, client, chainID, call.To, call.Data, call.Value)
		if err != nil {
			return exec, s.finalize(exec, err)
		}
		exec.TxHashes = append(exec.TxHashes, hash.Hex())
		exec.Status = StatusSubmitted
		log.Info("交易已广播", "intent_id", plan.IntentID, "network", network, "index", i, "tx_hash", hash.Hex())

		// 后续调用依赖前一笔交易的状态（如 approve 之后的 swap），中间交易总是等待回执。
		last := i == len(plan.Calls)-1
		if last && s.opts.Confirmations == 0 {
			continue
		}
		receipt, err := s.waitReceipt(ctx, client, hash)
		if err != nil {
			if last && xerrors.HasCode(err, CodeReceiptTimeout) {
				log.Warn("等待回执超时，保留已提交状态", "intent_id", plan.IntentID, "tx_hash", hash.Hex())
				return exec, nil
			}
			return exec, s.finalize(exec, err)
		}
		exec.GasUsed += receipt.GasUsed
		if receipt.BlockNumber != nil {
			exec.BlockNumber = receipt.BlockNumber.Uint64()
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return exec, xerrors.New(CodeExecutionReverted,
				fmt.Sprintf("call %d (%s) reverted in tx %s", i, call.Description, hash.Hex()),
				xerrors.WithRetryable(false),
				xerrors.WithMetadata("tx_hash", hash.Hex()))
		}
		if err := s.waitConfirmations(ctx, client, exec.BlockNumber); err != nil {
			return exec, s.finalize(exec, err)
		}
	}
	if s.opts.Confirmations > 0 {
		exec.Status = StatusConfirmed
	}
	return exec, nil
}

// finalize 在已有交易上链时把错误标记为不可重试。
func (s *Submitter) finalize(exec *Execution, err error) error {
	if len(exec.TxHashes) == 0 {
		return err
	}
	if e, ok := xerrors.From(err); ok && !e.Retryable() {
		return err
	}
	return xerrors.Wrap(xerrors.CodeOf(err), err, "partially executed plan", xerrors.WithRetryable(false))
}

func (s *Submitter) send(ctx context.Context, client web3.Client, chainID *big.Int, to common.Address, data []byte, value *big.Int) (common.Hash, error) {
	from := s.signer.Address()
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "fetch nonce")
	}
	tip, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "suggest tip")
	}
	head, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "fetch head")
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	gas, err := client.EstimateGas(ctx, gethcore.CallMsg{
		From:      from,
		To:        &to,
		Value:     value,
		Data:      data,
		GasTipCap: tip,
		GasFeeCap: feeCap,
	})
	if err != nil {
		var rpcErr gethrpc.Error
		if stdErrors.As(err, &rpcErr) {
			return common.Hash{}, xerrors.Wrap(CodeGasEstimation, err, "estimate gas", xerrors.WithRetryable(false))
		}
		return common.Hash{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "estimate gas")
	}
	gas = uint64(float64(gas) * s.opts.GasMultiplier)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := s.signer.Sign(tx, chainID)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(CodeSignerInvalid, err, "sign transaction")
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "send transaction")
	}
	return signed.Hash(), nil
}

func (s *Submitter) waitReceipt(ctx context.Context, client web3.Client, hash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.opts.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := client.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !stdErrors.Is(err, gethcore.NotFound) {
			logger.Named("executor").Debug("查询回执失败，稍后重试", "tx_hash", hash.Hex(), "error", err)
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, xerrors.New(CodeReceiptTimeout, "receipt not found for "+hash.Hex(),
				xerrors.WithRetryable(false),
				xerrors.WithMetadata("tx_hash", hash.Hex()))
		case <-ticker.C:
		}
	}
}

func (s *Submitter) waitConfirmations(ctx context.Context, client web3.Client, included uint64) error {
	if s.opts.Confirmations <= 1 {
		return nil
	}
	target := included + s.opts.Confirmations - 1
	waitCtx, cancel := context.WithTimeout(ctx, s.opts.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		head, err := client.BlockNumber(waitCtx)
		if err == nil && head >= target {
			return nil
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return xerrors.New(CodeReceiptTimeout, fmt.Sprintf("block %d not reached", target), xerrors.WithRetryable(false))
		case <-ticker.C:
		}
	}
}
