package tools

import (
	"context"
	"encoding/json"
	"fmt"

	xerrors "LabNexus/internal/errors"
	"LabNexus/internal/labdata"
	"LabNexus/internal/ledger"
	"LabNexus/internal/tool"
)

// StoreExperimentTool 把实验数据摘要写入账本并回填交易 ID。
type StoreExperimentTool struct {
	lab    labdata.Store
	ledger *ledger.Service
}

var _ tool.Tool = (*StoreExperimentTool)(nil)

func (t *StoreExperimentTool) Name() string { return "store_experiment_on_chain" }

func (t *StoreExperimentTool) Description() string {
	return "Notarize an experiment on the ledger: compute the canonical hash of its data and " +
		"submit it in a signed transaction. Returns the transaction id and block height."
}

func (t *StoreExperimentTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"experiment_id": {"type": "string", "minLength": 1}
		},
		"required": ["experiment_id"],
		"additionalProperties": false
	}`)
}

func (t *StoreExperimentTool) SideEffect() tool.SideEffect { return tool.SideEffectWritesExternal }

func (t *StoreExperimentTool) Execute(ctx context.Context, params json.RawMessage) tool.Result {
	var in struct {
		ExperimentID string `json:"experiment_id"`
	}
	if err := decodeParams(params, &in); err != nil {
		return fail(err)
	}

	exp, err := t.lab.GetExperiment(ctx, in.ExperimentID)
	if err != nil {
		return fail(err)
	}

	record, err := t.ledger.Store(ctx, exp.ID, exp.ProvenanceView(), map[string]any{
		"title":  exp.Title,
		"status": string(exp.Status),
	})
	if err != nil {
		// 确认超时不算失败：交易已被接受，只是还没见到区块。
		if xerrors.CodeOf(err) == xerrors.CodeConfirmationTimeout && record != nil {
			t.backfillTxID(ctx, exp, record.TxID)
			return tool.Ok(fmt.Sprintf(
				"Experiment %s submitted to %s as transaction %s. Confirmation is still pending, "+
					"check again later.", exp.ID, record.NetworkID, record.TxID))
		}
		return fail(err)
	}

	t.backfillTxID(ctx, exp, record.TxID)
	return tool.OkWithDetails(
		fmt.Sprintf("Experiment %s notarized on %s. Transaction %s confirmed in block %d, data hash %s.",
			exp.ID, record.NetworkID, record.TxID, record.BlockHeight, record.DataHash),
		map[string]any{
			"tx_id":        record.TxID,
			"block_height": record.BlockHeight,
			"data_hash":    record.DataHash,
		},
	)
}

func (t *StoreExperimentTool) backfillTxID(ctx context.Context, exp *labdata.Experiment, txID string) {
	exp.LedgerTxID = txID
	// 回填失败不影响存证结果，记录仍可通过存证缓存找到。
	_ = t.lab.UpdateExperiment(ctx, exp)
}

// VerifyExperimentTool 用链上负载校验实验数据是否被篡改。
type VerifyExperimentTool struct {
	lab    labdata.Store
	ledger *ledger.Service
}

var _ tool.Tool = (*VerifyExperimentTool)(nil)

func (t *VerifyExperimentTool) Name() string { return "verify_experiment_integrity" }

func (t *VerifyExperimentTool) Description() string {
	return "Verify an experiment against its on-chain record: recompute the canonical hash of the " +
		"current data and compare it with the hash stored in the original transaction. " +
		"Reports MATCH or MISMATCH."
}

func (t *VerifyExperimentTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"experiment_id": {"type": "string", "minLength": 1}
		},
		"required": ["experiment_id"],
		"additionalProperties": false
	}`)
}

func (t *VerifyExperimentTool) SideEffect() tool.SideEffect { return tool.SideEffectReadsExternal }

func (t *VerifyExperimentTool) Execute(ctx context.Context, params json.RawMessage) tool.Result {
	var in struct {
		ExperimentID string `json:"experiment_id"`
	}
	if err := decodeParams(params, &in); err != nil {
		return fail(err)
	}

	exp, err := t.lab.GetExperiment(ctx, in.ExperimentID)
	if err != nil {
		return fail(err)
	}

	record, err := t.lab.GetProvenance(ctx, exp.ID)
	if err != nil {
		if exp.LedgerTxID == "" {
			return tool.Errorf(xerrors.CodeNotFound,
				"experiment %s has no on-chain record yet", exp.ID)
		}
		record = &ledger.ProvenanceRecord{ExperimentID: exp.ID, TxID: exp.LedgerTxID}
	}

	verdict, err := t.ledger.Verify(ctx, record, exp.ProvenanceView())
	if err != nil {
		return fail(err)
	}

	switch verdict {
	case ledger.VerdictMatch:
		return tool.Ok(fmt.Sprintf(
			"MATCH: experiment %s is intact. The current data reproduces the hash notarized in "+
				"transaction %s.", exp.ID, record.TxID))
	default:
		return tool.OkWithDetails(fmt.Sprintf(
			"MISMATCH: experiment %s differs from the data notarized in transaction %s. "+
				"The record has been modified since it was stored.", exp.ID, record.TxID),
			map[string]any{"verdict": string(verdict)})
	}
}

// BlockchainStatusTool 汇报账本连接状态、网络与账户余额。
type BlockchainStatusTool struct {
	ledger *ledger.Service
}

var _ tool.Tool = (*BlockchainStatusTool)(nil)

func (t *BlockchainStatusTool) Name() string { return "get_blockchain_status" }

func (t *BlockchainStatusTool) Description() string {
	return "Report ledger connectivity, network id, service account and its balance."
}

func (t *BlockchainStatusTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {},
		"additionalProperties": false
	}`)
}

func (t *BlockchainStatusTool) SideEffect() tool.SideEffect { return tool.SideEffectReadsExternal }

func (t *BlockchainStatusTool) Execute(ctx context.Context, params json.RawMessage) tool.Result {
	status := t.ledger.Status(ctx)
	if !status.Connected {
		return tool.Ok(fmt.Sprintf("Ledger network %s is not reachable right now.", status.NetworkID))
	}
	return tool.Ok(renderJSON("Ledger status:", status))
}
