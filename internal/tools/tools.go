// Package tools 提供智能体可调用的具体工具：实验、方案、试剂的增删改查，
// 账本存证与校验，文献检索，以及会话状态读写。
package tools

import (
	"encoding/json"
	"fmt"

	"LabNexus/internal/convo"
	xerrors "LabNexus/internal/errors"
	"LabNexus/internal/labdata"
	"LabNexus/internal/ledger"
	"LabNexus/internal/tool"
)

// Deps 汇集工具依赖的服务。
type Deps struct {
	Lab      labdata.Store
	Ledger   *ledger.Service
	Contexts convo.Store
	// PubMed 为空时使用默认的 NCBI 端点。
	PubMed *PubMedClient
	// Voice 为空时不注册语音工具。
	Voice *VoiceClient
}

// RegisterAll 把全部工具注册进注册表，供进程启动阶段调用。
func RegisterAll(reg *tool.Registry, deps Deps) {
	reg.MustRegister(
		&CreateExperimentTool{lab: deps.Lab},
		&GetExperimentTool{lab: deps.Lab},
		&ListExperimentsTool{lab: deps.Lab},
		&MarkExperimentStatusTool{lab: deps.Lab},
		&AttachProtocolTool{lab: deps.Lab},
		&AddReagentUsageTool{lab: deps.Lab},

		&CreateProtocolTool{lab: deps.Lab},
		&GetProtocolTool{lab: deps.Lab},
		&UpdateProtocolTool{lab: deps.Lab},
		&ListProtocolsTool{lab: deps.Lab},

		&AddReagentTool{lab: deps.Lab},
		&RecordReagentUsageTool{lab: deps.Lab},
		&ListLowInventoryTool{lab: deps.Lab},

		&StoreExperimentTool{lab: deps.Lab, ledger: deps.Ledger},
		&VerifyExperimentTool{lab: deps.Lab, ledger: deps.Ledger},
		&BlockchainStatusTool{ledger: deps.Ledger},

		&PubMedSearchTool{client: deps.PubMed},

		&SetContextTool{contexts: deps.Contexts},
		&GetContextTool{contexts: deps.Contexts},
	)
	if deps.Voice != nil {
		reg.MustRegister(&SpeakTool{client: deps.Voice})
	}
}

// decodeParams 把已通过 Schema 校验的参数解码到目标结构。
func decodeParams(params json.RawMessage, target any) error {
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(params, target); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidToolInput, err, "解析工具参数失败")
	}
	return nil
}

// fail 把服务层错误转换为工具失败结果，保留统一错误码。
func fail(err error) tool.Result {
	if e, ok := xerrors.From(err); ok {
		return tool.Errorf(e.Code(), "%s", e.Message())
	}
	return tool.Errorf(xerrors.CodeToolExecutionFailure, "%v", err)
}

// renderJSON 把结构化结果附在可读摘要后，供推理引擎引用字段。
func renderJSON(summary string, v any) string {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return summary
	}
	return fmt.Sprintf("%s\n%s", summary, encoded)
}
