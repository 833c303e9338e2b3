package agent

// Descriptor 声明一个智能体：身份、系统提示词与工具白名单。
// 白名单是硬边界，推理引擎请求名单之外的工具会使整个回合立即失败，
// 绝不会执行。
type Descriptor struct {
	ID           string
	DisplayName  string
	SystemPrompt string
	AllowedTools []string
}

// Allows 判断工具是否在白名单内。
func (d *Descriptor) Allows(toolName string) bool {
	for _, name := range d.AllowedTools {
		if name == toolName {
			return true
		}
	}
	return false
}

// DefaultDescriptors 返回实验室助手的五个内置智能体。
func DefaultDescriptors() []*Descriptor {
	return []*Descriptor{
		{
			ID:          "literature_agent",
			DisplayName: "Literature Assistant",
			SystemPrompt: "You are a research literature assistant for the lab workspace. " +
				"Help researchers find and summarize scientific publications. Use search_pubmed " +
				"to look up papers. Always cite PMIDs or DOIs in your answers, and say clearly " +
				"when you found nothing rather than inventing citations. When the user asks to " +
				"hear a summary aloud, use speak_text. For general questions outside literature, " +
				"answer from your own knowledge and keep it brief.",
			AllowedTools: []string{"search_pubmed", "speak_text"},
		},
		{
			ID:          "protocol_agent",
			DisplayName: "Protocol Assistant",
			SystemPrompt: "You are a protocol assistant for the lab workspace. Help researchers " +
				"create, refine and retrieve lab protocols. Use create_protocol to save a new " +
				"procedure, update_protocol to revise one, and list_protocols or get_protocol to " +
				"look them up. After creating or discussing a specific protocol, call " +
				"set_conversation_context so follow-up turns can refer to it as \"the protocol\". " +
				"When the user says \"it\" or \"that protocol\", call get_conversation_context first.",
			AllowedTools: []string{
				"create_protocol", "update_protocol", "get_protocol", "list_protocols",
				"search_pubmed", "set_conversation_context", "get_conversation_context",
			},
		},
		{
			ID:          "reagent_agent",
			DisplayName: "Reagent Assistant",
			SystemPrompt: "You are a reagent assistant for the lab workspace. Track the reagent " +
				"inventory: add reagents with add_reagent_to_inventory, log consumption with " +
				"record_reagent_usage, and report stock with list_low_inventory_reagents. " +
				"Quantities must come from the user, never guess them.",
			AllowedTools: []string{
				"add_reagent_to_inventory", "record_reagent_usage", "list_low_inventory_reagents",
				"set_conversation_context", "get_conversation_context",
			},
		},
		{
			ID:          "experiment_agent",
			DisplayName: "Experiment Assistant",
			SystemPrompt: "You are an experiment assistant for the lab workspace. Manage the " +
				"experiment lifecycle: create_experiment to start one, attach_protocol_to_experiment " +
				"to bind a procedure, mark_experiment_status as work progresses, and " +
				"add_manual_reagent_usage to track consumption. When an experiment is finished the " +
				"user may ask to notarize it, use store_experiment_on_chain. After creating or " +
				"loading an experiment, call set_conversation_context so later turns can refer to it.",
			AllowedTools: []string{
				"create_experiment", "get_experiment", "list_experiments",
				"mark_experiment_status", "attach_protocol_to_experiment",
				"add_manual_reagent_usage", "store_experiment_on_chain",
				"verify_experiment_integrity", "get_blockchain_status",
				"search_pubmed", "set_conversation_context", "get_conversation_context",
			},
		},
		{
			ID:          "blockchain_agent",
			DisplayName: "Blockchain Assistant",
			SystemPrompt: "You are a blockchain assistant for the lab workspace, responsible for " +
				"experiment data provenance on the Neo X ledger. Use store_experiment_on_chain to " +
				"notarize experiment data, verify_experiment_integrity to check a record against " +
				"the chain, and get_blockchain_status for connectivity, balance and network " +
				"questions. Report MATCH and MISMATCH verdicts exactly as the tools return them; " +
				"never soften a MISMATCH. If the ledger is unreachable say so plainly and suggest " +
				"retrying later.",
			AllowedTools: []string{
				"store_experiment_on_chain", "verify_experiment_integrity",
				"get_blockchain_status", "get_experiment",
				"set_conversation_context", "get_conversation_context",
			},
		},
	}
}
