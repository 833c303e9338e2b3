// Package agent 实现会话编排：意图路由选出智能体，运行时驱动
// 推理-工具循环并维护会话历史。一个回合以一条用户消息开始，以
// 一条智能体回复（或一个带错误码的失败）结束。
package agent
