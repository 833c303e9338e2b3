// Package api 暴露 REST 接口：会话回合、异步存证任务与账本状态。
package api
