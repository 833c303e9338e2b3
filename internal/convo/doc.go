// Package convo 提供按会话隔离的上下文存储：有序消息历史与键值状态。
// 内存实现使用有界 LRU 防止长期运行内存膨胀，Redis 实现供多副本共享。
package convo
