// Package labdata 管理实验室核心数据：实验、实验方案、试剂库存与
// 消耗记录，并缓存链上存证记录供快速查询。提供内存与 MySQL 两种
// 实现，通过配置切换。
package labdata
