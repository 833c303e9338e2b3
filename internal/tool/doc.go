// Package tool 定义工具能力契约与静态注册表。工具按名称注册、按名称分发，
// 参数在执行前经 JSON Schema 校验，执行结果以 Result 形式返回而非抛出异常。
package tool
