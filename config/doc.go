// Package config 提供 NodeFlow 的配置管理功能。
//
// Load 按 默认值 → YAML 文件（可多个，按顺序叠加）→ 环境变量 的顺序合并配置，
// 覆盖 HTTP 服务、引擎、定义存储、Redis、数据库、MongoDB、日志与遥测。
// YAML 中的 ${VAR} 在解析前展开；环境变量名由前缀加 yaml 键的大写形式组成，
// 例如 NODEFLOW_DATABASE_SLOW_QUERY_THRESHOLD=500ms。
package config
