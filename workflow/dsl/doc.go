// Package dsl 提供节点配置中使用的轻量表达式语言。
//
// 表达式先经词法分析与递归下降解析编译为 Program（语法树），
// 之后可对不同变量集合重复求值；Evaluate/EvaluateValue 通过
// 有界的进程内缓存复用已编译的 Program。
//
// 支持比较、逻辑（短路）、算术运算、contains 以及点路径变量访问，
// 供 condition 节点的 expression 模式与 transform 节点求值使用。
package dsl
