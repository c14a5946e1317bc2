// Package config 提供 DocFlow 的配置管理功能。
//
// 包含配置加载（默认值 → YAML → DOCFLOW_* 环境变量）、校验、
// 基于轮询的文件监听，以及配置文件热重载。
package config
