// Package tlsutil 提供集中式 TLS 配置：API 服务端的证书加载与
// health 探测客户端共用同一套加固设置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
