/*
包 server 管理 HTTP/HTTPS 服务器的生命周期。

Manager 封装 net/http.Server：Start 非阻塞启动，Run 阻塞到 ctx 取消后
优雅关闭，Shutdown 在 ShutdownTimeout 内排空连接。配置证书与私钥时
使用 tlsutil.DefaultTLSConfig 以 HTTPS 提供服务。Addr 在启动后返回
实际监听地址，便于以 ":0" 启动的测试获取端口。

docflow 进程用两个 Manager 分别承载工作流 API 与 Prometheus 指标端点。
*/
package server
