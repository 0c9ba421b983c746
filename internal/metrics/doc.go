/*
包 metrics 提供基于 Prometheus 的请求协调核心指标采集能力，覆盖
限流器、缓存、熔断器、批处理器与底层 Provider 调用五个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
便于 Grafana 等工具进行可视化与告警。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按调度器组件分组管理。

# 主要能力

  - Provider 请求指标：请求总数与耗时，按 adapter/endpoint/status 分组。
  - 缓存指标：命中与未命中计数，按 endpoint 分组。
  - 熔断器指标：当前状态 Gauge 与状态迁移计数，按 adapter 分组。
  - 批处理指标：批大小分布与关闭原因计数，按 adapter 分组。
  - 限流与重试指标：准入等待计数与重试次数，按 endpoint 分组。
*/
package metrics
