// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 bytestream 测试的共享工具和辅助函数。

# 概述

testutil 包为 stream、connector 与 cmd 的单元测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。testutil 及其子包不依赖 stream
包，stream 包自身的测试也可以使用。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / WaitForChannel，超时轮询等待条件满足

# 子包

  - testutil/mocks: MockSink（stream.Sink 的模拟实现），记录写入内容、
    Close 与 Abort 调用，支持错误注入
  - testutil/fixtures: 确定性字节负载与分块工具
  - testutil/natstest: 基于 testcontainers 的 JetStream NATS 服务器，
    Docker 不可用时跳过测试

# 使用示例

	ctx := testutil.TestContext(t)
	sink := mocks.NewMockSink().WithWriteError(2, errors.New("disk full"))
	err := s.PipeTo(ctx, sink, stream.PipeOptions{})
*/
package testutil
