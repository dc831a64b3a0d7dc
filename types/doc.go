// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 bytestream 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 stream、connector、
cmd 等上层模块提供统一的错误契约。

# 核心类型

  - Error / ErrorCode：结构化错误体系，区分 state / range / type / protocol
    四类流协议错误以及连接器错误
  - GetErrorCode / IsCode：基于 errors.As 的错误码提取
*/
package types
