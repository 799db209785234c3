// consumer.go — 单消费者读循环: chunk → 帧 → 事件 → 时间线。
package runtime

import (
	"context"
	"errors"
	"io"

	"github.com/agentchat/stream-core/internal/stream"
	"github.com/agentchat/stream-core/internal/timeline"
	"github.com/agentchat/stream-core/pkg/logger"
)

// readChunkSize 单次读取块大小。帧切分器对任意切块边界不变,
// 块大小只影响吞吐。
const readChunkSize = 4096

// EventSink 事件旁路 (下游 SSE 转发 / ws 推送); 在折叠之后调用。
type EventSink func(ev *stream.Event)

// Consumer 事件流消费者。
//
// 严格单消费者: 一个读循环串行走 解码 → 校验 → 折叠, 顺序由构造
// 保证。取消是协作式的: ctx 取消停止读取并让 Builder 进入
// cancelled 终态, 半成品消息被丢弃而非输出。
type Consumer struct {
	decoder   *stream.FrameDecoder
	validator *stream.Validator
	builder   *timeline.Builder
	sink      EventSink
	diags     *stream.Diagnostics
}

// NewConsumer 创建消费者。sink 可为 nil。
func NewConsumer(builder *timeline.Builder, diags *stream.Diagnostics, sink EventSink) *Consumer {
	return &Consumer{
		decoder:   stream.NewFrameDecoder(),
		validator: stream.NewValidator(diags),
		builder:   builder,
		sink:      sink,
		diags:     diags,
	}
}

// Run 消费整条流直到 EOF / 取消 / 读错误。
//
// EOF 时冲出未终结尾帧再折叠; 读错误保留已构建消息并置 error 终态。
// 返回值仅报告传输层结果, 协议层问题全部走诊断。
func (c *Consumer) Run(ctx context.Context, body io.ReadCloser) error {
	defer body.Close()

	buf := make([]byte, readChunkSize)
	for {
		select {
		case <-ctx.Done():
			c.builder.Cancel()
			logger.Info("stream cancelled",
				logger.FieldSessionID, c.builder.SessionID())
			return ctx.Err()
		default:
		}

		n, err := body.Read(buf)
		if n > 0 {
			c.fold(c.decoder.Feed(string(buf[:n])))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.fold(c.decoder.Flush())
				return nil
			}
			// ctx 取消常以包装错误从 Read 冒出, 归一为 cancelled
			if ctx.Err() != nil {
				c.builder.Cancel()
				return ctx.Err()
			}
			c.builder.Fail(err.Error())
			logger.Error("stream read failed",
				logger.FieldSessionID, c.builder.SessionID(),
				logger.FieldError, err)
			return err
		}
	}
}

func (c *Consumer) fold(frames []stream.Frame) {
	for _, frame := range frames {
		ev := c.validator.Validate(frame)
		if ev == nil {
			continue
		}
		c.builder.Apply(ev)
		if c.sink != nil {
			c.sink(ev)
		}
	}
}
