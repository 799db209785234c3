// frame.go — 线协议帧切分: 把原始文本块流切成 (类型, 负载) 帧。
//
// 帧语法: 空行结束一帧; 帧内行前缀 event: / data: (可重复, 按 \n 拼接) /
// ":" 注释 / retry: 指令。跨网络读取被截断的帧是常态, 残余部分缓冲到
// 下一个 chunk, 绝不丢弃。
package stream

import (
	"io"
	"strings"
)

// Frame 一个完整协议帧。
type Frame struct {
	Type string // event: 行声明的类型, 可为空 (类型在负载判别字段里)
	Data string // data: 行内容, 多行按 \n 拼接
}

// FrameDecoder 有状态帧切分器, 作用域为一条流。
//
// 纯转换 + 内部缓冲, 无其他副作用; 非并发安全 (单消费者约定)。
type FrameDecoder struct {
	buf strings.Builder
}

// NewFrameDecoder 创建帧切分器。
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{}
}

// Feed 送入一个原始文本块, 返回其中完成的帧 (可能为空)。
// 末尾未终结的部分留在缓冲区等待后续 chunk。
func (d *FrameDecoder) Feed(chunk string) []Frame {
	if chunk == "" {
		return nil
	}
	d.buf.WriteString(chunk)

	pending := d.buf.String()
	var frames []Frame
	for {
		block, rest, ok := cutFrameBlock(pending)
		if !ok {
			break
		}
		pending = rest
		if frame, ok := parseFrameBlock(block); ok {
			frames = append(frames, frame)
		}
	}

	d.buf.Reset()
	d.buf.WriteString(pending)
	return frames
}

// Flush 在流结束时冲出缓冲区的最后一帧 (无结尾空行的尾帧)。
func (d *FrameDecoder) Flush() []Frame {
	pending := d.buf.String()
	d.buf.Reset()
	if strings.TrimSpace(pending) == "" {
		return nil
	}
	if frame, ok := parseFrameBlock(pending); ok {
		return []Frame{frame}
	}
	return nil
}

// Pending 返回缓冲区中尚未成帧的字节数 (测试与诊断用)。
func (d *FrameDecoder) Pending() int {
	return d.buf.Len()
}

// cutFrameBlock 从 s 中切出第一个完整帧块 (以空行终结)。
// 兼容 \n\n 与 \r\n\r\n 两种分隔。
func cutFrameBlock(s string) (block, rest string, ok bool) {
	lf := strings.Index(s, "\n\n")
	crlf := strings.Index(s, "\r\n\r\n")
	switch {
	case lf < 0 && crlf < 0:
		return "", s, false
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return s[:crlf], s[crlf+4:], true
	default:
		return s[:lf], s[lf+2:], true
	}
}

// parseFrameBlock 解析一个帧块的各行。无 data 行的块 (纯注释/retry) 丢弃。
func parseFrameBlock(block string) (Frame, bool) {
	var frame Frame
	var dataLines []string

	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, ":"):
			// 注释行, 忽略
			continue
		case strings.HasPrefix(line, "event:"):
			frame.Type = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, trimFieldValue(line[len("data:"):]))
		case strings.HasPrefix(line, "retry:"):
			// 重连指令, 本层不处理
			continue
		default:
			// 无法识别的行按帧格式错误忽略, 帧的其余行照常解析
			continue
		}
	}

	if len(dataLines) == 0 {
		return Frame{}, false
	}
	frame.Data = strings.Join(dataLines, "\n")
	return frame, true
}

// trimFieldValue 去掉字段值的单个前导空格 (线协议约定)。
func trimFieldValue(v string) string {
	if strings.HasPrefix(v, " ") {
		return v[1:]
	}
	return v
}

// WriteFrame 将 (类型, 负载) 编码为帧文本写入 w。
// 与 FrameDecoder 互逆; 负载内换行会被拆成多个 data: 行。
func WriteFrame(w io.Writer, frameType string, data []byte) error {
	var sb strings.Builder
	if frameType != "" {
		sb.WriteString("event: ")
		sb.WriteString(frameType)
		sb.WriteString("\n")
	}
	for _, line := range strings.Split(string(data), "\n") {
		sb.WriteString("data: ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	_, err := io.WriteString(w, sb.String())
	return err
}
