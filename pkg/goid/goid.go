// Package goid reads the current goroutine id for log correlation only.
package goid

import (
	"bytes"
	"runtime"
	"strconv"
)

var prefix = []byte("goroutine ")

// GetGID returns the id of the calling goroutine, 0 if the stack header
// cannot be parsed.
func GetGID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	// 栈头形如 "goroutine 123 [running]:"
	b = bytes.TrimPrefix(b, prefix)
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// String 返回日志字段使用的字符串形式
func String() string {
	return strconv.FormatUint(GetGID(), 10)
}
