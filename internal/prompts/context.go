package prompts

import (
	"fmt"
	"strings"
	"time"
)

// timeTemplate is the baseline context block. The format verbs are the
// current clock time, the current date, and the IANA zone name.
const timeTemplate = `当前时间信息：
- 现在是：%s
- 今天是：%s
- 时区：%s`

// memoryFraming introduces the recalled memories.
const memoryFraming = "下面是你们之前的部分记忆，请在合适的时候自然地引用或参考："

// MemorySeparator joins formatted memories.
const MemorySeparator = "\n\n---\n\n"

var weekdays = [...]string{"星期日", "星期一", "星期二", "星期三", "星期四", "星期五", "星期六"}

// TimeBlock renders now (already in the user's location) as the
// baseline context block.
func TimeBlock(now time.Time) string {
	clock := now.Format("2006-01-02 15:04:05")
	date := fmt.Sprintf("%d年%d月%d日 %s", now.Year(), int(now.Month()), now.Day(), weekdays[now.Weekday()])
	return fmt.Sprintf(timeTemplate, clock, date, now.Location().String())
}

// MemoryEntry renders one recalled memory as a header line of time,
// type and author followed by its text.
func MemoryEntry(when time.Time, memType, author, text string) string {
	return fmt.Sprintf("【时间】%s  【类型】%s  【来自】%s\n%s", when.Format(time.RFC3339), memType, author, text)
}

// MemoryContext appends formatted memory entries to the baseline block.
func MemoryContext(timeBlock string, entries []string) string {
	if len(entries) == 0 {
		return timeBlock
	}
	return timeBlock + "\n\n" + memoryFraming + "\n\n" + strings.Join(entries, MemorySeparator)
}
