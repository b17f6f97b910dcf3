package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/piggy-diary/piggy/internal/memory"
)

var errNoMemory = errors.New("memory store not configured")

// chatReminderPrefix marks memories saved from chat.
const chatReminderPrefix = "聊天提醒："

const defaultMemoryLimit = 5

// saveMemory writes synchronously so the model can confirm the save.
// Saving the same content twice stores two records.
func (e *Executor) saveMemory(ctx context.Context, raw []byte) (Outcome, error) {
	if e.memory == nil {
		return Outcome{}, errNoMemory
	}
	args, err := decode[saveMemoryArgs](raw)
	if err != nil {
		return Outcome{}, err
	}
	content := strings.TrimSpace(args.Content)
	if content == "" {
		return failed("Content is required."), nil
	}

	now := e.now()
	id := memory.NewRecordID("chat", now)
	if err := e.memory.Add(ctx, memory.Record{
		ID:   id,
		Text: chatReminderPrefix + content,
		Metadata: memory.Metadata{
			Type:     memory.TypeNote,
			Author:   e.author,
			Datetime: now,
			SourceID: id,
		},
	}); err != nil {
		return Outcome{}, err
	}
	return ok("记忆已保存。"), nil
}

func (e *Executor) listMemories(ctx context.Context, raw []byte) (Outcome, error) {
	if e.memory == nil {
		return Outcome{}, errNoMemory
	}
	args, err := decode[listMemoriesArgs](raw)
	if err != nil {
		return Outcome{}, err
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultMemoryLimit
	}
	if limit > 10 {
		limit = 10
	}
	records, err := e.memory.List(ctx, strings.TrimSpace(args.Query), limit)
	if err != nil {
		return Outcome{}, err
	}
	if len(records) == 0 {
		return ok("没有找到相关的记忆。"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "找到 %d 条记忆：", len(records))
	for _, r := range records {
		fmt.Fprintf(&b, "\n- ID %s | %s | %s | %s",
			r.ID, r.Metadata.Datetime.In(e.now().Location()).Format("2006-01-02"), r.Metadata.Type, r.Text)
	}
	return ok(b.String()), nil
}

func (e *Executor) updateMemory(ctx context.Context, raw []byte) (Outcome, error) {
	if e.memory == nil {
		return Outcome{}, errNoMemory
	}
	args, err := decode[updateMemoryArgs](raw)
	if err != nil {
		return Outcome{}, err
	}
	id, content := strings.TrimSpace(args.ID), strings.TrimSpace(args.Content)
	if id == "" || content == "" {
		return failed("id and content are required. Call list_memories first."), nil
	}
	if _, err := e.memory.Update(ctx, id, content); err != nil {
		return Outcome{}, err
	}
	return ok("记忆已修改。"), nil
}

func (e *Executor) deleteMemory(ctx context.Context, raw []byte) (Outcome, error) {
	if e.memory == nil {
		return Outcome{}, errNoMemory
	}
	args, err := decode[deleteMemoryArgs](raw)
	if err != nil {
		return Outcome{}, err
	}
	id := strings.TrimSpace(args.ID)
	if id == "" {
		return failed("id is required. Call list_memories first."), nil
	}
	if err := e.memory.Delete(ctx, id); err != nil {
		return Outcome{}, err
	}
	return ok("记忆已删除。"), nil
}
