package tools

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/piggy-diary/piggy/internal/diary"
	"github.com/piggy-diary/piggy/internal/events"
	"github.com/piggy-diary/piggy/internal/memory"
)

var errNoDiary = errors.New("diary store not configured")

var moodLabels = map[string]string{
	"happy":     "开心",
	"blissful":  "幸福",
	"tired":     "累",
	"annoyed":   "烦躁",
	"angry":     "生气",
	"depressed": "沮丧",
}

func moodLabel(mood string) string {
	if l, ok := moodLabels[mood]; ok {
		return l
	}
	return mood
}

func moodSourceID(id int64) string   { return "mood-" + strconv.FormatInt(id, 10) }
func periodSourceID(id int64) string { return "period-" + strconv.FormatInt(id, 10) }

func (e *Executor) logMood(ctx context.Context, raw []byte) (Outcome, error) {
	if e.diary == nil {
		return Outcome{}, errNoDiary
	}
	args, err := decode[logMoodArgs](raw)
	if err != nil {
		return Outcome{}, err
	}
	mood, created, err := e.diary.LogMood(ctx, diary.MoodInput{
		Mood:      args.Mood,
		Intensity: args.Intensity,
		Note:      args.Note,
	})
	if err != nil {
		return Outcome{}, err
	}

	kind := events.KindMoodLogged
	if !created {
		kind = events.KindMoodUpdated
	}
	e.bus.Emit(events.SourceDiary, kind, moodEventData(mood))
	e.mirrorMood(mood)

	if !created {
		return refreshed("心情已记录（覆盖了今天之前的记录）。"), nil
	}
	return refreshed("心情已记录。"), nil
}

func (e *Executor) listMoods(ctx context.Context, raw []byte) (Outcome, error) {
	if e.diary == nil {
		return Outcome{}, errNoDiary
	}
	args, err := decode[listMoodsArgs](raw)
	if err != nil {
		return Outcome{}, err
	}
	moods, err := e.diary.ListMoods(ctx, args.Limit, args.Date)
	if err != nil {
		return Outcome{}, err
	}
	if len(moods) == 0 {
		if args.Date != "" {
			return ok(fmt.Sprintf("%s 没有心情记录。", args.Date)), nil
		}
		return ok("还没有心情记录。"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "找到 %d 条心情记录：", len(moods))
	for _, m := range moods {
		fmt.Fprintf(&b, "\n- ID %d | %s | %s（%s，强度 %d）", m.ID, m.DateKey, m.Mood, moodLabel(m.Mood), m.Intensity)
		if m.Note != "" {
			fmt.Fprintf(&b, " | %s", m.Note)
		}
	}
	return ok(b.String()), nil
}

func (e *Executor) updateMood(ctx context.Context, raw []byte) (Outcome, error) {
	if e.diary == nil {
		return Outcome{}, errNoDiary
	}
	args, err := decode[updateMoodArgs](raw)
	if err != nil {
		return Outcome{}, err
	}
	if args.ID <= 0 {
		return failed("id is required. Call list_moods first."), nil
	}
	mood, err := e.diary.UpdateMood(ctx, int64(args.ID), diary.MoodPatch{
		Mood:      args.Mood,
		Intensity: args.Intensity,
		Note:      args.Note,
	})
	if err != nil {
		return Outcome{}, err
	}

	e.bus.Emit(events.SourceDiary, events.KindMoodUpdated, moodEventData(mood))
	e.mirrorMood(mood)
	return refreshed(fmt.Sprintf("心情记录 %d 已修改：%s，%s，强度 %d。", mood.ID, mood.DateKey, moodLabel(mood.Mood), mood.Intensity)), nil
}

func (e *Executor) deleteMood(ctx context.Context, raw []byte) (Outcome, error) {
	if e.diary == nil {
		return Outcome{}, errNoDiary
	}
	args, err := decode[deleteMoodArgs](raw)
	if err != nil {
		return Outcome{}, err
	}
	if args.ID <= 0 {
		return failed("id is required. Call list_moods first."), nil
	}
	id := int64(args.ID)
	if err := e.diary.DeleteMood(ctx, id); err != nil {
		return Outcome{}, err
	}

	e.bus.Emit(events.SourceDiary, events.KindMoodDeleted, map[string]any{"id": id})
	e.forget("forget_mood", moodSourceID(id))
	return refreshed(fmt.Sprintf("心情记录 %d 已删除。", id)), nil
}

func (e *Executor) trackPeriod(ctx context.Context, raw []byte) (Outcome, error) {
	if e.diary == nil {
		return Outcome{}, errNoDiary
	}
	args, err := decode[trackPeriodArgs](raw)
	if err != nil {
		return Outcome{}, err
	}
	period, created, err := e.diary.TrackPeriod(ctx, args.StartDate)
	if err != nil {
		return Outcome{}, err
	}
	if !created {
		return ok(fmt.Sprintf("经期已记录过（%s 开始），没有重复添加。", period.StartDate)), nil
	}

	e.bus.Emit(events.SourceDiary, events.KindPeriodTracked, periodEventData(period))
	e.mirrorPeriod(period)
	return refreshed("经期已记录。"), nil
}

func (e *Executor) listPeriods(ctx context.Context, raw []byte) (Outcome, error) {
	if e.diary == nil {
		return Outcome{}, errNoDiary
	}
	args, err := decode[listPeriodsArgs](raw)
	if err != nil {
		return Outcome{}, err
	}
	periods, err := e.diary.ListPeriods(ctx, args.Limit)
	if err != nil {
		return Outcome{}, err
	}
	if len(periods) == 0 {
		return ok("还没有经期记录。"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "找到 %d 条经期记录：", len(periods))
	for _, p := range periods {
		fmt.Fprintf(&b, "\n- ID %d | 开始于 %s", p.ID, p.StartDate)
	}
	return ok(b.String()), nil
}

func (e *Executor) updatePeriod(ctx context.Context, raw []byte) (Outcome, error) {
	if e.diary == nil {
		return Outcome{}, errNoDiary
	}
	args, err := decode[updatePeriodArgs](raw)
	if err != nil {
		return Outcome{}, err
	}
	if args.ID <= 0 || strings.TrimSpace(args.StartDate) == "" {
		return failed("id and startDate are required. Call list_periods first."), nil
	}
	period, err := e.diary.UpdatePeriod(ctx, int64(args.ID), args.StartDate)
	if err != nil {
		return Outcome{}, err
	}

	e.bus.Emit(events.SourceDiary, events.KindPeriodUpdated, periodEventData(period))
	e.mirrorPeriod(period)
	return refreshed(fmt.Sprintf("经期记录 %d 已改为 %s 开始。", period.ID, period.StartDate)), nil
}

func (e *Executor) deletePeriod(ctx context.Context, raw []byte) (Outcome, error) {
	if e.diary == nil {
		return Outcome{}, errNoDiary
	}
	args, err := decode[deletePeriodArgs](raw)
	if err != nil {
		return Outcome{}, err
	}
	if args.ID <= 0 {
		return failed("id is required. Call list_periods first."), nil
	}
	id := int64(args.ID)
	if err := e.diary.DeletePeriod(ctx, id); err != nil {
		return Outcome{}, err
	}

	e.bus.Emit(events.SourceDiary, events.KindPeriodDeleted, map[string]any{"id": id})
	e.forget("forget_period", periodSourceID(id))
	return refreshed(fmt.Sprintf("经期记录 %d 已删除。", id)), nil
}

func moodEventData(m *diary.Mood) map[string]any {
	return map[string]any{
		"id":        m.ID,
		"mood":      m.Mood,
		"intensity": m.Intensity,
		"date_key":  m.DateKey,
	}
}

func periodEventData(p *diary.Period) map[string]any {
	return map[string]any{
		"id":         p.ID,
		"start_date": p.StartDate,
	}
}

// mirrorMood replaces the memory copy of a mood entry in the
// background, so later chats can recall it. Mirror and forget tasks for
// one entry are ordered by source id, leaving exactly the latest copy.
func (e *Executor) mirrorMood(m *diary.Mood) {
	text := fmt.Sprintf("心情日记 %s：%s（%s），强度 %d。", m.DateKey, moodLabel(m.Mood), m.Mood, m.Intensity)
	if m.Note != "" {
		text += m.Note
	}
	e.mirror("mirror_mood", moodSourceID(m.ID), memory.TypeMood, text)
}

func (e *Executor) mirrorPeriod(p *diary.Period) {
	text := fmt.Sprintf("经期记录：%s 开始来大姨妈。", p.StartDate)
	e.mirror("mirror_period", periodSourceID(p.ID), memory.TypePeriod, text)
}

func (e *Executor) mirror(task, sourceID, memType, text string) {
	if e.memory == nil {
		return
	}
	now := e.now()
	record := memory.Record{
		ID:   memory.NewRecordID(memType, now),
		Text: text,
		Metadata: memory.Metadata{
			Type:     memType,
			Author:   e.author,
			Datetime: now,
			SourceID: sourceID,
		},
	}
	e.spawn(sourceID, task, func(ctx context.Context) error {
		if _, err := e.memory.DeleteBySource(ctx, sourceID); err != nil {
			return fmt.Errorf("clear previous copy of %s: %w", sourceID, err)
		}
		return e.memory.Add(ctx, record)
	})
}

func (e *Executor) forget(task, sourceID string) {
	if e.memory == nil {
		return
	}
	e.spawn(sourceID, task, func(ctx context.Context) error {
		_, err := e.memory.DeleteBySource(ctx, sourceID)
		return err
	})
}
