// Package tools defines the tool catalog advertised to the model and
// the executor that runs the model's tool calls against the diary,
// memory and weather backends.
package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
)

// Kind identifies one tool. Values follow catalog order.
type Kind int

const (
	KindLogMood Kind = iota
	KindListMoods
	KindUpdateMood
	KindDeleteMood
	KindTrackPeriod
	KindListPeriods
	KindUpdatePeriod
	KindDeletePeriod
	KindSaveMemory
	KindListMemories
	KindUpdateMemory
	KindDeleteMemory
	KindShowSticker
	KindGetWeather

	kindCount
)

var kindNames = [kindCount]string{
	KindLogMood:      "log_mood",
	KindListMoods:    "list_moods",
	KindUpdateMood:   "update_mood",
	KindDeleteMood:   "delete_mood",
	KindTrackPeriod:  "track_period",
	KindListPeriods:  "list_periods",
	KindUpdatePeriod: "update_period",
	KindDeletePeriod: "delete_period",
	KindSaveMemory:   "save_memory",
	KindListMemories: "list_memories",
	KindUpdateMemory: "update_memory",
	KindDeleteMemory: "delete_memory",
	KindShowSticker:  "show_sticker",
	KindGetWeather:   "get_weather",
}

// String returns the wire name of the tool.
func (k Kind) String() string {
	if k < 0 || k >= kindCount {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// mutatesDiary reports whether the tool writes mood or period rows.
func (k Kind) mutatesDiary() bool {
	switch k {
	case KindLogMood, KindUpdateMood, KindDeleteMood,
		KindTrackPeriod, KindUpdatePeriod, KindDeletePeriod:
		return true
	}
	return false
}

// ParseKind resolves a tool name from a model tool call.
func ParseKind(name string) (Kind, bool) {
	name = strings.TrimSpace(name)
	for k, n := range kindNames {
		if n == name {
			return Kind(k), true
		}
	}
	return 0, false
}

// Descriptor is one catalog entry.
type Descriptor struct {
	Kind        Kind           `json:"-"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// EntryID is a numeric diary id. Models sometimes quote numbers, so
// both 12 and "12" decode.
type EntryID int64

// UnmarshalJSON accepts a JSON number or a numeric string.
func (id *EntryID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %s", data)
	}
	*id = EntryID(n)
	return nil
}

// JSONSchema describes EntryID as a plain integer.
func (EntryID) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer"}
}

// Argument structs. Fields without omitempty are required.

type logMoodArgs struct {
	Mood      string `json:"mood" jsonschema:"enum=happy,enum=blissful,enum=tired,enum=annoyed,enum=angry,enum=depressed" jsonschema_description:"心情类别：happy 开心，blissful 幸福，tired 累，annoyed 烦躁，angry 生气，depressed 沮丧"`
	Intensity int    `json:"intensity" jsonschema:"minimum=1,maximum=3" jsonschema_description:"心情强度 1-3：1 一点点，2 中等，3 超级"`
	Note      string `json:"note,omitempty" jsonschema_description:"简短的备注或原因，用第一人称「我」来写，像用户自己写的日记一样"`
}

type listMoodsArgs struct {
	Limit int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=20" jsonschema_description:"返回条数，默认 5，最多 20"`
	Date  string `json:"date,omitempty" jsonschema_description:"只看某一天的记录，格式 YYYY-MM-DD；不填则返回最近的记录"`
}

type updateMoodArgs struct {
	ID        EntryID `json:"id" jsonschema_description:"心情记录 ID，先用 list_moods 查询"`
	Mood      *string `json:"mood,omitempty" jsonschema:"enum=happy,enum=blissful,enum=tired,enum=annoyed,enum=angry,enum=depressed" jsonschema_description:"新的心情类别，不填则不变"`
	Intensity *int    `json:"intensity,omitempty" jsonschema:"minimum=1,maximum=3" jsonschema_description:"新的强度 1-3，不填则不变"`
	Note      *string `json:"note,omitempty" jsonschema_description:"新的备注，不填则不变"`
}

type deleteMoodArgs struct {
	ID EntryID `json:"id" jsonschema_description:"要删除的心情记录 ID，先用 list_moods 查询"`
}

type trackPeriodArgs struct {
	StartDate string `json:"startDate,omitempty" jsonschema_description:"生理期开始日期，格式 YYYY-MM-DD，默认今天"`
}

type listPeriodsArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"minimum=1,maximum=12" jsonschema_description:"返回条数，默认 5，最多 12"`
}

type updatePeriodArgs struct {
	ID        EntryID `json:"id" jsonschema_description:"经期记录 ID，先用 list_periods 查询"`
	StartDate string  `json:"startDate" jsonschema_description:"新的开始日期，格式 YYYY-MM-DD"`
}

type deletePeriodArgs struct {
	ID EntryID `json:"id" jsonschema_description:"要删除的经期记录 ID，先用 list_periods 查询"`
}

type saveMemoryArgs struct {
	Content string `json:"content" jsonschema_description:"需要记住的具体内容"`
}

type listMemoriesArgs struct {
	Query string `json:"query" jsonschema_description:"搜索关键词，例如：吃香菜、生日、旅行计划"`
	Limit int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=10" jsonschema_description:"返回条数，默认 5"`
}

type updateMemoryArgs struct {
	ID      string `json:"id" jsonschema_description:"记忆 ID，先用 list_memories 查询"`
	Content string `json:"content" jsonschema_description:"新的记忆内容"`
}

type deleteMemoryArgs struct {
	ID string `json:"id" jsonschema_description:"要删除的记忆 ID，先用 list_memories 查询"`
}

type showStickerArgs struct {
	Category string `json:"category" jsonschema:"enum=happy,enum=love,enum=sad,enum=angry,enum=tired" jsonschema_description:"表情包类别"`
}

type getWeatherArgs struct {
	City string `json:"city,omitempty" jsonschema_description:"城市名称，例如北京、上海、深圳；不填则查询默认城市"`
}

// catalogEntry pairs a descriptor with the struct its schema is
// reflected from.
type catalogEntry struct {
	kind        Kind
	description string
	args        any
}

var entries = []catalogEntry{
	{KindLogMood, "记录用户当天的心情。只有用户明确要求记录心情时才调用（例如「帮我记一下心情」）；一天只有一条心情，聊天里顺口提到的情绪不要记。不要用它记录你自己的感受。", logMoodArgs{}},
	{KindListMoods, "查询心情记录。用户想查看、修改或删除以前的心情时，先调用它拿到记录 ID 并和用户确认是哪一条。", listMoodsArgs{}},
	{KindUpdateMood, "修改一条心情记录，只改提供的字段。使用前必须先调用 list_moods 获取 ID。", updateMoodArgs{}},
	{KindDeleteMood, "删除一条心情记录。使用前必须先调用 list_moods 获取 ID 并向用户确认，删除不可恢复。", deleteMoodArgs{}},
	{KindTrackPeriod, "记录生理期开始。用户提到大姨妈来了、月经、经期、痛经时调用。", trackPeriodArgs{}},
	{KindListPeriods, "查询经期记录。用户想查看、修改或删除以前的经期记录时先调用它。", listPeriodsArgs{}},
	{KindUpdatePeriod, "修改一条经期记录的开始日期。使用前必须先调用 list_periods 获取 ID。", updatePeriodArgs{}},
	{KindDeletePeriod, "删除一条经期记录。使用前必须先调用 list_periods 获取 ID 并向用户确认，删除不可恢复。", deletePeriodArgs{}},
	{KindSaveMemory, "保存值得长期记住的信息：未来的计划、重要的日子、用户的喜好，或者能让她感到被在乎的小细节。琐碎的事不要存。", saveMemoryArgs{}},
	{KindListMemories, "搜索记忆。用户说你记错了，或想修改、删除以前的记忆时，用它找到记忆 ID。", listMemoriesArgs{}},
	{KindUpdateMemory, "修改一条记忆的内容。使用前必须先调用 list_memories 获取 ID。", updateMemoryArgs{}},
	{KindDeleteMemory, "删除一条记忆。使用前必须先调用 list_memories 获取 ID 并向用户确认。", deleteMemoryArgs{}},
	{KindShowSticker, "在聊天界面展示一张表情包来回应用户的心情。", showStickerArgs{}},
	{KindGetWeather, "查询城市的实时天气。用户问天气时调用。", getWeatherArgs{}},
}

var catalog = buildCatalog(entries)

func buildCatalog(entries []catalogEntry) []Descriptor {
	reflector := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	out := make([]Descriptor, 0, len(entries))
	for _, e := range entries {
		out = append(out, Descriptor{
			Kind:        e.kind,
			Name:        e.kind.String(),
			Description: e.description,
			Parameters:  schemaMap(reflector.Reflect(e.args)),
		})
	}
	return out
}

// schemaMap flattens a reflected schema into the plain map the model
// APIs expect.
func schemaMap(s *jsonschema.Schema) map[string]any {
	data, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("tools: marshal schema: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		panic(fmt.Sprintf("tools: unmarshal schema: %v", err))
	}
	delete(m, "$schema")
	delete(m, "$id")
	if _, ok := m["properties"]; !ok {
		m["properties"] = map[string]any{}
	}
	return m
}

// Catalog returns the tool descriptors in their fixed order. The
// slice is a copy; descriptors share their parameter maps and must not
// be mutated.
func Catalog() []Descriptor {
	return append([]Descriptor(nil), catalog...)
}

// Definitions renders the catalog in OpenAI function-calling format,
// as passed to llm.Client.Chat.
func Definitions() []map[string]any {
	defs := make([]map[string]any, 0, len(catalog))
	for _, d := range catalog {
		defs = append(defs, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        d.Name,
				"description": d.Description,
				"parameters":  d.Parameters,
			},
		})
	}
	return defs
}
