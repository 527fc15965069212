package property

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Args 是事件的关键字参数包，保持和属性值一样的 any 类型，调用方自行
// 做类型断言。
type Args map[string]any

// HandlerFunc 是一个同步事件处理器。返回值会在 FireSync 中被收集并
// 打平（iterable 会被展开，这里对应 []any 返回值）；返回 error 在
// pre-event 中会否决本次操作。
type HandlerFunc func(h *Holder, event string, args Args) (any, error)

// AsyncHandlerFunc 是一个可能阻塞的事件处理器，FireAsync 会在独立的
// goroutine 中等待它完成。
type AsyncHandlerFunc func(ctx context.Context, h *Holder, event string, args Args) error

// handlerRank 决定同一级别内多个 handler 的触发顺序：
// source（核心自带）先于 extension，extension 先于 user。
// class-wide handler 本身已经按"父类先于子类"的反向 MRO 顺序注册好了，
// handlerRank 只用来给同一 holder 类型内的多个 handler 分组。
type handlerRank int

const (
	rankSource handlerRank = iota
	rankExtension
	rankUser
)

type classHandler struct {
	event string
	rank  handlerRank
	fn    HandlerFunc
}

var classHandlers = struct {
	sync.RWMutex
	byType map[reflect.Type][]classHandler
}{byType: make(map[reflect.Type][]classHandler)}

// OnClass 为 holderType 的所有实例注册一个事件处理器。用于 core 自身
// （rankSource）和 extension（rankExtension）在类级别挂钩子；
// 每个 Domain 实例不需要重复注册。
func OnClass(holderType reflect.Type, event string, rank handlerRank, fn HandlerFunc) {
	classHandlers.Lock()
	defer classHandlers.Unlock()
	byType := classHandlers.byType
	byType[holderType] = append(byType[holderType], classHandler{event: event, rank: rank, fn: fn})
}

// RegisterSourceHandler 注册一个核心内置的类级处理器（例如 Domain
// 状态机对自身 domain-pre-start 的响应）。
func RegisterSourceHandler(holderType reflect.Type, event string, fn HandlerFunc) {
	OnClass(holderType, event, rankSource, fn)
}

// RegisterExtensionHandler 供 extension 系统注册类级处理器。
func RegisterExtensionHandler(holderType reflect.Type, event string, fn HandlerFunc) {
	OnClass(holderType, event, rankExtension, fn)
}

type instanceHandler struct {
	event string
	fn    HandlerFunc
}

type instanceAsyncHandler struct {
	event string
	fn    AsyncHandlerFunc
}

// On 为这一个 Holder 实例注册用户级同步处理器。按 fire_event 的语义，
// 实例级 handler 总是晚于类级 handler 触发。
func (h *Holder) On(event string, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.userHandlers = append(h.userHandlers, instanceHandler{event: event, fn: fn})
}

// OnAsync 注册一个只能在 FireAsync 中调用的处理器。
func (h *Holder) OnAsync(event string, fn AsyncHandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.userAsyncHandlers = append(h.userAsyncHandlers, instanceAsyncHandler{event: event, fn: fn})
}

func matches(pattern, event string) bool {
	if pattern == event {
		return true
	}
	if strings.HasSuffix(pattern, ":*") {
		return strings.HasPrefix(event, strings.TrimSuffix(pattern, "*"))
	}
	return false
}

func (h *Holder) classHandlersFor(event string) []classHandler {
	classHandlers.RLock()
	defer classHandlers.RUnlock()
	all := classHandlers.byType[h.holderType]
	out := make([]classHandler, 0, len(all))
	for _, ch := range all {
		if matches(ch.event, event) {
			out = append(out, ch)
		}
	}
	// 稳定排序：source < extension < user（user 级类处理器不存在，
	// 保留 rank 以备将来扩展），同 rank 内保持注册顺序。
	sort.SliceStable(out, func(i, j int) bool { return out[i].rank < out[j].rank })
	return out
}

// FireSync 同步触发事件，按"类处理器（反向 MRO 已通过注册顺序体现）→
// 源码内置 → extension → 用户"的顺序调用，收集并打平所有非 nil 返回值。
// pre 为 true 时用于 *-pre-* 事件：任一 handler 返回 error 即视为否决，
// 立即停止并把该 error 返回给调用方。
func (h *Holder) FireSync(pre bool, event string, args Args) ([]any, error) {
	var results []any

	for _, ch := range h.classHandlersFor(event) {
		v, err := ch.fn(h, event, args)
		if err != nil {
			if pre {
				return nil, err
			}
			continue
		}
		results = appendFlat(results, v)
	}

	h.mu.RLock()
	instHandlers := append([]instanceHandler(nil), h.userHandlers...)
	h.mu.RUnlock()

	for _, ih := range instHandlers {
		if !matches(ih.event, event) {
			continue
		}
		v, err := ih.fn(h, event, args)
		if err != nil {
			if pre {
				return nil, err
			}
			continue
		}
		results = appendFlat(results, v)
	}

	return results, nil
}

func appendFlat(dst []any, v any) []any {
	if v == nil {
		return dst
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice {
		for i := 0; i < rv.Len(); i++ {
			dst = append(dst, rv.Index(i).Interface())
		}
		return dst
	}
	return append(dst, v)
}

// FireAsync 异步触发事件：同步 handler 内联执行，异步 handler 在各自的
// goroutine 中等待；调用方等待全部完成。若某个已注册的 handler 只有
// 同步签名却在异步上下文触发了不兼容的期待（当前实现中两种 handler
// 互不冲突，此参数保留以文档化"必须显式拒绝或降级，不能悄悄跳过"的要求），
// FireAsync 本身从不静默丢弃任何 handler 的错误：全部错误合并成一个
// error 返回，各条消息以 "; " 连接。
func (h *Holder) FireAsync(ctx context.Context, event string, args Args) error {
	var errs []error
	var mu sync.Mutex

	for _, ch := range h.classHandlersFor(event) {
		if _, err := ch.fn(h, event, args); err != nil {
			errs = append(errs, err)
		}
	}

	h.mu.RLock()
	syncHandlers := append([]instanceHandler(nil), h.userHandlers...)
	asyncHandlers := append([]instanceAsyncHandler(nil), h.userAsyncHandlers...)
	h.mu.RUnlock()

	var wg sync.WaitGroup
	for _, ih := range syncHandlers {
		if !matches(ih.event, event) {
			continue
		}
		if _, err := ih.fn(h, event, args); err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	}
	for _, ah := range asyncHandlers {
		if !matches(ah.event, event) {
			continue
		}
		wg.Add(1)
		go func(ah instanceAsyncHandler) {
			defer wg.Done()
			if err := ah.fn(ctx, h, event, args); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(ah)
	}
	wg.Wait()

	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("event %q: %s", event, strings.Join(msgs, "; "))
}
