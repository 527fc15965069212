package property

import (
	"reflect"
	"sync"
)

// registry 把一个具体 Holder 类型（通常是 *domain.Domain 或
// *app.Application，但测试里也会直接用 *Holder 本身）映射到它声明的
// Descriptor 列表。注册在 init() 时完成一次，此后只读，因此用
// RWMutex 保护即可。
var registry = struct {
	sync.RWMutex
	byType map[reflect.Type][]*Descriptor
}{byType: make(map[reflect.Type][]*Descriptor)}

// Register 为 holderType（典型地传 reflect.TypeOf((*T)(nil))）声明一个
// 属性。同名重复注册会覆盖，方便子类型在源码意义上"重载更严格的语义"。
func Register(holderType reflect.Type, d *Descriptor) {
	registry.Lock()
	defer registry.Unlock()
	list := registry.byType[holderType]
	for i, existing := range list {
		if existing.Name == d.Name {
			list[i] = d
			registry.byType[holderType] = list
			return
		}
	}
	registry.byType[holderType] = append(list, d)
}

// Descriptors 返回 holderType 声明的全部属性，按注册顺序。
func Descriptors(holderType reflect.Type) []*Descriptor {
	registry.RLock()
	defer registry.RUnlock()
	src := registry.byType[holderType]
	out := make([]*Descriptor, len(src))
	copy(out, src)
	return out
}

// Lookup 按名字查找 holderType 的属性描述符。
func Lookup(holderType reflect.Type, name string) (*Descriptor, bool) {
	registry.RLock()
	defer registry.RUnlock()
	for _, d := range registry.byType[holderType] {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}
