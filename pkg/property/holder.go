package property

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/qubesd/qubesd/pkg/apierror"
)

// Holder 是所有可持久化对象（Application、Domain）内嵌的基类替代物。
// Go 没有运行时反射式的动态属性，Holder 用一张 name -> value 的表加上
// 包级注册表里的 Descriptor 来模拟它：具体类型只需要在 init() 里调用
// property.Register，再把 Holder 作为匿名字段嵌入即可获得
// Get/Set/SetDefault/IsDefault/Help。
type Holder struct {
	mu sync.RWMutex

	// holderType 是拥有这个 Holder 的具体类型，用来在注册表里查找
	// Descriptor 和类级事件处理器。由 Init 设置一次，此后不变。
	holderType reflect.Type

	values map[string]any

	userHandlers      []instanceHandler
	userAsyncHandlers []instanceAsyncHandler
}

// Init 必须在具体类型构造时调用一次，绑定 Holder 所属的类型。
//
//	type Domain struct {
//	    property.Holder
//	    ...
//	}
//	d := &Domain{}
//	d.Init(reflect.TypeOf(d))
func (h *Holder) Init(holderType reflect.Type) {
	h.holderType = holderType
	h.values = make(map[string]any)
}

func (h *Holder) descriptor(name string) (*Descriptor, error) {
	if h.holderType == nil {
		return nil, fmt.Errorf("property.Holder: Init was never called")
	}
	d, ok := Lookup(h.holderType, name)
	if !ok {
		return nil, apierror.WrapError(apierror.ErrNotFound, fmt.Sprintf("no such property: %s", name), nil)
	}
	return d, nil
}

// Get 返回属性当前值。若从未被显式赋值，返回其 Default（常量或依赖
// Holder 状态计算得到）。没有默认值又未赋值时返回 NotFound。
func (h *Holder) Get(name string) (any, error) {
	d, err := h.descriptor(name)
	if err != nil {
		return nil, err
	}

	h.mu.RLock()
	v, set := h.values[name]
	h.mu.RUnlock()
	if set {
		return v, nil
	}
	return d.defaultValue(h)
}

// Set 给属性赋值，经过 Descriptor.Setter 规范化。write-once 属性一旦
// 已经显式赋值过，再次赋值返回 InvalidValue。赋值前触发
// property-pre-set:<name>（可否决），之后触发 property-set:<name>。
func (h *Holder) Set(name string, raw any) error {
	d, err := h.descriptor(name)
	if err != nil {
		return err
	}

	h.mu.RLock()
	oldValue, wasSet := h.values[name]
	h.mu.RUnlock()

	if d.WriteOnce && wasSet {
		return apierror.WrapError(apierror.ErrInvalidValue,
			fmt.Sprintf("property %q is write-once and already set", name), nil)
	}

	newValue := raw
	if d.Setter != nil {
		newValue, err = d.Setter(h, raw)
		if err != nil {
			return apierror.WrapError(apierror.ErrInvalidValue, err.Error(), err)
		}
	}

	if _, err := h.FireSync(true, "property-pre-set:"+name, Args{
		"name": name, "newvalue": newValue, "oldvalue": oldValue,
	}); err != nil {
		return err
	}

	h.mu.Lock()
	h.values[name] = newValue
	h.mu.Unlock()

	_, _ = h.FireSync(false, "property-set:"+name, Args{
		"name": name, "newvalue": newValue, "oldvalue": oldValue,
	})
	return nil
}

// SetDefault 把属性恢复为"未显式赋值"状态（对应赋值特殊哨兵 DEFAULT）。
// 触发 property-pre-reset:<name> / property-reset:<name>。
func (h *Holder) SetDefault(name string) error {
	if _, err := h.descriptor(name); err != nil {
		return err
	}

	h.mu.RLock()
	oldValue, wasSet := h.values[name]
	h.mu.RUnlock()
	if !wasSet {
		return nil
	}

	if _, err := h.FireSync(true, "property-pre-reset:"+name, Args{"name": name, "oldvalue": oldValue}); err != nil {
		return err
	}

	h.mu.Lock()
	delete(h.values, name)
	h.mu.Unlock()

	_, _ = h.FireSync(false, "property-reset:"+name, Args{"name": name, "oldvalue": oldValue})
	return nil
}

// IsDefault 区分"从未被赋值"与"被赋值成和默认值相同的值"：只有前者
// 返回 true。
func (h *Holder) IsDefault(name string) (bool, error) {
	if _, err := h.descriptor(name); err != nil {
		return false, err
	}
	h.mu.RLock()
	_, wasSet := h.values[name]
	h.mu.RUnlock()
	return !wasSet, nil
}

// Help 返回属性的文档字符串，供 admin.property.Help 使用。
func (h *Holder) Help(name string) (string, error) {
	d, err := h.descriptor(name)
	if err != nil {
		return "", err
	}
	return d.Doc, nil
}

// PropertyList 返回这个 Holder 类型声明的全部属性名，供
// admin.property.List 使用。
func (h *Holder) PropertyList() []string {
	descs := Descriptors(h.holderType)
	names := make([]string, len(descs))
	for i, d := range descs {
		names[i] = d.Name
	}
	return names
}

// Stage 返回 descriptor 的加载阶段，供持久化编解码器在正确的阶段
// 写入/读取这个属性。
func (h *Holder) Stage(name string) (Stage, error) {
	d, err := h.descriptor(name)
	if err != nil {
		return 0, err
	}
	return d.Stage, nil
}

// forceSet 直接写入内部表，不经过 Setter/write-once 检查也不触发
// property-set 事件。仅供 xml.go 在初始加载阶段使用：load 阶段重建的是
// 已经持久化过、理论上早已校验合法的状态，不需要（也不应该）重新触发
// 一次 property-set 事件风暴。
func (h *Holder) forceSet(name string, v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.values[name] = v
}
