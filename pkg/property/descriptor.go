// Package property 实现 qubesd 的声明式属性/事件/持久化框架。
//
// 每个持久化对象（Application、Domain）内嵌一个 Holder，Holder 按照
// 包级注册表中为其具体类型声明的 Descriptor 列表解析 Get/Set/SetDefault。
// Holder 同时也是一个事件发射器：属性赋值会触发 property-pre-set /
// property-set 事件，供 extension 和调用方订阅。
package property

import "fmt"

// Stage 对应 qubes.xml 多阶段加载协议中的一个阶段（1-5）。
// 阶段越大，依赖的信息越多：阶段 4 才能解析 Domain 间引用，阶段 5
// 才加载 Feature/Tag/Firewall/Volume。
type Stage int

const (
	// StageGlobal 解析不引用任何 Domain 的全局属性。
	StageGlobal Stage = 1
	// StageSkeleton 实例化以 qid 为键的 Domain 桩，绑定 label 与 pool。
	StageSkeleton Stage = 2
	// StageIntrinsic 设置 Domain 自身的内在属性。
	StageIntrinsic Stage = 3
	// StageReferences 解析 Domain↔Domain 引用（template、netvm、dispvm 等）。
	StageReferences Stage = 4
	// StageCollections 加载 Feature、Tag、Firewall、Volume。
	StageCollections Stage = 5
)

// Default 是某个 Descriptor 的默认值来源。常量默认值实现 ConstDefault；
// 依赖 Holder 状态的默认值（例如默认 netvm 继承 Application 默认值）
// 实现 FuncDefault。
type Default interface {
	// Resolve 返回具体的默认值。
	Resolve(h *Holder) (any, error)
}

// ConstDefault 是一个固定不变的默认值。
type ConstDefault struct{ Value any }

func (d ConstDefault) Resolve(*Holder) (any, error) { return d.Value, nil }

// FuncDefault 是一个依赖 Holder 当前状态计算出的默认值，
// 用于例如 "默认 netvm 继承 Application.default_netvm" 这类场景。
type FuncDefault struct{ Fn func(h *Holder) (any, error) }

func (d FuncDefault) Resolve(h *Holder) (any, error) { return d.Fn(h) }

// Setter 在赋值前对原始值做类型强制和校验，返回规范化后的内部表示。
// 返回 error 即中止赋值（对应源码里的 ValueError / 禁止的转换）。
type Setter func(h *Holder, raw any) (any, error)

// Saver 把内部表示序列化为可写入 qubes.xml 的字符串。第二个返回值为 false 表示"未设置"，
// 调用方应省略该属性元素。
type Saver func(v any) (string, bool)

// Loader 把从 qubes.xml 读到的字符串解析回内部表示。
type Loader func(s string) (any, error)

// Descriptor 声明一个属性：语义类型、默认值、校验/序列化钩子、
// 是否一次性（write-once）、加载阶段和文档。
type Descriptor struct {
	Name string
	// SemanticType 仅用于 admin.property.Help 自描述，不参与类型检查
	// （类型检查由 Setter 负责，保持和源码一样的运行时强制转换风格）。
	SemanticType string
	Default      Default
	Setter       Setter
	Save         Saver
	Load         Loader
	WriteOnce    bool
	Stage        Stage
	Doc          string
}

func (d *Descriptor) defaultValue(h *Holder) (any, error) {
	if d.Default == nil {
		return nil, fmt.Errorf("property %q: no default and not set", d.Name)
	}
	return d.Default.Resolve(h)
}
